package client

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"collab-auth/internal/config"
	"collab-auth/internal/util"
)

// NewKMSClient builds the AWS KMS client used for envelope encryption.
// Returns nil when KMS is disabled; the encryption manager falls back to
// local keys in that case.
func NewKMSClient(cfg *config.Config) (*kms.Client, error) {
	if !cfg.KMS.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.KMS.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	util.Info("KMS client initialized",
		util.String("region", cfg.KMS.Region),
		util.String("key_id", cfg.KMS.KeyID),
	)

	return kms.NewFromConfig(awsCfg), nil
}
