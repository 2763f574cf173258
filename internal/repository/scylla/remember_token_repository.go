package scylla

import (
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"collab-auth/internal/models"
)

var ErrRememberTokenNotFound = errors.New("remember token not found")

// RememberTokenStore persists the hashed half of remember credentials keyed
// by selector.
type RememberTokenStore interface {
	CreateToken(token *models.RememberToken) error
	GetToken(tokenID string) (*models.RememberToken, error)
	RevokeToken(tokenID string) error
}

type RememberTokenRepository struct {
	client *ScyllaClient
}

func NewRememberTokenRepository(client *ScyllaClient) *RememberTokenRepository {
	return &RememberTokenRepository{client: client}
}

func (r *RememberTokenRepository) CreateToken(token *models.RememberToken) error {
	query := r.client.Prepared.CreateRememberToken.Bind(
		token.TokenID, token.UserID, token.DeviceID, token.VerifierHash,
		token.VerifierSalt, token.PepperVersion, token.Revoked,
		token.CreatedAt, token.ExpiresAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to create remember token: %w", err)
	}
	return nil
}

func (r *RememberTokenRepository) GetToken(tokenID string) (*models.RememberToken, error) {
	token := &models.RememberToken{}

	query := r.client.Prepared.GetRememberToken.Bind(tokenID)
	err := r.client.ScanWithRetry(query,
		&token.TokenID, &token.UserID, &token.DeviceID, &token.VerifierHash,
		&token.VerifierSalt, &token.PepperVersion, &token.Revoked,
		&token.CreatedAt, &token.ExpiresAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrRememberTokenNotFound
		}
		return nil, fmt.Errorf("failed to load remember token: %w", err)
	}

	return token, nil
}

// RevokeToken is idempotent; revoking an unknown selector is a no-op.
func (r *RememberTokenRepository) RevokeToken(tokenID string) error {
	query := r.client.Prepared.RevokeRememberToken.Bind(tokenID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to revoke remember token: %w", err)
	}
	return nil
}
