package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-auth/internal/client"
	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

const reputationPrefix = "ip_reputation:"

var ErrReputationMiss = errors.New("reputation not cached")

// ReputationCache is the read-through cache in front of the external IP
// reputation service.
type ReputationCache struct {
	client *client.RedisClient
}

func NewReputationCache(client *client.RedisClient) *ReputationCache {
	return &ReputationCache{client: client}
}

func (c *ReputationCache) Get(ip string) (*models.IPReputationEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, reputationPrefix+ip)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrReputationMiss
		}
		return nil, fmt.Errorf("failed to get cached reputation: %w", err)
	}

	entry := &models.IPReputationEntry{}
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		return nil, fmt.Errorf("corrupt reputation entry: %w", err)
	}
	return entry, nil
}

func (c *ReputationCache) Set(entry *models.IPReputationEntry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal reputation entry: %w", err)
	}

	if err := c.client.Set(ctx, reputationPrefix+entry.IPAddress, payload, ttl); err != nil {
		util.Error("Failed to cache reputation",
			util.String("ip", entry.IPAddress),
			util.ErrorField(err))
		return fmt.Errorf("failed to cache reputation: %w", err)
	}
	return nil
}
