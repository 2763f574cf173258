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

const challengePrefix = "mfa_challenge:"

var ErrChallengeNotFound = errors.New("challenge not found or expired")

// ChallengeCache keeps pending step-up challenges in Redis so their lifetime
// is bounded by TTL rather than by process memory. Expiry in Redis is the
// authoritative challenge expiry.
type ChallengeCache struct {
	client *client.RedisClient
}

func NewChallengeCache(client *client.RedisClient) *ChallengeCache {
	return &ChallengeCache{client: client}
}

func (c *ChallengeCache) SaveChallenge(challenge *models.PendingMFAChallenge, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	key := challengePrefix + challenge.ChallengeID
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to cache challenge",
			util.String("challenge_id", challenge.ChallengeID),
			util.ErrorField(err))
		return fmt.Errorf("failed to cache challenge: %w", err)
	}

	util.Debug("Challenge cached",
		util.String("challenge_id", challenge.ChallengeID),
		util.Duration("ttl", ttl))
	return nil
}

func (c *ChallengeCache) GetChallenge(challengeID string) (*models.PendingMFAChallenge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, challengePrefix+challengeID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	challenge := &models.PendingMFAChallenge{}
	if err := json.Unmarshal([]byte(raw), challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return challenge, nil
}

// UpdateChallenge rewrites a challenge in place, preserving the remaining TTL
// so attempt bookkeeping never extends the challenge's life.
func (c *ChallengeCache) UpdateChallenge(challenge *models.PendingMFAChallenge) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := challengePrefix + challenge.ChallengeID
	remaining, err := c.client.TTL(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read challenge TTL: %w", err)
	}
	if remaining <= 0 {
		return ErrChallengeNotFound
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, remaining); err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	return nil
}

func (c *ChallengeCache) DeleteChallenge(challengeID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, challengePrefix+challengeID); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}

	util.Debug("Challenge deleted", util.String("challenge_id", challengeID))
	return nil
}
