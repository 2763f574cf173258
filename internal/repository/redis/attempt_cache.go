package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"collab-auth/internal/client"
	"collab-auth/internal/util"
)

const failurePrefix = "auth_failures:"

// AttemptCache tracks recent authentication failures per account in a
// sliding window. The counter feeds both the risk score and the progressive
// failure delay.
type AttemptCache struct {
	client *client.RedisClient
}

func NewAttemptCache(client *client.RedisClient) *AttemptCache {
	return &AttemptCache{client: client}
}

// IncrementFailures bumps the failure counter and refreshes the window.
func (c *AttemptCache) IncrementFailures(userID string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, failurePrefix+userID, window)
	if err != nil {
		util.Error("Failed to increment failure counter",
			util.String("user_id", userID),
			util.ErrorField(err))
		return 0, fmt.Errorf("failed to increment failures: %w", err)
	}

	return int(count), nil
}

func (c *AttemptCache) GetFailures(userID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, failurePrefix+userID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get failure count: %w", err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt failure counter: %w", err)
	}
	return count, nil
}

// ResetFailures clears the window after a fully successful authentication.
func (c *AttemptCache) ResetFailures(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, failurePrefix+userID); err != nil {
		return fmt.Errorf("failed to reset failures: %w", err)
	}
	return nil
}
