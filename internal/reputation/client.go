package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"collab-auth/internal/config"
	"collab-auth/internal/models"
	redisrepo "collab-auth/internal/repository/redis"
	"collab-auth/internal/util"
)

var ErrReputationUnavailable = errors.New("reputation service unavailable")

// Provider resolves the reputation of a client IP. Implementations must be
// safe for concurrent use.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*models.IPReputationEntry, error)
}

// Client queries the external reputation service with a hard timeout and a
// Redis read-through cache. A failed or slow lookup degrades to the neutral
// unknown verdict; it never blocks authentication.
type Client struct {
	httpClient *http.Client
	cache      *redisrepo.ReputationCache
	baseURL    string
	apiKey     string
	staleTTL   time.Duration
}

func NewClient(cfg *config.Config, cache *redisrepo.ReputationCache) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Risk.ReputationTimeout,
		},
		cache:    cache,
		baseURL:  cfg.Reputation.URL,
		apiKey:   cfg.Reputation.APIKey,
		staleTTL: cfg.Risk.ReputationStaleTTL,
	}
}

type lookupResponse struct {
	Status string `json:"status"`
	Score  int    `json:"score"`
}

// Lookup returns a fresh cached verdict when available, otherwise asks the
// service and caches the answer. On any failure the neutral verdict comes
// back with ErrReputationUnavailable so callers can log the degradation.
func (c *Client) Lookup(ctx context.Context, ip string) (*models.IPReputationEntry, error) {
	now := time.Now().UTC()

	if c.cache != nil {
		if entry, err := c.cache.Get(ip); err == nil && !entry.IsStale(now, c.staleTTL) {
			return entry, nil
		}
	}

	entry, err := c.fetch(ctx, ip)
	if err != nil {
		util.Warn("Reputation lookup degraded to neutral",
			util.String("ip", ip),
			util.ErrorField(err))
		return models.NeutralReputation(ip, now), fmt.Errorf("%w: %v", ErrReputationUnavailable, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(entry, c.staleTTL); err != nil {
			util.Warn("Failed to cache reputation verdict", util.ErrorField(err))
		}
	}

	return entry, nil
}

func (c *Client) fetch(ctx context.Context, ip string) (*models.IPReputationEntry, error) {
	if c.baseURL == "" {
		return nil, errors.New("no reputation endpoint configured")
	}

	endpoint := fmt.Sprintf("%s/v1/reputation/%s", c.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode reputation response: %w", err)
	}

	status := models.ReputationStatus(body.Status)
	switch status {
	case models.ReputationClean, models.ReputationSuspicious, models.ReputationMalicious, models.ReputationUnknown:
	default:
		return nil, fmt.Errorf("unknown reputation status %q", body.Status)
	}

	if body.Score < 0 || body.Score > 100 {
		return nil, fmt.Errorf("reputation score out of range: %d", body.Score)
	}

	return &models.IPReputationEntry{
		IPAddress:   ip,
		Status:      status,
		Score:       body.Score,
		RefreshedAt: time.Now().UTC(),
	}, nil
}
