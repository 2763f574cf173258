package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

var ErrBlacklistEntryNotFound = errors.New("blacklist entry not found")

// BlacklistStore holds admin-managed IP denials. Lookups happen before any
// credential work, so reads must stay cheap.
type BlacklistStore interface {
	AddEntry(entry *models.IPBlacklistEntry) error
	GetEntry(ip string) (*models.IPBlacklistEntry, error)
	RemoveEntry(ip string) error
	ListEntries() ([]*models.IPBlacklistEntry, error)
}

type BlacklistRepository struct {
	client *ScyllaClient
}

func NewBlacklistRepository(client *ScyllaClient) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

func (r *BlacklistRepository) AddEntry(entry *models.IPBlacklistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.AddBlacklistEntry.Bind(
		entry.IPAddress, entry.Reason, entry.CreatedBy, entry.CreatedAt, entry.ExpiresAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}

	util.Info("IP blacklisted",
		util.String("ip", entry.IPAddress),
		util.String("created_by", entry.CreatedBy))
	return nil
}

func (r *BlacklistRepository) GetEntry(ip string) (*models.IPBlacklistEntry, error) {
	entry := &models.IPBlacklistEntry{}

	query := r.client.Prepared.GetBlacklistEntry.Bind(ip)
	err := r.client.ScanWithRetry(query,
		&entry.IPAddress, &entry.Reason, &entry.CreatedBy, &entry.CreatedAt, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrBlacklistEntryNotFound
		}
		return nil, fmt.Errorf("failed to load blacklist entry: %w", err)
	}

	return entry, nil
}

func (r *BlacklistRepository) RemoveEntry(ip string) error {
	query := r.client.Prepared.DeleteBlacklistEntry.Bind(ip)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}

	util.Info("IP removed from blacklist", util.String("ip", ip))
	return nil
}

func (r *BlacklistRepository) ListEntries() ([]*models.IPBlacklistEntry, error) {
	iter := r.client.Prepared.ListBlacklistEntries.Iter()

	var entries []*models.IPBlacklistEntry
	for {
		entry := &models.IPBlacklistEntry{}
		ok := iter.Scan(&entry.IPAddress, &entry.Reason, &entry.CreatedBy,
			&entry.CreatedAt, &entry.ExpiresAt)
		if !ok {
			break
		}
		entries = append(entries, entry)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list blacklist entries: %w", err)
	}
	return entries, nil
}
