package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"collab-auth/internal/bucketing"
	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore is the device registry's storage surface.
type DeviceStore interface {
	// UpsertDevice inserts the device if absent and returns the stored row
	// either way. Concurrent callers for the same (user, fingerprint) all
	// converge on a single row.
	UpsertDevice(device *models.DeviceFingerprint) (*models.DeviceFingerprint, bool, error)
	GetDevice(userID, fingerprintHash string) (*models.DeviceFingerprint, error)
	GetDeviceByID(deviceID string) (*models.DeviceFingerprint, error)
	ListDevicesForUser(userID string) ([]*models.DeviceFingerprint, error)
	UpdateTrust(userID, fingerprintHash string, status models.TrustStatus, streak int) error
	UpdateUsage(userID, fingerprintHash, lastIP, userAgent string, riskScore int, at time.Time) error
	UpdateStreak(userID, fingerprintHash string, streak int) error
}

type DeviceRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewDeviceRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *DeviceRepository {
	return &DeviceRepository{
		client:  client,
		buckets: buckets,
	}
}

const upsertDeviceCQL = `
    INSERT INTO device_fingerprints (
        user_bucket, user_id, fingerprint_hash, device_id, trust_status,
        risk_score, last_ip, user_agent, stepup_streak, created_at, last_used, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`

// UpsertDevice uses a lightweight transaction so two racing logins from a new
// device end up with one row; the loser reads back the winner's values.
func (r *DeviceRepository) UpsertDevice(device *models.DeviceFingerprint) (*models.DeviceFingerprint, bool, error) {
	device.UserBucket = r.buckets.GetUserBucket(device.UserID)

	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.LastUsed = now
	device.UpdatedAt = now
	if device.TrustStatus == "" {
		device.TrustStatus = models.TrustPending
	}

	query := r.client.Session.Query(upsertDeviceCQL,
		device.UserBucket, device.UserID, device.FingerprintHash, device.DeviceID,
		string(device.TrustStatus), device.RiskScore, device.LastIP, device.UserAgent,
		device.StepUpStreak, device.CreatedAt, device.LastUsed, device.UpdatedAt)

	previous := make(map[string]interface{})
	applied, err := query.MapScanCAS(previous)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert device: %w", err)
	}

	if applied {
		idx := r.client.Prepared.CreateDeviceByID.Bind(
			device.DeviceID, device.UserBucket, device.UserID, device.FingerprintHash)
		if err := r.client.ExecuteWithRetry(idx, 3); err != nil {
			return nil, false, fmt.Errorf("failed to index device: %w", err)
		}

		util.Info("Device registered",
			util.String("user_id", device.UserID),
			util.String("device_id", device.DeviceID))
		return device, true, nil
	}

	existing, err := mapToDevice(previous)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode existing device: %w", err)
	}
	return existing, false, nil
}

func (r *DeviceRepository) GetDevice(userID, fingerprintHash string) (*models.DeviceFingerprint, error) {
	bucket := r.buckets.GetUserBucket(userID)
	return r.scanDevice(r.client.Prepared.GetDevice.Bind(bucket, userID, fingerprintHash))
}

func (r *DeviceRepository) GetDeviceByID(deviceID string) (*models.DeviceFingerprint, error) {
	var id string
	var bucket int
	var userID, fingerprintHash string

	query := r.client.Prepared.GetDeviceByID.Bind(deviceID)
	if err := r.client.ScanWithRetry(query, &id, &bucket, &userID, &fingerprintHash); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to look up device index: %w", err)
	}

	return r.scanDevice(r.client.Prepared.GetDevice.Bind(bucket, userID, fingerprintHash))
}

func (r *DeviceRepository) ListDevicesForUser(userID string) ([]*models.DeviceFingerprint, error) {
	bucket := r.buckets.GetUserBucket(userID)

	iter := r.client.Prepared.ListDevicesForUser.Bind(bucket, userID).Iter()
	defer iter.Close()

	var devices []*models.DeviceFingerprint
	for {
		device := &models.DeviceFingerprint{}
		var status string
		ok := iter.Scan(
			&device.UserBucket, &device.UserID, &device.FingerprintHash, &device.DeviceID,
			&status, &device.RiskScore, &device.LastIP, &device.UserAgent,
			&device.StepUpStreak, &device.CreatedAt, &device.LastUsed, &device.UpdatedAt)
		if !ok {
			break
		}
		device.TrustStatus = models.TrustStatus(status)
		devices = append(devices, device)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (r *DeviceRepository) UpdateTrust(userID, fingerprintHash string, status models.TrustStatus, streak int) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Prepared.UpdateDeviceTrust.Bind(
		string(status), streak, time.Now().UTC(), bucket, userID, fingerprintHash)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update device trust: %w", err)
	}
	return nil
}

func (r *DeviceRepository) UpdateUsage(userID, fingerprintHash, lastIP, userAgent string, riskScore int, at time.Time) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Prepared.UpdateDeviceUsage.Bind(
		lastIP, userAgent, riskScore, at, at, bucket, userID, fingerprintHash)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update device usage: %w", err)
	}
	return nil
}

func (r *DeviceRepository) UpdateStreak(userID, fingerprintHash string, streak int) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Prepared.UpdateDeviceStreak.Bind(
		streak, time.Now().UTC(), bucket, userID, fingerprintHash)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update device streak: %w", err)
	}
	return nil
}

func (r *DeviceRepository) scanDevice(query *gocql.Query) (*models.DeviceFingerprint, error) {
	device := &models.DeviceFingerprint{}
	var status string

	err := r.client.ScanWithRetry(query,
		&device.UserBucket, &device.UserID, &device.FingerprintHash, &device.DeviceID,
		&status, &device.RiskScore, &device.LastIP, &device.UserAgent,
		&device.StepUpStreak, &device.CreatedAt, &device.LastUsed, &device.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	device.TrustStatus = models.TrustStatus(status)
	return device, nil
}

func mapToDevice(row map[string]interface{}) (*models.DeviceFingerprint, error) {
	device := &models.DeviceFingerprint{}

	var ok bool
	if device.UserID, ok = row["user_id"].(string); !ok {
		return nil, fmt.Errorf("unexpected row shape for user_id")
	}
	device.FingerprintHash, _ = row["fingerprint_hash"].(string)
	device.DeviceID, _ = row["device_id"].(string)
	if status, ok := row["trust_status"].(string); ok {
		device.TrustStatus = models.TrustStatus(status)
	}
	if bucket, ok := row["user_bucket"].(int); ok {
		device.UserBucket = bucket
	}
	if score, ok := row["risk_score"].(int); ok {
		device.RiskScore = score
	}
	device.LastIP, _ = row["last_ip"].(string)
	device.UserAgent, _ = row["user_agent"].(string)
	if streak, ok := row["stepup_streak"].(int); ok {
		device.StepUpStreak = streak
	}
	if t, ok := row["created_at"].(time.Time); ok {
		device.CreatedAt = t
	}
	if t, ok := row["last_used"].(time.Time); ok {
		device.LastUsed = t
	}
	if t, ok := row["updated_at"].(time.Time); ok {
		device.UpdatedAt = t
	}

	return device, nil
}
