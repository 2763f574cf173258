package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-auth/internal/events"
	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/util"
)

var (
	ErrForbidden         = errors.New("admin privileges required")
	ErrInvalidTrustState = errors.New("invalid trust status")
)

// EventSearcher is the query surface for the security event archive.
type EventSearcher interface {
	SearchEvents(ctx context.Context, userID, ip, eventType string, limit int) ([]*models.SecurityEvent, error)
}

// EventFilter narrows an admin security event search.
type EventFilter struct {
	UserID    string
	IPAddress string
	EventType string
	Limit     int
}

// AdminService is the override surface. Every operation authenticates the
// acting principal as an admin before touching anything, and every mutation
// lands in the security event log naming that admin.
type AdminService struct {
	devices  *DeviceService
	sessions scylla.SessionStore
	blocks   scylla.BlacklistStore
	recorder events.Recorder
	searcher EventSearcher
}

func NewAdminService(devices *DeviceService, sessions scylla.SessionStore, blocks scylla.BlacklistStore, recorder events.Recorder, searcher EventSearcher) *AdminService {
	return &AdminService{
		devices:  devices,
		sessions: sessions,
		blocks:   blocks,
		recorder: recorder,
		searcher: searcher,
	}
}

func (s *AdminService) ListDevices(ctx context.Context, actor *models.User, userID string) ([]*models.DeviceFingerprint, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.devices.ListDevicesForUser(ctx, userID)
}

// SetDeviceTrust moves a device to any of the three trust states. This is the
// only path that can enter or leave untrusted.
func (s *AdminService) SetDeviceTrust(ctx context.Context, actor *models.User, deviceID string, status models.TrustStatus) (*models.DeviceFingerprint, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	if _, err := models.ParseTrustStatus(string(status)); err != nil {
		return nil, ErrInvalidTrustState
	}

	device, err := s.devices.GetDeviceByID(deviceID)
	if err != nil {
		return nil, err
	}

	if err := s.devices.SetTrustStatus(ctx, device, status, actor.UserID); err != nil {
		return nil, err
	}

	util.Info("Admin trust override",
		util.String("admin", actor.UserID),
		util.String("device_id", deviceID),
		util.String("status", string(status)))

	return device, nil
}

func (s *AdminService) AddBlacklistEntry(ctx context.Context, actor *models.User, ip, reason string, expiresAt *time.Time) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.blocks.AddEntry(&models.IPBlacklistEntry{
		IPAddress: ip,
		Reason:    reason,
		CreatedBy: actor.UserID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		EventType: models.EventBlacklistAdded,
		Actor:     actor.UserID,
		IPAddress: ip,
		Details:   reason,
	})
	return nil
}

func (s *AdminService) RemoveBlacklistEntry(ctx context.Context, actor *models.User, ip string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := s.blocks.RemoveEntry(ip); err != nil {
		return err
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		EventType: models.EventBlacklistRemoved,
		Actor:     actor.UserID,
		IPAddress: ip,
	})
	return nil
}

// RevokeDeviceSessions kills every live session bound to a device.
func (s *AdminService) RevokeDeviceSessions(ctx context.Context, actor *models.User, deviceID string) (int, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}

	device, err := s.devices.GetDeviceByID(deviceID)
	if err != nil {
		return 0, err
	}

	count, err := s.sessions.RevokeSessionsForDevice(deviceID, fmt.Sprintf("admin revocation by %s", actor.UserID))
	if err != nil {
		return 0, err
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:          device.UserID,
		EventType:       models.EventSessionsRevoked,
		Actor:           actor.UserID,
		FingerprintHash: device.FingerprintHash,
		Details:         fmt.Sprintf("%d sessions revoked", count),
	})
	return count, nil
}

func (s *AdminService) SearchSecurityEvents(ctx context.Context, actor *models.User, filter EventFilter) ([]*models.SecurityEvent, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if s.searcher == nil {
		return nil, errors.New("event search not configured")
	}
	return s.searcher.SearchEvents(ctx, filter.UserID, filter.IPAddress, filter.EventType, filter.Limit)
}

func requireAdmin(actor *models.User) error {
	if actor == nil || !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
