package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-auth/internal/events"
	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/risk"
	"collab-auth/internal/util"
)

var ErrDeviceNotFound = errors.New("device not found")

// DeviceService owns the device registry: first-seen registration, trust
// transitions and the promotion bookkeeping driven by step-up successes.
type DeviceService struct {
	devices   scylla.DeviceStore
	blacklist scylla.BlacklistStore
	recorder  events.Recorder
	promotion risk.PromotionPolicy
}

func NewDeviceService(devices scylla.DeviceStore, blacklist scylla.BlacklistStore, recorder events.Recorder, promotion risk.PromotionPolicy) *DeviceService {
	if promotion == nil {
		promotion = risk.DefaultPromotionPolicy
	}
	return &DeviceService{
		devices:   devices,
		blacklist: blacklist,
		recorder:  recorder,
		promotion: promotion,
	}
}

// LookupOrRegister returns the device row for (user, fingerprint), creating
// it on first sight. A new device starts pending unless the registering IP is
// actively blacklisted, in which case it starts untrusted.
func (s *DeviceService) LookupOrRegister(ctx context.Context, userID, fingerprintHash, ip, userAgent string) (*models.DeviceFingerprint, bool, error) {
	initial := models.TrustPending
	if blocked, err := s.ipBlocked(ip); err != nil {
		util.Warn("Blacklist check failed during registration", util.ErrorField(err))
	} else if blocked {
		initial = models.TrustUntrusted
	}

	device, created, err := s.devices.UpsertDevice(&models.DeviceFingerprint{
		UserID:          userID,
		FingerprintHash: fingerprintHash,
		TrustStatus:     initial,
		LastIP:          ip,
		UserAgent:       userAgent,
	})
	if err != nil {
		return nil, false, fmt.Errorf("device registration: %w", err)
	}

	if created {
		s.recorder.Record(ctx, &models.SecurityEvent{
			UserID:          userID,
			EventType:       models.EventDeviceRegistered,
			Actor:           "system",
			IPAddress:       ip,
			FingerprintHash: fingerprintHash,
			Details:         fmt.Sprintf("initial trust %s", initial),
		})
	}

	return device, created, nil
}

func (s *DeviceService) GetDeviceByID(deviceID string) (*models.DeviceFingerprint, error) {
	device, err := s.devices.GetDeviceByID(deviceID)
	if err != nil {
		if errors.Is(err, scylla.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

func (s *DeviceService) ListDevicesForUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	return s.devices.ListDevicesForUser(userID)
}

// SetTrustStatus applies an explicit trust transition and resets the step-up
// streak so a later demotion back to pending starts earning trust from zero.
func (s *DeviceService) SetTrustStatus(ctx context.Context, device *models.DeviceFingerprint, status models.TrustStatus, actor string) error {
	if err := s.devices.UpdateTrust(device.UserID, device.FingerprintHash, status, 0); err != nil {
		return fmt.Errorf("trust update: %w", err)
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:          device.UserID,
		EventType:       models.EventTrustChanged,
		Actor:           actor,
		FingerprintHash: device.FingerprintHash,
		Details:         fmt.Sprintf("%s -> %s", device.TrustStatus, status),
	})

	device.TrustStatus = status
	device.StepUpStreak = 0
	return nil
}

// RecordUsage persists the per-attempt footprint and the assessed risk score.
func (s *DeviceService) RecordUsage(device *models.DeviceFingerprint, ip, userAgent string, riskScore int) error {
	return s.devices.UpdateUsage(device.UserID, device.FingerprintHash, ip, userAgent, riskScore, time.Now().UTC())
}

// NoteStepUpSuccess increments the consecutive success streak and promotes
// the device when the policy agrees. Untrusted devices accumulate nothing
// here; leaving untrusted is an admin decision.
func (s *DeviceService) NoteStepUpSuccess(ctx context.Context, device *models.DeviceFingerprint, assessment risk.Assessment) error {
	if device.TrustStatus == models.TrustUntrusted {
		return nil
	}

	device.StepUpStreak++
	if err := s.devices.UpdateStreak(device.UserID, device.FingerprintHash, device.StepUpStreak); err != nil {
		return fmt.Errorf("streak update: %w", err)
	}

	if s.promotion(device, assessment) {
		return s.SetTrustStatus(ctx, device, models.TrustTrusted, "system")
	}
	return nil
}

// NoteStepUpFailure resets the consecutive success streak.
func (s *DeviceService) NoteStepUpFailure(device *models.DeviceFingerprint) error {
	if device.StepUpStreak == 0 {
		return nil
	}
	device.StepUpStreak = 0
	return s.devices.UpdateStreak(device.UserID, device.FingerprintHash, 0)
}

func (s *DeviceService) ipBlocked(ip string) (bool, error) {
	entry, err := s.blacklist.GetEntry(ip)
	if err != nil {
		if errors.Is(err, scylla.ErrBlacklistEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	return entry.IsActive(time.Now().UTC()), nil
}
