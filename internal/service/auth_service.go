package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collab-auth/internal/config"
	"collab-auth/internal/events"
	"collab-auth/internal/fingerprint"
	"collab-auth/internal/hashing"
	"collab-auth/internal/mfa"
	"collab-auth/internal/models"
	"collab-auth/internal/notify"
	redisrepo "collab-auth/internal/repository/redis"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/risk"
	"collab-auth/internal/session"
	"collab-auth/internal/util"
)

var (
	ErrBlocked            = errors.New("authentication blocked")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrChallengeExpired   = errors.New("challenge missing or expired")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
	ErrInvalidToken       = errors.New("invalid remember token")
	ErrResendThrottled    = errors.New("resend throttled")
)

const (
	failureDelayStep = 300 * time.Millisecond
	failureDelayMax  = 3 * time.Second
)

// LoginRequest carries everything a single authentication attempt needs; the
// orchestrator keeps no per-request state outside it.
type LoginRequest struct {
	Email     string
	Password  string
	Remember  bool
	Bundle    []byte
	IPAddress string
	UserAgent string
}

// LoginResult is returned for both immediate logins and step-up completions.
// StepUpRequired signals that only ChallengeID and RiskLevel are populated.
type LoginResult struct {
	StepUpRequired bool             `json:"step_up_required"`
	ChallengeID    string           `json:"challenge_id,omitempty"`
	RiskLevel      models.RiskLevel `json:"risk_level,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	SessionToken   string           `json:"session_token,omitempty"`
	RememberToken  string           `json:"remember_token,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at,omitempty"`
}

// AuthService sequences a login attempt: blacklist, credentials, device,
// risk, decision, finalize. The failure delay is injected so tests run fast.
type AuthService struct {
	cfg        *config.Config
	users      scylla.UserStore
	blacklist  scylla.BlacklistStore
	devices    *DeviceService
	challenges *redisrepo.ChallengeCache
	attempts   *redisrepo.AttemptCache
	riskEngine *risk.Engine
	verifier   *mfa.Verifier
	issuer     *session.Issuer
	notifier   notify.Notifier
	recorder   events.Recorder
	hasher     *hashing.Hasher
	sleep      func(time.Duration)

	// decoyHash absorbs password checks for unknown identities so the
	// response time does not reveal account existence.
	decoyHash *hashing.HashResult
}

func NewAuthService(
	cfg *config.Config,
	users scylla.UserStore,
	blacklist scylla.BlacklistStore,
	devices *DeviceService,
	challenges *redisrepo.ChallengeCache,
	attempts *redisrepo.AttemptCache,
	riskEngine *risk.Engine,
	verifier *mfa.Verifier,
	issuer *session.Issuer,
	notifier notify.Notifier,
	recorder events.Recorder,
	hasher *hashing.Hasher,
) (*AuthService, error) {
	decoy, err := hasher.HashPassword(uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare decoy hash: %w", err)
	}

	return &AuthService{
		cfg:        cfg,
		users:      users,
		blacklist:  blacklist,
		devices:    devices,
		challenges: challenges,
		attempts:   attempts,
		riskEngine: riskEngine,
		verifier:   verifier,
		issuer:     issuer,
		notifier:   notifier,
		recorder:   recorder,
		hasher:     hasher,
		sleep:      time.Sleep,
		decoyHash:  decoy,
	}, nil
}

// SetSleeper replaces the failure-delay sleeper. Tests inject a recorder.
func (s *AuthService) SetSleeper(fn func(time.Duration)) {
	s.sleep = fn
}

// Login runs the full authentication sequence for a password attempt.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if blocked := s.checkBlacklist(ctx, req.IPAddress, ""); blocked {
		return nil, ErrBlocked
	}

	// The fingerprint is parsed before credentials so a malformed bundle is
	// recorded with the attempt; it forces a step-up, never a bypass.
	fpHash, fpMalformed := s.normalizeBundle(req.Bundle)

	email := util.NormalizeEmail(req.Email)
	identity := hashIdentifier(email)

	user, err := s.users.GetUserByEmailHash(identity)
	if err != nil && !errors.Is(err, scylla.ErrUserNotFound) {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	if user == nil {
		// Burn comparable time, then fail exactly like a bad password.
		_, _ = s.hasher.VerifyPassword(req.Password, s.decoyHash)
		return nil, s.failCredentials(ctx, identity, "", req.IPAddress, fpHash)
	}

	match, err := s.hasher.VerifyPassword(req.Password, &hashing.HashResult{
		Hash:          user.PasswordHash,
		Salt:          user.PasswordSalt,
		PepperVersion: user.PepperVersion,
		Algorithm:     user.HashAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("password verification: %w", err)
	}
	if !match {
		return nil, s.failCredentials(ctx, identity, user.UserID, req.IPAddress, fpHash)
	}

	var device *models.DeviceFingerprint
	if !fpMalformed {
		device, _, err = s.devices.LookupOrRegister(ctx, user.UserID, fpHash, req.IPAddress, req.UserAgent)
		if err != nil {
			return nil, err
		}
	}

	trust := models.TrustPending
	if device != nil {
		trust = device.TrustStatus
	}
	assessment := s.riskEngine.Assess(ctx, user.EmailHash, req.IPAddress, trust)

	if device != nil {
		if err := s.devices.RecordUsage(device, req.IPAddress, req.UserAgent, assessment.Score); err != nil {
			util.Warn("Failed to persist device usage", util.ErrorField(err))
		}
	}

	needStepUp := user.HasSecondFactor() || assessment.Level != models.RiskLow || fpMalformed
	if needStepUp {
		return s.beginStepUp(ctx, user, device, fpHash, fpMalformed, req, assessment)
	}

	return s.finalize(ctx, user, device, fpHash, req.IPAddress, req.Remember, assessment.Score, models.EventLoginSuccess)
}

// VerifyStepUp completes a pending challenge with a second-factor code.
func (s *AuthService) VerifyStepUp(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	challenge, err := s.challenges.GetChallenge(challengeID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrChallengeNotFound) {
			s.recorder.Record(ctx, &models.SecurityEvent{
				EventType: models.EventChallengeExpired,
				Actor:     "system",
				Details:   "challenge missing at verification",
			})
			return nil, ErrChallengeExpired
		}
		return nil, fmt.Errorf("challenge lookup: %w", err)
	}

	if challenge.Attempts >= s.cfg.MFA.MaxAttempts {
		_ = s.challenges.DeleteChallenge(challengeID)
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetUserByID(challenge.UserID)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	result, err := s.verifier.Verify(ctx, user, challenge, code)
	if err != nil {
		return nil, err
	}

	if result.StateChanged {
		if result.Method == mfa.MethodBackupCode {
			if err := s.users.ReplaceBackupCodes(user.UserID, user.BackupCodeHashes); err != nil {
				return nil, fmt.Errorf("backup code consumption: %w", err)
			}
		}
	}

	if !result.OK {
		challenge.Attempts++
		if err := s.challenges.UpdateChallenge(challenge); err != nil && !errors.Is(err, redisrepo.ErrChallengeNotFound) {
			util.Warn("Failed to persist challenge attempt", util.ErrorField(err))
		}
		s.applyFailureDelay(user.EmailHash)
		s.failDevice(challenge)
		s.recorder.Record(ctx, &models.SecurityEvent{
			UserID:          user.UserID,
			EventType:       models.EventStepUpFailure,
			Actor:           "system",
			IPAddress:       challenge.IPAddress,
			FingerprintHash: challenge.FingerprintHash,
			RiskScore:       challenge.RiskScore,
		})
		return nil, ErrInvalidCode
	}

	if err := s.challenges.DeleteChallenge(challengeID); err != nil {
		util.Warn("Failed to delete completed challenge", util.ErrorField(err))
	}

	// Promotion bookkeeping for the device that was step-up verified.
	if challenge.FingerprintHash != "" {
		if device, derr := s.devices.devices.GetDevice(challenge.UserID, challenge.FingerprintHash); derr == nil {
			if err := s.devices.NoteStepUpSuccess(ctx, device, risk.Assessment{Score: challenge.RiskScore}); err != nil {
				util.Warn("Promotion bookkeeping failed", util.ErrorField(err))
			}
		}
	}

	return s.finalize(ctx, user, deviceRef(challenge), challenge.FingerprintHash,
		challenge.IPAddress, challenge.Remember, challenge.RiskScore, models.EventStepUpSuccess)
}

// ResendCode reissues a fresh email code onto a live challenge.
func (s *AuthService) ResendCode(ctx context.Context, challengeID string) error {
	challenge, err := s.challenges.GetChallenge(challengeID)
	if err != nil {
		if errors.Is(err, redisrepo.ErrChallengeNotFound) {
			return ErrChallengeExpired
		}
		return fmt.Errorf("challenge lookup: %w", err)
	}

	code, err := mfa.GenerateNumericCode(s.cfg.MFA.CodeLength)
	if err != nil {
		return err
	}
	hashResult, err := s.hasher.HashEmailCode(code)
	if err != nil {
		return err
	}

	challenge.EmailCodeHash = hashResult.Hash
	challenge.EmailCodeSalt = hashResult.Salt
	challenge.PepperVersion = hashResult.PepperVersion
	challenge.CodeExpiresAt = time.Now().UTC().Add(s.cfg.MFA.ChallengeTTL)

	if err := s.notifier.SendStepUpCode(ctx, challenge.UserID, challenge.ChallengeID, code); err != nil {
		if errors.Is(err, notify.ErrThrottled) {
			return ErrResendThrottled
		}
		return err
	}

	if err := s.challenges.UpdateChallenge(challenge); err != nil {
		if errors.Is(err, redisrepo.ErrChallengeNotFound) {
			return ErrChallengeExpired
		}
		return err
	}

	return nil
}

// LoginWithToken authenticates with a remember token. The device behind the
// token must not be untrusted and the presented fingerprint must match.
func (s *AuthService) LoginWithToken(ctx context.Context, rawToken string, bundle []byte, ip, userAgent string) (*LoginResult, error) {
	if blocked := s.checkBlacklist(ctx, ip, ""); blocked {
		return nil, ErrBlocked
	}

	token, err := s.issuer.RedeemRememberToken(rawToken)
	if err != nil {
		if errors.Is(err, session.ErrRememberInvalid) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	device, err := s.devices.GetDeviceByID(token.DeviceID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if device.TrustStatus == models.TrustUntrusted {
		s.recorder.Record(ctx, &models.SecurityEvent{
			UserID:          token.UserID,
			EventType:       models.EventLoginBlocked,
			Actor:           "system",
			IPAddress:       ip,
			FingerprintHash: device.FingerprintHash,
			Details:         "remember token presented by untrusted device",
		})
		return nil, ErrBlocked
	}

	fpHash, malformed := s.normalizeBundle(bundle)
	if malformed || fpHash != device.FingerprintHash {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetUserByID(token.UserID)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	assessment := s.riskEngine.Assess(ctx, user.EmailHash, ip, device.TrustStatus)
	if err := s.devices.RecordUsage(device, ip, userAgent, assessment.Score); err != nil {
		util.Warn("Failed to persist device usage", util.ErrorField(err))
	}

	// Tokens rotate on every use; the presented one dies here.
	if err := s.issuer.RevokeRememberToken(token.TokenID); err != nil {
		util.Warn("Failed to revoke used remember token", util.ErrorField(err))
	}

	return s.finalize(ctx, user, device, device.FingerprintHash, ip, true, assessment.Score, models.EventLoginSuccess)
}

// Logout revokes the session. Revoking an unknown or already revoked session
// succeeds quietly.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.issuer.RevokeSession(sessionID, "logout"); err != nil {
		return err
	}
	s.recorder.Record(ctx, &models.SecurityEvent{
		EventType: models.EventTokenRevoked,
		Actor:     "user",
		SessionID: sessionID,
		Details:   "logout",
	})
	return nil
}

func (s *AuthService) beginStepUp(ctx context.Context, user *models.User, device *models.DeviceFingerprint, fpHash string, malformed bool, req LoginRequest, assessment risk.Assessment) (*LoginResult, error) {
	code, err := mfa.GenerateNumericCode(s.cfg.MFA.CodeLength)
	if err != nil {
		return nil, err
	}
	hashResult, err := s.hasher.HashEmailCode(code)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	challenge := &models.PendingMFAChallenge{
		ChallengeID:   uuid.New().String(),
		UserID:        user.UserID,
		IPAddress:     req.IPAddress,
		EmailCodeHash: hashResult.Hash,
		EmailCodeSalt: hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
		CodeExpiresAt: now.Add(s.cfg.MFA.ChallengeTTL),
		RiskLevel:     assessment.Level,
		RiskScore:     assessment.Score,
		Remember:      req.Remember,
		CreatedAt:     now,
	}
	if device != nil {
		challenge.DeviceID = device.DeviceID
		challenge.FingerprintHash = device.FingerprintHash
	}

	if err := s.challenges.SaveChallenge(challenge, s.cfg.MFA.ChallengeTTL); err != nil {
		return nil, err
	}

	if err := s.notifier.SendStepUpCode(ctx, user.UserID, challenge.ChallengeID, code); err != nil {
		util.Error("Failed to dispatch step-up code", util.ErrorField(err))
	}

	details := fmt.Sprintf("risk %s (%d)", assessment.Level, assessment.Score)
	if malformed {
		details += ", malformed fingerprint bundle"
	}
	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:          user.UserID,
		EventType:       models.EventStepUpRequired,
		Actor:           "system",
		IPAddress:       req.IPAddress,
		FingerprintHash: fpHash,
		RiskScore:       assessment.Score,
		Details:         details,
	})

	return &LoginResult{
		StepUpRequired: true,
		ChallengeID:    challenge.ChallengeID,
		RiskLevel:      assessment.Level,
	}, nil
}

func (s *AuthService) finalize(ctx context.Context, user *models.User, device *models.DeviceFingerprint, fpHash, ip string, remember bool, riskScore int, eventType string) (*LoginResult, error) {
	if err := s.users.UpdateLastLogin(user.UserID, time.Now().UTC()); err != nil {
		util.Warn("Failed to update last login", util.ErrorField(err))
	}

	deviceID := ""
	if device != nil {
		deviceID = device.DeviceID
	}

	sess, rawToken, err := s.issuer.CreateSession(user.UserID, deviceID, fpHash)
	if err != nil {
		return nil, fmt.Errorf("session creation: %w", err)
	}

	result := &LoginResult{
		SessionID:    sess.SessionID,
		SessionToken: rawToken,
		ExpiresAt:    sess.ExpiresAt,
	}

	if remember && device != nil {
		rawRemember, _, err := s.issuer.IssueRememberToken(user.UserID, device.DeviceID)
		if err != nil {
			util.Error("Failed to issue remember token", util.ErrorField(err))
		} else {
			result.RememberToken = rawRemember
		}
	}

	if err := s.attempts.ResetFailures(user.EmailHash); err != nil {
		util.Warn("Failed to reset failure counter", util.ErrorField(err))
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:          user.UserID,
		EventType:       eventType,
		Actor:           "system",
		IPAddress:       ip,
		FingerprintHash: fpHash,
		SessionID:       sess.SessionID,
		RiskScore:       riskScore,
	})

	return result, nil
}

func (s *AuthService) failCredentials(ctx context.Context, identity, userID, ip, fpHash string) error {
	count, err := s.attempts.IncrementFailures(identity, s.cfg.Risk.FailureWindow)
	if err != nil {
		util.Warn("Failed to count failure", util.ErrorField(err))
		count = 1
	}

	s.applyDelayForCount(count)

	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:          userID,
		EventType:       models.EventLoginFailure,
		Actor:           "system",
		IPAddress:       ip,
		FingerprintHash: fpHash,
		Details:         fmt.Sprintf("failure %d in window", count),
	})

	return ErrInvalidCredentials
}

func (s *AuthService) applyFailureDelay(identity string) {
	count, err := s.attempts.IncrementFailures(identity, s.cfg.Risk.FailureWindow)
	if err != nil {
		count = 1
	}
	s.applyDelayForCount(count)
}

func (s *AuthService) applyDelayForCount(count int) {
	delay := time.Duration(count) * failureDelayStep
	if delay > failureDelayMax {
		delay = failureDelayMax
	}
	s.sleep(delay)
}

func (s *AuthService) failDevice(challenge *models.PendingMFAChallenge) {
	if challenge.FingerprintHash == "" {
		return
	}
	if device, err := s.devices.devices.GetDevice(challenge.UserID, challenge.FingerprintHash); err == nil {
		if err := s.devices.NoteStepUpFailure(device); err != nil {
			util.Warn("Failed to reset device streak", util.ErrorField(err))
		}
	}
}

func (s *AuthService) checkBlacklist(ctx context.Context, ip, userID string) bool {
	entry, err := s.blacklist.GetEntry(ip)
	if err != nil {
		if !errors.Is(err, scylla.ErrBlacklistEntryNotFound) {
			util.Warn("Blacklist lookup failed", util.ErrorField(err))
		}
		return false
	}

	if !entry.IsActive(time.Now().UTC()) {
		return false
	}

	s.recorder.Record(ctx, &models.SecurityEvent{
		UserID:    userID,
		EventType: models.EventLoginBlocked,
		Actor:     "system",
		IPAddress: ip,
		Details:   "ip blacklisted",
	})
	return true
}

func (s *AuthService) normalizeBundle(bundle []byte) (string, bool) {
	hash, err := fingerprint.NormalizeBundle(bundle)
	if err != nil {
		return "", true
	}
	return hash, false
}

// deviceRef rebuilds a minimal device handle from challenge state for
// finalization; the full row is not needed there.
func deviceRef(challenge *models.PendingMFAChallenge) *models.DeviceFingerprint {
	if challenge.DeviceID == "" {
		return nil
	}
	return &models.DeviceFingerprint{
		DeviceID:        challenge.DeviceID,
		UserID:          challenge.UserID,
		FingerprintHash: challenge.FingerprintHash,
	}
}

func hashIdentifier(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
