package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"collab-auth/internal/client"
	"collab-auth/internal/config"
	"collab-auth/internal/encryption"
	"collab-auth/internal/hashing"
	"collab-auth/internal/mfa"
	"collab-auth/internal/models"
	redisrepo "collab-auth/internal/repository/redis"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/risk"
	"collab-auth/internal/session"
)

// ---- in-memory stores ----

type memUserStore struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	byMail map[string]string
}

func newMemUserStore() *memUserStore {
	return &memUserStore{byID: map[string]*models.User{}, byMail: map[string]string{}}
}

func (s *memUserStore) CreateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	copied := *user
	s.byID[user.UserID] = &copied
	s.byMail[user.EmailHash] = user.UserID
	return nil
}

func (s *memUserStore) GetUserByID(userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[userID]; ok {
		copied := *u
		copied.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
		return &copied, nil
	}
	return nil, scylla.ErrUserNotFound
}

func (s *memUserStore) GetUserByEmailHash(emailHash string) (*models.User, error) {
	s.mu.Lock()
	id, ok := s.byMail[emailHash]
	s.mu.Unlock()
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return s.GetUserByID(id)
}

func (s *memUserStore) UpdateLastLogin(userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[userID]; ok {
		t := at
		u.LastLogin = &t
	}
	return nil
}

func (s *memUserStore) ReplaceBackupCodes(userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[userID]; ok {
		u.BackupCodeHashes = append([]string(nil), hashes...)
	}
	return nil
}

type deviceKey struct {
	userID string
	fpHash string
}

// memDeviceStore mimics the LWT insert semantics: the first writer wins and
// later writers read back the stored row.
type memDeviceStore struct {
	mu      sync.Mutex
	rows    map[deviceKey]*models.DeviceFingerprint
	byID    map[string]deviceKey
	inserts int
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{rows: map[deviceKey]*models.DeviceFingerprint{}, byID: map[string]deviceKey{}}
}

func (s *memDeviceStore) UpsertDevice(device *models.DeviceFingerprint) (*models.DeviceFingerprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey{device.UserID, device.FingerprintHash}
	if existing, ok := s.rows[key]; ok {
		copied := *existing
		return &copied, false, nil
	}

	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.LastUsed = now
	device.UpdatedAt = now
	if device.TrustStatus == "" {
		device.TrustStatus = models.TrustPending
	}

	copied := *device
	s.rows[key] = &copied
	s.byID[device.DeviceID] = key
	s.inserts++
	return device, true, nil
}

func (s *memDeviceStore) GetDevice(userID, fingerprintHash string) (*models.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[deviceKey{userID, fingerprintHash}]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, scylla.ErrDeviceNotFound
}

func (s *memDeviceStore) GetDeviceByID(deviceID string) (*models.DeviceFingerprint, error) {
	s.mu.Lock()
	key, ok := s.byID[deviceID]
	s.mu.Unlock()
	if !ok {
		return nil, scylla.ErrDeviceNotFound
	}
	return s.GetDevice(key.userID, key.fpHash)
}

func (s *memDeviceStore) ListDevicesForUser(userID string) ([]*models.DeviceFingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeviceFingerprint
	for key, d := range s.rows {
		if key.userID == userID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memDeviceStore) UpdateTrust(userID, fingerprintHash string, status models.TrustStatus, streak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[deviceKey{userID, fingerprintHash}]; ok {
		d.TrustStatus = status
		d.StepUpStreak = streak
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *memDeviceStore) UpdateUsage(userID, fingerprintHash, lastIP, userAgent string, riskScore int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[deviceKey{userID, fingerprintHash}]; ok {
		d.LastIP = lastIP
		d.UserAgent = userAgent
		d.RiskScore = riskScore
		d.LastUsed = at
		d.UpdatedAt = at
	}
	return nil
}

func (s *memDeviceStore) UpdateStreak(userID, fingerprintHash string, streak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[deviceKey{userID, fingerprintHash}]; ok {
		d.StepUpStreak = streak
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]*models.Session{}}
}

func (s *memSessionStore) CreateSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

func (s *memSessionStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, scylla.ErrSessionNotFound
}

func (s *memSessionStore) RevokeSession(sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.IsActive = false
		sess.RevokedReason = reason
	}
	return nil
}

func (s *memSessionStore) RevokeSessionsForDevice(deviceID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID && sess.IsActive {
			sess.IsActive = false
			sess.RevokedReason = reason
			count++
		}
	}
	return count, nil
}

func (s *memSessionStore) TouchSession(sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = at
	}
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RememberToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*models.RememberToken{}}
}

func (s *memTokenStore) CreateToken(token *models.RememberToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.TokenID] = &copied
	return nil
}

func (s *memTokenStore) GetToken(tokenID string) (*models.RememberToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[tokenID]; ok {
		copied := *tok
		return &copied, nil
	}
	return nil, scylla.ErrRememberTokenNotFound
}

func (s *memTokenStore) RevokeToken(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[tokenID]; ok {
		tok.Revoked = true
	}
	return nil
}

type memBlacklistStore struct {
	mu      sync.Mutex
	entries map[string]*models.IPBlacklistEntry
}

func newMemBlacklistStore() *memBlacklistStore {
	return &memBlacklistStore{entries: map[string]*models.IPBlacklistEntry{}}
}

func (s *memBlacklistStore) AddEntry(entry *models.IPBlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	copied := *entry
	s.entries[entry.IPAddress] = &copied
	return nil
}

func (s *memBlacklistStore) GetEntry(ip string) (*models.IPBlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ip]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, scylla.ErrBlacklistEntryNotFound
}

func (s *memBlacklistStore) RemoveEntry(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ip)
	return nil
}

func (s *memBlacklistStore) ListEntries() ([]*models.IPBlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.IPBlacklistEntry
	for _, e := range s.entries {
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

// ---- collaborator test doubles ----

type captureRecorder struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (r *captureRecorder) Record(_ context.Context, event *models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *event
	r.events = append(r.events, &copied)
}

func (r *captureRecorder) ofType(eventType string) []*models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type captureNotifier struct {
	mu    sync.Mutex
	codes []string
	ids   []string
}

func (n *captureNotifier) SendStepUpCode(_ context.Context, _, challengeID, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	n.ids = append(n.ids, challengeID)
	return nil
}

func (n *captureNotifier) SendSecurityAlert(context.Context, string, string) error { return nil }

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1]
}

type stubReputation struct {
	mu    sync.Mutex
	entry *models.IPReputationEntry
}

func (s *stubReputation) Lookup(_ context.Context, ip string) (*models.IPReputationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != nil {
		return s.entry, nil
	}
	return &models.IPReputationEntry{
		IPAddress:   ip,
		Status:      models.ReputationClean,
		Score:       0,
		RefreshedAt: time.Now().UTC(),
	}, nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *recordingSleeper) last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delays) == 0 {
		return 0
	}
	return s.delays[len(s.delays)-1]
}

// ---- harness ----

type harness struct {
	cfg        *config.Config
	redis      *miniredis.Miniredis
	auth       *AuthService
	admin      *AdminService
	deviceSvc  *DeviceService
	users      *memUserStore
	devices    *memDeviceStore
	sessions   *memSessionStore
	tokens     *memTokenStore
	blacklist  *memBlacklistStore
	recorder   *captureRecorder
	notifier   *captureNotifier
	reputation *stubReputation
	sleeper    *recordingSleeper
	hasher     *hashing.Hasher
	enc        *encryption.Manager
	issuer     *session.Issuer
	attempts   *redisrepo.AttemptCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Peppers = []string{"test-pepper"}
	cfg.Risk = config.RiskConfig{
		TrustedBase:        5,
		PendingBase:        40,
		UntrustedBase:      75,
		ReputationWeight:   0.3,
		FailurePenalty:     8,
		FailurePenaltyCap:  30,
		MediumThreshold:    30,
		HighThreshold:      60,
		FailureWindow:      time.Hour,
		ReputationTimeout:  time.Second,
		ReputationStaleTTL: time.Hour,
	}
	cfg.MFA = config.MFAConfig{
		ChallengeTTL:    5 * time.Minute,
		CodeLength:      6,
		MaxAttempts:     5,
		ResendPerMinute: 1,
		TOTPSkew:        1,
	}
	cfg.Session.Lifetime = 24 * time.Hour
	cfg.Session.RememberLifetime = 30 * 24 * time.Hour

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	redisClient := client.NewRedisClientFromExisting(rdb)

	users := newMemUserStore()
	devices := newMemDeviceStore()
	sessions := newMemSessionStore()
	tokens := newMemTokenStore()
	blocks := newMemBlacklistStore()
	recorder := &captureRecorder{}
	notifier := &captureNotifier{}
	rep := &stubReputation{}
	sleeper := &recordingSleeper{}

	hasher := hashing.NewHasher(cfg)
	enc := encryption.NewManager(cfg, nil)
	attempts := redisrepo.NewAttemptCache(redisClient)
	challenges := redisrepo.NewChallengeCache(redisClient)
	engine := risk.NewEngine(cfg, rep, attempts)
	verifier := mfa.NewVerifier(cfg, hasher, enc)
	issuer := session.NewIssuer(cfg, sessions, tokens, hasher)
	deviceSvc := NewDeviceService(devices, blocks, recorder, nil)

	auth, err := NewAuthService(cfg, users, blocks, deviceSvc, challenges, attempts,
		engine, verifier, issuer, notifier, recorder, hasher)
	require.NoError(t, err)
	auth.SetSleeper(sleeper.Sleep)

	admin := NewAdminService(deviceSvc, sessions, blocks, recorder, nil)

	return &harness{
		cfg:        cfg,
		redis:      mr,
		auth:       auth,
		admin:      admin,
		deviceSvc:  deviceSvc,
		users:      users,
		devices:    devices,
		sessions:   sessions,
		tokens:     tokens,
		blacklist:  blocks,
		recorder:   recorder,
		notifier:   notifier,
		reputation: rep,
		sleeper:    sleeper,
		hasher:     hasher,
		enc:        enc,
		issuer:     issuer,
		attempts:   attempts,
	}
}

type userOpts struct {
	role        models.Role
	totpSecret  string
	backupCodes []string
}

func (h *harness) createUser(t *testing.T, email, password string, opts userOpts) *models.User {
	t.Helper()

	hashResult, err := h.hasher.HashPassword(password)
	require.NoError(t, err)

	role := opts.role
	if role == "" {
		role = models.RoleMember
	}

	user := &models.User{
		EmailHash:     hashIdentifier(email),
		PasswordHash:  hashResult.Hash,
		PasswordSalt:  hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
		HashAlgorithm: hashResult.Algorithm,
		Role:          role,
	}

	if opts.totpSecret != "" {
		sealed, keyID, err := h.enc.EncryptSecret(context.Background(), opts.totpSecret)
		require.NoError(t, err)
		user.TOTPSecretEnc = []byte(sealed)
		user.TOTPKeyID = keyID
		user.TOTPEnabled = true
	}

	for _, code := range opts.backupCodes {
		hr, err := h.hasher.HashBackupCode(code)
		require.NoError(t, err)
		stored, err := mfa.EncodeStoredHash(hr)
		require.NoError(t, err)
		user.BackupCodeHashes = append(user.BackupCodeHashes, stored)
	}

	require.NoError(t, h.users.CreateUser(user))
	return user
}

const validBundle = `{"screen_width":1920,"screen_height":1080,"color_depth":24,"timezone":"UTC","language":"en-US","platform":"Linux","hardware_cores":8,"canvas_hash":"cafe","webgl_renderer":"f00d","touch_support":false,"cookies_enabled":true,"session_storage":true,"plugins_signature":"pdf"}`

func loginReq(email, password string) LoginRequest {
	return LoginRequest{
		Email:     email,
		Password:  password,
		Bundle:    []byte(validBundle),
		IPAddress: "198.51.100.7",
		UserAgent: "test-agent/1.0",
	}
}
