package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-auth/internal/config"
	"collab-auth/internal/encryption"
	"collab-auth/internal/hashing"
	"collab-auth/internal/models"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

type fixture struct {
	verifier *Verifier
	hasher   *hashing.Hasher
	enc      *encryption.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Peppers = []string{"test-pepper"}
	cfg.MFA.TOTPSkew = 1
	cfg.KMS.Enabled = false

	hasher := hashing.NewHasher(cfg)
	enc := encryption.NewManager(cfg, nil)

	return &fixture{
		verifier: NewVerifier(cfg, hasher, enc),
		hasher:   hasher,
		enc:      enc,
	}
}

func (f *fixture) userWithTOTP(t *testing.T) *models.User {
	t.Helper()
	sealed, keyID, err := f.enc.EncryptSecret(context.Background(), testTOTPSecret)
	require.NoError(t, err)
	return &models.User{
		UserID:        "user-1",
		TOTPSecretEnc: []byte(sealed),
		TOTPKeyID:     keyID,
		TOTPEnabled:   true,
	}
}

func (f *fixture) userWithBackupCodes(t *testing.T, codes ...string) *models.User {
	t.Helper()
	user := &models.User{UserID: "user-1"}
	for _, code := range codes {
		hr, err := f.hasher.HashBackupCode(code)
		require.NoError(t, err)
		stored, err := EncodeStoredHash(hr)
		require.NoError(t, err)
		user.BackupCodeHashes = append(user.BackupCodeHashes, stored)
	}
	return user
}

func (f *fixture) challengeWithEmailCode(t *testing.T, code string) *models.PendingMFAChallenge {
	t.Helper()
	hr, err := f.hasher.HashEmailCode(code)
	require.NoError(t, err)
	return &models.PendingMFAChallenge{
		ChallengeID:   "ch-1",
		UserID:        "user-1",
		EmailCodeHash: hr.Hash,
		EmailCodeSalt: hr.Salt,
		PepperVersion: hr.PepperVersion,
		CodeExpiresAt: time.Now().Add(5 * time.Minute),
	}
}

func totpCodeAt(t *testing.T, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testTOTPSecret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	user := f.userWithBackupCodes(t, "alpha-code", "beta-code")
	challenge := &models.PendingMFAChallenge{ChallengeID: "ch-1", UserID: "user-1"}

	res, err := f.verifier.Verify(context.Background(), user, challenge, "alpha-code")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, MethodBackupCode, res.Method)
	assert.True(t, res.StateChanged)
	assert.Len(t, user.BackupCodeHashes, 1)

	// Same code again must fail; its hash is gone.
	res, err = f.verifier.Verify(context.Background(), user, challenge, "alpha-code")
	require.NoError(t, err)
	assert.False(t, res.OK)

	// The remaining code still works.
	res, err = f.verifier.Verify(context.Background(), user, challenge, "beta-code")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, user.BackupCodeHashes)
}

func TestEmailCodeMatches(t *testing.T) {
	f := newFixture(t)
	user := &models.User{UserID: "user-1"}
	challenge := f.challengeWithEmailCode(t, "482913")

	res, err := f.verifier.Verify(context.Background(), user, challenge, "482913")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, MethodEmailCode, res.Method)
	assert.True(t, res.StateChanged)
	assert.Empty(t, challenge.EmailCodeHash)
}

func TestEmailCodeSpentByFailedAttempt(t *testing.T) {
	f := newFixture(t)
	user := &models.User{UserID: "user-1"}
	challenge := f.challengeWithEmailCode(t, "482913")

	res, err := f.verifier.Verify(context.Background(), user, challenge, "000000")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.StateChanged)
	assert.Empty(t, challenge.EmailCodeHash)
	assert.True(t, challenge.EmailCodeSpent)

	// The right code no longer works; the stored code was consumed. A user
	// without other factors still gets a plain failure, not an error.
	res, err = f.verifier.Verify(context.Background(), user, challenge, "482913")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.StateChanged)
}

func TestExpiredEmailCodeRejected(t *testing.T) {
	f := newFixture(t)
	user := &models.User{UserID: "user-1"}
	challenge := f.challengeWithEmailCode(t, "482913")
	challenge.CodeExpiresAt = time.Now().Add(-time.Minute)

	res, err := f.verifier.Verify(context.Background(), user, challenge, "482913")
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestTOTPAcceptsAdjacentStep(t *testing.T) {
	f := newFixture(t)
	user := f.userWithTOTP(t)
	challenge := &models.PendingMFAChallenge{ChallengeID: "ch-1", UserID: "user-1"}

	now := time.Now()
	for _, offset := range []time.Duration{0, -30 * time.Second, 30 * time.Second} {
		res, err := f.verifier.Verify(context.Background(), user, challenge, totpCodeAt(t, now.Add(offset)))
		require.NoError(t, err)
		assert.True(t, res.OK, "offset %s", offset)
		assert.Equal(t, MethodTOTP, res.Method)
	}
}

func TestTOTPRejectsDistantStep(t *testing.T) {
	f := newFixture(t)
	user := f.userWithTOTP(t)
	challenge := &models.PendingMFAChallenge{ChallengeID: "ch-1", UserID: "user-1"}

	now := time.Now()
	stale := totpCodeAt(t, now.Add(-10*30*time.Second))
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		if stale == totpCodeAt(t, now.Add(offset)) {
			t.Skip("codes collided")
		}
	}

	res, err := f.verifier.Verify(context.Background(), user, challenge, stale)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestBackupCodeCheckedBeforeTOTP(t *testing.T) {
	f := newFixture(t)
	user := f.userWithTOTP(t)

	hr, err := f.hasher.HashBackupCode("backup-one")
	require.NoError(t, err)
	stored, err := EncodeStoredHash(hr)
	require.NoError(t, err)
	user.BackupCodeHashes = []string{stored}

	challenge := &models.PendingMFAChallenge{ChallengeID: "ch-1", UserID: "user-1"}

	res, err := f.verifier.Verify(context.Background(), user, challenge, "backup-one")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, MethodBackupCode, res.Method)

	// TOTP still works afterwards.
	res, err = f.verifier.Verify(context.Background(), user, challenge, totpCodeAt(t, time.Now()))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, MethodTOTP, res.Method)
}

func TestNoFactorsConfigured(t *testing.T) {
	f := newFixture(t)
	user := &models.User{UserID: "user-1"}
	challenge := &models.PendingMFAChallenge{ChallengeID: "ch-1", UserID: "user-1"}

	_, err := f.verifier.Verify(context.Background(), user, challenge, "anything")
	assert.ErrorIs(t, err, ErrNoFactorsAvailable)
}

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}

	_, err = GenerateNumericCode(0)
	assert.Error(t, err)
}
