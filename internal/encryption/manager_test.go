package encryption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-auth/internal/config"
)

func newLocalManager() *Manager {
	cfg := &config.Config{}
	cfg.KMS.Enabled = false
	return NewManager(cfg, nil)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	serialized, keyID, err := m.EncryptSecret(ctx, "JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEmpty(t, keyID)
	assert.NotContains(t, serialized, "JBSWY3DPEHPK3PXP")

	plaintext, err := m.DecryptSecret(ctx, serialized)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plaintext)
}

func TestDecryptSurvivesCacheClear(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	serialized, _, err := m.EncryptSecret(ctx, "secret value")
	require.NoError(t, err)

	m.ClearCache()

	plaintext, err := m.DecryptSecret(ctx, serialized)
	require.NoError(t, err)
	assert.Equal(t, "secret value", plaintext)
}

func TestDecryptAfterRestart(t *testing.T) {
	ctx := context.Background()

	// A fresh manager has an empty DEK cache, like a restarted process; the
	// envelope alone must be enough to recover the secret.
	serialized, _, err := newLocalManager().EncryptSecret(ctx, "JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	plaintext, err := newLocalManager().DecryptSecret(ctx, serialized)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plaintext)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	_, err := m.DecryptSecret(ctx, "not json at all")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = m.DecryptSecret(ctx, `{"ct":"AAAA","dek":"!!!","kid":"x","v":"v1"}`)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	serialized, _, err := m.EncryptSecret(ctx, "totp seed")
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(serialized), &env))

	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	env.Ciphertext = base64.StdEncoding.EncodeToString(raw)

	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	m.ClearCache()
	_, err = m.DecryptSecret(ctx, string(tampered))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
