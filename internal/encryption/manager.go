package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"

	"collab-auth/internal/config"
	"collab-auth/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Envelope is the stored form of an encrypted secret: the AES-GCM ciphertext
// plus the KMS-wrapped data key that protects it.
type Envelope struct {
	Ciphertext   string    `json:"ct"`
	EncryptedDEK string    `json:"dek"`
	KeyID        string    `json:"kid"`
	Version      string    `json:"v"`
	CreatedAt    time.Time `json:"at"`
}

type dataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// Manager performs envelope encryption for secrets at rest (TOTP seeds,
// email addresses). When KMS is disabled it falls back to locally generated
// keys, which only protects against casual inspection and is for development.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	dekCache  sync.Map
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// EncryptSecret envelope-encrypts plaintext and returns the serialized
// envelope plus the key ID, ready to store in user columns.
func (m *Manager) EncryptSecret(ctx context.Context, plaintext string) (string, string, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return "", "", err
	}

	block, err := aes.NewCipher(dk.Plaintext)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	env := Envelope{
		Ciphertext:   base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK: base64.StdEncoding.EncodeToString(dk.Ciphertext),
		KeyID:        dk.KeyID,
		Version:      "v1",
		CreatedAt:    time.Now().UTC(),
	}

	m.dekCache.Store(env.EncryptedDEK, dk.Plaintext)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return string(raw), env.KeyID, nil
}

// DecryptSecret reverses EncryptSecret.
func (m *Manager) DecryptSecret(ctx context.Context, serialized string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(serialized), &env); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}

	if cached, ok := m.dekCache.Load(env.EncryptedDEK); ok {
		return m.openWithKey(env.Ciphertext, cached.([]byte))
	}

	var plaintextDEK []byte
	if m.config.KMS.Enabled {
		blob, err := base64.StdEncoding.DecodeString(env.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
		}

		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		var err error
		plaintextDEK, err = base64.StdEncoding.DecodeString(env.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	}

	m.dekCache.Store(env.EncryptedDEK, plaintextDEK)

	return m.openWithKey(env.Ciphertext, plaintextDEK)
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled {
		return m.generateLocalKey()
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      m.config.KMS.KeyID,
	}, nil
}

func (m *Manager) generateLocalKey() (*dataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	// Without KMS the "wrapped" key is just the key itself; EncryptSecret
	// applies the single base64 encoding the envelope carries.
	return &dataKey{
		Plaintext:  key,
		Ciphertext: key,
		KeyID:      uuid.New().String(),
	}, nil
}

func (m *Manager) openWithKey(ciphertextB64 string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// ClearCache drops all cached plaintext data keys.
func (m *Manager) ClearCache() {
	m.dekCache.Range(func(key, _ interface{}) bool {
		m.dekCache.Delete(key)
		return true
	})
	util.Debug("DEK cache cleared")
}
