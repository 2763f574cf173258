package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"collab-auth/internal/config"
	"collab-auth/internal/util"
)

var (
	ErrInvalidHash        = errors.New("invalid hash format")
	ErrUnknownPepper      = errors.New("pepper version not found")
	ErrUnknownAlgorithm   = errors.New("unsupported hash algorithm")
	ErrNoPepperConfigured = errors.New("no pepper configured")
)

const algorithmArgon2id = "argon2id-v1"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// HashResult carries everything needed to verify a credential later. The
// pepper value itself is never stored; only its version travels with the hash.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

// Hasher produces and verifies argon2id hashes for passwords, one-time email
// codes, backup codes and remember-token verifiers. Each purpose mixes in a
// distinct context string so a hash can never be replayed across purposes.
type Hasher struct {
	params  Argon2Params
	peppers []string
	mu      sync.RWMutex
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	h := &Hasher{
		params:  params,
		peppers: append([]string(nil), cfg.Hashing.Peppers...),
	}

	if len(h.peppers) == 0 {
		// Development fallback. Hashes made with a generated pepper do not
		// survive a restart, so production must set HASH_PEPPERS.
		pepperBytes := make([]byte, 32)
		if _, err := rand.Read(pepperBytes); err != nil {
			util.Fatal("Failed to generate pepper", zap.Error(err))
		}
		h.peppers = []string{base64.RawURLEncoding.EncodeToString(pepperBytes)}
		util.Warn("HASH_PEPPERS not set, using ephemeral pepper")
	}

	util.Info("Hasher initialized",
		util.Int("pepper_versions", len(h.peppers)),
		util.Int("memory_kib", int(params.Memory)),
	)

	return h
}

// RotatePepper appends a new pepper version used for all hashes from now on.
// Existing versions stay available for verification.
func (h *Hasher) RotatePepper(value string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peppers = append(h.peppers, value)
	version := len(h.peppers)

	util.Info("Pepper rotated", util.Int("version", version))
	return version
}

func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	return h.hashWithPepper(password, "password")
}

func (h *Hasher) VerifyPassword(password string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(password, hashResult, "password")
}

func (h *Hasher) HashEmailCode(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "email_code")
}

func (h *Hasher) VerifyEmailCode(code string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(code, hashResult, "email_code")
}

func (h *Hasher) HashBackupCode(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "backup_code")
}

func (h *Hasher) VerifyBackupCode(code string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(code, hashResult, "backup_code")
}

func (h *Hasher) HashRememberVerifier(verifier string) (*HashResult, error) {
	return h.hashWithPepper(verifier, "remember_verifier")
}

func (h *Hasher) VerifyRememberVerifier(verifier string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(verifier, hashResult, "remember_verifier")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	pepper, version, err := h.currentPepper()
	if err != nil {
		return nil, err
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context prevents hash reuse between different purposes.
	contextualData := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     algorithmArgon2id,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	if hashResult == nil {
		return false, ErrInvalidHash
	}
	if hashResult.Algorithm != algorithmArgon2id {
		return false, ErrUnknownAlgorithm
	}

	pepper, err := h.pepperByVersion(hashResult.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) currentPepper() (string, int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.peppers) == 0 {
		return "", 0, ErrNoPepperConfigured
	}
	version := len(h.peppers)
	return h.peppers[version-1], version, nil
}

func (h *Hasher) pepperByVersion(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if version < 1 || version > len(h.peppers) {
		return "", ErrUnknownPepper
	}
	return h.peppers[version-1], nil
}
