package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"collab-auth/internal/config"
	"collab-auth/internal/encryption"
	"collab-auth/internal/hashing"
	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

// Method names which second factor satisfied a step-up.
type Method string

const (
	MethodBackupCode Method = "backup_code"
	MethodEmailCode  Method = "email_code"
	MethodTOTP       Method = "totp"
	MethodNone       Method = ""
)

var ErrNoFactorsAvailable = errors.New("no second factor available")

// Result reports a verification attempt. StateChanged signals that the
// verifier consumed single-use material (a backup code or the email code) and
// the caller must persist the mutated user or challenge even on failure.
type Result struct {
	OK           bool
	Method       Method
	StateChanged bool
}

// Verifier checks a submitted step-up code against the factors configured for
// the account, always in the same order: backup codes first, then the pending
// email code, then TOTP. The first factor that positively matches wins; a
// code that matches nothing fails the attempt as a whole.
type Verifier struct {
	hasher     *hashing.Hasher
	encryption *encryption.Manager
	skew       uint
}

func NewVerifier(cfg *config.Config, hasher *hashing.Hasher, enc *encryption.Manager) *Verifier {
	return &Verifier{
		hasher:     hasher,
		encryption: enc,
		skew:       uint(cfg.MFA.TOTPSkew),
	}
}

// Verify mutates user.BackupCodeHashes and challenge email-code fields as it
// consumes material. It never tells the caller which factor almost matched.
func (v *Verifier) Verify(ctx context.Context, user *models.User, challenge *models.PendingMFAChallenge, code string) (Result, error) {
	// A spent email code is a plain failed attempt, not a missing factor;
	// the error is reserved for challenges that never had any material.
	if !user.HasSecondFactor() && challenge.EmailCodeHash == "" && !challenge.EmailCodeSpent {
		return Result{}, ErrNoFactorsAvailable
	}

	result := Result{}

	// Backup codes: single use, removed from the stored set on match.
	if matched, remaining, err := v.matchBackupCode(user, code); err != nil {
		return result, err
	} else if matched {
		user.BackupCodeHashes = remaining
		return Result{OK: true, Method: MethodBackupCode, StateChanged: true}, nil
	}

	// Email code: whatever the outcome of the comparison, the stored code is
	// spent. A mistyped code requires a resend.
	if challenge.EmailCodeHash != "" {
		ok, err := v.matchEmailCode(challenge, code)
		spent := clearEmailCode(challenge)
		result.StateChanged = result.StateChanged || spent
		if err != nil {
			return result, err
		}
		if ok {
			result.OK = true
			result.Method = MethodEmailCode
			return result, nil
		}
	}

	// TOTP with the configured drift window.
	if user.TOTPEnabled {
		ok, err := v.matchTOTP(ctx, user, code, time.Now())
		if err != nil {
			return result, err
		}
		if ok {
			result.OK = true
			result.Method = MethodTOTP
			return result, nil
		}
	}

	return result, nil
}

func (v *Verifier) matchBackupCode(user *models.User, code string) (bool, []string, error) {
	for i, stored := range user.BackupCodeHashes {
		hashResult, err := decodeStoredHash(stored)
		if err != nil {
			util.Warn("Skipping undecodable backup code hash",
				util.String("user_id", user.UserID),
				util.ErrorField(err))
			continue
		}

		ok, err := v.hasher.VerifyBackupCode(code, hashResult)
		if err != nil {
			return false, nil, fmt.Errorf("backup code verification: %w", err)
		}
		if ok {
			remaining := make([]string, 0, len(user.BackupCodeHashes)-1)
			remaining = append(remaining, user.BackupCodeHashes[:i]...)
			remaining = append(remaining, user.BackupCodeHashes[i+1:]...)
			return true, remaining, nil
		}
	}
	return false, nil, nil
}

func (v *Verifier) matchEmailCode(challenge *models.PendingMFAChallenge, code string) (bool, error) {
	if time.Now().After(challenge.CodeExpiresAt) {
		return false, nil
	}

	ok, err := v.hasher.VerifyEmailCode(code, &hashing.HashResult{
		Hash:          challenge.EmailCodeHash,
		Salt:          challenge.EmailCodeSalt,
		PepperVersion: challenge.PepperVersion,
		Algorithm:     "argon2id-v1",
	})
	if err != nil {
		return false, fmt.Errorf("email code verification: %w", err)
	}
	return ok, nil
}

func clearEmailCode(challenge *models.PendingMFAChallenge) bool {
	if challenge.EmailCodeHash == "" {
		return false
	}
	challenge.EmailCodeHash = ""
	challenge.EmailCodeSalt = ""
	challenge.CodeExpiresAt = time.Time{}
	challenge.EmailCodeSpent = true
	return true
}

func (v *Verifier) matchTOTP(ctx context.Context, user *models.User, code string, at time.Time) (bool, error) {
	secret, err := v.encryption.DecryptSecret(ctx, string(user.TOTPSecretEnc))
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      v.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("totp validation: %w", err)
	}
	return ok, nil
}

// GenerateNumericCode returns a uniformly random numeric code of the given
// length for email delivery.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}

	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
