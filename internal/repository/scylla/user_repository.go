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

var ErrUserNotFound = errors.New("user not found")

// UserStore is the query surface the auth service needs from user storage.
type UserStore interface {
	CreateUser(user *models.User) error
	GetUserByID(userID string) (*models.User, error)
	GetUserByEmailHash(emailHash string) (*models.User, error)
	UpdateLastLogin(userID string, at time.Time) error
	ReplaceBackupCodes(userID string, hashes []string) error
}

type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *UserRepository) CreateUser(user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.buckets.GetUserBucket(user.UserID)

	now := time.Now().UTC()
	user.CreatedAt = now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.EmailHash, user.EmailEncrypted, user.EmailKeyID,
		user.PasswordHash, user.PasswordSalt, user.PepperVersion, user.HashAlgorithm, string(user.Role),
		user.TOTPSecretEnc, user.TOTPKeyID, user.TOTPEnabled, user.BackupCodeHashes,
		user.CreatedAt, user.LastLogin, user.UpdatedAt)

	batch.Query(r.client.Prepared.CreateEmailToUser.Statement(),
		user.EmailHash, user.UserBucket, user.UserID, user.CreatedAt)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		util.String("user_id", user.UserID),
		util.String("role", string(user.Role)))

	return nil
}

func (r *UserRepository) GetUserByID(userID string) (*models.User, error) {
	bucket := r.buckets.GetUserBucket(userID)
	return r.scanUser(r.client.Prepared.GetUserByID.Bind(bucket, userID))
}

// GetUserByEmailHash resolves the email index then loads the full row.
func (r *UserRepository) GetUserByEmailHash(emailHash string) (*models.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetUserByEmail.Bind(emailHash)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up email index: %w", err)
	}

	return r.scanUser(r.client.Prepared.GetUserByID.Bind(bucket, userID))
}

func (r *UserRepository) UpdateLastLogin(userID string, at time.Time) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Prepared.UpdateLastLogin.Bind(at, bucket, userID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// ReplaceBackupCodes overwrites the stored backup code hash list. Callers pass
// the remaining set after consuming a code.
func (r *UserRepository) ReplaceBackupCodes(userID string, hashes []string) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Prepared.UpdateBackupCodes.Bind(hashes, time.Now().UTC(), bucket, userID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update backup codes: %w", err)
	}
	return nil
}

func (r *UserRepository) scanUser(query *gocql.Query) (*models.User, error) {
	user := &models.User{}
	var role string

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.EmailHash, &user.EmailEncrypted, &user.EmailKeyID,
		&user.PasswordHash, &user.PasswordSalt, &user.PepperVersion, &user.HashAlgorithm, &role,
		&user.TOTPSecretEnc, &user.TOTPKeyID, &user.TOTPEnabled, &user.BackupCodeHashes,
		&user.CreatedAt, &user.LastLogin, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	user.Role = models.Role(role)
	return user, nil
}
