package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"collab-auth/internal/config"
	"collab-auth/internal/util"
)

// PreparedStatements holds the statements the repositories bind at runtime.
// All hot-path queries are prepared once at startup.
type PreparedStatements struct {
	CreateUser        *gocql.Query
	CreateEmailToUser *gocql.Query
	GetUserByEmail    *gocql.Query
	GetUserByID       *gocql.Query
	UpdateLastLogin   *gocql.Query
	UpdateBackupCodes *gocql.Query

	GetDevice          *gocql.Query
	GetDeviceByID      *gocql.Query
	CreateDeviceByID   *gocql.Query
	ListDevicesForUser *gocql.Query
	UpdateDeviceTrust  *gocql.Query
	UpdateDeviceUsage  *gocql.Query
	UpdateDeviceStreak *gocql.Query

	CreateSession          *gocql.Query
	CreateSessionByDevice  *gocql.Query
	GetSession             *gocql.Query
	ListSessionsByDevice   *gocql.Query
	RevokeSession          *gocql.Query
	TouchSession           *gocql.Query

	CreateRememberToken *gocql.Query
	GetRememberToken    *gocql.Query
	RevokeRememberToken *gocql.Query

	AddBlacklistEntry    *gocql.Query
	GetBlacklistEntry    *gocql.Query
	DeleteBlacklistEntry *gocql.Query
	ListBlacklistEntries *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		util.Any("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, email_hash, email_encrypted, email_key_id,
            password_hash, password_salt, pepper_version, hash_algorithm, role,
            totp_secret_enc, totp_key_id, totp_enabled, backup_code_hashes,
            created_at, last_login, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateEmailToUser = s.Session.Query(`
        INSERT INTO email_to_user (email_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetUserByEmail = s.Session.Query(`
        SELECT user_bucket, user_id FROM email_to_user WHERE email_hash = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, email_hash, email_encrypted, email_key_id,
            password_hash, password_salt, pepper_version, hash_algorithm, role,
            totp_secret_enc, totp_key_id, totp_enabled, backup_code_hashes,
            created_at, last_login, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateBackupCodes = s.Session.Query(`
        UPDATE users SET backup_code_hashes = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetDevice = s.Session.Query(`
        SELECT user_bucket, user_id, fingerprint_hash, device_id, trust_status,
            risk_score, last_ip, user_agent, stepup_streak, created_at, last_used, updated_at
        FROM device_fingerprints WHERE user_bucket = ? AND user_id = ? AND fingerprint_hash = ?`)

	prepared.GetDeviceByID = s.Session.Query(`
        SELECT device_id, user_bucket, user_id, fingerprint_hash
        FROM devices_by_id WHERE device_id = ?`)

	prepared.CreateDeviceByID = s.Session.Query(`
        INSERT INTO devices_by_id (device_id, user_bucket, user_id, fingerprint_hash)
        VALUES (?, ?, ?, ?)`)

	prepared.ListDevicesForUser = s.Session.Query(`
        SELECT user_bucket, user_id, fingerprint_hash, device_id, trust_status,
            risk_score, last_ip, user_agent, stepup_streak, created_at, last_used, updated_at
        FROM device_fingerprints WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateDeviceTrust = s.Session.Query(`
        UPDATE device_fingerprints SET trust_status = ?, stepup_streak = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND fingerprint_hash = ?`)

	prepared.UpdateDeviceUsage = s.Session.Query(`
        UPDATE device_fingerprints SET last_ip = ?, user_agent = ?, risk_score = ?, last_used = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND fingerprint_hash = ?`)

	prepared.UpdateDeviceStreak = s.Session.Query(`
        UPDATE device_fingerprints SET stepup_streak = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND fingerprint_hash = ?`)

	prepared.CreateSession = s.Session.Query(`
        INSERT INTO sessions (
            session_id, user_id, device_id, fingerprint_hash, token_hash,
            is_active, created_at, last_activity, expires_at, revoked_reason
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateSessionByDevice = s.Session.Query(`
        INSERT INTO sessions_by_device (device_id, session_id, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetSession = s.Session.Query(`
        SELECT session_id, user_id, device_id, fingerprint_hash, token_hash,
            is_active, created_at, last_activity, expires_at, revoked_reason
        FROM sessions WHERE session_id = ?`)

	prepared.ListSessionsByDevice = s.Session.Query(`
        SELECT session_id FROM sessions_by_device WHERE device_id = ?`)

	prepared.RevokeSession = s.Session.Query(`
        UPDATE sessions SET is_active = false, revoked_reason = ?
        WHERE session_id = ?`)

	prepared.TouchSession = s.Session.Query(`
        UPDATE sessions SET last_activity = ? WHERE session_id = ?`)

	prepared.CreateRememberToken = s.Session.Query(`
        INSERT INTO remember_tokens (
            token_id, user_id, device_id, verifier_hash, verifier_salt,
            pepper_version, revoked, created_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetRememberToken = s.Session.Query(`
        SELECT token_id, user_id, device_id, verifier_hash, verifier_salt,
            pepper_version, revoked, created_at, expires_at
        FROM remember_tokens WHERE token_id = ?`)

	prepared.RevokeRememberToken = s.Session.Query(`
        UPDATE remember_tokens SET revoked = true WHERE token_id = ?`)

	prepared.AddBlacklistEntry = s.Session.Query(`
        INSERT INTO ip_blacklist (ip_address, reason, created_by, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?)`)

	prepared.GetBlacklistEntry = s.Session.Query(`
        SELECT ip_address, reason, created_by, created_at, expires_at
        FROM ip_blacklist WHERE ip_address = ?`)

	prepared.DeleteBlacklistEntry = s.Session.Query(`
        DELETE FROM ip_blacklist WHERE ip_address = ?`)

	prepared.ListBlacklistEntries = s.Session.Query(`
        SELECT ip_address, reason, created_by, created_at, expires_at
        FROM ip_blacklist`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
