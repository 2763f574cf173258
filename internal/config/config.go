package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers            []string
	SecurityEventTopic string
	NotificationTopic  string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers is the ordered list of secret pepper values. The pepper version
	// stored alongside a hash is its 1-based index here; the last entry is
	// used for new hashes. Rotation appends a value, it never removes one
	// that live hashes still reference.
	Peppers []string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// RiskConfig holds the weights and thresholds for the risk engine. Operators
// can tune them per environment; the monotonicity of the score does not depend
// on the exact values.
type RiskConfig struct {
	TrustedBase        int
	PendingBase        int
	UntrustedBase      int
	ReputationWeight   float64
	FailurePenalty     int
	FailurePenaltyCap  int
	MediumThreshold    int
	HighThreshold      int
	FailureWindow      time.Duration
	ReputationTimeout  time.Duration
	ReputationStaleTTL time.Duration
}

type MFAConfig struct {
	ChallengeTTL    time.Duration
	CodeLength      int
	MaxAttempts     int
	ResendPerMinute int
	TOTPSkew        uint
}

type SessionConfig struct {
	Lifetime         time.Duration
	RememberLifetime time.Duration
}

type ReputationConfig struct {
	URL    string
	APIKey string
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Risk          RiskConfig
	MFA           MFAConfig
	Session       SessionConfig
	Reputation    ReputationConfig
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment, optionally seeded from
// a .env file in development.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		// Missing .env is fine; real deployments pass everything through env.
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "collab_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:            getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
				SecurityEventTopic: getEnv("KAFKA_SECURITY_EVENT_TOPIC", "security-events"),
				NotificationTopic:  getEnv("KAFKA_NOTIFICATION_TOPIC", "auth-notifications"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "collab_auth"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username: getEnv("ELASTICSEARCH_USERNAME", ""),
				Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
				Index:    getEnv("ELASTICSEARCH_EVENT_INDEX", "security-events"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				Region:  getEnv("KMS_REGION", "us-east-1"),
				KeyID:   getEnv("KMS_KEY_ID", ""),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
				Peppers:           getEnvSlice("HASH_PEPPERS", []string{}),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 256),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
			Risk: RiskConfig{
				TrustedBase:        getEnvInt("RISK_TRUSTED_BASE", 5),
				PendingBase:        getEnvInt("RISK_PENDING_BASE", 40),
				UntrustedBase:      getEnvInt("RISK_UNTRUSTED_BASE", 75),
				ReputationWeight:   getEnvFloat("RISK_REPUTATION_WEIGHT", 0.3),
				FailurePenalty:     getEnvInt("RISK_FAILURE_PENALTY", 8),
				FailurePenaltyCap:  getEnvInt("RISK_FAILURE_PENALTY_CAP", 30),
				MediumThreshold:    getEnvInt("RISK_MEDIUM_THRESHOLD", 30),
				HighThreshold:      getEnvInt("RISK_HIGH_THRESHOLD", 60),
				FailureWindow:      getEnvDuration("RISK_FAILURE_WINDOW", time.Hour),
				ReputationTimeout:  getEnvDuration("REPUTATION_TIMEOUT", 2*time.Second),
				ReputationStaleTTL: getEnvDuration("REPUTATION_STALE_TTL", time.Hour),
			},
			MFA: MFAConfig{
				ChallengeTTL:    getEnvDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
				CodeLength:      getEnvInt("MFA_CODE_LENGTH", 6),
				MaxAttempts:     getEnvInt("MFA_MAX_ATTEMPTS", 5),
				ResendPerMinute: getEnvInt("MFA_RESEND_PER_MINUTE", 1),
				TOTPSkew:        uint(getEnvInt("MFA_TOTP_SKEW", 1)),
			},
			Session: SessionConfig{
				Lifetime:         getEnvDuration("SESSION_LIFETIME", 24*time.Hour),
				RememberLifetime: getEnvDuration("REMEMBER_TOKEN_LIFETIME", 30*24*time.Hour),
			},
			Reputation: ReputationConfig{
				URL:    getEnv("REPUTATION_URL", ""),
				APIKey: getEnv("REPUTATION_API_KEY", ""),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
