package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collab-auth/internal/bucketing"
	"collab-auth/internal/client"
	"collab-auth/internal/config"
	"collab-auth/internal/encryption"
	"collab-auth/internal/events"
	"collab-auth/internal/hashing"
	"collab-auth/internal/mfa"
	"collab-auth/internal/notify"
	redisrepo "collab-auth/internal/repository/redis"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/reputation"
	"collab-auth/internal/risk"
	"collab-auth/internal/service"
	"collab-auth/internal/session"
	"collab-auth/internal/util"
)

// Factory owns the lifecycle of every backing client and wires the services
// on top of them. Kafka, ClickHouse and Elasticsearch are best effort; the
// auth flow works without them, the audit trail just loses those sinks.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.BucketingManager

	// Services, built lazily
	mu            sync.Mutex
	deviceService *service.DeviceService
	authService   *service.AuthService
	adminService  *service.AdminService
	issuer        *session.Issuer
	recorder      events.Recorder
	searcher      *events.Searcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled))

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed, proceeding without it", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	if ch, err := client.NewClickHouseClient(f.config); err != nil {
		util.Warn("ClickHouse initialization failed, proceeding without it", util.ErrorField(err))
	} else {
		f.clickhouseClient = ch
		util.Info("ClickHouse client initialized")
	}

	if es, err := client.NewElasticsearchClient(f.config); err != nil {
		util.Warn("Elasticsearch initialization failed, proceeding without it", util.ErrorField(err))
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized")
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.hasher = hashing.NewHasher(f.config)

	kmsClient, err := client.NewKMSClient(f.config)
	if err != nil {
		util.Warn("KMS client initialization failed, falling back to local keys", util.ErrorField(err))
		kmsClient = nil
	}
	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
}

// Recorder fans security events out to ClickHouse, Kafka and Elasticsearch.
func (f *Factory) Recorder() events.Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorder == nil {
		f.recorder = events.NewMultiRecorder(f.config, f.clickhouseClient, f.kafkaProducer, f.esClient, f.bucketingManager)
	}
	return f.recorder
}

// Searcher is nil when Elasticsearch is unavailable; the admin surface then
// rejects event searches instead of guessing.
func (f *Factory) Searcher() *events.Searcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searcher == nil && f.esClient != nil {
		f.searcher = events.NewSearcher(f.config, f.esClient)
	}
	return f.searcher
}

func (f *Factory) SessionIssuer() *session.Issuer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionIssuerLocked()
}

func (f *Factory) sessionIssuerLocked() *session.Issuer {
	if f.issuer == nil {
		f.issuer = session.NewIssuer(f.config,
			scylla.NewSessionRepository(f.scyllaClient),
			scylla.NewRememberTokenRepository(f.scyllaClient),
			f.hasher)
	}
	return f.issuer
}

func (f *Factory) DeviceService() *service.DeviceService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceServiceLocked()
}

func (f *Factory) deviceServiceLocked() *service.DeviceService {
	if f.deviceService == nil {
		f.deviceService = service.NewDeviceService(
			scylla.NewDeviceRepository(f.scyllaClient, f.bucketingManager),
			scylla.NewBlacklistRepository(f.scyllaClient),
			f.recorderLocked(),
			nil)
	}
	return f.deviceService
}

func (f *Factory) recorderLocked() events.Recorder {
	if f.recorder == nil {
		f.recorder = events.NewMultiRecorder(f.config, f.clickhouseClient, f.kafkaProducer, f.esClient, f.bucketingManager)
	}
	return f.recorder
}

// AuthService wires the whole authentication flow.
func (f *Factory) AuthService() (*service.AuthService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authService != nil {
		return f.authService, nil
	}

	reputationClient := reputation.NewClient(f.config, redisrepo.NewReputationCache(f.redisClient))
	attempts := redisrepo.NewAttemptCache(f.redisClient)
	engine := risk.NewEngine(f.config, reputationClient, attempts)
	verifier := mfa.NewVerifier(f.config, f.hasher, f.encryptionManager)

	var notifier notify.Notifier = notify.NopNotifier{}
	if f.kafkaProducer != nil {
		notifier = notify.NewKafkaNotifier(f.config, f.kafkaProducer)
	}

	authService, err := service.NewAuthService(
		f.config,
		scylla.NewUserRepository(f.scyllaClient, f.bucketingManager),
		scylla.NewBlacklistRepository(f.scyllaClient),
		f.deviceServiceLocked(),
		redisrepo.NewChallengeCache(f.redisClient),
		attempts,
		engine,
		verifier,
		f.sessionIssuerLocked(),
		notifier,
		f.recorderLocked(),
		f.hasher,
	)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	f.authService = authService
	return f.authService, nil
}

func (f *Factory) AdminService() *service.AdminService {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.adminService == nil {
		var searcher service.EventSearcher
		if f.esClient != nil {
			if f.searcher == nil {
				f.searcher = events.NewSearcher(f.config, f.esClient)
			}
			searcher = f.searcher
		}

		f.adminService = service.NewAdminService(
			f.deviceServiceLocked(),
			scylla.NewSessionRepository(f.scyllaClient),
			scylla.NewBlacklistRepository(f.scyllaClient),
			f.recorderLocked(),
			searcher)
	}
	return f.adminService
}

func (f *Factory) UserStore() scylla.UserStore {
	return scylla.NewUserRepository(f.scyllaClient, f.bucketingManager)
}

// HealthCheck pings every backing store. Optional sinks that were never
// initialized report as disabled rather than unhealthy.
func (f *Factory) HealthCheck() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	report := func(name string, err error) {
		if err != nil {
			checks[name] = "unhealthy"
			util.Warn("Health check failed", util.String("component", name), util.ErrorField(err))
			return
		}
		checks[name] = "healthy"
	}

	report("redis", f.redisClient.HealthCheck(ctx))
	report("scylla", f.scyllaClient.HealthCheck())

	if f.kafkaProducer != nil {
		report("kafka", f.kafkaProducer.HealthCheck(ctx))
	} else {
		checks["kafka"] = "disabled"
	}
	if f.clickhouseClient != nil {
		report("clickhouse", f.clickhouseClient.HealthCheck(ctx))
	} else {
		checks["clickhouse"] = "disabled"
	}
	if f.esClient != nil {
		report("elasticsearch", f.esClient.HealthCheck())
	} else {
		checks["elasticsearch"] = "disabled"
	}

	return checks
}

// Close shuts every client down once.
func (f *Factory) Close() error {
	var closeErr error
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				closeErr = err
				util.Warn("Kafka close failed", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				closeErr = err
				util.Warn("ClickHouse close failed", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				closeErr = err
				util.Warn("Redis close failed", util.ErrorField(err))
			}
		}

		close(f.closed)
	})
	return closeErr
}

func (f *Factory) Config() *config.Config {
	return f.config
}
