package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// Process roles
const (
	RoleAll    = "all"
	RoleAPI    = "api"
	RoleWorker = "worker"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Cache       CacheConfig
	Store       StoreConfig
	Storage     StorageConfig
	R2          R2Config
	MinIO       MinIOConfig
	Worker      WorkerConfig
	Retry       RetryConfig
	Backends    []BackendConfig
	Composition CompositionConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	Role     string // all | api | worker
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Backend           string // memory | redis
	VisibilityTimeout time.Duration
	MaxNacks          int
	PollInterval      time.Duration
	Retention         time.Duration
}

type CacheConfig struct {
	Backend    string // memory | redis
	TTL        time.Duration
	MaxEntries int
}

type StoreConfig struct {
	Backend string // memory | mysql | sqlite
	DSN     string
}

type StorageConfig struct {
	Backend string // none | r2 | minio
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type WorkerConfig struct {
	Concurrency            int
	CompositionConcurrency int
	PollInterval           time.Duration // backend status polling
	MaxWait                time.Duration // per generation, kept below the visibility timeout
	DequeueWait            time.Duration
	ReapInterval           time.Duration
	ReconcileInterval      time.Duration // rescans projects with work in flight
}

type RetryConfig struct {
	Base        time.Duration
	MaxAttempts int
}

// BackendConfig registers one generation backend under Name and Aliases.
type BackendConfig struct {
	Name     string        `mapstructure:"name"`
	Kind     string        `mapstructure:"kind"` // mock | http
	Aliases  []string      `mapstructure:"aliases"`
	Version  string        `mapstructure:"version"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Delay    time.Duration `mapstructure:"delay"`     // mock only
	FailRate float64       `mapstructure:"fail_rate"` // mock only
}

type CompositionConfig struct {
	Publisher string // asynq | none
	Queue     string
}

type RateLimitConfig struct {
	RenderPerHour int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORE_DSN")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.role", "SERVER_ROLE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = v.BindEnv("queue.visibility_timeout", "QUEUE_VISIBILITY_TIMEOUT")
	_ = v.BindEnv("queue.max_nacks", "QUEUE_MAX_NACKS")
	_ = v.BindEnv("queue.poll_interval", "QUEUE_POLL_INTERVAL")
	_ = v.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = v.BindEnv("cache.backend", "CACHE_BACKEND")
	_ = v.BindEnv("cache.ttl", "CACHE_TTL")
	_ = v.BindEnv("cache.max_entries", "CACHE_MAX_ENTRIES")
	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("store.dsn", "STORE_DSN")
	_ = v.BindEnv("storage.backend", "STORAGE_BACKEND")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("minio.bucket", "MINIO_BUCKET")
	_ = v.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = v.BindEnv("minio.public_url", "MINIO_PUBLIC_URL")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.composition_concurrency", "WORKER_COMPOSITION_CONCURRENCY")
	_ = v.BindEnv("worker.poll_interval", "WORKER_POLL_INTERVAL")
	_ = v.BindEnv("worker.max_wait", "WORKER_MAX_WAIT")
	_ = v.BindEnv("worker.dequeue_wait", "WORKER_DEQUEUE_WAIT")
	_ = v.BindEnv("worker.reap_interval", "WORKER_REAP_INTERVAL")
	_ = v.BindEnv("worker.reconcile_interval", "WORKER_RECONCILE_INTERVAL")
	_ = v.BindEnv("retry.base", "RETRY_BASE")
	_ = v.BindEnv("retry.max_attempts", "RETRY_MAX_ATTEMPTS")
	_ = v.BindEnv("composition.publisher", "COMPOSITION_PUBLISHER")
	_ = v.BindEnv("composition.queue", "COMPOSITION_QUEUE")
	_ = v.BindEnv("ratelimit.render_per_hour", "RATELIMIT_RENDER_PER_HOUR")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.role", RoleAll)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Queue defaults
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.visibility_timeout", "5m")
	v.SetDefault("queue.max_nacks", 3)
	v.SetDefault("queue.poll_interval", "200ms")
	v.SetDefault("queue.retention", "24h")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("minio.bucket", "renders")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.composition_concurrency", 1)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.max_wait", "3m")
	v.SetDefault("worker.dequeue_wait", "5s")
	v.SetDefault("worker.reap_interval", "10s")
	v.SetDefault("worker.reconcile_interval", "30s")

	// Retry defaults
	v.SetDefault("retry.base", "2s")
	v.SetDefault("retry.max_attempts", 3)

	v.SetDefault("composition.publisher", "asynq")
	v.SetDefault("composition.queue", "composition")
	v.SetDefault("ratelimit.render_per_hour", 60)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
			Role:     strings.ToLower(v.GetString("server.role")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(v.GetString("queue.backend")),
			VisibilityTimeout: v.GetDuration("queue.visibility_timeout"),
			MaxNacks:          v.GetInt("queue.max_nacks"),
			PollInterval:      v.GetDuration("queue.poll_interval"),
			Retention:         v.GetDuration("queue.retention"),
		},
		Cache: CacheConfig{
			Backend:    strings.ToLower(v.GetString("cache.backend")),
			TTL:        v.GetDuration("cache.ttl"),
			MaxEntries: v.GetInt("cache.max_entries"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store.backend")),
			DSN:     v.GetString("store.dsn"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(v.GetString("storage.backend")),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Bucket:    v.GetString("minio.bucket"),
			UseSSL:    v.GetBool("minio.use_ssl"),
			PublicURL: v.GetString("minio.public_url"),
		},
		Worker: WorkerConfig{
			Concurrency:            v.GetInt("worker.concurrency"),
			CompositionConcurrency: v.GetInt("worker.composition_concurrency"),
			PollInterval:           v.GetDuration("worker.poll_interval"),
			MaxWait:                v.GetDuration("worker.max_wait"),
			DequeueWait:            v.GetDuration("worker.dequeue_wait"),
			ReapInterval:           v.GetDuration("worker.reap_interval"),
			ReconcileInterval:      v.GetDuration("worker.reconcile_interval"),
		},
		Retry: RetryConfig{
			Base:        v.GetDuration("retry.base"),
			MaxAttempts: v.GetInt("retry.max_attempts"),
		},
		Composition: CompositionConfig{
			Publisher: strings.ToLower(v.GetString("composition.publisher")),
			Queue:     v.GetString("composition.queue"),
		},
		RateLimit: RateLimitConfig{
			RenderPerHour: v.GetInt("ratelimit.render_per_hour"),
		},
	}

	if err := v.UnmarshalKey("backends", &cfg.Backends); err != nil {
		return nil, fmt.Errorf("failed to parse backends: %w", err)
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = []BackendConfig{{
			Name:    "mock",
			Kind:    "mock",
			Aliases: []string{"mock-ai"},
			Version: "mock@1",
			Delay:   2 * time.Second,
		}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would break delivery guarantees.
func (c *Config) Validate() error {
	switch c.Server.Role {
	case RoleAll, RoleAPI, RoleWorker:
	default:
		return fmt.Errorf("invalid server.role %q", c.Server.Role)
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "redis" {
		return fmt.Errorf("invalid queue.backend %q", c.Queue.Backend)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache.backend %q", c.Cache.Backend)
	}
	switch c.Store.Backend {
	case "memory":
	case "mysql", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for store.backend %q", c.Store.Backend)
		}
	default:
		return fmt.Errorf("invalid store.backend %q", c.Store.Backend)
	}
	switch c.Storage.Backend {
	case "none", "r2", "minio":
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	if c.Server.Role != RoleAll && (c.Queue.Backend == "memory" || c.Store.Backend == "memory") {
		return fmt.Errorf("server.role %q needs shared queue and store backends", c.Server.Role)
	}
	if c.Worker.MaxWait >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("worker.max_wait (%s) must be below queue.visibility_timeout (%s)", c.Worker.MaxWait, c.Queue.VisibilityTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend without name")
		}
		if b.Kind != "mock" && b.Kind != "http" {
			return fmt.Errorf("backend %s: invalid kind %q", b.Name, b.Kind)
		}
		if b.Kind == "http" && b.BaseURL == "" {
			return fmt.Errorf("backend %s: base_url is required", b.Name)
		}
	}
	return nil
}

// UsesRedis reports whether any component needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Queue.Backend == "redis" || c.Cache.Backend == "redis" || c.Composition.Publisher == "asynq"
}
