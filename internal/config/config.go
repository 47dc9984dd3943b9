package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Engine       EngineConfig
	Scheduler    SchedulerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// Notification transports understood by the engine.
const (
	TransportLog   = "log"
	TransportKafka = "kafka"
	TransportRedis = "redis"
)

// NotificationConfig selects where notify jobs are handed off.
type NotificationConfig struct {
	Transport    string
	KafkaBrokers []string
	KafkaTopic   string
	RedisChannel string
}

// EngineConfig tunes the job queue and workflow handlers.
type EngineConfig struct {
	Workers                  int
	PollIntervalMs           int
	LeaseTimeoutSeconds      int
	MaxAttempts              int
	BackoffBaseMs            int
	BackoffCapSeconds        int
	DefaultTeamID            string
	EscalationMaxLevel       int
	EscalationCooldownMinute int
	AutoResolveAfterHours    int
}

// SchedulerConfig holds cron specs and fan-out bounds for periodic re-scans.
type SchedulerConfig struct {
	SLAScanSpec        string
	EscalationScanSpec string
	ReclaimSpec        string
	RetentionSpec      string
	AuditSpec          string
	ScanBatch          int
	JitterSeconds      int
	JobRetentionHours  int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "workflow-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			Transport:    strings.ToLower(getEnv("NOTIFY_TRANSPORT", TransportLog)),
			KafkaBrokers: splitCSV(getEnv("NOTIFY_KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:   getEnv("NOTIFY_KAFKA_TOPIC", "workflow-notifications"),
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "workflow:notifications"),
		},
		Engine: EngineConfig{
			Workers:                  getEnvAsInt("ENGINE_WORKERS", 4),
			PollIntervalMs:           getEnvAsInt("ENGINE_POLL_INTERVAL_MS", 500),
			LeaseTimeoutSeconds:      getEnvAsInt("ENGINE_LEASE_TIMEOUT_SECONDS", 300),
			MaxAttempts:              getEnvAsInt("ENGINE_MAX_ATTEMPTS", 5),
			BackoffBaseMs:            getEnvAsInt("ENGINE_BACKOFF_BASE_MS", 1000),
			BackoffCapSeconds:        getEnvAsInt("ENGINE_BACKOFF_CAP_SECONDS", 300),
			DefaultTeamID:            os.Getenv("ENGINE_DEFAULT_TEAM_ID"),
			EscalationMaxLevel:       getEnvAsInt("ESCALATION_MAX_LEVEL", 3),
			EscalationCooldownMinute: getEnvAsInt("ESCALATION_COOLDOWN_MINUTES", 60),
			AutoResolveAfterHours:    getEnvAsInt("AUTO_RESOLVE_AFTER_HOURS", 72),
		},
		Scheduler: SchedulerConfig{
			SLAScanSpec:        getEnv("SCHEDULER_SLA_SCAN_INTERVAL", "@every 5m"),
			EscalationScanSpec: getEnv("SCHEDULER_ESCALATION_SCAN_INTERVAL", "@every 60m"),
			ReclaimSpec:        getEnv("SCHEDULER_RECLAIM_INTERVAL", "@every 30s"),
			RetentionSpec:      getEnv("SCHEDULER_RETENTION_INTERVAL", "@every 6h"),
			AuditSpec:          getEnv("SCHEDULER_AUDIT_INTERVAL", "@every 1h"),
			ScanBatch:          getEnvAsInt("SCHEDULER_SCAN_BATCH", 100),
			JitterSeconds:      getEnvAsInt("SCHEDULER_JITTER_SECONDS", 30),
			JobRetentionHours:  getEnvAsInt("JOB_RETENTION_HOURS", 168),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PollInterval is how long an idle worker waits before polling the job store again.
func (e EngineConfig) PollInterval() time.Duration {
	return millis(e.PollIntervalMs, 500)
}

// LeaseTimeout is how long a claim stays exclusive before it can be reclaimed.
func (e EngineConfig) LeaseTimeout() time.Duration {
	return seconds(e.LeaseTimeoutSeconds, 300)
}

// BackoffBase is the first retry delay.
func (e EngineConfig) BackoffBase() time.Duration {
	return millis(e.BackoffBaseMs, 1000)
}

// BackoffCap bounds the retry delay.
func (e EngineConfig) BackoffCap() time.Duration {
	return seconds(e.BackoffCapSeconds, 300)
}

// EscalationCooldown is the minimum spacing between two escalations of one item.
func (e EngineConfig) EscalationCooldown() time.Duration {
	if e.EscalationCooldownMinute < 0 {
		return 0
	}
	return time.Duration(e.EscalationCooldownMinute) * time.Minute
}

// AutoResolveAfter is how long an item may wait on the customer before it is resolved.
func (e EngineConfig) AutoResolveAfter() time.Duration {
	if e.AutoResolveAfterHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(e.AutoResolveAfterHours) * time.Hour
}

// Jitter is the upper bound of the random delay added to scan emissions.
func (s SchedulerConfig) Jitter() time.Duration {
	if s.JitterSeconds <= 0 {
		return 0
	}
	return time.Duration(s.JitterSeconds) * time.Second
}

// JobRetention is how long succeeded jobs are kept.
func (s SchedulerConfig) JobRetention() time.Duration {
	if s.JobRetentionHours <= 0 {
		return 168 * time.Hour
	}
	return time.Duration(s.JobRetentionHours) * time.Hour
}

func millis(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
