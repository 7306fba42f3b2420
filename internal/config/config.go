package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Provider ProviderConfig
	Sync     SyncConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitMB           int
}

// ProviderConfig identifies the remote ticketing provider and the
// credentials used against it.
type ProviderConfig struct {
	BaseURL       string
	APIVersion    string
	APIKey        string
	Workspace     string
	UserAgent     string
	WebhookSecret string
	HookUAPrefix  string
	TokenFile     string

	// Provider workflow labels backing the three canonical steps.
	StatusNew        string
	StatusInProgress string
	StatusCompleted  string
}

// SyncConfig controls the polling loop and reconciliation target.
type SyncConfig struct {
	ProcessName           string
	PullIntervalSeconds   int
	FailureBackoffSeconds int
	DedupeTTLSeconds      int
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
	Level string
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
			Name:                  getEnv("APP_NAME", "ticket-bridge"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8443"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitMB:           getEnvAsInt("HTTP_BODY_LIMIT_MB", 25),
		},
		Provider: ProviderConfig{
			BaseURL:          os.Getenv("CLIENT_API_BASE_URL"),
			APIVersion:       getEnv("CLIENT_API_VERSION", "v1"),
			APIKey:           os.Getenv("CLIENT_API_KEY"),
			Workspace:        os.Getenv("CLIENT_API_WORKSPACE"),
			UserAgent:        getEnv("CLIENT_API_USER_AGENT", "ticket-bridge"),
			WebhookSecret:    os.Getenv("MERCIYANIS_SECRET"),
			HookUAPrefix:     getEnv("MERCIYANIS_HOOK_UA_PREFIX", "MerciYanisHook/"),
			TokenFile:        getEnv("CLIENT_API_TOKEN_FILE", "merciyanis_token.json"),
			StatusNew:        getEnv("PROVIDER_STATUS_NEW", "Attente de lect.avant Execution"),
			StatusInProgress: getEnv("PROVIDER_STATUS_IN_PROGRESS", "Attente de réalisation"),
			StatusCompleted:  getEnv("PROVIDER_STATUS_COMPLETED", "Clôturée"),
		},
		Sync: SyncConfig{
			ProcessName:           getEnv("TICKET_PROCESS_NAME", "maintenance"),
			PullIntervalSeconds:   getEnvAsInt("PULL_INTERVAL_SECONDS", 300),
			FailureBackoffSeconds: getEnvAsInt("PULL_FAILURE_BACKOFF_SECONDS", 60),
			DedupeTTLSeconds:      getEnvAsInt("WEBHOOK_DEDUPE_TTL_SECONDS", 86400),
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
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Provider.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the provider settings required for outbound calls and
// webhook verification.
func (p ProviderConfig) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("missing CLIENT_API_BASE_URL")
	}
	if p.APIKey == "" {
		return fmt.Errorf("missing CLIENT_API_KEY")
	}
	if p.Workspace == "" {
		return fmt.Errorf("missing CLIENT_API_WORKSPACE")
	}
	if p.WebhookSecret == "" {
		return fmt.Errorf("missing MERCIYANIS_SECRET")
	}
	return nil
}

// APIBase returns the versioned provider API base URL.
func (p ProviderConfig) APIBase() string {
	return fmt.Sprintf("%s/%s", p.BaseURL, p.APIVersion)
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

// BodyLimit returns the request body cap in bytes.
func (a AppConfig) BodyLimit() int {
	if a.BodyLimitMB <= 0 {
		return 25 * 1024 * 1024
	}
	return a.BodyLimitMB * 1024 * 1024
}

// PullInterval returns the polling cadence.
func (s SyncConfig) PullInterval() time.Duration {
	return time.Duration(s.PullIntervalSeconds) * time.Second
}

// FailureBackoff returns the delay enforced after a failed polling pass.
func (s SyncConfig) FailureBackoff() time.Duration {
	return time.Duration(s.FailureBackoffSeconds) * time.Second
}

// DedupeTTL returns the retention window for seen webhook deliveries.
func (s SyncConfig) DedupeTTL() time.Duration {
	return time.Duration(s.DedupeTTLSeconds) * time.Second
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
