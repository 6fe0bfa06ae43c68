package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// StartupMode defines how the dashboard handles initialization failures
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings
	StartupModeGraceful StartupMode = "graceful"
)

// Session store kinds
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

const minSessionSecretLength = 32

// PrimarySource holds the default Oracle connection fields offered in the
// connection dialog.
type PrimarySource struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	ServiceName string `mapstructure:"service_name"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// AnalyticsSource holds the default Redshift connection fields.
type AnalyticsSource struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	DBName   string `mapstructure:"dbname"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisConfig configures the shared session snapshot store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Config holds all configuration for the dashboard
type Config struct {
	// StartupMode controls how initialization failures are handled
	StartupMode StartupMode `mapstructure:"startup_mode"`

	Server struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		TLS            bool          `mapstructure:"tls"`
		CertFile       string        `mapstructure:"cert_file"`
		KeyFile        string        `mapstructure:"key_file"`
		TrustProxy     bool          `mapstructure:"trust_proxy"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"server"`

	Backend struct {
		BaseURL    string        `mapstructure:"base_url"`
		Timeout    time.Duration `mapstructure:"timeout"`
		CSRFCookie string        `mapstructure:"csrf_cookie"`
		CSRFHeader string        `mapstructure:"csrf_header"`
		CSRFPath   string        `mapstructure:"csrf_path"`
		// LoginPath enables the service-account login when set
		LoginPath string `mapstructure:"login_path"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		// Routes overrides entries of the endpoint routing table
		Routes         map[string]string `mapstructure:"routes"`
		MirrorTimeout  time.Duration     `mapstructure:"mirror_timeout"`
		CircuitBreaker struct {
			MaxFailures         uint32        `mapstructure:"max_failures"`
			Timeout             time.Duration `mapstructure:"timeout"`
			MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests"`
		} `mapstructure:"circuit_breaker"`
	} `mapstructure:"backend"`

	Sources struct {
		Primary   PrimarySource   `mapstructure:"primary"`
		Analytics AnalyticsSource `mapstructure:"analytics"`
	} `mapstructure:"sources"`

	Rules struct {
		CatalogPath string `mapstructure:"catalog_path"`
		// SpecialRules overrides the catalog's special rule set when set
		SpecialRules   []string `mapstructure:"special_rules"`
		CorporateTypes []string `mapstructure:"corporate_types"`
	} `mapstructure:"rules"`

	Session struct {
		CookieName   string        `mapstructure:"cookie_name"`
		TTL          time.Duration `mapstructure:"ttl"`
		MaxSessions  int           `mapstructure:"max_sessions"`
		Store        string        `mapstructure:"store"`
		SnapshotSize int           `mapstructure:"snapshot_size"`
		Secret       string        `mapstructure:"secret"`
		Redis        RedisConfig   `mapstructure:"redis"`
	} `mapstructure:"session"`

	Audit struct {
		Enabled    bool   `mapstructure:"enabled"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"audit"`

	Auth struct {
		Enabled        bool   `mapstructure:"enabled"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		HashedPassword string `mapstructure:"hashed_password"`
		BcryptCost     int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	Export struct {
		OutputDir string `mapstructure:"output_dir"`
	} `mapstructure:"export"`
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("startup_mode", string(StartupModeStrict))

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_file", "server.crt")
	v.SetDefault("server.key_file", "server.key")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests_per_second", 20)
	v.SetDefault("server.rate_limit.burst", 40)

	v.SetDefault("backend.base_url", "http://127.0.0.1:8000/")
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("backend.csrf_cookie", "csrftoken")
	v.SetDefault("backend.csrf_header", "X-CSRFToken")
	v.SetDefault("backend.csrf_path", "/")
	v.SetDefault("backend.login_path", "")
	v.SetDefault("backend.mirror_timeout", 15*time.Second)
	v.SetDefault("backend.circuit_breaker.max_failures", 5)
	v.SetDefault("backend.circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("backend.circuit_breaker.max_half_open_requests", 1)

	v.SetDefault("sources.primary.port", "1521")
	v.SetDefault("sources.analytics.port", "5439")

	v.SetDefault("rules.catalog_path", "")
	v.SetDefault("rules.special_rules", []string{})
	v.SetDefault("rules.corporate_types", []string{"CORP", "법인"})

	v.SetDefault("session.cookie_name", "strdash_session")
	v.SetDefault("session.ttl", 8*time.Hour)
	v.SetDefault("session.max_sessions", 256)
	v.SetDefault("session.store", StoreMemory)
	v.SetDefault("session.snapshot_size", 4096)
	v.SetDefault("session.redis.addr", "localhost:6379")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.pool_size", 10)
	v.SetDefault("session.redis.key_prefix", "strdash:")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.sqlite_path", "./data/strdash.db")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.path", "secret/strdash")
	v.SetDefault("secrets.aws.secret_id", "strdash/secrets")

	v.SetDefault("export.output_dir", ".")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("STRDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings most often overridden
	_ = v.BindEnv("startup_mode", "STRDASH_STARTUP_MODE")
	_ = v.BindEnv("backend.base_url", "STRDASH_BACKEND_URL")
	_ = v.BindEnv("audit.sqlite_path", "STRDASH_SQLITE_PATH")
	_ = v.BindEnv("rules.catalog_path", "STRDASH_RULE_CATALOG")
	_ = v.BindEnv("session.redis.addr", "STRDASH_REDIS_ADDR")
}

// LoadConfig loads configuration from file and environment variables, then
// fills empty credentials from the secret provider. An empty path searches
// for config.yaml in . and ./config; a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}
	if err := validateAndHash(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// Addr returns the listen address of the dashboard server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateAndHash validates and hashes the dashboard password
func validateAndHash(config *Config) error {
	if config.Session.Secret != "" {
		if len(config.Session.Secret) < minSessionSecretLength {
			return fmt.Errorf("session secret must be at least %d characters", minSessionSecretLength)
		}
		weakSecrets := []string{
			"secret", "password", "changeme", "default", "admin",
			"supersecret", "mysecret", "test", "example",
		}
		lower := strings.ToLower(config.Session.Secret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				return fmt.Errorf("session secret appears to contain a weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	if config.Auth.Password != "" {
		cost := config.Auth.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), cost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.Password = ""
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	switch config.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("invalid startup_mode %q (must be strict or graceful)", config.StartupMode)
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", config.Server.Port)
	}
	if config.Server.TLS && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("server TLS enabled but cert_file or key_file is empty")
	}
	if config.Server.RateLimit.RequestsPerSecond <= 0 || config.Server.RateLimit.Burst <= 0 {
		return fmt.Errorf("server rate limit must be positive")
	}

	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url cannot be empty")
	}
	parsed, err := url.Parse(config.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend base_url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid backend base_url %q: must be an absolute http(s) URL", config.Backend.BaseURL)
	}
	if config.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %v", config.Backend.Timeout)
	}
	if config.Backend.CSRFCookie == "" || config.Backend.CSRFHeader == "" {
		return fmt.Errorf("backend csrf_cookie and csrf_header cannot be empty")
	}
	if config.Backend.LoginPath != "" && config.Backend.Username == "" {
		return fmt.Errorf("backend login_path is set but no service account username")
	}

	cb := config.Backend.CircuitBreaker
	if cb.MaxFailures == 0 {
		return fmt.Errorf("circuit breaker max_failures must be positive, got %d", cb.MaxFailures)
	}
	if cb.Timeout <= 0 {
		return fmt.Errorf("circuit breaker timeout must be positive, got %v", cb.Timeout)
	}
	if cb.MaxHalfOpenRequests == 0 {
		return fmt.Errorf("circuit breaker max_half_open_requests must be positive, got %d", cb.MaxHalfOpenRequests)
	}

	switch config.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if config.Session.Redis.Addr == "" {
			return fmt.Errorf("session store is redis but session.redis.addr is empty")
		}
	default:
		return fmt.Errorf("invalid session store %q (must be memory or redis)", config.Session.Store)
	}
	if config.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %v", config.Session.TTL)
	}
	if config.Session.MaxSessions <= 0 {
		return fmt.Errorf("session max_sessions must be positive, got %d", config.Session.MaxSessions)
	}
	if config.Session.CookieName == "" {
		return fmt.Errorf("session cookie_name cannot be empty")
	}

	if config.Audit.Enabled && config.Audit.SQLitePath == "" {
		return fmt.Errorf("audit enabled but sqlite_path is empty")
	}

	if config.Auth.Enabled && config.Auth.HashedPassword == "" {
		return fmt.Errorf("authentication enabled but no password set")
	}
	if config.Auth.Enabled && config.Auth.Username == "" {
		return fmt.Errorf("username cannot be empty when auth is enabled")
	}
	return nil
}
