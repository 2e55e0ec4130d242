package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration shared by every binary
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig holds Redis configuration for the distributed rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
	// AllowedOrigins restricts CORS; empty allows all origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// OAuthConfig holds settings for the provider connect flow
type OAuthConfig struct {
	// StateSecret signs the OAuth state so callbacks cannot be forged
	StateSecret string `mapstructure:"state_secret"`
	// StateTTL bounds how long an issued state stays valid
	StateTTL time.Duration `mapstructure:"state_ttl"`
	// SuccessRedirectURL is where the callback sends the browser afterwards
	SuccessRedirectURL string `mapstructure:"success_redirect_url"`
}

// RateLimitConfig holds per-provider rate limit settings
type RateLimitConfig struct {
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxQueueTime      time.Duration `mapstructure:"max_queue_time"`
}

// RateLimiterConfig holds rate-limiting proxy configuration
type RateLimiterConfig struct {
	RedisAddr               string                     `mapstructure:"redis_addr"`
	RedisKeyPrefix          string                     `mapstructure:"redis_key_prefix"`
	MaxWorkers              int                        `mapstructure:"max_workers"`
	MaxQueueSize            int                        `mapstructure:"max_queue_size"`
	EnableLocalFallback     bool                       `mapstructure:"enable_local_fallback"`
	LocalFallbackMultiplier float64                    `mapstructure:"local_fallback_multiplier"`
	Providers               map[string]RateLimitConfig `mapstructure:"providers"`
}

// ProviderCredentials holds the OAuth client settings for one provider
type ProviderCredentials struct {
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RedirectURI   string `mapstructure:"redirect_uri"`
	APIURL        string `mapstructure:"api_url"`
	AuthURL       string `mapstructure:"auth_url"`
	TokenURL      string `mapstructure:"token_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Validate reports which required credential fields are missing.
// A failed check disables the provider; it never crashes the process.
func (c ProviderCredentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ProvidersConfig holds credentials and endpoints for every supported provider
type ProvidersConfig struct {
	QuickBooks ProviderCredentials `mapstructure:"quickbooks"`
	Plaid      ProviderCredentials `mapstructure:"plaid"`
	Starling   ProviderCredentials `mapstructure:"starling"`
}

// SyncConfig holds sync engine tuning knobs
type SyncConfig struct {
	// DefaultLookbackDays is the window for never-synced accounts
	DefaultLookbackDays int `mapstructure:"default_lookback_days"`
	// OverlapDays is subtracted from last_synced_at to tolerate late-arriving transactions
	OverlapDays int `mapstructure:"overlap_days"`
	// MinSyncInterval skips accounts synced more recently than this unless forced
	MinSyncInterval time.Duration `mapstructure:"min_sync_interval"`
	// BatchSize bounds batch upserts
	BatchSize int `mapstructure:"batch_size"`
	// AccountConcurrency bounds concurrent per-account transaction syncs
	AccountConcurrency int `mapstructure:"account_concurrency"`
	// MaxPages is the pagination safety bound per provider fetch
	MaxPages int `mapstructure:"max_pages"`
	// HTTPTimeout is the per-request provider call timeout
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// SchedulerConfig holds scheduler tuning knobs
type SchedulerConfig struct {
	// ScanInterval is how often due connections are scanned for
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	// BatchLimit caps how many due connections one scan publishes
	BatchLimit int `mapstructure:"batch_limit"`
	// DefaultSyncInterval spaces scheduled syncs per connection
	DefaultSyncInterval time.Duration `mapstructure:"default_sync_interval"`
}

// APIConfig holds configuration for the API server binary
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Auth       AuthConfig        `mapstructure:"auth"`
	OAuth      OAuthConfig       `mapstructure:"oauth"`
	Providers  ProvidersConfig   `mapstructure:"providers"`
	Sync       SyncConfig        `mapstructure:"sync"`
	RateLimit  RateLimiterConfig `mapstructure:"rate_limit"`
}

// SyncWorkerConfig holds configuration for the sync worker binary
type SyncWorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Providers  ProvidersConfig   `mapstructure:"providers"`
	Sync       SyncConfig        `mapstructure:"sync"`
	RateLimit  RateLimiterConfig `mapstructure:"rate_limit"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
}

// SchedulerBinConfig holds configuration for the scheduler binary
type SchedulerBinConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	setServerDefaults(v)
	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setSyncDefaults(v)
	setRateLimitDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The limiter coordinates through the same Redis unless told otherwise
	if config.RateLimit.RedisAddr == "" {
		config.RateLimit.RedisAddr = config.Redis.Addr
	}

	return &config, nil
}

// LoadSyncWorkerConfig loads configuration for the sync worker
func LoadSyncWorkerConfig(configFile string, envPath string) (*SyncWorkerConfig, error) {
	v := configureViper("sync-worker", configFile, envPath)

	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setSyncDefaults(v)
	setRateLimitDefaults(v)
	setSchedulerDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config SyncWorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.RateLimit.RedisAddr == "" {
		config.RateLimit.RedisAddr = config.Redis.Addr
	}

	return &config, nil
}

// LoadSchedulerConfig loads configuration for the scheduler
func LoadSchedulerConfig(configFile string, envPath string) (*SchedulerBinConfig, error) {
	v := configureViper("scheduler", configFile, envPath)

	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setSchedulerDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config SchedulerBinConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if config.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}

	return &config, nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("oauth.state_ttl", "15m")
	v.SetDefault("oauth.success_redirect_url", "/connected")
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
}

func setNATSDefaults(v *viper.Viper) {
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "SYNC_REQUESTS")
	v.SetDefault("nats.consumer_name", "sync-worker")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.ack_wait", "5m")
	v.SetDefault("nats.max_deliver", 3)
}

func setSyncDefaults(v *viper.Viper) {
	v.SetDefault("sync.default_lookback_days", 90)
	v.SetDefault("sync.overlap_days", 3)
	v.SetDefault("sync.min_sync_interval", "30m")
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.account_concurrency", 3)
	v.SetDefault("sync.max_pages", 50)
	v.SetDefault("sync.http_timeout", "30s")
	v.SetDefault("providers.quickbooks.api_url", "https://quickbooks.api.intuit.com/v3")
	v.SetDefault("providers.quickbooks.auth_url", "https://appcenter.intuit.com/connect/oauth2")
	v.SetDefault("providers.quickbooks.token_url", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("providers.plaid.api_url", "https://production.plaid.com")
	v.SetDefault("providers.starling.api_url", "https://api.starlingbank.com/api/v2")
	v.SetDefault("providers.starling.auth_url", "https://oauth.starlingbank.com")
	v.SetDefault("providers.starling.token_url", "https://api.starlingbank.com/oauth/access-token")
}

func setSchedulerDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.scan_interval", "1m")
	v.SetDefault("scheduler.batch_limit", 100)
	v.SetDefault("scheduler.default_sync_interval", "6h")
}

func setRateLimitDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.enable_local_fallback", true)
	v.SetDefault("rate_limit.local_fallback_multiplier", 0.5)
	v.SetDefault("rate_limit.providers.quickbooks.requests_per_second", 8)
	v.SetDefault("rate_limit.providers.plaid.requests_per_second", 15)
	v.SetDefault("rate_limit.providers.starling.requests_per_second", 10)
}

// readConfig reads the config file, tolerating a missing file so that
// environment variables alone can configure a deployment
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("BANK_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.allowed_origins",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Providers
		"providers.quickbooks.client_id",
		"providers.quickbooks.client_secret",
		"providers.quickbooks.redirect_uri",
		"providers.quickbooks.api_url",
		"providers.quickbooks.auth_url",
		"providers.quickbooks.token_url",
		"providers.quickbooks.webhook_secret",
		"providers.plaid.client_id",
		"providers.plaid.client_secret",
		"providers.plaid.redirect_uri",
		"providers.plaid.api_url",
		"providers.plaid.webhook_secret",
		"providers.starling.client_id",
		"providers.starling.client_secret",
		"providers.starling.redirect_uri",
		"providers.starling.api_url",
		"providers.starling.auth_url",
		"providers.starling.token_url",
		"providers.starling.webhook_secret",
		// Sync
		"sync.default_lookback_days",
		"sync.overlap_days",
		"sync.min_sync_interval",
		"sync.batch_size",
		"sync.account_concurrency",
		"sync.max_pages",
		"sync.http_timeout",
		// Rate limit
		"rate_limit.redis_addr",
		"rate_limit.redis_key_prefix",
		"rate_limit.max_workers",
		"rate_limit.max_queue_size",
		"rate_limit.enable_local_fallback",
		"rate_limit.local_fallback_multiplier",
		// Scheduler
		"scheduler.scan_interval",
		"scheduler.batch_limit",
		"scheduler.default_sync_interval",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Credentials returns the credentials for a provider id, or an error when the
// provider is unknown
func (p *ProvidersConfig) Credentials(providerID string) (ProviderCredentials, error) {
	switch providerID {
	case "quickbooks":
		return p.QuickBooks, nil
	case "plaid":
		return p.Plaid, nil
	case "starling":
		return p.Starling, nil
	default:
		return ProviderCredentials{}, fmt.Errorf("unknown provider: %s", providerID)
	}
}
