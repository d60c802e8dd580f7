package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cmp/backend/internal/domain/integration"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Ledger     LedgerConfig
	Credential CredentialConfig
	Connectors ConnectorsConfig
	Telemetry  TelemetryConfig
	Profiling  ProfilingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// LedgerConfig holds audit ledger configuration
type LedgerConfig struct {
	VerifyOnStartup bool // verify the whole chain before serving traffic
	QueryPageSize   int
}

// CredentialConfig holds credential lifecycle configuration
type CredentialConfig struct {
	RefreshMargin  time.Duration // refresh this long before token expiry
	RefreshTimeout time.Duration // per refresh round trip
}

// ConnectorConfig holds the settings of one external connector
type ConnectorConfig struct {
	Enabled    bool
	BaseURL    string
	Capacity   int
	RefillRate float64
	MaxWait    time.Duration
	// Retry budget for transient failures
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// ZohoConfig holds Zoho Books connector settings
type ZohoConfig struct {
	ConnectorConfig
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	OrganizationID string
}

// WioConfig holds Wio Bank connector settings
type WioConfig struct {
	ConnectorConfig
	APIKey string
}

// ConnectorsConfig groups every configured connector
type ConnectorsConfig struct {
	Zoho ZohoConfig
	Wio  WioConfig
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled         bool   // Whether to enable continuous profiling
	ServerAddress   string // Pyroscope server address (e.g., "http://pyroscope:4040")
	ApplicationName string // Application name for profiles
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CMP_ prefix (e.g., CMP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("CMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Ledger: LedgerConfig{
			VerifyOnStartup: v.GetBool("ledger.verify_on_startup"),
			QueryPageSize:   v.GetInt("ledger.query_page_size"),
		},
		Credential: CredentialConfig{
			RefreshMargin:  v.GetDuration("credential.refresh_margin"),
			RefreshTimeout: v.GetDuration("credential.refresh_timeout"),
		},
		Connectors: ConnectorsConfig{
			Zoho: ZohoConfig{
				ConnectorConfig: connectorSection(v, "connectors.zoho"),
				TokenURL:        v.GetString("connectors.zoho.token_url"),
				ClientID:        v.GetString("connectors.zoho.client_id"),
				ClientSecret:    v.GetString("connectors.zoho.client_secret"),
				RefreshToken:    v.GetString("connectors.zoho.refresh_token"),
				OrganizationID:  v.GetString("connectors.zoho.organization_id"),
			},
			Wio: WioConfig{
				ConnectorConfig: connectorSection(v, "connectors.wio"),
				APIKey:          v.GetString("connectors.wio.api_key"),
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
		Profiling: ProfilingConfig{
			Enabled:         v.GetBool("profiling.enabled"),
			ServerAddress:   v.GetString("profiling.server_address"),
			ApplicationName: v.GetString("profiling.application_name"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func connectorSection(v *viper.Viper, prefix string) ConnectorConfig {
	return ConnectorConfig{
		Enabled:     v.GetBool(prefix + ".enabled"),
		BaseURL:     v.GetString(prefix + ".base_url"),
		Capacity:    v.GetInt(prefix + ".capacity"),
		RefillRate:  v.GetFloat64(prefix + ".refill_rate"),
		MaxWait:     v.GetDuration(prefix + ".max_wait"),
		MaxAttempts: v.GetInt(prefix + ".max_attempts"),
		BaseDelay:   v.GetDuration(prefix + ".base_delay"),
		MaxDelay:    v.GetDuration(prefix + ".max_delay"),
		CallTimeout: v.GetDuration(prefix + ".call_timeout"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "cmp-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "cmp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.Ledger.QueryPageSize == 0 {
		cfg.Ledger.QueryPageSize = 200
	}
	if cfg.Credential.RefreshMargin == 0 {
		cfg.Credential.RefreshMargin = 2 * time.Minute
	}
	if cfg.Credential.RefreshTimeout == 0 {
		cfg.Credential.RefreshTimeout = 15 * time.Second
	}
	applyConnectorDefaults(&cfg.Connectors.Zoho.ConnectorConfig)
	applyConnectorDefaults(&cfg.Connectors.Wio.ConnectorConfig)
	if cfg.Connectors.Zoho.TokenURL == "" {
		cfg.Connectors.Zoho.TokenURL = "https://accounts.zoho.com/oauth/v2/token"
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "cmp-backend"
	}
	// Note: Insecure defaults to false for safety (TLS enabled by default)

	// Profiling defaults
	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.App.Name
	}
}

func applyConnectorDefaults(c *ConnectorConfig) {
	if c.Capacity == 0 {
		c.Capacity = 10
	}
	if c.RefillRate == 0 {
		c.RefillRate = 1
	}
	if c.MaxWait == 0 {
		c.MaxWait = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Connectors.Zoho.Enabled {
			if c.Connectors.Zoho.ClientID == "" || c.Connectors.Zoho.ClientSecret == "" || c.Connectors.Zoho.RefreshToken == "" {
				return fmt.Errorf("connectors.zoho requires client_id, client_secret and refresh_token in production")
			}
		}
		if c.Connectors.Wio.Enabled && c.Connectors.Wio.APIKey == "" {
			return fmt.Errorf("connectors.wio.api_key is required in production")
		}
	}

	if c.Connectors.Zoho.Enabled {
		zohoDesc := c.Connectors.Zoho.Descriptor()
		if err := zohoDesc.Validate(); err != nil {
			return err
		}
	}
	if c.Connectors.Wio.Enabled {
		wioDesc := c.Connectors.Wio.Descriptor()
		if err := wioDesc.Validate(); err != nil {
			return err
		}
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Descriptor builds the Zoho Books connector descriptor
func (z *ZohoConfig) Descriptor() integration.Descriptor {
	return descriptor("zoho", z.ConnectorConfig, integration.AuthOAuth2Refresh)
}

// Descriptor builds the Wio Bank connector descriptor
func (w *WioConfig) Descriptor() integration.Descriptor {
	return descriptor("wio", w.ConnectorConfig, integration.AuthAPIKey)
}

func descriptor(id string, c ConnectorConfig, auth integration.AuthScheme) integration.Descriptor {
	d := integration.Descriptor{
		ID:          id,
		BaseURL:     c.BaseURL,
		Auth:        auth,
		Capacity:    c.Capacity,
		RefillRate:  c.RefillRate,
		MaxWait:     c.MaxWait,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		CallTimeout: c.CallTimeout,
	}
	return d.WithDefaults()
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
