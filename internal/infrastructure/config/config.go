package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/jobdeck/backend/internal/domain/billing"
)

// Config is the full runtime configuration tree
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Gateway  GatewayConfig
	Billing  BillingConfig
	Cache    CacheConfig
	Plans    []PlanConfig
}

// AppConfig identifies the service instance
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig describes the postgres pool
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

// RedisConfig describes the cache backend connection
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig controls log level, encoding and destination
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig bounds the server's request handling
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// GatewayConfig holds payment gateway settings
type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

// BillingConfig holds the subscription lifecycle windows
type BillingConfig struct {
	RenewalGrace   time.Duration // how early a renewal charge may land
	RecoveryWindow time.Duration // suspended -> active allowance
	DedupTTL       time.Duration // webhook event ID retention
	EntitlementTTL time.Duration // authorization decision cache
	SweepInterval  time.Duration // suspended-subscription expiry sweep
}

// CacheConfig selects the cache backend
type CacheConfig struct {
	Backend         string // redis, memory
	CleanupInterval time.Duration
}

// PlanConfig is the on-disk shape of a catalog entry; Price is kept as a
// string so viper never routes it through a float
type PlanConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Cycle    string `mapstructure:"cycle"`
	Price    string `mapstructure:"price"`
	Currency string `mapstructure:"currency"`
	Ceilings map[string]struct {
		Limit  int64  `mapstructure:"limit"`
		Period string `mapstructure:"period"`
	} `mapstructure:"ceilings"`
}

// Load reads configuration in ascending precedence: built-in defaults,
// then config.toml, then JOBDECK_-prefixed environment variables
// (e.g. JOBDECK_GATEWAY_SECRET_KEY)
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("JOBDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
		Gateway: GatewayConfig{
			BaseURL:     v.GetString("gateway.base_url"),
			SecretKey:   v.GetString("gateway.secret_key"),
			CallbackURL: v.GetString("gateway.callback_url"),
			Timeout:     v.GetDuration("gateway.timeout"),
		},
		Billing: BillingConfig{
			RenewalGrace:   v.GetDuration("billing.renewal_grace"),
			RecoveryWindow: v.GetDuration("billing.recovery_window"),
			DedupTTL:       v.GetDuration("billing.dedup_ttl"),
			EntitlementTTL: v.GetDuration("billing.entitlement_ttl"),
			SweepInterval:  v.GetDuration("billing.sweep_interval"),
		},
		Cache: CacheConfig{
			Backend:         v.GetString("cache.backend"),
			CleanupInterval: v.GetDuration("cache.cleanup_interval"),
		},
	}

	if err := v.UnmarshalKey("plans", &cfg.Plans); err != nil {
		return nil, fmt.Errorf("error parsing plan catalog: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in anything the file and environment left unset
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "jobdeck-backend"
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
		cfg.Database.DBName = "jobdeck"
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
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, webhook bodies are small
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.paystack.co"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Billing.RenewalGrace == 0 {
		cfg.Billing.RenewalGrace = 24 * time.Hour
	}
	if cfg.Billing.RecoveryWindow == 0 {
		cfg.Billing.RecoveryWindow = 72 * time.Hour
	}
	if cfg.Billing.DedupTTL == 0 {
		cfg.Billing.DedupTTL = 72 * time.Hour
	}
	// Dedup entries must outlive the recovery window so late recovery
	// retries still hit the processed marker
	if cfg.Billing.DedupTTL < cfg.Billing.RecoveryWindow {
		cfg.Billing.DedupTTL = cfg.Billing.RecoveryWindow
	}
	if cfg.Billing.EntitlementTTL == 0 {
		cfg.Billing.EntitlementTTL = 60 * time.Second
	}
	if cfg.Billing.SweepInterval == 0 {
		cfg.Billing.SweepInterval = 15 * time.Minute
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "redis"
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = time.Minute
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaultPlans()
	}
}

// validate rejects configurations the service cannot run with
func (c *Config) validate() error {
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
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		return fmt.Errorf("cache.backend must be 'redis' or 'memory', got %q", c.Cache.Backend)
	}

	if c.App.Env == "production" {
		if c.Gateway.SecretKey == "" {
			return fmt.Errorf("gateway.secret_key is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// Catalog converts the configured plans into a validated catalog
func (c *Config) Catalog() (*billing.PlanCatalog, error) {
	plans := make([]billing.Plan, 0, len(c.Plans))
	for _, pc := range c.Plans {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid price %q: %w", pc.ID, pc.Price, err)
		}
		ceilings := make(map[billing.ResourceKey]billing.Ceiling, len(pc.Ceilings))
		for key, ceiling := range pc.Ceilings {
			ceilings[billing.ResourceKey(key)] = billing.Ceiling{
				Limit:  ceiling.Limit,
				Period: billing.ResetPeriod(ceiling.Period),
			}
		}
		plans = append(plans, billing.Plan{
			ID:       pc.ID,
			Name:     pc.Name,
			Cycle:    billing.BillingCycle(pc.Cycle),
			Price:    price,
			Currency: pc.Currency,
			Ceilings: ceilings,
		})
	}
	return billing.NewPlanCatalog(plans)
}

// defaultPlans is the built-in catalog used when no plans are configured
func defaultPlans() []PlanConfig {
	type ceiling = struct {
		Limit  int64  `mapstructure:"limit"`
		Period string `mapstructure:"period"`
	}
	return []PlanConfig{
		{
			ID: "free", Name: "Free", Cycle: "monthly", Price: "0", Currency: "USD",
			Ceilings: map[string]ceiling{
				"job_applications":   {Limit: 20, Period: "monthly"},
				"ai_recommendations": {Limit: 5, Period: "daily"},
				"job_alerts":         {Limit: 3, Period: "never"},
			},
		},
		{
			ID: "pro-monthly", Name: "Pro", Cycle: "monthly", Price: "19.99", Currency: "USD",
			Ceilings: map[string]ceiling{
				"job_applications":   {Limit: -1, Period: "monthly"},
				"ai_recommendations": {Limit: 100, Period: "daily"},
				"job_alerts":         {Limit: 50, Period: "never"},
			},
		},
		{
			ID: "pro-yearly", Name: "Pro Annual", Cycle: "yearly", Price: "199.00", Currency: "USD",
			Ceilings: map[string]ceiling{
				"job_applications":   {Limit: -1, Period: "monthly"},
				"ai_recommendations": {Limit: 100, Period: "daily"},
				"job_alerts":         {Limit: 50, Period: "never"},
			},
		},
	}
}

// DSN builds the postgres connection string, URL-escaping credentials
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

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
