package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Links       LinksConfig       `yaml:"links"`
	Quota       QuotaConfig       `yaml:"quota"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port    int    `yaml:"port"`
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	// CORSOrigins lists allowed origins; empty allows all
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects and configures the link store
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, postgres, sqlite or memory
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	SQLitePath   string `yaml:"sqlite_path"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	OpTimeout    int    `yaml:"op_timeout"` // seconds
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	CacheTTL int    `yaml:"cache_ttl"` // seconds
}

type BloomFilterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// RateLimitConfig configures HTTP throttling, separate from the creation quota
type RateLimitConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Strategy  string           `yaml:"strategy"`
	Global    RateLimitRule    `yaml:"global"`
	Endpoints []EndpointLimits `yaml:"endpoints"`
}

type RateLimitRule struct {
	Limit  int `yaml:"limit"`
	Window int `yaml:"window"` // seconds
}

type EndpointLimits struct {
	Path   string `yaml:"path"` // gin route pattern, e.g. /:code
	Limit  int    `yaml:"limit"`
	Window int    `yaml:"window"`
}

type LinksConfig struct {
	CodeLength   int      `yaml:"code_length"`
	MaxAttempts  int      `yaml:"max_attempts"`
	TTL          int      `yaml:"ttl"`           // seconds, 0 means links never expire
	ClickTimeout int      `yaml:"click_timeout"` // milliseconds
	Reserved     []string `yaml:"reserved"`
}

type QuotaConfig struct {
	Limit  int `yaml:"limit"`
	Window int `yaml:"window"` // seconds
	// AnonymousLimit is the shared ceiling for all anonymous creators.
	// Unset means the default; 0 exempts anonymous creators.
	AnonymousLimit *int `yaml:"anonymous_limit"`
}

type SweepConfig struct {
	Interval int `yaml:"interval"` // seconds
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// DSN returns the data source name for the configured driver
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
	case "sqlite":
		return d.SQLitePath
	case "memory":
		return ""
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.Username, d.Password, d.Host, d.Port, d.Database)
	}
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (d *DatabaseConfig) OpTimeoutDuration() time.Duration { return seconds(d.OpTimeout) }
func (r *RedisConfig) CacheTTLDuration() time.Duration     { return seconds(r.CacheTTL) }
func (r RateLimitRule) WindowDuration() time.Duration      { return seconds(r.Window) }
func (e EndpointLimits) WindowDuration() time.Duration     { return seconds(e.Window) }
func (l *LinksConfig) TTLDuration() time.Duration          { return seconds(l.TTL) }
func (q *QuotaConfig) WindowDuration() time.Duration       { return seconds(q.Window) }
func (s *SweepConfig) IntervalDuration() time.Duration     { return seconds(s.Interval) }

func (l *LinksConfig) ClickTimeoutDuration() time.Duration {
	return time.Duration(l.ClickTimeout) * time.Millisecond
}

// Load reads .env (if present), the YAML file at configPath, then applies
// environment overrides and defaults.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Port, 8080)
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "postgres":
		setDefault(&c.Database.Port, 5432)
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "mysql":
		setDefault(&c.Database.Port, 3306)
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "shortlinkd.db"
	}
	setDefault(&c.Database.MaxIdleConns, 10)
	setDefault(&c.Database.MaxOpenConns, 100)
	setDefault(&c.Database.OpTimeout, 3)

	setDefault(&c.Redis.Port, 6379)
	setDefault(&c.Redis.PoolSize, 10)
	setDefault(&c.Redis.CacheTTL, 24*60*60)

	if c.BloomFilter.Capacity == 0 {
		c.BloomFilter.Capacity = 1_000_000
	}
	if c.BloomFilter.FalsePositiveRate == 0 {
		c.BloomFilter.FalsePositiveRate = 0.01
	}

	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "sliding_window"
	}
	setDefault(&c.RateLimit.Global.Limit, 100)
	setDefault(&c.RateLimit.Global.Window, 60)

	setDefault(&c.Links.CodeLength, 6)
	setDefault(&c.Links.MaxAttempts, 5)
	setDefault(&c.Links.ClickTimeout, 500)

	setDefault(&c.Quota.Limit, 5)
	setDefault(&c.Quota.Window, 60*60)
	if c.Quota.AnonymousLimit == nil {
		n := 20
		c.Quota.AnonymousLimit = &n
	}

	setDefault(&c.Sweep.Interval, 600)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	needsHost := c.Database.Driver == "mysql" || c.Database.Driver == "postgres"
	if needsHost && c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Links.CodeLength < 3 || c.Links.CodeLength > 32 {
		return fmt.Errorf("links.code_length must be between 3 and 32, got %d", c.Links.CodeLength)
	}
	if c.Links.TTL < 0 {
		return errors.New("links.ttl cannot be negative")
	}
	if c.BloomFilter.FalsePositiveRate <= 0 || c.BloomFilter.FalsePositiveRate >= 1 {
		return fmt.Errorf("bloom_filter.false_positive_rate must be in (0, 1), got %v", c.BloomFilter.FalsePositiveRate)
	}
	switch c.RateLimit.Strategy {
	case "fixed_window", "sliding_window", "token_bucket", "local":
	default:
		return fmt.Errorf("unknown rate_limit.strategy %q", c.RateLimit.Strategy)
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled && c.RateLimit.Strategy != "local" {
		return fmt.Errorf("rate_limit.strategy %q requires redis; use \"local\" or enable redis", c.RateLimit.Strategy)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (or set JWT_SECRET)")
	}
	return nil
}
