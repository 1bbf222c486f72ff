package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Record stores.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreS3       = "s3"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FilesDir     string `mapstructure:"FILES_DIR"`
	BasePath     string `mapstructure:"BASE_PATH"`
	Store        string `mapstructure:"STORE"`
	CacheRecords bool   `mapstructure:"CACHE_RECORDS"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Prefix    string `mapstructure:"S3_PREFIX"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

var defaults = map[string]any{
	"PORT":             "8000",
	"ENV":              "development",
	"LOG_LEVEL":        "info",
	"FILES_DIR":        "files",
	"BASE_PATH":        "/fhir",
	"STORE":            StoreFile,
	"CACHE_RECORDS":    false,
	"DB_MAX_CONNS":     10,
	"DB_MIN_CONNS":     1,
	"S3_USE_SSL":       true,
	"CORS_ORIGINS":     "*",
	"RATE_LIMIT_RPS":   0,
	"RATE_LIMIT_BURST": 0,
	"BODY_LIMIT":       "1M",
	"REQUEST_TIMEOUT":  "30s",
}

var envKeys = []string{
	"DATABASE_URL",
	"S3_ENDPOINT", "S3_BUCKET", "S3_PREFIX", "S3_ACCESS_KEY", "S3_SECRET_KEY",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is not an
// error; environment variables take precedence over it.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
		v.BindEnv(k)
	}
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading the env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AuthEnabled reports whether bearer tokens are required on FHIR routes.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Level returns the zerolog level for LOG_LEVEL.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the selected store is fully configured.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile:
		if c.FilesDir == "" {
			return fmt.Errorf("FILES_DIR is required when STORE is %q", StoreFile)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
	case StoreS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required when STORE is %q", StoreS3)
		}
	default:
		return fmt.Errorf("STORE must be %q, %q or %q, got %q", StoreFile, StorePostgres, StoreS3, c.Store)
	}

	if c.BasePath == "/" {
		return fmt.Errorf("BASE_PATH must not be the root path")
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
		}
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 16 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 16 bytes")
	}
	return nil
}
