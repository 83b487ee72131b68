package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when Load is called with an empty path.
var ConfigPath = "config.yaml"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultSweeperInterval = "1h"
	defaultJWTLeeway       = "15s"
	defaultQueueStream     = "docs:analysis"

	defaultAnalyzerIssuer     = "analyzer"
	defaultTransactionsIssuer = "transactions"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	StoreDriver string `yaml:"storeDriver"`
	DatabaseURL string `yaml:"databaseURL"`
	CatalogPath string `yaml:"catalogPath"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueStream   string `yaml:"queueStream"`

	MaxUploadBytes      int64    `yaml:"maxUploadBytes"`
	AllowedContentTypes []string `yaml:"allowedContentTypes"`

	ActorJWTPublicKeyPath string `yaml:"actorJwtPublicKeyPath"`
	ActorJWTKeyID         string `yaml:"actorJwtKeyId"`
	ActorJWTIssuer        string `yaml:"actorJwtIssuer"`
	ActorJWTAudience      string `yaml:"actorJwtAudience"`
	JWTLeeway             string `yaml:"jwtLeeway"`

	InternalJWTPublicKeyPath    string   `yaml:"internalJwtPublicKeyPath"`
	InternalJWTVerifyPublicKeys string   `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTKeyID            string   `yaml:"internalJwtKeyId"`
	InternalJWTAllowedIssuers   []string `yaml:"internalJwtAllowedIssuers"`
	// Issuers allowed on each internal route.
	AnalyzerIssuer     string `yaml:"analyzerIssuer"`
	TransactionsIssuer string `yaml:"transactionsIssuer"`

	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type SweeperConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	Concurrency int    `yaml:"concurrency"`
}

type AnalysisConfig struct {
	// Enabled queues an analysis job for every upload.
	Enabled     bool `yaml:"enabled"`
	AutoApprove bool `yaml:"autoApprove"`
}

type EventsConfig struct {
	Driver   string `yaml:"driver"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"maxLen"`
	NATSURL  string `yaml:"natsURL"`
	Subject  string `yaml:"subject"`
	AMQPURL  string `yaml:"amqpURL"`
	Exchange string `yaml:"exchange"`
}

type RateLimitConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"windowSeconds"`
}

// Load reads config from path (defaults to ConfigPath) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DOCS_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DOCS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCS_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DOCS_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DOCS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOCS_ALLOWED_CONTENT_TYPES"); v != "" {
		cfg.AllowedContentTypes = splitCSV(v)
	}
	if v := os.Getenv("DOCS_ACTOR_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.ActorJWTPublicKeyPath = v
	}
	if v := os.Getenv("DOCS_ACTOR_JWT_ISSUER"); v != "" {
		cfg.ActorJWTIssuer = v
	}
	if v := os.Getenv("DOCS_INTERNAL_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.InternalJWTPublicKeyPath = v
	}
	if v := os.Getenv("DOCS_INTERNAL_JWT_VERIFY_PUBLIC_KEYS"); v != "" {
		cfg.InternalJWTVerifyPublicKeys = v
	}
	if v := os.Getenv("DOCS_INTERNAL_JWT_KEY_ID"); v != "" {
		cfg.InternalJWTKeyID = v
	}
	if v := os.Getenv("DOCS_SWEEPER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Sweeper.Enabled = enabled
		}
	}
	if v := os.Getenv("DOCS_SWEEPER_INTERVAL"); v != "" {
		cfg.Sweeper.Interval = v
	}
	if v := os.Getenv("DOCS_ANALYSIS_AUTO_APPROVE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Analysis.AutoApprove = enabled
		}
	}
	if v := os.Getenv("DOCS_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Events.AMQPURL = v
	}
	if v := os.Getenv("DOCS_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Limit = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	if cfg.JWTLeeway == "" {
		cfg.JWTLeeway = defaultJWTLeeway
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = defaultQueueStream
	}
	if cfg.Sweeper.Interval == "" {
		cfg.Sweeper.Interval = defaultSweeperInterval
	}
	if cfg.RateLimit.Limit > 0 && cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.AnalyzerIssuer == "" {
		cfg.AnalyzerIssuer = defaultAnalyzerIssuer
	}
	if cfg.TransactionsIssuer == "" {
		cfg.TransactionsIssuer = defaultTransactionsIssuer
	}
	if len(cfg.InternalJWTAllowedIssuers) == 0 {
		cfg.InternalJWTAllowedIssuers = []string{cfg.AnalyzerIssuer, cfg.TransactionsIssuer}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or DOCS_PORT)")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: storeDriver must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}
	if strings.TrimSpace(cfg.ActorJWTPublicKeyPath) == "" || strings.TrimSpace(cfg.ActorJWTIssuer) == "" {
		return errors.New("config: actor auth requires actorJwtPublicKeyPath and actorJwtIssuer")
	}
	if strings.TrimSpace(cfg.InternalJWTPublicKeyPath) == "" && strings.TrimSpace(cfg.InternalJWTVerifyPublicKeys) == "" {
		return errors.New("config: internal service auth requires internalJwtPublicKeyPath or internalJwtVerifyPublicKeys")
	}
	if _, err := ParseDuration(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: jwtLeeway: %w", err)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if d, err := ParseDuration(cfg.Sweeper.Interval); err != nil || d <= 0 {
		return fmt.Errorf("config: sweeper.interval must be a positive duration, got %q", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.Concurrency < 0 {
		return errors.New("config: sweeper.concurrency must be >= 0")
	}
	needsRedis := cfg.Analysis.Enabled || cfg.RateLimit.Limit > 0 || strings.EqualFold(cfg.Events.Driver, "redis")
	if needsRedis && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when analysis, rate limiting or redis events are enabled (set in config.yaml or REDIS_ADDR)")
	}
	switch strings.ToLower(cfg.Events.Driver) {
	case "", "log", "redis":
	case "nats":
		if cfg.Events.NATSURL == "" {
			return errors.New("config: events.natsURL is required for the nats driver")
		}
	case "amqp":
		if cfg.Events.AMQPURL == "" {
			return errors.New("config: events.amqpURL is required for the amqp driver")
		}
	default:
		return fmt.Errorf("config: unknown events.driver %q", cfg.Events.Driver)
	}
	if cfg.RateLimit.Limit < 0 || cfg.RateLimit.WindowSeconds < 0 {
		return errors.New("config: rateLimit.limit and rateLimit.windowSeconds must be >= 0")
	}
	return nil
}

// ParseDuration parses a Go duration string such as "30s" or "1h".
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", value)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
