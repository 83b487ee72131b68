package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when Load is called with an empty path.
var ConfigPath = "config.yaml"

const (
	defaultQueueStream   = "docs:analysis"
	defaultQueueGroup    = "analyzer"
	defaultIssuer        = "analyzer"
	defaultMinPageRunes  = 64
	defaultMinLegibility = 0.8
	defaultMaxFileBytes  = 20 << 20
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DocsServiceURL string `yaml:"docsServiceURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	InternalJWTPrivateKeyPath string `yaml:"internalJwtPrivateKeyPath"`
	InternalJWTKeyID          string `yaml:"internalJwtKeyId"`
	InternalJWTIssuer         string `yaml:"internalJwtIssuer"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueStream            string `yaml:"queueStream"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	MinPageRunes  int     `yaml:"minPageRunes"`
	MinLegibility float64 `yaml:"minLegibility"`
	MaxFileBytes  int64   `yaml:"maxFileBytes"`
	KeepText      bool    `yaml:"keepText"`
}

// Load reads config from path (defaults to ConfigPath).
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
	if v := os.Getenv("ANALYZER_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ANALYZER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCS_SERVICE_URL"); v != "" {
		cfg.DocsServiceURL = v
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
	if v := os.Getenv("ANALYZER_INTERNAL_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.InternalJWTPrivateKeyPath = v
	}
	if v := os.Getenv("ANALYZER_INTERNAL_JWT_KEY_ID"); v != "" {
		cfg.InternalJWTKeyID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ANALYZER_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("ANALYZER_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("ANALYZER_MIN_PAGE_RUNES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinPageRunes = n
		}
	}
	if v := os.Getenv("ANALYZER_MIN_LEGIBILITY"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinLegibility = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueStream == "" {
		cfg.QueueStream = defaultQueueStream
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = defaultQueueGroup
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.InternalJWTIssuer == "" {
		cfg.InternalJWTIssuer = defaultIssuer
	}
	if cfg.MinPageRunes == 0 {
		cfg.MinPageRunes = defaultMinPageRunes
	}
	if cfg.MinLegibility == 0 {
		cfg.MinLegibility = defaultMinLegibility
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or ANALYZER_PORT)")
	}
	if cfg.DocsServiceURL == "" {
		return errors.New("config: docsServiceURL is required (set in config.yaml or DOCS_SERVICE_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required")
	}
	if strings.TrimSpace(cfg.InternalJWTPrivateKeyPath) == "" {
		return errors.New("config: internal service auth requires internalJwtPrivateKeyPath (or ANALYZER_INTERNAL_JWT_PRIVATE_KEY_PATH)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queue settings must be >= 0")
	}
	if cfg.MinPageRunes < 0 {
		return errors.New("config: minPageRunes must be >= 0")
	}
	if cfg.MinLegibility < 0 || cfg.MinLegibility > 1 {
		return errors.New("config: minLegibility must be between 0 and 1")
	}
	if cfg.MaxFileBytes < 0 {
		return errors.New("config: maxFileBytes must be >= 0")
	}
	return nil
}
