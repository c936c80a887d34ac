package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ClientConfig defines the batch inference client behavior and limits.
type ClientConfig struct {
	EndpointURL      string
	APIKey           string
	MaxWorkers       int
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	CircuitThreshold int
	CircuitCooldown  time.Duration
	RequestTimeout   time.Duration // per-call override; 0 = ReadTimeout + 5s
	TotalTimeout     time.Duration // per-batch override; 0 = derived
	MergeKey         string
}

// RasterConfig defines page rasterization parameters.
type RasterConfig struct {
	DPI         int
	JPEGQuality int
	ColorMode   string // "rgb" | "gray"
}

// StorageConfig defines S3 connectivity for inputs and results.
type StorageConfig struct {
	Region       string
	AccessKey    string
	SecretKey    string
	OutputURI    string // optional s3://bucket/prefix for merged results
	FilePassword string // optional password for encrypted inputs
}

// StatusConfig defines the optional Redis status store.
type StatusConfig struct {
	RedisURL string // empty disables status reporting
}

// MetricsConfig defines the optional metrics/health listener.
type MetricsConfig struct {
	Addr string // empty disables the listener
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Client  ClientConfig
	Raster  RasterConfig
	Storage StorageConfig
	Status  StatusConfig
	Metrics MetricsConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/docbatch.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_docbatch",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Client = ClientConfig{
		EndpointURL:      getEnv("ENDPOINT_URL", ""),
		APIKey:           getEnv("ENDPOINT_API_KEY", ""),
		MaxWorkers:       parseInt(getEnv("MAX_WORKERS", "4"), 4),
		ConnectTimeout:   parseDuration(getEnv("CONNECT_TIMEOUT", "10s"), 10*time.Second),
		ReadTimeout:      parseDuration(getEnv("READ_TIMEOUT", "30s"), 30*time.Second),
		MaxAttempts:      parseInt(getEnv("MAX_ATTEMPTS", "5"), 5),
		BackoffBase:      parseDuration(getEnv("BACKOFF_BASE", "200ms"), 200*time.Millisecond),
		CircuitThreshold: parseInt(getEnv("CIRCUIT_THRESHOLD", "5"), 5),
		CircuitCooldown:  parseDuration(getEnv("CIRCUIT_COOLDOWN", "30s"), 30*time.Second),
		RequestTimeout:   parseDuration(getEnv("REQUEST_TIMEOUT", ""), 0),
		TotalTimeout:     parseDuration(getEnv("TOTAL_TIMEOUT", ""), 0),
		MergeKey:         getEnv("MERGE_KEY", "result"),
	}

	cfg.Raster = RasterConfig{
		DPI:         parseInt(getEnv("DPI", "200"), 200),
		JPEGQuality: parseInt(getEnv("JPEG_QUALITY", "85"), 85),
		ColorMode:   getEnv("COLOR_MODE", "rgb"),
	}

	cfg.Storage = StorageConfig{
		Region:       getEnv("AWS_REGION", ""),
		AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("S3_SECRET_KEY", ""),
		OutputURI:    getEnv("OUTPUT_S3_URI", ""),
		FilePassword: getEnv("FILE_PASSWORD", ""),
	}

	cfg.Status = StatusConfig{
		RedisURL: getEnv("REDIS_URL", ""),
	}

	cfg.Metrics = MetricsConfig{
		Addr: getEnv("METRICS_ADDR", ""),
	}

	return cfg
}

// CallTimeout returns the effective per-call timeout: the explicit
// override when set, otherwise the read timeout plus five seconds.
func (c ClientConfig) CallTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return c.ReadTimeout + 5*time.Second
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
