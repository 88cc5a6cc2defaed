// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Kafka, Redis, Search, Snapshot, etc.).
// Search ranking parameters are validated here, at load time, so the query
// path never has to deal with an invalid k1 or field weight.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Blob     BlobConfig     `yaml:"blob"`
	Stats    StatsConfig    `yaml:"stats"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PackageEvents  string `yaml:"packageEvents"`
	DownloadEvents string `yaml:"downloadEvents"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FieldConfig carries the BM25F parameters for one indexed field: its
// relevance weight and its length-normalization constant b.
type FieldConfig struct {
	Weight float64 `yaml:"weight"`
	B      float64 `yaml:"b"`
}

// SearchConfig controls the ranking function and query execution limits.
type SearchConfig struct {
	K1             float64                `yaml:"k1"`
	Fields         map[string]FieldConfig `yaml:"fields"`
	FeatureWeights map[string]float64     `yaml:"featureWeights"`
	MaxResults     int                    `yaml:"maxResults"`
	DefaultLimit   int                    `yaml:"defaultLimit"`
}

// SnapshotConfig controls durable index snapshotting.
type SnapshotConfig struct {
	DataDir      string        `yaml:"dataDir"`
	SaveInterval time.Duration `yaml:"saveInterval"`
}

// BlobConfig controls the content-addressed blob store for build logs and
// tarballs.
type BlobConfig struct {
	DataDir string `yaml:"dataDir"`
}

// StatsConfig controls the download-event batch collector.
type StatsConfig struct {
	BufferSize      int           `yaml:"bufferSize"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result. It returns a Config populated with
// sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Search.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	return cfg, nil
}

// Validate rejects ranking parameters that would make the BM25F scorer
// meaningless. A broken k1 or field weight must never reach the query path.
func (s SearchConfig) Validate() error {
	if s.K1 <= 0 {
		return fmt.Errorf("k1 must be positive, got %v", s.K1)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("at least one field must be configured")
	}
	for name, fc := range s.Fields {
		if fc.Weight <= 0 {
			return fmt.Errorf("field %q: weight must be positive, got %v", name, fc.Weight)
		}
		if fc.B < 0 || fc.B > 1 {
			return fmt.Errorf("field %q: b must be in [0,1], got %v", name, fc.B)
		}
	}
	for name, w := range s.FeatureWeights {
		if w < 0 {
			return fmt.Errorf("feature %q: weight must be non-negative, got %v", name, w)
		}
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("maxResults must be positive, got %d", s.MaxResults)
	}
	if s.DefaultLimit <= 0 || s.DefaultLimit > s.MaxResults {
		return fmt.Errorf("defaultLimit must be in [1,%d], got %d", s.MaxResults, s.DefaultLimit)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development. The BM25F defaults (k1=1.2, b=0.75) are the standard Okapi
// values; name and synopsis are boosted over the description body.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       300,
			RateLimitWindow: time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "pkgserve",
			User:            "pkgserve",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "pkgserve-group",
			Topics: KafkaTopics{
				PackageEvents:  "package-events",
				DownloadEvents: "download-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			K1: 1.2,
			Fields: map[string]FieldConfig{
				"name":        {Weight: 4.0, B: 0.5},
				"synopsis":    {Weight: 2.5, B: 0.75},
				"description": {Weight: 1.0, B: 0.75},
				"tags":        {Weight: 2.0, B: 0.5},
				"author":      {Weight: 1.0, B: 0.5},
			},
			FeatureWeights: map[string]float64{
				"downloads":  0.5,
				"recency":    0.3,
				"maintained": 0.2,
			},
			MaxResults:   100,
			DefaultLimit: 20,
		},
		Snapshot: SnapshotConfig{
			DataDir:      "./data/snapshots",
			SaveInterval: 5 * time.Minute,
		},
		Blob: BlobConfig{
			DataDir: "./data/blobs",
		},
		Stats: StatsConfig{
			BufferSize:      1000,
			FlushInterval:   10 * time.Second,
			RefreshInterval: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PS_SNAPSHOT_DATADIR"); v != "" {
		cfg.Snapshot.DataDir = v
	}
	if v := os.Getenv("PS_BLOB_DATADIR"); v != "" {
		cfg.Blob.DataDir = v
	}
	if v := os.Getenv("PS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
