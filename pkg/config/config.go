// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Store, Raft, Redis, Kafka, Analytics, etc.).
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
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Raft      RaftConfig      `yaml:"raft"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig holds the persistent key-value store settings.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// RaftConfig holds replication settings. Peers is the comma-separated list of
// "id=host:port" cluster members; an empty list means single-node.
type RaftConfig struct {
	NodeID            string        `yaml:"nodeId"`
	BindAddr          string        `yaml:"bindAddr"`
	DataDir           string        `yaml:"dataDir"`
	Peers             []string      `yaml:"peers"`
	SnapshotInterval  time.Duration `yaml:"snapshotInterval"`
	SnapshotThreshold uint64        `yaml:"snapshotThreshold"`
	ResetPeers        bool          `yaml:"resetPeers"`
}

// RedisConfig holds the search result cache settings. An empty Addr disables
// the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds the change-event publisher settings. An empty broker list
// disables publishing.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentChanges string `yaml:"documentChanges"`
	SearchEvents    string `yaml:"searchEvents"`
}

// AnalyticsConfig holds the search analytics aggregator settings. Disabled
// unless Enabled is set and Postgres is reachable.
type AnalyticsConfig struct {
	Enabled       bool           `yaml:"enabled"`
	FlushInterval time.Duration  `yaml:"flushInterval"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters for analytics.
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

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8108,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			DataDir: "data/db",
		},
		Raft: RaftConfig{
			NodeID:            "node-1",
			BindAddr:          "127.0.0.1:8107",
			DataDir:           "data/state",
			SnapshotInterval:  3600 * time.Second,
			SnapshotThreshold: 8192,
		},
		Redis: RedisConfig{
			Addr:     "",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Topics: KafkaTopics{
				DocumentChanges: "documents.changes",
				SearchEvents:    "search.events",
			},
		},
		Analytics: AnalyticsConfig{
			Enabled:       false,
			FlushInterval: 60 * time.Second,
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "typesense_analytics",
				User:            "typesense",
				SSLMode:         "disable",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
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

// applyEnvOverrides reads TS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TS_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("TS_RAFT_NODE_ID"); v != "" {
		cfg.Raft.NodeID = v
	}
	if v := os.Getenv("TS_RAFT_BIND_ADDR"); v != "" {
		cfg.Raft.BindAddr = v
	}
	if v := os.Getenv("TS_RAFT_DATA_DIR"); v != "" {
		cfg.Raft.DataDir = v
	}
	if v := os.Getenv("TS_RAFT_PEERS"); v != "" {
		cfg.Raft.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("TS_RAFT_RESET_PEERS"); v != "" {
		cfg.Raft.ResetPeers = v == "true" || v == "1"
	}
	if v := os.Getenv("TS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TS_ANALYTICS_ENABLED"); v != "" {
		cfg.Analytics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TS_ANALYTICS_POSTGRES_HOST"); v != "" {
		cfg.Analytics.Postgres.Host = v
	}
	if v := os.Getenv("TS_ANALYTICS_POSTGRES_PASSWORD"); v != "" {
		cfg.Analytics.Postgres.Password = v
	}
	if v := os.Getenv("TS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
