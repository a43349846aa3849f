// Package config loads the worker configuration from an optional YAML file
// with MEMHARBOR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved worker configuration.
type Config struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Elastic  ElasticConfig  `mapstructure:"elastic"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Symbols  SymbolsConfig  `mapstructure:"symbols"`
	Clamav   ClamavConfig   `mapstructure:"clamav"`
	Regparse RegparseConfig `mapstructure:"regparse"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Serve    ServeConfig    `mapstructure:"serve"`
	Otel     OtelConfig     `mapstructure:"otel"`
}

// PostgresConfig addresses the relational store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MinConns int32  `mapstructure:"min_conns"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ElasticConfig addresses the index engine.
type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
}

// KafkaConfig addresses the message broker. Notifications publish to Topic
// and analysis requests are consumed from RequestsTopic. An empty broker list
// disables both: notifications stay in process and no requests are consumed.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RequestsTopic string   `mapstructure:"requests_topic"`
	GroupID       string   `mapstructure:"group_id"`
	ClientID      string   `mapstructure:"client_id"`
}

// StorageConfig locates per-dump artifact storage.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// EngineConfig locates the analysis engine runner binary.
type EngineConfig struct {
	Binary string `mapstructure:"binary"`
}

// SymbolsConfig locates the local symbol inventory.
type SymbolsConfig struct {
	BannersFile string `mapstructure:"banners_file"`
}

// ClamavConfig addresses the clamd daemon. An empty address disables
// antivirus scanning.
type ClamavConfig struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// RegparseConfig locates the registry hive parser binary. An empty binary
// disables hive re-parsing.
type RegparseConfig struct {
	Binary string `mapstructure:"binary"`
}

// PipelineConfig tunes the execution pipeline.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	BannerTimeout time.Duration `mapstructure:"banner_timeout"`
}

// ServeConfig addresses the operational HTTP endpoints.
type ServeConfig struct {
	HealthAddr  string `mapstructure:"health_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// OtelConfig configures telemetry export.
type OtelConfig struct {
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
}

// Load reads the configuration from the YAML file at path (optional, empty
// skips the file) and applies MEMHARBOR_* environment overrides, e.g.
// MEMHARBOR_POSTGRES_DSN for postgres.dsn.
func Load(path string) (Config, error) {
	v := viper.New()

	// Every key gets a default so environment overrides are visible to
	// Unmarshal even without a config file.
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.min_conns", 5)
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("elastic.addresses", []string{"http://localhost:9200"})
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "notifications")
	v.SetDefault("kafka.requests_topic", "analysis-requests")
	v.SetDefault("kafka.group_id", "memharbor-workers")
	v.SetDefault("kafka.client_id", "memharbor-worker")
	v.SetDefault("storage.root", "/media")
	v.SetDefault("engine.binary", "memharbor-runner")
	v.SetDefault("symbols.banners_file", "/symbols/banners")
	v.SetDefault("clamav.network", "tcp")
	v.SetDefault("clamav.address", "")
	v.SetDefault("regparse.binary", "")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.banner_timeout", 2*time.Minute)
	v.SetDefault("serve.health_addr", ":8080")
	v.SetDefault("serve.metrics_addr", ":9090")
	v.SetDefault("otel.service_name", "memharbor-worker")
	v.SetDefault("otel.exporter_endpoint", "")
	v.SetDefault("otel.sampling_ratio", 0.1)

	v.SetEnvPrefix("MEMHARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func (c Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if len(c.Elastic.Addresses) == 0 {
		return errors.New("elastic.addresses is required")
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if c.Engine.Binary == "" {
		return errors.New("engine.binary is required")
	}
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	return nil
}
