package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the indexer service.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Kafka       KafkaConfig
	Storage     StorageConfig
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Repository  RepositoryConfig
	Transformer TransformerConfig
	Handler     HandlerConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"indexflow-indexer"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	EventsTopic      string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"repository.events"`
	ConsumerGroup    string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"indexflow-indexer"`
	Consumers        int           `env:"KAFKA_CONSUMERS" envDefault:"1"`
	MinBytes         int           `env:"KAFKA_MIN_BYTES" envDefault:"1"`
	MaxBytes         int           `env:"KAFKA_MAX_BYTES" envDefault:"10485760"`
	ArtifactTopic    string        `env:"KAFKA_ARTIFACT_TOPIC" envDefault:""`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Enabled   bool   `env:"STORAGE_ENABLED" envDefault:"false"`
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"indexflow-artifacts"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
	Prefix    string `env:"STORAGE_PREFIX"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=indexflow"`
}

type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// RepositoryConfig points at the repository REST API that serves resources
// and accepts generated content.
type RepositoryConfig struct {
	BaseURL      string        `env:"REPOSITORY_BASE_URL"`
	Timeout      time.Duration `env:"REPOSITORY_TIMEOUT" envDefault:"30s"`
	MaxRetries   int           `env:"REPOSITORY_MAX_RETRIES" envDefault:"3"`
	RetryBackoff time.Duration `env:"REPOSITORY_RETRY_BACKOFF" envDefault:"500ms"`
}

// TransformerConfig describes the external mapping program. Mappings holds
// content type to rule filename pairs, e.g.
// TRANSFORMER_MAPPINGS="application/ld+json=ld.mapping;text/xml=xml.mapping".
type TransformerConfig struct {
	Runtime     string            `env:"TRANSFORMER_RUNTIME"`
	Script      string            `env:"TRANSFORMER_SCRIPT"`
	MappingsDir string            `env:"TRANSFORMER_MAPPINGS_DIR"`
	Mappings    map[string]string `env:"TRANSFORMER_MAPPINGS" envSeparator:";" envKeyValSeparator:"="`
	Timeout     time.Duration     `env:"TRANSFORMER_TIMEOUT" envDefault:"30s"`
	WorkDir     string            `env:"TRANSFORMER_WORK_DIR"`
}

type HandlerConfig struct {
	ID string `env:"HANDLER_ID" envDefault:"indexer"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Transformer.WorkDir == "" {
		cfg.Transformer.WorkDir = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural values. Whether the referenced files and
// endpoints are actually usable is decided by the handler readiness check.
func (c *Config) Validate() error {
	var errs []error
	if c.Handler.ID == "" {
		errs = append(errs, errors.New("handler: id is required"))
	}
	if c.Kafka.Consumers < 0 {
		errs = append(errs, fmt.Errorf("kafka: invalid consumer count %d", c.Kafka.Consumers))
	}
	if c.Kafka.Consumers > 0 && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: brokers are required"))
	}
	if c.Repository.MaxRetries < 0 {
		errs = append(errs, errors.New("repository: max retries cannot be negative"))
	}
	if c.Repository.Timeout <= 0 {
		errs = append(errs, errors.New("repository: timeout must be positive"))
	}
	if c.Transformer.Timeout <= 0 {
		errs = append(errs, errors.New("transformer: timeout must be positive"))
	}
	return errors.Join(errs...)
}
