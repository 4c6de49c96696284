package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPOSITORY_BASE_URL", "http://repo.local/api/v1/dataresources")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "indexer", cfg.Handler.ID)
	assert.Equal(t, 30*time.Second, cfg.Transformer.Timeout)
	assert.Equal(t, os.TempDir(), cfg.Transformer.WorkDir)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Repository.MaxRetries)
	assert.False(t, cfg.Storage.Enabled)
}

func TestLoadMappings(t *testing.T) {
	t.Setenv("TRANSFORMER_MAPPINGS", "application/ld+json=ld.mapping;application/vnd.datamanager.data-resource+json=resource.mapping")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"application/ld+json": "ld.mapping",
		"application/vnd.datamanager.data-resource+json": "resource.mapping",
	}, cfg.Transformer.Mappings)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Kafka:       KafkaConfig{Consumers: 2},
		Repository:  RepositoryConfig{MaxRetries: -1},
		Transformer: TransformerConfig{},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"handler: id is required",
		"kafka: brokers are required",
		"repository: max retries cannot be negative",
		"repository: timeout must be positive",
		"transformer: timeout must be positive",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
