package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docground")
	t.Setenv("CHUNK_SIZE", "")

	cfg := LoadConfig()

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 16, cfg.EmbedBatchSize)
	assert.Equal(t, 4, cfg.EmbedMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.EmbedBackoffBase)
	assert.Equal(t, 0.75, cfg.RetrievalMinSimilarity)
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.False(t, cfg.RetrievalQueryVariations)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverridesAndMalformed(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docground")
	t.Setenv("CHUNK_SIZE", "512")
	t.Setenv("CHUNK_OVERLAP", "sixty")
	t.Setenv("EMBED_TIMEOUT", "5s")
	t.Setenv("RETRIEVAL_MIN_SIMILARITY", "0.9")
	t.Setenv("RETRIEVAL_QUERY_VARIATIONS", "true")

	cfg := LoadConfig()

	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap, "malformed value falls back to default")
	assert.Equal(t, 5*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 0.9, cfg.RetrievalMinSimilarity)
	assert.True(t, cfg.RetrievalQueryVariations)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docground")

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"overlap equals size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, "CHUNK_OVERLAP"},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, "CHUNK_OVERLAP"},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, "CHUNK_SIZE"},
		{"similarity out of range", func(c *Config) { c.RetrievalMinSimilarity = 1.5 }, "RETRIEVAL_MIN_SIMILARITY"},
		{"zero top k", func(c *Config) { c.RetrievalTopK = 0 }, "RETRIEVAL_TOP_K"},
		{"zero attempts", func(c *Config) { c.EmbedMaxAttempts = 0 }, "EMBED_MAX_ATTEMPTS"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"zero embed timeout", func(c *Config) { c.EmbedTimeout = 0 }, "EMBED_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateSQLiteNeedsNoDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", StoreDriverSQLite)

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
}

func TestOCRLanguageList(t *testing.T) {
	cfg := &Config{OCRLanguages: "eng+deu, fra"}
	assert.Equal(t, []string{"eng", "deu", "fra"}, cfg.OCRLanguageList())
}

func TestValidateMemoryDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
}
