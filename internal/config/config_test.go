package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			shouldSet:    false,
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"valid integer", "200", 100, 200},
		{"negative integer", "-5", 100, -5},
		{"invalid integer falls back", "abc", 100, 100},
		{"float falls back", "1.5", 100, 100},
		{"unset", "", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envValue)
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT_VAR", tt.defaultValue))
		})
	}
}

func TestGetEnvTypedHelpers(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_BAD_FLOAT", "x")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_BAD_BOOL", "maybe")
	t.Setenv("TEST_DURATION", "750ms")
	t.Setenv("TEST_BAD_DURATION", "10")
	t.Setenv("TEST_LIST", " http://a.example , ,http://b.example")

	assert.InDelta(t, 2.5, getEnvAsFloat("TEST_FLOAT", 1), 1e-9)
	assert.InDelta(t, 1.0, getEnvAsFloat("TEST_BAD_FLOAT", 1), 1e-9)
	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.False(t, getEnvAsBool("TEST_BAD_BOOL", false))
	assert.Equal(t, 750*time.Millisecond, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_BAD_DURATION", time.Second))
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, getEnvAsList("TEST_LIST", nil))
	assert.Equal(t, []string{"*"}, getEnvAsList("TEST_LIST_UNSET", []string{"*"}))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.TopK)
	assert.InDelta(t, 50_000.0, cfg.RadiusMeters, 1e-9)
	assert.Equal(t, 15, cfg.MaxDepthLevels)
	assert.Equal(t, 1000, cfg.StorePageSize)
	assert.Equal(t, EmbeddingProviderTEI, cfg.EmbeddingProvider)
	assert.Equal(t, 384, cfg.EmbeddingDimensions)
	assert.Equal(t, 10*time.Second, cfg.EmbeddingTimeout)
	assert.Equal(t, 5*time.Second, cfg.GeocodeTimeout)
	assert.Equal(t, 20*time.Second, cfg.NarrationTimeout)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.GeocoderEnabled)
	assert.Empty(t, cfg.NarrationProvider)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.RiverEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/floats.db")
	t.Setenv("TOP_K", "10")
	t.Setenv("RADIUS_METERS", "25000")
	t.Setenv("EMBEDDING_PROVIDER", "google")
	t.Setenv("NARRATION_PROVIDER", "openai")
	t.Setenv("GEOCODER_ENABLED", "false")
	t.Setenv("MCP_ENABLED", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/floats.db", cfg.SQLitePath)
	assert.Equal(t, 10, cfg.TopK)
	assert.InDelta(t, 25_000.0, cfg.RadiusMeters, 1e-9)
	assert.Equal(t, EmbeddingProviderGoogle, cfg.EmbeddingProvider)
	assert.Equal(t, EmbeddingProviderOpenAI, cfg.NarrationProvider)
	assert.False(t, cfg.GeocoderEnabled)
	assert.True(t, cfg.MCPEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"unknown embedding provider", map[string]string{"EMBEDDING_PROVIDER": "cohere"}},
		{"unknown narration provider", map[string]string{"NARRATION_PROVIDER": "llama"}},
		{"zero top k", map[string]string{"TOP_K": "0"}},
		{"negative radius", map[string]string{"RADIUS_METERS": "-1"}},
		{"negative depth cap", map[string]string{"MAX_DEPTH_LEVELS": "-1"}},
		{"zero page size", map[string]string{"STORE_PAGE_SIZE": "0"}},
		{"zero dimensions", map[string]string{"EMBEDDING_DIMENSIONS": "0"}},
		{"zero timeout", map[string]string{"STORE_TIMEOUT": "0s"}},
		{"river on sqlite", map[string]string{"RIVER_ENABLED": "true", "STORE_DRIVER": "sqlite"}},
		{"river without workers", map[string]string{"RIVER_ENABLED": "true", "EMBEDDING_MAX_CONCURRENT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, cfg)
		})
	}
}
