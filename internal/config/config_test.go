package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		require.NoError(t, LoadConfig())
		cfg := GetAppConfig()

		assert.Equal(t, "8000", cfg.Server.Port)
		assert.Equal(t, "https://api.mistral.ai/v1", cfg.AI.BaseURL)
		assert.Equal(t, "mistral-small-latest", cfg.AI.ChatModel)
		assert.Equal(t, "mistral-embed", cfg.AI.EmbeddingModel)
		assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
		assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
		assert.Equal(t, 4, cfg.Knowledge.DefaultTopK)
		assert.False(t, cfg.Database.Enabled)
		assert.False(t, cfg.Redis.Enabled)
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("AI_CHAT_MODEL", "mistral-large-latest")
		t.Setenv("CHUNK_SIZE", "500")
		t.Setenv("CHUNK_OVERLAP", "50")

		require.NoError(t, LoadConfig())
		cfg := GetAppConfig()
		assert.Equal(t, "mistral-large-latest", cfg.AI.ChatModel)
		assert.Equal(t, 500, cfg.Knowledge.ChunkSize)
		assert.Equal(t, 50, cfg.Knowledge.ChunkOverlap)
	})

	t.Run("rejects overlap >= size", func(t *testing.T) {
		t.Setenv("CHUNK_SIZE", "100")
		t.Setenv("CHUNK_OVERLAP", "100")

		err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chunk_overlap")
	})
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: "6380"}
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
}
