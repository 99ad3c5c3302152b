package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_ACCESS_KEY_ID", "minio")
	t.Setenv("S3_SECRET_ACCESS_KEY", "minio123")
	t.Setenv("TRANSCRIPT_STORAGE_BUCKET", "transcripts")
	t.Setenv("DATABASE_URL", "postgres://localhost/reflector")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ASR_BASE_URL", "http://localhost:9001")
	t.Setenv("LLM_BASE_URL", "http://localhost:9002")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.WaveformSegments)
	assert.Equal(t, 300, cfg.TopicChunkWordCount)
	assert.Equal(t, 5, cfg.LLMRetryNetworkAttempts)
	assert.Equal(t, 3, cfg.LLMRetryParseAttempts)
	assert.True(t, cfg.LLMRetryWaitJitter)
	assert.Equal(t, 60*time.Second, cfg.TimeoutShort)
	assert.Equal(t, 300*time.Second, cfg.TimeoutMedium)
	assert.Equal(t, 600*time.Second, cfg.TimeoutLong)
	assert.Equal(t, 900*time.Second, cfg.TimeoutHeavy)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WAVEFORM_SEGMENTS", "500")
	t.Setenv("TOPIC_CHUNK_WORD_COUNT", "150")
	t.Setenv("TIMEOUT_HEAVY", "1200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.WaveformSegments)
	assert.Equal(t, 150, cfg.TopicChunkWordCount)
	assert.Equal(t, 1200*time.Second, cfg.TimeoutHeavy)
}

func TestLoad_MissingRequiredFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoad_InvalidURLFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ASR_BASE_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
}
