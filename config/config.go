// Package config loads worker configuration from the environment via
// viper, validated with go-playground/validator struct tags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every environment-driven setting the pipeline needs.
type Config struct {
	// Object store
	S3Endpoint        string `mapstructure:"S3_ENDPOINT" validate:"required"`
	S3Region          string `mapstructure:"S3_REGION" validate:"required"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID" validate:"required"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY" validate:"required"`
	TranscriptBucket  string `mapstructure:"TRANSCRIPT_STORAGE_BUCKET" validate:"required"`

	// TranscriptStore
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	// ProgressBus
	RedisAddr string `mapstructure:"REDIS_ADDR" validate:"required"`

	// RemoteASR
	ASRBaseURL string `mapstructure:"ASR_BASE_URL" validate:"required,url"`

	// RemoteLLM
	LLMBaseURL string `mapstructure:"LLM_BASE_URL" validate:"required,url"`
	LLMAPIKey  string `mapstructure:"LLM_API_KEY"`

	// Webhook / notifications
	WebhookURL    string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	ZulipSiteURL  string `mapstructure:"ZULIP_SITE_URL"`
	ZulipAPIKey   string `mapstructure:"ZULIP_API_KEY"`

	// Pipeline tunables.
	WaveformSegments        int  `mapstructure:"WAVEFORM_SEGMENTS" validate:"min=1"`
	TopicChunkWordCount     int  `mapstructure:"TOPIC_CHUNK_WORD_COUNT" validate:"min=1"`
	PresignedURLTTLSeconds  int  `mapstructure:"PRESIGNED_URL_TTL_SECONDS" validate:"min=1"`
	LLMRetryNetworkAttempts int  `mapstructure:"LLM_RETRY_NETWORK_ATTEMPTS" validate:"min=1"`
	LLMRetryParseAttempts   int  `mapstructure:"LLM_RETRY_PARSE_ATTEMPTS" validate:"min=1"`
	LLMRetryWaitJitter      bool `mapstructure:"LLM_RETRY_WAIT_JITTER"`

	TimeoutShort  time.Duration `mapstructure:"-"`
	TimeoutMedium time.Duration `mapstructure:"-"`
	TimeoutLong   time.Duration `mapstructure:"-"`
	TimeoutHeavy  time.Duration `mapstructure:"-"`

	TimeoutShortSeconds  int `mapstructure:"TIMEOUT_SHORT" validate:"min=1"`
	TimeoutMediumSeconds int `mapstructure:"TIMEOUT_MEDIUM" validate:"min=1"`
	TimeoutLongSeconds   int `mapstructure:"TIMEOUT_LONG" validate:"min=1"`
	TimeoutHeavySeconds  int `mapstructure:"TIMEOUT_HEAVY" validate:"min=1"`

	DataDir        string `mapstructure:"DATA_DIR" validate:"required"`
	WorkerPoolSize int    `mapstructure:"WORKER_POOL_SIZE" validate:"min=1"`
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional .env file
// in the current directory), applies defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal only sees keys viper knows about; env-only keys without
	// defaults must be bound explicitly.
	for _, key := range []string{
		"S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"TRANSCRIPT_STORAGE_BUCKET", "DATABASE_URL", "REDIS_ADDR",
		"ASR_BASE_URL", "LLM_BASE_URL", "LLM_API_KEY",
		"WEBHOOK_URL", "WEBHOOK_SECRET", "ZULIP_SITE_URL", "ZULIP_API_KEY",
	} {
		_ = v.BindEnv(key)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading .env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.TimeoutShort = time.Duration(cfg.TimeoutShortSeconds) * time.Second
	cfg.TimeoutMedium = time.Duration(cfg.TimeoutMediumSeconds) * time.Second
	cfg.TimeoutLong = time.Duration(cfg.TimeoutLongSeconds) * time.Second
	cfg.TimeoutHeavy = time.Duration(cfg.TimeoutHeavySeconds) * time.Second

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WAVEFORM_SEGMENTS", 1000)
	v.SetDefault("TOPIC_CHUNK_WORD_COUNT", 300)
	v.SetDefault("PRESIGNED_URL_TTL_SECONDS", 900)
	v.SetDefault("LLM_RETRY_NETWORK_ATTEMPTS", 5)
	v.SetDefault("LLM_RETRY_PARSE_ATTEMPTS", 3)
	v.SetDefault("LLM_RETRY_WAIT_JITTER", true)
	v.SetDefault("TIMEOUT_SHORT", 60)
	v.SetDefault("TIMEOUT_MEDIUM", 300)
	v.SetDefault("TIMEOUT_LONG", 600)
	v.SetDefault("TIMEOUT_HEAVY", 900)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("WORKER_POOL_SIZE", 8)
}
