package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	OCR      CollaboratorConfig
	Face     FaceConfig
	Pipeline PipelineConfig
}

// HTTPConfig configures the public HTTP server.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// PostgresConfig configures verdict persistence.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the verdict cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig configures JWT validation on the verify routes.
type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

// CollaboratorConfig points at an external collaborator service.
type CollaboratorConfig struct {
	BaseURL string
	Timeout time.Duration
}

// FaceConfig configures the face matcher collaborator and the score
// thresholds applied to its output. Scores are in [0,1].
type FaceConfig struct {
	BaseURL             string
	Timeout             time.Duration
	CardFaceThreshold   float64
	PersonFaceThreshold float64
}

// PipelineConfig tunes the orchestration engine.
type PipelineConfig struct {
	RetryAttempts  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TaskTTL        time.Duration
	JanitorPeriod  time.Duration
	MaxImageBytes  int
}

// Load reads configuration from an optional .env file and the environment,
// environment taking precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.AutomaticEnv()

	// The config file is optional; env-only deployments are fine.
	_ = v.ReadInConfig()

	// Defaults apply only when a key is absent, so an explicitly configured
	// zero (e.g. a disabled threshold) is honored.
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=idverify port=5432 sslmode=disable")
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "dev-secret")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("OCR_BASE_URL", "http://ocr-service:9000")
	v.SetDefault("OCR_TIMEOUT", 20*time.Second)
	v.SetDefault("FACE_BASE_URL", "http://face-service:9001")
	v.SetDefault("FACE_TIMEOUT", 20*time.Second)
	v.SetDefault("FACE_CARD_THRESHOLD", 0.8)
	v.SetDefault("FACE_PERSON_THRESHOLD", 0.6)
	v.SetDefault("STAGE_RETRY_ATTEMPTS", 2)
	v.SetDefault("STAGE_INITIAL_BACKOFF", 100*time.Millisecond)
	v.SetDefault("STAGE_MAX_BACKOFF", 2*time.Second)
	v.SetDefault("TASK_TTL", 30*time.Minute)
	v.SetDefault("TASK_JANITOR_PERIOD", time.Minute)
	v.SetDefault("MAX_IMAGE_BYTES", 5<<20)

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("HTTP_ADDR"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
		},
		Postgres: PostgresConfig{
			DSN: v.GetString("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("JWT_SECRET"),
			JWTAudience: v.GetString("JWT_AUDIENCE"),
		},
		OCR: CollaboratorConfig{
			BaseURL: v.GetString("OCR_BASE_URL"),
			Timeout: v.GetDuration("OCR_TIMEOUT"),
		},
		Face: FaceConfig{
			BaseURL:             v.GetString("FACE_BASE_URL"),
			Timeout:             v.GetDuration("FACE_TIMEOUT"),
			CardFaceThreshold:   v.GetFloat64("FACE_CARD_THRESHOLD"),
			PersonFaceThreshold: v.GetFloat64("FACE_PERSON_THRESHOLD"),
		},
		Pipeline: PipelineConfig{
			RetryAttempts:  v.GetInt("STAGE_RETRY_ATTEMPTS"),
			InitialBackoff: v.GetDuration("STAGE_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("STAGE_MAX_BACKOFF"),
			TaskTTL:        v.GetDuration("TASK_TTL"),
			JanitorPeriod:  v.GetDuration("TASK_JANITOR_PERIOD"),
			MaxImageBytes:  v.GetInt("MAX_IMAGE_BYTES"),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.OCR.BaseURL == "" {
		return fmt.Errorf("OCR base URL is required")
	}
	if c.Face.BaseURL == "" {
		return fmt.Errorf("face matcher base URL is required")
	}
	if c.Pipeline.RetryAttempts < 1 {
		return fmt.Errorf("stage retry attempts must be at least 1")
	}
	return nil
}
