package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/example/idcompare/internal/scoring"
)

// FileEnv names the environment variable pointing at an optional TOML file.
const FileEnv = "IDCOMPARE_CONFIG"

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr                   string `toml:"addr"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout bounds graceful shutdown.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StoreConfig locates Postgres and Redis.
type StoreConfig struct {
	DatabaseDSN string `toml:"database_dsn"`
	RedisAddr   string `toml:"redis_addr"`
}

// FaceConfig locates the face matcher gRPC service.
type FaceConfig struct {
	Addr           string `toml:"addr"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout bounds a single face comparison call.
func (c FaceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// VisionConfig configures the OpenAI-compatible vision endpoint.
type VisionConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Attempts       uint   `toml:"attempts"`
}

// Timeout bounds a single extraction request.
func (c VisionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuthConfig holds JWT settings. An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	JWTAudience string `toml:"jwt_audience"`
}

// ScoringConfig holds fusion weights and the match threshold.
type ScoringConfig struct {
	Weights        scoring.Weights `toml:"weights"`
	MatchThreshold float64         `toml:"match_threshold"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel string        `toml:"log_level"`
	HTTP     HTTPConfig    `toml:"http"`
	Store    StoreConfig   `toml:"store"`
	Face     FaceConfig    `toml:"face"`
	Vision   VisionConfig  `toml:"vision"`
	Auth     AuthConfig    `toml:"auth"`
	Scoring  ScoringConfig `toml:"scoring"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 15,
		},
		Store: StoreConfig{
			DatabaseDSN: "host=postgres user=postgres password=postgres dbname=idcompare port=5432 sslmode=disable",
			RedisAddr:   "redis:6379",
		},
		Face: FaceConfig{
			Addr:           "face-matcher:50051",
			TimeoutSeconds: 10,
		},
		Vision: VisionConfig{
			BaseURL:        "http://vision:8000/v1",
			Model:          "Qwen/Qwen2-VL-7B-Instruct",
			TimeoutSeconds: 60,
			Attempts:       3,
		},
		Scoring: ScoringConfig{
			Weights:        scoring.DefaultWeights(),
			MatchThreshold: 0.7,
		},
	}
}

// Load reads .env (if present), then the TOML file named by IDCOMPARE_CONFIG
// (if set), then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"LOG_LEVEL":         &c.LogLevel,
		"HTTP_ADDR":         &c.HTTP.Addr,
		"DATABASE_DSN":      &c.Store.DatabaseDSN,
		"REDIS_ADDR":        &c.Store.RedisAddr,
		"FACE_MATCHER_ADDR": &c.Face.Addr,
		"VISION_BASE_URL":   &c.Vision.BaseURL,
		"VISION_API_KEY":    &c.Vision.APIKey,
		"VISION_MODEL":      &c.Vision.Model,
		"JWT_SECRET":        &c.Auth.JWTSecret,
		"JWT_AUDIENCE":      &c.Auth.JWTAudience,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	seconds := map[string]*int{
		"HTTP_SHUTDOWN_TIMEOUT_SECONDS": &c.HTTP.ShutdownTimeoutSeconds,
		"FACE_MATCHER_TIMEOUT_SECONDS":  &c.Face.TimeoutSeconds,
		"VISION_TIMEOUT_SECONDS":        &c.Vision.TimeoutSeconds,
	}
	for key, dst := range seconds {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"FACE_WEIGHT":     &c.Scoring.Weights.Face,
		"TEXT_WEIGHT":     &c.Scoring.Weights.Text,
		"MATCH_THRESHOLD": &c.Scoring.MatchThreshold,
	}
	for key, dst := range floats {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = f
	}

	if v, ok := lookup("VISION_ATTEMPTS"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid VISION_ATTEMPTS: %w", err)
		}
		c.Vision.Attempts = uint(n)
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Scoring.Weights.Face < 0 || c.Scoring.Weights.Text < 0 {
		return fmt.Errorf("fusion weights must not be negative (face=%v text=%v)", c.Scoring.Weights.Face, c.Scoring.Weights.Text)
	}
	if c.Scoring.MatchThreshold < 0 || c.Scoring.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be within [0, 1], got %v", c.Scoring.MatchThreshold)
	}
	if c.Vision.Attempts == 0 {
		return errors.New("vision attempts must be at least 1")
	}
	if c.HTTP.ShutdownTimeoutSeconds <= 0 || c.Face.TimeoutSeconds <= 0 || c.Vision.TimeoutSeconds <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http addr is required")
	}
	return nil
}
