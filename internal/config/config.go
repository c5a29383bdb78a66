package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr  string
	PostgresDSN string
	RedisAddr   string
	FrontendURL string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	ReplicateModel    string
	RequestTimeout    time.Duration

	DodoAPIKey        string
	DodoEnvironment   string
	DodoWebhookSecret string

	PostmarkServerToken string
	EmailFrom           string

	SignupCredits int
	SessionTTL    time.Duration
	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		FrontendURL:         strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		ReplicateBaseURL:    strings.TrimRight(getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"), "/"),
		ReplicateModel:      getEnv("REPLICATE_MODEL", "recraft-ai/recraft-v3"),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		DodoEnvironment:     strings.ToLower(getEnv("DODO_ENVIRONMENT", "test_mode")),
		PostmarkServerToken: os.Getenv("POSTMARK_SERVER_TOKEN"),
		EmailFrom:           getEnv("EMAIL_FROM", "no-reply@illustra.app"),
		SignupCredits:       getInt("SIGNUP_CREDITS", 3),
		SessionTTL:          time.Hour * 24 * time.Duration(getInt("SESSION_TTL_DAYS", 30)),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            getEnv("S3_BUCKET", "generated-images"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", ""),
	}

	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.ReplicateAPIToken = os.Getenv("REPLICATE_API_TOKEN")
	cfg.DodoAPIKey = os.Getenv("DODO_API_KEY")
	cfg.DodoWebhookSecret = os.Getenv("DODO_WEBHOOK_SECRET")

	if cfg.DodoEnvironment != "test_mode" && cfg.DodoEnvironment != "live_mode" {
		return Config{}, fmt.Errorf("invalid DODO_ENVIRONMENT %q (want test_mode or live_mode)", cfg.DodoEnvironment)
	}

	var missing []string
	if cfg.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if cfg.ReplicateAPIToken == "" {
		missing = append(missing, "REPLICATE_API_TOKEN")
	}
	if cfg.DodoAPIKey == "" {
		missing = append(missing, "DODO_API_KEY")
	}
	if cfg.DodoWebhookSecret == "" {
		missing = append(missing, "DODO_WEBHOOK_SECRET")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// DodoBaseURL returns the API host matching the configured environment.
func (c Config) DodoBaseURL() string {
	if c.DodoEnvironment == "live_mode" {
		return "https://live.dodopayments.com"
	}
	return "https://test.dodopayments.com"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running without a .env file is fine when variables come from the host.
	return nil
}
