package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

const (
	BackendLocal = "local"
	BackendR2    = "r2"

	AuthModeStub  = "stub"
	AuthModeToken = "token"
)

type R2Config struct {
	AccountID       string `env:"R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	BucketName      string `env:"R2_BUCKET_NAME"`
	Region          string `env:"R2_REGION" envDefault:"auto"`
}

type BootstrapAdmin struct {
	Name     string `env:"BOOTSTRAP_ADMIN_NAME" envDefault:"Super Admin"`
	Email    string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	Password string `env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// Config is built once by the process at startup and handed to each component.
type Config struct {
	DB_URL      string `env:"DB_URL"`
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"15m"`
	RefreshTTL  time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	AuthMode    string        `env:"AUTH_MODE" envDefault:"token"`
	AuthJWKSURL string        `env:"AUTH_JWKS_URL"`

	RefreshPruneInterval time.Duration `env:"REFRESH_PRUNE_INTERVAL" envDefault:"1h"`

	ArtifactBackend     string `env:"ARTIFACT_BACKEND" envDefault:"local"`
	StorageRoot         string `env:"STORAGE_ROOT" envDefault:"uploads/users"`
	MaxUploadBytes      int64  `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	RequireProfileImage bool   `env:"REQUIRE_PROFILE_IMAGE" envDefault:"true"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	R2        R2Config
	Bootstrap BootstrapAdmin
}

// Load reads the optional .env file and parses the environment into a Config.
// It reports whether the .env file was found so the caller can log it once a
// logger exists.
func Load() (*Config, bool, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	loaded := godotenv.Load(envFile) == nil

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, loaded, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

func (c *Config) validate() error {
	c.DB_URL = strings.TrimSpace(c.DB_URL)
	if c.DB_URL == "" {
		return errors.New("DB_URL is required")
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 5 << 20
	}

	switch c.ArtifactBackend {
	case BackendLocal:
		if strings.TrimSpace(c.StorageRoot) == "" {
			return errors.New("STORAGE_ROOT is required for the local artifact backend")
		}
	case BackendR2:
		if c.R2.AccountID == "" || c.R2.AccessKeyID == "" || c.R2.SecretAccessKey == "" || c.R2.BucketName == "" {
			return errors.New("R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME are required for the r2 artifact backend")
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_BACKEND %q", c.ArtifactBackend)
	}

	switch c.AuthMode {
	case AuthModeStub:
	case AuthModeToken:
		if c.JWTSecret == "" && c.AuthJWKSURL == "" {
			return errors.New("JWT_SECRET or AUTH_JWKS_URL is required when AUTH_MODE is token")
		}
		// Login signs HS256 with JWT_SECRET; a JWKS verifier would reject
		// every one of those tokens.
		if c.JWTSecret != "" && c.AuthJWKSURL != "" {
			return errors.New("JWT_SECRET and AUTH_JWKS_URL are mutually exclusive: set JWT_SECRET to issue tokens here, or AUTH_JWKS_URL to accept tokens from an external issuer")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	return nil
}

// LoginEnabled reports whether this server issues its own tokens. Only then
// are the login, refresh and session routes served.
func (c *Config) LoginEnabled() bool {
	return c.AuthMode == AuthModeToken && c.JWTSecret != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) CorsConfig() cors.Options {
	return cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
}
