// Package config loads the service configuration from the environment.
// An optional .env file in the working directory is read first; variables
// already set in the process environment win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageLocal = "local"
	StorageMinIO = "minio"
)

const (
	MailSMTP = "smtp"
	MailLog  = "log"
)

type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Storage StorageConfig
	MinIO   MinIOConfig
	Redis   RedisConfig
	Mail    MailConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port          int
	DBPath        string
	FrontendURL   string
	PublicBaseURL string
	// AuthRateLimit is the number of login/register requests allowed per
	// client IP per minute. Zero disables the limiter.
	AuthRateLimit int
	// UploadTimeout is how long a survey submission may take to arrive.
	UploadTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret      string
	SessionTTL     time.Duration
	AccessTokenTTL time.Duration
}

type StorageConfig struct {
	Backend       string
	UploadDir     string
	MaxAudioBytes int64
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// RedisConfig is optional. An empty Addr keeps submission locking in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MailConfig selects how approval links reach participants. Backend "log"
// only writes them to the server log and must be chosen explicitly.
type MailConfig struct {
	Backend  string
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// OAuth2 refresh-token credentials. When set they replace Password.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
}

// UsesOAuth reports whether the mailer should authenticate with XOAUTH2.
func (m MailConfig) UsesOAuth() bool {
	return m.OAuthClientID != "" && m.OAuthClientSecret != "" && m.OAuthRefreshToken != ""
}

type LogConfig struct {
	Level  string
	Format string
}

// Load builds Config from the environment with defaults for everything but
// the JWT secret. Call Validate before using the result.
func Load() *Config {
	_ = godotenv.Load()

	port := getEnvAsInt("PORT", 8080)

	return &Config{
		Server: ServerConfig{
			Port:          port,
			DBPath:        getEnv("DB_PATH", "data/survey.db"),
			FrontendURL:   strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
			AuthRateLimit: getEnvAsInt("AUTH_RATE_LIMIT", 20),
			UploadTimeout: getEnvAsDuration("UPLOAD_TIMEOUT", 10*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			SessionTTL:     getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),
			UploadDir:     getEnv("UPLOAD_DIR", "uploads/audio"),
			MaxAudioBytes: int64(getEnvAsInt("MAX_AUDIO_BYTES", 10<<20)),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnv("MINIO_BUCKET", "survey-audio"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mail: MailConfig{
			Backend:           strings.ToLower(getEnv("MAIL_BACKEND", MailSMTP)),
			Host:              getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:              getEnvAsInt("SMTP_PORT", 465),
			Username:          os.Getenv("SMTP_USERNAME"),
			Password:          os.Getenv("SMTP_PASSWORD"),
			From:              getEnv("MAIL_FROM", os.Getenv("SMTP_USERNAME")),
			OAuthClientID:     os.Getenv("MAIL_OAUTH_CLIENT_ID"),
			OAuthClientSecret: os.Getenv("MAIL_OAUTH_CLIENT_SECRET"),
			OAuthRefreshToken: os.Getenv("MAIL_OAUTH_REFRESH_TOKEN"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be set and at least 16 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Server.Port))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.Server.UploadTimeout <= 0 {
		errs = append(errs, errors.New("UPLOAD_TIMEOUT must be positive"))
	}
	if c.Storage.MaxAudioBytes <= 0 {
		errs = append(errs, errors.New("MAX_AUDIO_BYTES must be positive"))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR must be set for the local storage backend"))
		}
	case StorageMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT and MINIO_BUCKET must be set for the minio storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q (want %q or %q)", c.Storage.Backend, StorageLocal, StorageMinIO))
	}

	switch c.Mail.Backend {
	case MailSMTP, MailLog:
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_BACKEND %q (want %q or %q)", c.Mail.Backend, MailSMTP, MailLog))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
