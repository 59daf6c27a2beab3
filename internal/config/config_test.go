package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "STORAGE_BACKEND", "PUBLIC_BASE_URL", "ACCESS_TOKEN_TTL", "MAX_AUDIO_BYTES", "MAIL_BACKEND", "UPLOAD_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.DBPath != "data/survey.db" {
		t.Errorf("DBPath = %q", cfg.Server.DBPath)
	}
	if cfg.Server.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("PublicBaseURL = %q", cfg.Server.PublicBaseURL)
	}
	if cfg.Storage.Backend != StorageLocal {
		t.Errorf("Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Storage.MaxAudioBytes != 10*1024*1024 {
		t.Errorf("MaxAudioBytes = %d, want 10 MiB", cfg.Storage.MaxAudioBytes)
	}
	if cfg.Auth.AccessTokenTTL != 7*24*time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 168h", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Mail.Backend != MailSMTP {
		t.Errorf("Mail.Backend = %q, want smtp unless log is asked for", cfg.Mail.Backend)
	}
	if cfg.Server.UploadTimeout != 10*time.Minute {
		t.Errorf("UploadTimeout = %v, want 10m", cfg.Server.UploadTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://survey.example.org/")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.FrontendURL != "https://survey.example.org" {
		t.Errorf("FrontendURL = %q, want trailing slash trimmed", cfg.Server.FrontendURL)
	}
	if cfg.Storage.Backend != StorageMinIO || !cfg.MinIO.UseSSL {
		t.Errorf("storage = %+v / %+v", cfg.Storage, cfg.MinIO)
	}
	if cfg.Auth.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.Auth.SessionTTL)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Redis.DB = %d", cfg.Redis.DB)
	}
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("SESSION_TTL", "forever")

	cfg := Load()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Server.Port)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want fallback 24h", cfg.Auth.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		t.Setenv("JWT_SECRET", "0123456789abcdef")
		t.Setenv("STORAGE_BACKEND", "")
		t.Setenv("LOG_FORMAT", "")
		t.Setenv("MAIL_BACKEND", "")
		return Load()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "STORAGE_BACKEND"},
		{"minio without bucket", func(c *Config) { c.Storage.Backend = StorageMinIO; c.MinIO.Bucket = "" }, "MINIO_BUCKET"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"zero audio limit", func(c *Config) { c.Storage.MaxAudioBytes = 0 }, "MAX_AUDIO_BYTES"},
		{"zero upload timeout", func(c *Config) { c.Server.UploadTimeout = 0 }, "UPLOAD_TIMEOUT"},
		{"log mail backend", func(c *Config) { c.Mail.Backend = MailLog }, ""},
		{"unknown mail backend", func(c *Config) { c.Mail.Backend = "pigeon" }, "MAIL_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestMailConfig_UsesOAuth(t *testing.T) {
	m := MailConfig{OAuthClientID: "id", OAuthClientSecret: "secret"}
	if m.UsesOAuth() {
		t.Error("UsesOAuth() = true without a refresh token")
	}
	m.OAuthRefreshToken = "refresh"
	if !m.UsesOAuth() {
		t.Error("UsesOAuth() = false with full credentials")
	}
}
