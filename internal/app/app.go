// Package app builds the process-level pieces both binaries share: the
// logger and the storage, locking and mail backends chosen by configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/sakif/survey-access/internal/config"
	"github.com/sakif/survey-access/internal/lock"
	"github.com/sakif/survey-access/internal/notify"
	sqliteRepo "github.com/sakif/survey-access/internal/repository/sqlite"
	"github.com/sakif/survey-access/internal/storage"
)

// NewLogger returns a text or JSON slog logger writing to w at the
// configured level. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenDB creates the database directory if needed and opens the database.
func OpenDB(path string) (*sqliteRepo.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// OpenAudioStore returns the configured audio backend. The MinIO bucket is
// created if it does not exist yet.
func OpenAudioStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.AudioStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageMinIO:
		store, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("audio storage ready", slog.String("backend", "minio"), slog.String("bucket", cfg.MinIO.Bucket))
		return store, nil
	default:
		store, err := storage.NewLocal(cfg.Storage.UploadDir)
		if err != nil {
			return nil, err
		}
		logger.Info("audio storage ready", slog.String("backend", "local"), slog.String("dir", cfg.Storage.UploadDir))
		return store, nil
	}
}

// OpenLocker returns a Redis locker when REDIS_ADDR is set and an
// in-process one otherwise. The returned close function is never nil.
func OpenLocker(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (lock.Locker, func() error, error) {
	if cfg.Addr == "" {
		logger.Info("submission lock is in-process; set REDIS_ADDR when running several instances")
		return lock.NewLocal(), func() error { return nil }, nil
	}

	locker := lock.NewRedis(cfg.Addr, cfg.Password, cfg.DB, lock.DefaultTTL, logger)
	if err := locker.Ping(ctx); err != nil {
		locker.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("submission lock ready", slog.String("backend", "redis"), slog.String("addr", cfg.Addr))
	return locker, locker.Close, nil
}

// NewNotifier picks the approval mail transport. The smtp backend (the
// default) authenticates with XOAUTH2 when the OAuth credentials are set and
// with a password otherwise; it fails without an account. The log backend is
// only used when asked for.
func NewNotifier(ctx context.Context, cfg config.MailConfig, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Backend {
	case config.MailLog:
		logger.Warn("MAIL_BACKEND=log, approval links are written to the log and never emailed")
		return notify.LogNotifier{Logger: logger}, nil
	case config.MailSMTP, "":
	default:
		return nil, fmt.Errorf("unknown mail backend %q", cfg.Backend)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("SMTP_USERNAME is required when MAIL_BACKEND=%s (set MAIL_BACKEND=%s to log approval links instead)", config.MailSMTP, config.MailLog)
	}

	smtp := notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}

	var tokens oauth2.TokenSource
	auth := "password"
	if cfg.UsesOAuth() {
		tokens = notify.GmailTokenSource(ctx, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRefreshToken)
		auth = "xoauth2"
	}

	mailer, err := notify.NewMailer(smtp, tokens, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("approval mail ready",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("auth", auth),
	)
	return mailer, nil
}
