// Command server runs the survey access API.
//
// Configuration comes from the environment (and an optional .env file); see
// internal/config for the variables.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/survey-access/internal/app"
	"github.com/sakif/survey-access/internal/config"
	"github.com/sakif/survey-access/internal/server"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := app.NewLogger(cfg.Log, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(cfg.Server.DBPath)
	if err != nil {
		logger.Error("failed to open database",
			slog.String("path", cfg.Server.DBPath),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer db.Close()

	audio, err := app.OpenAudioStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open audio storage", slog.String("error", err.Error()))
		return err
	}

	locker, closeLocker, err := app.OpenLocker(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to open submission lock", slog.String("error", err.Error()))
		return err
	}
	defer closeLocker()

	notifier, err := app.NewNotifier(ctx, cfg.Mail, logger)
	if err != nil {
		logger.Error("failed to configure mail", slog.String("error", err.Error()))
		return err
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Server.Port,
		FrontendURL:    cfg.Server.FrontendURL,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		JWTSecret:      cfg.Auth.JWTSecret,
		SessionTTL:     cfg.Auth.SessionTTL,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		MaxAudioBytes:  cfg.Storage.MaxAudioBytes,
		AuthRateLimit:  cfg.Server.AuthRateLimit,
		UploadTimeout:  cfg.Server.UploadTimeout,
	}, server.Deps{
		DB:       db,
		Audio:    audio,
		Locker:   locker,
		Notifier: notifier,
	}, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
