package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/survey-access/internal/app"
	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/config"
	sqliteRepo "github.com/sakif/survey-access/internal/repository/sqlite"
	"github.com/sakif/survey-access/internal/service"
)

var (
	flagDBPath string

	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
)

var rootCmd = &cobra.Command{
	Use:   "surveyctl",
	Short: "Manage survey accounts and responses from the terminal",
	Long: `surveyctl works directly on the survey database, using the same
environment (and .env file) as the server.

  surveyctl create-admin --name Ada --email ada@example.com --password ...
  surveyctl pending
  surveyctl approve <user-id>
  surveyctl export --out responses.csv`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if flagDBPath != "" {
			cfg.Server.DBPath = flagDBPath
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger = app.NewLogger(cfg.Log, cmd.ErrOrStderr())

		var err error
		db, err = app.OpenDB(cfg.Server.DBPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Database path (default: DB_PATH or data/survey.db)")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if db != nil {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		db = nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// newAuthService builds the account service on the open database. out is
// where approval links go with MAIL_BACKEND=log.
func newAuthService(cmd *cobra.Command, out io.Writer) (*service.AuthService, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, err
	}

	notifier, err := app.NewNotifier(cmd.Context(), cfg.Mail, slog.New(slog.NewTextHandler(out, nil)))
	if err != nil {
		return nil, err
	}

	return service.NewAuthService(
		db.Users(),
		nil,
		tokens,
		auth.NewPasswordService(),
		notifier,
		service.AuthOptions{FrontendURL: cfg.Server.FrontendURL, AccessTokenTTL: cfg.Auth.AccessTokenTTL},
		logger,
	), nil
}
