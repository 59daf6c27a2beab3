// Package server wires the services, handlers and middleware into one HTTP
// server and runs it until the context is cancelled.
//
// New is the composition root for the HTTP side: it receives the storage
// backends already opened by main and builds every service and handler on
// top of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/survey-access/internal/auth"
	"github.com/sakif/survey-access/internal/handler"
	"github.com/sakif/survey-access/internal/lock"
	"github.com/sakif/survey-access/internal/middleware"
	"github.com/sakif/survey-access/internal/model"
	"github.com/sakif/survey-access/internal/notify"
	sqliteRepo "github.com/sakif/survey-access/internal/repository/sqlite"
	"github.com/sakif/survey-access/internal/service"
	"github.com/sakif/survey-access/internal/storage"
)

// shutdownTimeout is how long in-flight requests get after a stop signal.
const shutdownTimeout = 30 * time.Second

// Connection deadlines. The body deadline covers every route except survey
// submission, which moves its own deadlines to Config.UploadTimeout.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 60 * time.Second
)

// Config holds the HTTP-facing settings.
type Config struct {
	Port           int
	FrontendURL    string
	PublicBaseURL  string
	JWTSecret      string
	SessionTTL     time.Duration
	AccessTokenTTL time.Duration
	MaxAudioBytes  int64
	// AuthRateLimit is requests per minute per client IP on login and
	// register. Zero disables it.
	AuthRateLimit int
	// UploadTimeout bounds a survey submission from its first body byte to
	// the response. Zero uses handler.DefaultUploadTimeout.
	UploadTimeout time.Duration
}

// Deps are the backends the server builds its services on. main opens them
// and owns closing them.
type Deps struct {
	DB       *sqliteRepo.DB
	Audio    storage.AudioStore
	Locker   lock.Locker
	Notifier notify.Notifier
}

// Server is the HTTP server with its routes.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New builds the services and handlers and registers every route.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	surveys := service.NewSurveyService(
		deps.DB.Surveys(),
		deps.DB.Users(),
		deps.Audio,
		deps.Locker,
		service.SurveyOptions{PublicBaseURL: cfg.PublicBaseURL, MaxAudioBytes: cfg.MaxAudioBytes},
		logger,
	)
	accounts := service.NewAuthService(
		deps.DB.Users(),
		surveys,
		tokens,
		auth.NewPasswordService(),
		deps.Notifier,
		service.AuthOptions{FrontendURL: cfg.FrontendURL, AccessTokenTTL: cfg.AccessTokenTTL},
		logger,
	)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.routes(tokens, deps.DB.Users(), accounts, surveys)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes registers the middleware stack and the API.
//
// Middleware order: request id, real IP, request log, panic recovery, CORS.
// RealIP runs before the rate limiter so clients behind the proxy get their
// own buckets.
func (s *Server) routes(tokens *auth.TokenService, users auth.UserLookup, accounts handler.Accounts, surveys handler.Surveys) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderToken},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(accounts, s.logger)
	userHandler := handler.NewUserHandler(accounts, s.logger)
	surveyHandler := handler.NewSurveyHandler(surveys, s.config.MaxAudioBytes, s.config.UploadTimeout, s.logger)

	requireAuth := auth.RequireAuth(tokens)
	requireAdmin := auth.RequireRole(users, model.RoleAdmin)

	limited := func(h http.Handler) http.Handler { return h }
	if s.config.AuthRateLimit > 0 {
		limited = middleware.NewRateLimiter(s.config.AuthRateLimit).Handler
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(limited).Post("/register", authHandler.HandleRegister)
			r.With(limited).Post("/login", authHandler.HandleLogin)
			r.Get("/verify-token/{token}", authHandler.HandleVerifyToken)
			r.With(requireAuth, requireAdmin).Post("/approve/{userId}", authHandler.HandleApprove)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", userHandler.HandleMe)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/", userHandler.HandleList)
				r.Get("/pending", userHandler.HandlePending)
				r.Delete("/{id}", userHandler.HandleDelete)
			})
		})

		r.Route("/survey", func(r chi.Router) {
			r.Post("/submit", surveyHandler.HandleSubmit)
			r.Get("/check-submission/{userId}", surveyHandler.HandleCheckSubmission)
			r.Get("/audio/{filename}", surveyHandler.HandleAudio)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, requireAdmin)
				r.Get("/", surveyHandler.HandleList)
				r.Get("/export/csv", surveyHandler.HandleExportCSV)
				r.Get("/{id}", surveyHandler.HandleGetByID)
			})
		})
	})
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := s.httpServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("frontend", s.config.FrontendURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
