package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/tickler/internal/api"
	"github.com/lalithlochan/tickler/internal/calendar"
	"github.com/lalithlochan/tickler/internal/config"
	"github.com/lalithlochan/tickler/internal/db"
	"github.com/lalithlochan/tickler/internal/dispatch"
	"github.com/lalithlochan/tickler/internal/metrics"
	"github.com/lalithlochan/tickler/internal/observ"
	"github.com/lalithlochan/tickler/internal/redis"
	"github.com/lalithlochan/tickler/internal/resolve"
	"github.com/lalithlochan/tickler/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting tickler gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("notify_channel", cfg.NotifyChannel),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for idempotency and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per owner
		})
		defer redisClient.Close()
	}

	// Select the notification channel
	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create notification dispatcher: %w", err)
	}

	// Wrap in a circuit breaker so a dead channel fails fast; undelivered
	// reminders are picked up again by later sweeps.
	dispatcher = dispatch.NewBreaker(dispatcher, dispatch.BreakerConfig{}, logger)

	logger.Info("notification channel ready",
		zap.String("channel", cfg.NotifyChannel),
	)

	// Time resolution for free-text reminders
	bias := resolve.BiasFuture
	if cfg.ResolveBias == "none" {
		bias = resolve.BiasNone
	}
	resolver := resolve.New(resolve.Config{Bias: bias})

	// Calendar mirroring, enabled only when an OAuth client is configured
	authCfg := calendar.AuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       cfg.OAuthScopes,
	}

	var mirror *calendar.Mirror
	var authorizer *calendar.Authorizer
	if authCfg.Enabled() && cfg.CalDAVURL != "" {
		mirror = calendar.NewMirror(repo, authCfg.OAuth2(), calendar.Config{
			ServerURL: cfg.CalDAVURL,
			Timeout:   cfg.CalendarTimeout,
		}, logger)
		authorizer = calendar.NewAuthorizer(authCfg, repo, logger)
		logger.Info("calendar mirroring enabled",
			zap.String("caldav_url", cfg.CalDAVURL),
		)
	} else {
		logger.Info("calendar mirroring disabled")
	}

	// Background sweep for due reminders
	sweeper := scheduler.New(repo, dispatcher, scheduler.Config{
		SweepInterval:   cfg.SweepInterval,
		DispatchTimeout: cfg.NotifyTimeout,
	}, logger)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	logger.Info("reminder sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, repo, resolver, idempotencyService)
	} else {
		handler = api.NewHandler(logger, repo, resolver)
	}
	if mirror != nil {
		handler = handler.WithMirror(mirror)
	}

	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.OwnerKeyFunc))

		r.Post("/reminders", handler.CreateReminder)
		r.Get("/reminders", handler.ListReminders)
		r.Get("/reminders/{id}", handler.GetReminder)
		r.Delete("/reminders/{id}", handler.DeleteReminder)

		if authorizer != nil {
			oauthHandler := api.NewOAuthHandler(logger, authorizer)
			r.Get("/calendar/authorize", oauthHandler.Authorize)
			r.Get("/calendar/callback", oauthHandler.Callback)
		}
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newDispatcher builds the configured notification channel. One channel is
// active per deployment.
func newDispatcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Dispatcher, error) {
	switch cfg.NotifyChannel {
	case config.ChannelWebhook:
		return dispatch.NewWebhookDispatcher(dispatch.WebhookConfig{
			URL:     cfg.NotifyURL,
			Timeout: cfg.NotifyTimeout,
		}, logger), nil
	case config.ChannelSNS:
		return dispatch.NewSNSDispatcher(ctx, dispatch.SNSConfig{
			Region: cfg.AWSRegion,
		}, logger)
	case config.ChannelSES:
		return dispatch.NewSESDispatcher(ctx, dispatch.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
	default:
		return dispatch.NewLogDispatcher(logger), nil
	}
}
