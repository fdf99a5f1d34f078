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

	"github.com/mbeckers/shiftlog/internal/api"
	"github.com/mbeckers/shiftlog/internal/circuitbreaker"
	"github.com/mbeckers/shiftlog/internal/config"
	"github.com/mbeckers/shiftlog/internal/db"
	"github.com/mbeckers/shiftlog/internal/logbook"
	"github.com/mbeckers/shiftlog/internal/metrics"
	"github.com/mbeckers/shiftlog/internal/notify"
	"github.com/mbeckers/shiftlog/internal/observ"
	"github.com/mbeckers/shiftlog/internal/queue"
	"github.com/mbeckers/shiftlog/internal/redis"
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

	logger.Info("starting shiftlog server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
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

	// Initialize Redis for rate limiting and idempotent log creation
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
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
			Window: 1 * time.Minute, // per minute per plant
		})
		defer redisClient.Close()
	}

	// Email sender. SES needs a verified from-address; without one the
	// log sender keeps development environments working.
	var emailSender notify.Sender
	sesSender, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		logger.Warn("SES sender unavailable, falling back to log sender",
			zap.Error(err),
		)
		emailSender = notify.NewLogSender(logger)
	} else {
		emailSender = circuitbreaker.NewProtectedSender(
			sesSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger),
			logger,
		)
	}

	// Chat webhook sender, circuit-breaker-protected like email.
	chatSender := circuitbreaker.NewProtectedSender(
		notify.NewChatSender(logger, notify.ChatConfig{
			Timeout: time.Duration(cfg.ChatTimeout) * time.Second,
		}),
		circuitbreaker.New(circuitbreaker.DefaultConfig("chat-webhook"), logger),
		logger,
	)

	multiSender := notify.NewMultiSender(logger, emailSender, chatSender)

	logger.Info("initialized notification channels",
		zap.Bool("ses_enabled", sesSender != nil),
		zap.Bool("chat_enabled", true),
	)

	// Optional dispatch queue. When configured, post-commit notification
	// jobs are enqueued to SQS instead of delivered in-process.
	var enqueuer notify.Enqueuer
	if cfg.DispatchQueueURL != "" {
		producer, err := queue.NewProducer(ctx, queue.Config{
			Region:   cfg.DispatchRegion,
			QueueURL: cfg.DispatchQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("dispatch queue unavailable, delivering in-process",
				zap.Error(err),
			)
		} else {
			enqueuer = producer
			defer producer.Close()
		}
	}

	dispatcher := notify.NewDispatcher(multiSender, enqueuer, notify.DispatcherConfig{
		Timeout: time.Duration(cfg.DispatchTimeout) * time.Second,
	}, logger)

	// Logbook engine
	resolver := notify.NewResolver(repo, logger)
	fanout := logbook.NewFanout(repo, logger)
	coordinator := logbook.NewCoordinator(repo, fanout, resolver, dispatcher, logger)
	tracker := logbook.NewTracker(repo, logger)
	pager := logbook.NewPager(repo, logger)

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
		handler = api.NewHandlerWithIdempotency(logger, coordinator, tracker, pager, resolver, dispatcher, idempotencyService)
	} else {
		handler = api.NewHandler(logger, coordinator, tracker, pager, resolver, dispatcher)
	}
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.PlantKeyFunc))

		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
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
