package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/handler"
	"github.com/studyforge/gateway/internal/jobs"
	"github.com/studyforge/gateway/internal/middleware"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/provider"
	"github.com/studyforge/gateway/internal/redis"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	clk := clock.New()

	dispatcher := jobs.NewDispatcher(cfg.DetachedWorkers, cfg.DetachedQueueSize, config.DetachedTaskTimeout)
	dispatcher.Start()
	defer dispatcher.Stop()

	credentialRepo := repository.NewCredentialRepository(db.DB)
	gameRepo := repository.NewGameRepository(db.DB)
	sessionRepo := repository.NewGameSessionRepository(db.DB)
	eventRepo := repository.NewEventRepository(db.DB)
	aiLogRepo := repository.NewAILogRepository(db.DB)
	policyRepo := repository.NewPolicyRepository(db.DB)
	notificationRepo := repository.NewNotificationRepository(db.DB)
	adminSessionRepo := repository.NewAdminSessionRepository(db.DB)

	registry := provider.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		registry.Register(provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		}))
	}

	log.Info().Strs("providers", registry.Names()).Msg("ai providers registered")

	sink := notify.NewRedisSink(redisClient)

	policyCache := service.NewPolicyCache(policyRepo, clk, cfg.PolicyCacheTTL())
	credentialService := service.NewCredentialService(
		db, credentialRepo, gameRepo,
		service.BcryptHasher{Cost: cfg.CredentialBcryptCost},
		dispatcher, policyCache, clk,
	)
	sessionService := service.NewSessionService(sessionRepo)
	eventService := service.NewEventService(sessionService, eventRepo)
	aiService := service.NewAIService(sessionService, registry, aiLogRepo, clk, service.AIConfig{
		DefaultProvider:   cfg.AIDefaultProvider,
		DefaultModel:      cfg.AIDefaultModel,
		ProviderTimeout:   cfg.ProviderTimeout(),
		MinResponseLength: cfg.AIMinResponseLength,
	})
	auditService := service.NewAuditService(
		db, aiLogRepo, gameRepo, credentialService, notificationRepo, sink, cfg.SpikeThreshold,
	)
	adminService := service.NewAdminService(adminSessionRepo, cfg.AdminPasswordHash, cfg.AdminSessionSecret, clk)
	rateLimiter := service.NewRateLimiter(redisClient, clk)

	gameAuthMiddleware := middleware.NewGameAuthMiddleware(credentialService)
	gameRateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(rateLimiter, policyCache, middleware.RateLimitScopeGame, clk)
	aiRateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(rateLimiter, policyCache, middleware.RateLimitScopeAI, clk)
	ipRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, clk, config.IPRateLimitPerMin, time.Minute, "api")
	adminSessionMiddleware := middleware.NewAdminSessionMiddleware(adminService)
	loginRateLimiter := middleware.NewLoginRateLimiter(policyCache, clk)

	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	gameHandler := handler.NewGameHandler(sessionService, eventService, aiService, aiRateLimitMiddleware.Handler)
	adminHandler := handler.NewAdminHandler(handler.AdminHandlerConfig{
		Auth:              adminService,
		Credentials:       credentialService,
		Audit:             auditService,
		Policy:            policyCache,
		Notifications:     handler.NewNotificationsHandler(sink),
		SessionMiddleware: adminSessionMiddleware.Handler,
		LoginRateLimiter:  loginRateLimiter.Handler,
		IsProduction:      isProduction,
	})
	healthHandler := handler.NewHealthHandler(db)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(ipRateLimitMiddleware.Handler)
		r.Use(gameAuthMiddleware.Handler)
		r.Use(gameRateLimitMiddleware.Handler)
		r.Mount("/", gameHandler.Routes())
	})

	// No request timeout here: the notification stream is long-lived.
	r.Route("/admin/api", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(csrfMiddleware.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(adminSessionRepo, notificationRepo, clk, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Bool("production", isProduction).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
