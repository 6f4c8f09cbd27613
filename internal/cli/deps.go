package cli

import (
	"context"
	"fmt"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/jobs"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/redis"
	"github.com/studyforge/gateway/internal/repository"
	"github.com/studyforge/gateway/internal/service"
)

// deps holds the connections and services a command needs. Close releases
// them in reverse order.
type deps struct {
	cfg         *config.Config
	db          *database.DB
	redis       *redis.Client
	dispatcher  *jobs.Dispatcher
	credentials *service.CredentialService
	audit       *service.AuditService
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func connectRedis(cfg *config.Config) (*redis.Client, error) {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func openDeps(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := connectRedis(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.New()
	dispatcher := jobs.NewDispatcher(1, cfg.DetachedQueueSize, config.DetachedTaskTimeout)
	dispatcher.Start()

	gameRepo := repository.NewGameRepository(db.DB)
	aiLogRepo := repository.NewAILogRepository(db.DB)
	policyCache := service.NewPolicyCache(repository.NewPolicyRepository(db.DB), clk, cfg.PolicyCacheTTL())

	credentials := service.NewCredentialService(
		db, repository.NewCredentialRepository(db.DB), gameRepo,
		service.BcryptHasher{Cost: cfg.CredentialBcryptCost},
		dispatcher, policyCache, clk,
	)
	audit := service.NewAuditService(
		db, aiLogRepo, gameRepo, credentials,
		repository.NewNotificationRepository(db.DB),
		notify.NewRedisSink(redisClient),
		cfg.SpikeThreshold,
	)

	return &deps{
		cfg:         cfg,
		db:          db,
		redis:       redisClient,
		dispatcher:  dispatcher,
		credentials: credentials,
		audit:       audit,
	}, nil
}

func (d *deps) Close() {
	d.dispatcher.Stop()
	d.redis.Close()
	d.db.Close()
}
