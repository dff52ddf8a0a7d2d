package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	httpAdapter "github.com/iho/shardbank/internal/adapter/http"
	"github.com/iho/shardbank/internal/adapter/http/handler"
	"github.com/iho/shardbank/internal/cluster"
	"github.com/iho/shardbank/internal/domain"
	eventpg "github.com/iho/shardbank/internal/eventlog/postgres"
	"github.com/iho/shardbank/internal/infrastructure/broker"
	"github.com/iho/shardbank/internal/infrastructure/config"
	"github.com/iho/shardbank/internal/infrastructure/logger"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
	"github.com/iho/shardbank/internal/infrastructure/postgres"
	redisinfra "github.com/iho/shardbank/internal/infrastructure/redis"
	"github.com/iho/shardbank/internal/projection"
	"github.com/iho/shardbank/internal/saga"
	"github.com/iho/shardbank/internal/shard"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = appLogger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := parseRules(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid business rule configuration")
	}

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	redisClient, err := redisinfra.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("connected to redis")

	members, err := cluster.ParseMembers(cfg.ClusterNodes)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cluster membership")
	}

	clusterCtx, err := cluster.New(cluster.Config{
		SelfAddr:   cfg.NodeAddr,
		Members:    members,
		ShardCount: cfg.ShardCount,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build cluster context")
	}

	m := metrics.New()
	store := eventpg.NewStore(pool)
	checkpoints := redisinfra.NewCheckpointStore(redisClient)

	router := shard.NewRouter(shard.Config{
		Cluster:         clusterCtx,
		Log:             store,
		Rules:           rules,
		Transport:       shard.NewHTTPTransport(cfg.DispatchTimeout),
		Metrics:         m,
		IdleTimeout:     cfg.AggregateIdleTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          appLogger,
	})

	orchestrator := saga.New(saga.Config{
		Log:          store,
		Dispatcher:   router,
		Checkpoints:  checkpoints,
		Metrics:      m,
		PollInterval: cfg.StreamPollInterval,
		StuckAfter:   cfg.SagaStuckAfter,
		Logger:       appLogger,
	})

	lease := cluster.NewLease(redisClient, projection.LeaseKey, cfg.NodeAddr, cfg.LeaseTTL, appLogger)

	projector := projection.New(projection.Config{
		Log:          store,
		Elector:      lease,
		Metrics:      m,
		PollInterval: cfg.StreamPollInterval,
		Logger:       appLogger,
	})

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error().Err(err).Msg("shard router stopped")
		}
	}()

	go func() {
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("transfer saga stopped")
		}
	}()

	go func() {
		if err := projector.Run(ctx); err != nil {
			log.Error().Err(err).Msg("revenue projection stopped")
		}
	}()

	if cfg.AMQPURL != "" {
		publisher, err := broker.NewPublisher(broker.Config{
			URL:          cfg.AMQPURL,
			Exchange:     cfg.AMQPExchange,
			Log:          store,
			Checkpoints:  checkpoints,
			PollInterval: cfg.StreamPollInterval,
			Logger:       appLogger,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		defer publisher.Close()
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("event fan-out enabled")

		go func() {
			if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("event publisher stopped")
			}
		}()
	}

	apiRouter := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		AccountHandler:  handler.NewAccountHandler(router, store, cfg.StrictCommandAcks),
		TransferHandler: handler.NewTransferHandler(router, cfg.StrictCommandAcks),
		RevenueHandler:  handler.NewRevenueHandler(projector, cfg.NodeAddr),
		CommandHandler:  handler.NewCommandHandler(router, redisinfra.NewAckStore(redisClient), appLogger),
		HealthHandler:   handler.NewHealthHandler(pool, redisClient),
		Metrics:         m,
		Logger:          appLogger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      apiRouter,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	go func() {
		log.Info().
			Str("port", cfg.HTTPPort).
			Str("node", clusterCtx.Self().Name).
			Msg("starting node")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down node...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("node stopped")
}

// parseRules builds the business rule parameters from configuration.
func parseRules(cfg *config.Config) (domain.Rules, error) {
	minAmount, err := decimal.NewFromString(cfg.MinTransferAmount)
	if err != nil {
		return domain.Rules{}, fmt.Errorf("parse MIN_TRANSFER_AMOUNT: %w", err)
	}

	fee, err := decimal.NewFromString(cfg.TransferFee)
	if err != nil {
		return domain.Rules{}, fmt.Errorf("parse TRANSFER_FEE: %w", err)
	}

	return domain.Rules{MinTransferAmount: minAmount, TransferFee: fee}, nil
}
