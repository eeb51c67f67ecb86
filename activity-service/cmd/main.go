package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"auction-logistics/activity-service/internal/api"
	"auction-logistics/activity-service/internal/config"
	"auction-logistics/activity-service/internal/consumer"
	"auction-logistics/activity-service/internal/repository"
	"auction-logistics/activity-service/internal/service"
	"auction-logistics/activity-service/migrations"
	platformconfig "auction-logistics/internal/platform/config"
	"auction-logistics/internal/platform/database"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/server"
)

type Config struct {
	platformconfig.Common
	DB    platformconfig.MySQL `envPrefix:"DB_"`
	Kafka platformconfig.Kafka
}

func main() {
	var cfg Config
	if err := platformconfig.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup("activity-service", cfg.Log)

	if !cfg.DB.Enabled() {
		log.Fatal().Msg("DB_HOST and DB_NAME are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectMySQL(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.AutoMigrate(ctx, db, 3); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate activities table")
	}

	checks := map[string]server.Check{"mysql": db.PingContext}

	var rdb *redis.Client
	if client, err := database.ConnectRedis(ctx, cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, timeline cache disabled")
	} else {
		rdb = client
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	activityRepo := repository.NewActivityRepository(db)
	activityService := service.NewActivityService(activityRepo, rdb)
	activityHandler := api.NewActivityHandler(activityService)

	e := server.New("activity-service", cfg.HTTP)
	activityHandler.Register(e, cfg.Auth.JWTSecret)
	server.RegisterHealth(e, "activity-service", checks)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Kafka.Enabled {
		reader := config.NewKafkaReader(cfg.Kafka)
		defer reader.Close()
		g.Go(func() error { return consumer.NewConsumer(reader, activityService).Run(ctx) })
	} else {
		log.Warn().Msg("KAFKA_ENABLED=false, no deal events are consumed")
	}
	g.Go(func() error { return server.Run(ctx, e, cfg.HTTP.Addr()) })

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("service stopped")
	}
}
