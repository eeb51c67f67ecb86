package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"auction-logistics/crm-service/internal/api"
	"auction-logistics/crm-service/internal/config"
	"auction-logistics/crm-service/internal/repository"
	"auction-logistics/crm-service/internal/service"
	"auction-logistics/crm-service/migrations"
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
	logging.Setup("crm-service", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]server.Check{}

	var repo repository.Repository
	if cfg.DB.Enabled() {
		db, err := database.ConnectMySQL(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := migrations.AutoMigrate(ctx, db, 3); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate crm tables")
		}
		repo = repository.NewMySQLRepository(db)
		checks["mysql"] = db.PingContext
	} else {
		log.Warn().Msg("DB_HOST not set, keeping deals in memory")
		repo = repository.NewMemoryRepository()
	}

	var rdb *redis.Client
	if client, err := database.ConnectRedis(ctx, cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, idempotency keys disabled")
	} else {
		rdb = client
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaWriter := config.NewKafkaWriter(cfg.Kafka)
		defer kafkaWriter.Close()
		publisher = service.NewKafkaPublisher(kafkaWriter, cfg.Kafka.PublishTimeout)
	} else {
		log.Warn().Msg("KAFKA_ENABLED=false, deal events are not published")
	}

	crmService := service.NewCRMService(repo, rdb, publisher)
	if _, err := crmService.EnsureDefaultPipeline(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed default pipeline")
	}
	crmHandler := api.NewCRMHandler(crmService)

	e := server.New("crm-service", cfg.HTTP)
	crmHandler.Register(e, cfg.Auth.JWTSecret)
	server.RegisterHealth(e, "crm-service", checks)

	if err := server.Run(ctx, e, cfg.HTTP.Addr()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
