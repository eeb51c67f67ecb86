package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/api"
	"auction-logistics/calc-service/internal/repository"
	"auction-logistics/calc-service/internal/service"
	"auction-logistics/calc-service/migrations"
	"auction-logistics/internal/platform/config"
	"auction-logistics/internal/platform/database"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/server"
)

type Config struct {
	config.Common
	DB config.MySQL `envPrefix:"DB_"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup("calc-service", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults, err := calc.DefaultMatrices()
	if err != nil {
		log.Fatal().Err(err).Msg("embedded matrices are invalid")
	}

	checks := map[string]server.Check{}

	var store service.MatrixStore
	if cfg.DB.Enabled() {
		db, err := database.ConnectMySQL(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := migrations.AutoMigrate(ctx, db, 3); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate matrix_overrides table")
		}
		store = repository.NewMatrixRepository(db)
		checks["mysql"] = db.PingContext
	} else {
		log.Warn().Msg("DB_HOST not set, serving embedded matrices only")
	}

	var rdb *redis.Client
	if client, err := database.ConnectRedis(ctx, cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, matrix cache disabled")
	} else {
		rdb = client
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	calcService := service.NewCalcService(store, rdb, defaults)
	calcHandler := api.NewCalcHandler(calcService)

	e := server.New("calc-service", cfg.HTTP)
	calcHandler.Register(e, cfg.Auth.JWTSecret)
	server.RegisterHealth(e, "calc-service", checks)

	if err := server.Run(ctx, e, cfg.HTTP.Addr()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
