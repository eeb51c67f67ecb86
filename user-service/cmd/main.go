package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"auction-logistics/internal/platform/config"
	"auction-logistics/internal/platform/database"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/server"
	"auction-logistics/user-service/internal/api"
	"auction-logistics/user-service/internal/repository"
	"auction-logistics/user-service/internal/service"
	"auction-logistics/user-service/migrations"
)

type Config struct {
	config.Common
	DB            config.MySQL `envPrefix:"DB_"`
	AdminEmail    string       `env:"ADMIN_EMAIL"`
	AdminPassword string       `env:"ADMIN_PASSWORD"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup("user-service", cfg.Log)

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
		log.Fatal().Err(err).Msg("failed to migrate users table")
	}

	checks := map[string]server.Check{"mysql": db.PingContext}

	var rdb *redis.Client
	if client, err := database.ConnectRedis(ctx, cfg.Redis); err != nil {
		if cfg.Production() {
			log.Fatal().Err(err).Msg("redis is required for sessions in production")
		}
		log.Warn().Err(err).Msg("redis unavailable, sessions are not tracked")
	} else {
		rdb = client
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	userRepo := repository.NewUserRepository(db)
	userService := service.NewUserService(userRepo, rdb, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if cfg.AdminEmail != "" {
		if err := userService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin user")
		}
	}
	userHandler := api.NewUserHandler(userService)

	e := server.New("user-service", cfg.HTTP)
	userHandler.Register(e, cfg.Auth.JWTSecret)
	server.RegisterHealth(e, "user-service", checks)

	if err := server.Run(ctx, e, cfg.HTTP.Addr()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
