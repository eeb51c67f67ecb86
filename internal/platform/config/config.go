// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load fills target from environment variables. Outside production a .env
// file in the working directory is applied first, overriding the process
// environment. When target has a Validate method it is called last.
func Load(target any) error {
	if os.Getenv("ENV") != "production" {
		if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

type HTTP struct {
	Port      int     `env:"PORT" envDefault:"8080"`
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"10"`
	RateBurst int     `env:"RATE_BURST" envDefault:"20"`
}

func (h HTTP) Addr() string { return fmt.Sprintf(":%d", h.Port) }

// MySQL is read with a prefix, e.g. DB_HOST.
type MySQL struct {
	Host    string `env:"HOST"`
	Port    string `env:"PORT" envDefault:"3306"`
	User    string `env:"USER" envDefault:"root"`
	Pass    string `env:"PASS"`
	Name    string `env:"NAME"`
	Retries int    `env:"RETRIES" envDefault:"10"`
}

// Enabled reports whether a database was configured at all.
func (m MySQL) Enabled() bool { return m.Host != "" && m.Name != "" }

func (m MySQL) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true", m.User, m.Pass, m.Host, m.Port, m.Name)
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Kafka struct {
	Enabled        bool          `env:"KAFKA_ENABLED" envDefault:"true"`
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092,localhost:9093,localhost:9094"`
	Topic          string        `env:"KAFKA_DEAL_TOPIC" envDefault:"deal-events"`
	GroupID        string        `env:"KAFKA_GROUP_ID"`
	PublishTimeout time.Duration `env:"KAFKA_PUBLISH_TIMEOUT" envDefault:"2s"`
}

type Auth struct {
	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Common is embedded by every service config.
type Common struct {
	Env   string `env:"ENV" envDefault:"development"`
	HTTP  HTTP
	Auth  Auth
	Log   Log
	Redis Redis
}

func (c Common) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	return nil
}

func (c Common) Production() bool { return c.Env == "production" }
