// Package config loads gateway settings from the environment. A .env file in
// the working directory, when present, is loaded first.
package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the gateway process.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR,default=:8080" validate:"required"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE,default=256" validate:"gt=0"`
	MaxConnections int           `env:"MAX_CONNECTIONS,default=100000" validate:"gt=0"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=10s" validate:"gte=0"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gte=0"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s" validate:"gte=0"`
	MaxAuthFailures   int           `env:"MAX_AUTH_FAILURES,default=5" validate:"gte=0"`

	JWTSecret string `env:"JWT_SECRET,required=true" validate:"required"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// Empty DatabaseURL selects the in-memory store and membership oracle.
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START,default=true"`
	// SeedFile populates the in-memory membership oracle.
	SeedFile string `env:"SEED_FILE"`

	// Empty RedisAddr disables presence, rate limiting and the member cache.
	RedisAddr string `env:"REDIS_ADDR"`
	// Empty NatsURL disables message events.
	NatsURL    string `env:"NATS_URL"`
	ServerName string `env:"SERVER_NAME"`

	MessageRateLimit  int           `env:"MESSAGE_RATE_LIMIT,default=30" validate:"gte=0"`
	MessageRateWindow time.Duration `env:"MESSAGE_RATE_WINDOW,default=10s" validate:"gt=0"`
	MembersCacheTTL   time.Duration `env:"MEMBERS_CACHE_TTL,default=1m" validate:"gte=0"`
}

var validate = validator.New()

// Load reads the configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.ServerName == "" {
		cfg.ServerName = defaultServerName()
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultServerName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "gateway-1"
}
