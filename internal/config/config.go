package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"possync/internal/domain/sync"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Env     string
	Storage string
	DB      db
	Server  server
	Logger  logger
	Sync    syncConfig
}

type db struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type server struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

type logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type syncConfig struct {
	MaxAttempts      int           `env:"SYNC_MAX_ATTEMPTS"`
	BackoffBase      time.Duration `env:"SYNC_BACKOFF_BASE"`
	BackoffMax       time.Duration `env:"SYNC_BACKOFF_MAX"`
	ApplyTimeout     time.Duration `env:"SYNC_APPLY_TIMEOUT"`
	Workers          int           `env:"SYNC_WORKERS"`
	PollInterval     time.Duration `env:"SYNC_POLL_INTERVAL"`
	LeaseTimeout     time.Duration `env:"SYNC_LEASE_TIMEOUT"`
	PullLimit        int           `env:"SYNC_PULL_LIMIT"`
	PullMaxLimit     int           `env:"SYNC_PULL_MAX_LIMIT"`
	ProcessAfterPush bool          `env:"SYNC_PROCESS_AFTER_PUSH"`
	AutoResolve      string        `env:"SYNC_AUTO_RESOLVE"`
}

// NewConfig читает настройки из окружения (и .env, если он есть)
func NewConfig() *Config {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Env:     v.GetString("app_env"),
		Storage: v.GetString("storage"),
		DB: db{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Logger: logger{LogLevel: v.GetString("log_level")},
		Sync: syncConfig{
			MaxAttempts:      v.GetInt("sync_max_attempts"),
			BackoffBase:      v.GetDuration("sync_backoff_base"),
			BackoffMax:       v.GetDuration("sync_backoff_max"),
			ApplyTimeout:     v.GetDuration("sync_apply_timeout"),
			Workers:          v.GetInt("sync_workers"),
			PollInterval:     v.GetDuration("sync_poll_interval"),
			LeaseTimeout:     v.GetDuration("sync_lease_timeout"),
			PullLimit:        v.GetInt("sync_pull_limit"),
			PullMaxLimit:     v.GetInt("sync_pull_max_limit"),
			ProcessAfterPush: v.GetBool("sync_process_after_push"),
			AutoResolve:      v.GetString("sync_auto_resolve"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := sync.DefaultConfig()

	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("storage", StoragePostgres)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("sync_max_attempts", def.MaxAttempts)
	v.SetDefault("sync_backoff_base", def.BackoffBase)
	v.SetDefault("sync_backoff_max", def.BackoffMax)
	v.SetDefault("sync_apply_timeout", def.ApplyTimeout)
	v.SetDefault("sync_workers", def.Workers)
	v.SetDefault("sync_poll_interval", def.PollInterval)
	v.SetDefault("sync_lease_timeout", def.LeaseTimeout)
	v.SetDefault("sync_pull_limit", def.PullLimit)
	v.SetDefault("sync_pull_max_limit", def.PullMaxLimit)
	v.SetDefault("sync_process_after_push", false)
	v.SetDefault("sync_auto_resolve", "")
}

// SyncConfig переводит настройки окружения в настройки движка синхронизации.
func (c *Config) SyncConfig() (sync.Config, error) {
	policy, err := ParseAutoResolve(c.Sync.AutoResolve)
	if err != nil {
		return sync.Config{}, err
	}
	return sync.Config{
		MaxAttempts:      c.Sync.MaxAttempts,
		BackoffBase:      c.Sync.BackoffBase,
		BackoffMax:       c.Sync.BackoffMax,
		ApplyTimeout:     c.Sync.ApplyTimeout,
		Workers:          c.Sync.Workers,
		PollInterval:     c.Sync.PollInterval,
		LeaseTimeout:     c.Sync.LeaseTimeout,
		PullLimit:        c.Sync.PullLimit,
		PullMaxLimit:     c.Sync.PullMaxLimit,
		ProcessAfterPush: c.Sync.ProcessAfterPush,
		AutoResolve:      policy,
	}, nil
}

// ParseAutoResolve разбирает политику вида "stock_movement=client_wins,payment=server_wins".
func ParseAutoResolve(s string) (map[sync.EntityType]sync.Resolution, error) {
	policy := make(map[sync.EntityType]sync.Resolution)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("auto resolve %q: expected entity_type=resolution", pair)
		}
		entityType, err := sync.ParseEntityType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("auto resolve %q: %w", pair, err)
		}
		resolution, err := sync.ParseResolution(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("auto resolve %q: %w", pair, err)
		}
		if resolution != sync.ResolutionServerWins && resolution != sync.ResolutionClientWins {
			return nil, fmt.Errorf("auto resolve %q: only server_wins and client_wins can be automatic", pair)
		}
		policy[entityType] = resolution
	}
	return policy, nil
}
