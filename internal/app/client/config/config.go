package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "SYNCTL"
	defaultServerAddress = "localhost:8080"
	defaultEnv           = "local"
	defaultConfigDir     = ".synctl"
	defaultPullLimit     = 100
)

type Config struct {
	Env           string `mapstructure:"app_env"`
	ServerAddress string `mapstructure:"server_address"`
	EnableTLS     bool   `mapstructure:"enable_tls"`
	UserID        int64  `mapstructure:"user_id"`
	ShopID        int64  `mapstructure:"shop_id"`
	DeviceID      string `mapstructure:"device_id"`
	ConfigDir     string `mapstructure:"config_dir"`
	DataPath      string `mapstructure:"data_path"`
	PullLimit     int    `mapstructure:"pull_limit"`
}

// Load читает конфигурацию устройства: файл (по умолчанию ~/.synctl/config.yaml),
// затем переменные окружения SYNCTL_*.
func Load(cfgFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("enable_tls", false)
	v.SetDefault("config_dir", filepath.Join(homeDir, defaultConfigDir))
	v.SetDefault("pull_limit", defaultPullLimit)
	v.SetDefault("user_id", 0)
	v.SetDefault("shop_id", 0)
	v.SetDefault("device_id", "")
	v.SetDefault("data_path", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(v.GetString("config_dir"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DataPath == "" {
		cfg.DataPath = filepath.Join(cfg.ConfigDir, "outbox.db")
	}
	if cfg.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("device_id is not set and hostname is unavailable: %w", err)
		}
		cfg.DeviceID = host
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return errors.New("server_address must not be empty")
	}
	if c.PullLimit < 0 {
		return fmt.Errorf("pull_limit must not be negative, got %d", c.PullLimit)
	}
	return nil
}

// BaseURL адрес сервера с протоколом
func (c *Config) BaseURL() string {
	if strings.Contains(c.ServerAddress, "://") {
		return strings.TrimRight(c.ServerAddress, "/")
	}
	scheme := "http://"
	if c.EnableTLS {
		scheme = "https://"
	}
	return scheme + strings.TrimRight(c.ServerAddress, "/")
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
