package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	Server       ServerConfig       `mapstructure:"server"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"` // console, file or both
}

type IntegrationsConfig struct {
	AllowPrivateHosts bool          `mapstructure:"allow_private_hosts"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RateLimit         float64       `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SchedulerConfig struct {
	AutoSyncSchedule string `mapstructure:"auto_sync_schedule"`
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	defaultDataDir := filepath.Join(homeDir, ".markhub")

	viper.SetDefault("data_dir", defaultDataDir)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output", "console")
	viper.SetDefault("integrations.allow_private_hosts", false)
	viper.SetDefault("integrations.http_timeout", 0)
	viper.SetDefault("integrations.rate_limit", 5)
	viper.SetDefault("server.addr", "127.0.0.1:8787")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("scheduler.auto_sync_schedule", "@every 5m")

	// Environment variable overrides
	viper.SetEnvPrefix("MARKHUB")
	viper.AutomaticEnv()
	viper.BindEnv("data_dir", "MARKHUB_DATA_DIR")
	viper.BindEnv("logging.level", "MARKHUB_LOG_LEVEL")
	viper.BindEnv("integrations.allow_private_hosts", "MARKHUB_ALLOW_PRIVATE_HOSTS")
	viper.BindEnv("server.addr", "MARKHUB_SERVER_ADDR")

	// Config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultDataDir)

	// Read config file if exists (ignore error if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}
