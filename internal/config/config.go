package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Redis struct {
		Addr       string `mapstructure:"addr"` // empty disables the row cache
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
	} `mapstructure:"redis"`

	Generation struct {
		DefaultPreviewLimit int    `mapstructure:"default_preview_limit"`
		MaxPreviewLimit     int    `mapstructure:"max_preview_limit"`
		ChunkSize           int    `mapstructure:"chunk_size"`
		Workers             int    `mapstructure:"workers"`
		MaxInvalidDetails   int    `mapstructure:"max_invalid_details"`
		LimitsFile          string `mapstructure:"limits_file"`
	} `mapstructure:"generation"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnv registers every key so APP_* variables apply without a config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.addr", "server.log_level",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
		"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"redis.addr", "redis.password", "redis.db", "redis.ttl_seconds",
		"generation.default_preview_limit", "generation.max_preview_limit",
		"generation.chunk_size", "generation.workers", "generation.max_invalid_details", "generation.limits_file",
	} {
		_ = v.BindEnv(key)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Listener.Channel == "" { c.Listener.Channel = "generation_rules_changed" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Redis.TTLSeconds <= 0 { c.Redis.TTLSeconds = 300 }
	if c.Generation.DefaultPreviewLimit <= 0 { c.Generation.DefaultPreviewLimit = 20 }
	if c.Generation.MaxPreviewLimit <= 0 { c.Generation.MaxPreviewLimit = 100 }
	if c.Generation.ChunkSize <= 0 { c.Generation.ChunkSize = 1000 }
	if c.Generation.MaxInvalidDetails <= 0 { c.Generation.MaxInvalidDetails = 100 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RowCacheTTL() time.Duration { return time.Duration(c.Redis.TTLSeconds) * time.Second }
