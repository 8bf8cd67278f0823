package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, mysql or sqlite.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type WorkersConfig struct {
	OutboxInterval       time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize      int           `mapstructure:"outbox_batch_size"`
	ReconcilerInterval   time.Duration `mapstructure:"reconciler_interval"`
	SubscriptionSchedule string        `mapstructure:"subscription_schedule"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HubBufferSize     int           `mapstructure:"hub_buffer_size"`
	RevisionBuffer    int           `mapstructure:"revision_buffer"`
}

type AuthConfig struct {
	SigningKey      string        `mapstructure:"signing_key"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	AdminRoles      []string      `mapstructure:"admin_roles"`
	AdminUsername   string        `mapstructure:"admin_username"`
	// AdminPasswordHash is a bcrypt hash.
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
	DevPass           bool   `mapstructure:"dev_pass"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SentryDSN    string  `mapstructure:"sentry_dsn"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

func setDefaults() {
	viper.SetDefault("server.environment", "dev")
	viper.SetDefault("server.port", ":8080")
	viper.SetDefault("server.log_level", "info")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)
	viper.SetDefault("database.auto_migrate", true)

	viper.SetDefault("redis.addr", "localhost:6379")

	viper.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	viper.SetDefault("etcd.dial_timeout", 5*time.Second)
	viper.SetDefault("etcd.prefix", "/featuregate/flags/")

	viper.SetDefault("workers.outbox_interval", 5*time.Second)
	viper.SetDefault("workers.outbox_batch_size", 10)
	viper.SetDefault("workers.reconciler_interval", time.Minute)
	viper.SetDefault("workers.subscription_schedule", "@every 1h")

	viper.SetDefault("stream.heartbeat_interval", 15*time.Second)
	viper.SetDefault("stream.hub_buffer_size", 512)
	viper.SetDefault("stream.revision_buffer", 1000)

	viper.SetDefault("auth.access_token_ttl", 15*time.Minute)
	viper.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	viper.SetDefault("auth.admin_roles", []string{"admin", "super_admin"})
	viper.SetDefault("auth.admin_username", "admin")

	viper.SetDefault("ratelimit.requests_per_second", 5)
	viper.SetDefault("telemetry.sample_rate", 1.0)
}

// Load reads .env, then config.yaml from . or ./config, then FG_* environment variables.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("FG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode()
}

func decode() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Auth.SigningKey == "" {
		return errors.New("auth.signing_key is required")
	}
	if len(c.Auth.AdminRoles) == 0 {
		return errors.New("auth.admin_roles must not be empty")
	}
	return nil
}

// WatchReload calls onChange with the re-read configuration whenever the
// config file changes. Invalid files are reported through onError and ignored.
func WatchReload(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode()
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}
