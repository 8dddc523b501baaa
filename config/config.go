// Package config loads queue settings from defaults, an optional config file
// and ARQ_* environment variables, and turns them into store and client options.
package config

import (
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/zigzed/arq"
	"github.com/zigzed/arq/redis"
)

const envPrefix = "ARQ"

type Config struct {
	Namespace string      `mapstructure:"namespace" validate:"required"`
	Redis     RedisConfig `mapstructure:"redis"`
	Queue     QueueConfig `mapstructure:"queue"`
}

type RedisConfig struct {
	Addrs       []string `mapstructure:"addrs" validate:"required,min=1,dive,hostname_port"`
	DB          int      `mapstructure:"db" validate:"gte=0"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	MasterName  string   `mapstructure:"master_name"`
	PopStrategy string   `mapstructure:"pop_strategy" validate:"omitempty,oneof=zpopmin transaction"`

	SentinelUsername string `mapstructure:"sentinel_username"`
	SentinelPassword string `mapstructure:"sentinel_password"`
}

type QueueConfig struct {
	PayloadTTL        time.Duration `mapstructure:"payload_ttl" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	Secret            string        `mapstructure:"secret"`
	ObjectMode        bool          `mapstructure:"object_mode"`
	MaxConcurrency    int           `mapstructure:"max_concurrency" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", arq.DefaultNamespace)
	v.SetDefault("redis.addrs", redis.DefaultOption().Addrs)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.sentinel_username", "")
	v.SetDefault("redis.sentinel_password", "")
	v.SetDefault("redis.pop_strategy", "")
	v.SetDefault("queue.payload_ttl", arq.DefaultPayloadTTL)
	v.SetDefault("queue.poll_interval", arq.DefaultPollInterval)
	v.SetDefault("queue.heartbeat_interval", arq.DefaultHeartbeatInterval)
	v.SetDefault("queue.secret", "")
	v.SetDefault("queue.object_mode", false)
	v.SetDefault("queue.max_concurrency", 0)
}

// Load reads path when it is not empty. Environment variables take
// precedence over the file, e.g. ARQ_REDIS_ADDRS or ARQ_QUEUE_POLL_INTERVAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s failed", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config failed")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

func (c *Config) RedisOption() redis.Option {
	return redis.Option{
		Addrs:       c.Redis.Addrs,
		DB:          c.Redis.DB,
		Username:    c.Redis.Username,
		Password:    c.Redis.Password,
		MasterName:  c.Redis.MasterName,
		PopStrategy: redis.PopStrategy(c.Redis.PopStrategy),

		SentinelUsername: c.Redis.SentinelUsername,
		SentinelPassword: c.Redis.SentinelPassword,
	}
}

// Options converts the queue section for arq.NewClient and arq.NewAgent.
func (c *Config) Options() []arq.Option {
	return []arq.Option{
		arq.WithNamespace(c.Namespace),
		arq.WithPayloadTTL(c.Queue.PayloadTTL),
		arq.WithPollInterval(c.Queue.PollInterval),
		arq.WithHeartbeatInterval(c.Queue.HeartbeatInterval),
		arq.WithSecret(c.Queue.Secret),
		arq.WithObjectMode(c.Queue.ObjectMode),
		arq.WithMaxConcurrency(c.Queue.MaxConcurrency),
	}
}
