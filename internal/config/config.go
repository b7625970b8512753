// Package config loads worker settings from defaults, a YAML file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/aceteam-ai/resque/internal/reserver"
	"github.com/aceteam-ai/resque/internal/schedule"
)

// Execution strategies.
const (
	StrategyInProcess = "inprocess"
	StrategyFork      = "fork"
	StrategyBatchFork = "batchfork"
	StrategyRemote    = "remote"
)

// Failure backends.
const (
	FailureRedis  = "redis"
	FailureSQLite = "sqlite"
)

// Config is the complete configuration.
type Config struct {
	Redis   RedisConfig   `koanf:"redis"`
	Worker  WorkerConfig  `koanf:"worker"`
	Remote  RemoteConfig  `koanf:"remote"`
	Log     LogConfig     `koanf:"log"`
	Failure FailureConfig `koanf:"failure"`
}

// RedisConfig describes the store connection.
type RedisConfig struct {
	URL      string `koanf:"url" validate:"required"`
	Password string `koanf:"password"`
	Prefix   string `koanf:"prefix"`
	Database int    `koanf:"database" validate:"min=0"`
}

// WorkerConfig describes how jobs are reserved and executed.
type WorkerConfig struct {
	Queues   []string      `koanf:"queues" validate:"required,min=1,dive,required"`
	Interval time.Duration `koanf:"interval" validate:"min=0"`
	Reserver string        `koanf:"reserver"`
	Blocking bool          `koanf:"blocking"`
	// Timeout bounds a blocking pop; zero blocks until shutdown.
	Timeout  time.Duration `koanf:"timeout" validate:"min=0"`
	Strategy string        `koanf:"strategy" validate:"oneof=inprocess fork batchfork remote"`
	Batch    int           `koanf:"batch" validate:"min=0"`
	Count    int           `koanf:"count" validate:"min=1"`
	// Schedule is an optional HH:MM-HH:MM work window.
	Schedule string `koanf:"schedule"`
}

// RemoteConfig describes the executor connection.
type RemoteConfig struct {
	URL       string `koanf:"url"`
	KeepAlive bool   `koanf:"keepalive"`
	Listen    string `koanf:"listen" validate:"required"`
}

// LogConfig describes logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// FailureConfig selects where failure records go.
type FailureConfig struct {
	Backend string `koanf:"backend" validate:"oneof=redis sqlite"`
	DSN     string `koanf:"dsn"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			URL:    "redis://localhost:6379",
			Prefix: "resque",
		},
		Worker: WorkerConfig{
			Queues:   []string{"*"},
			Interval: 5 * time.Second,
			Reserver: reserver.DefaultName,
			Timeout:  reserver.DefaultTimeout,
			Strategy: StrategyFork,
			Batch:    10,
			Count:    1,
		},
		Remote: RemoteConfig{
			URL:    "ws://127.0.0.1:9300/jobs",
			Listen: "127.0.0.1:9300",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Failure: FailureConfig{
			Backend: FailureRedis,
			DSN:     "resque-failures.db",
		},
	}
}

// DefaultConfigAsMap flattens DefaultConfig for the confmap provider.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"redis.url":      def.Redis.URL,
		"redis.password": def.Redis.Password,
		"redis.prefix":   def.Redis.Prefix,
		"redis.database": def.Redis.Database,

		"worker.queues":   def.Worker.Queues,
		"worker.interval": def.Worker.Interval,
		"worker.reserver": def.Worker.Reserver,
		"worker.blocking": def.Worker.Blocking,
		"worker.timeout":  def.Worker.Timeout,
		"worker.strategy": def.Worker.Strategy,
		"worker.batch":    def.Worker.Batch,
		"worker.count":    def.Worker.Count,
		"worker.schedule": def.Worker.Schedule,

		"remote.url":       def.Remote.URL,
		"remote.keepalive": def.Remote.KeepAlive,
		"remote.listen":    def.Remote.Listen,

		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"failure.backend": def.Failure.Backend,
		"failure.dsn":     def.Failure.DSN,
	}
}

// Load merges sources in priority order and validates the result.
func Load(sources ...ConfigSource) (*Config, error) {
	sorted := slices.Clone(sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	k := koanf.New(".")
	for _, src := range sorted {
		if err := src.Load(k); err != nil {
			return nil, fmt.Errorf("%s: %w", src.Name(), err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads defaults, the optional file, the environment and flags.
func LoadDefault(path string, flags *pflag.FlagSet) (*Config, error) {
	return Load(DefaultSources(path, flags)...)
}

func (c *Config) normalize() {
	var queues []string
	for _, q := range c.Worker.Queues {
		for _, part := range strings.Split(q, ",") {
			if part = strings.TrimSpace(part); part != "" {
				queues = append(queues, part)
			}
		}
	}
	c.Worker.Queues = queues
	c.Worker.Strategy = strings.ToLower(strings.ReplaceAll(c.Worker.Strategy, "-", ""))
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Worker.Reserver != "" && !slices.Contains(reserver.Names(), reserver.Normalize(c.Worker.Reserver)) {
		return &reserver.UnknownReserverError{Name: c.Worker.Reserver}
	}
	if c.Worker.Schedule != "" {
		if _, err := schedule.Parse(c.Worker.Schedule); err != nil {
			return fmt.Errorf("invalid worker.schedule: %w", err)
		}
	}
	if c.Worker.Strategy == StrategyRemote && c.Remote.URL == "" {
		return errors.New("invalid configuration: remote.url is required for the remote strategy")
	}
	if c.Failure.Backend == FailureSQLite && c.Failure.DSN == "" {
		return errors.New("invalid configuration: failure.dsn is required for the sqlite backend")
	}
	return nil
}

// Window returns the parsed work schedule, or nil when unset.
func (c *Config) Window() *schedule.Window {
	if c.Worker.Schedule == "" {
		return nil
	}
	w, _ := schedule.Parse(c.Worker.Schedule)
	return w
}
