package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigSource loads values into koanf. Sources are applied lowest priority
// first, so later ones override earlier ones.
//
//	DefaultSource    10
//	FileSource       20
//	LegacyEnvSource  25
//	EnvSource        30
//	FlagSource       40
type ConfigSource interface {
	Name() string
	Priority() int
	Load(k *koanf.Koanf) error
}

// DefaultSource provides DefaultConfig.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads a YAML file. An empty or missing path is skipped.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}
	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// LegacyEnvSource reads the bare variable names classic resque deployments
// use (QUEUE, INTERVAL, BLOCKING, ...). Intervals and timeouts are seconds.
type LegacyEnvSource struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (s *LegacyEnvSource) Name() string  { return "legacy-env" }
func (s *LegacyEnvSource) Priority() int { return 25 }

func (s *LegacyEnvSource) Load(k *koanf.Koanf) error {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	m := map[string]any{}

	if v, ok := get("QUEUE"); ok {
		m["worker.queues"] = strings.Split(v, ",")
	}
	if v, ok := get("REDIS_BACKEND"); ok {
		m["redis.url"] = v
	}
	if v, ok := get("REDIS_BACKEND_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_BACKEND_DB: %w", err)
		}
		m["redis.database"] = db
	}
	if v, ok := get("PREFIX"); ok {
		m["redis.prefix"] = v
	}
	if v, ok := get("RESERVER"); ok {
		m["worker.reserver"] = v
	}

	interval, hasInterval, err := seconds(get, "INTERVAL")
	if err != nil {
		return err
	}
	if hasInterval {
		m["worker.interval"] = interval
	}

	if v, ok := get("BLOCKING"); ok && v != "0" && !strings.EqualFold(v, "false") {
		m["worker.blocking"] = true
		// The blocking pop times out after BLPOP_TIMEOUT, else INTERVAL.
		if hasInterval {
			m["worker.timeout"] = interval
		}
	}
	timeout, ok, err := seconds(get, "BLPOP_TIMEOUT")
	if err != nil {
		return err
	}
	if ok {
		m["worker.timeout"] = timeout
	}

	if v, ok := get("COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COUNT: %w", err)
		}
		m["worker.count"] = n
	}
	if v, ok := get("JOBS_PER_FORK"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JOBS_PER_FORK: %w", err)
		}
		m["worker.strategy"] = StrategyBatchFork
		m["worker.batch"] = n
	}

	if _, ok := get("VVERBOSE"); ok {
		m["log.level"] = "debug"
	} else if _, ok := get("VERBOSE"); ok {
		m["log.level"] = "info"
	} else if _, ok := get("LOGGING"); ok {
		m["log.level"] = "info"
	}

	if len(m) == 0 {
		return nil
	}
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return fmt.Errorf("error loading legacy environment: %w", err)
	}
	return nil
}

func seconds(get func(string) (string, bool), name string) (time.Duration, bool, error) {
	v, ok := get(name)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false, fmt.Errorf("%s must be a non-negative number of seconds, got %q", name, v)
	}
	return time.Duration(f * float64(time.Second)), true, nil
}

// EnvSource loads RESQUE_* variables. Underscores map to dots:
//
//	RESQUE_REDIS_URL     -> redis.url
//	RESQUE_WORKER_QUEUES -> worker.queues
type EnvSource struct {
	Prefix string // default "RESQUE_"
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "RESQUE_"
	}
	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(key, prefix)), "_", ".")
	}), nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

// FlagKeys maps command-line flag names to config keys. Flags not listed
// are ignored.
var FlagKeys = map[string]string{
	"redis-url":       "redis.url",
	"redis-password":  "redis.password",
	"redis-db":        "redis.database",
	"prefix":          "redis.prefix",
	"queues":          "worker.queues",
	"interval":        "worker.interval",
	"reserver":        "worker.reserver",
	"blocking":        "worker.blocking",
	"timeout":         "worker.timeout",
	"strategy":        "worker.strategy",
	"batch":           "worker.batch",
	"count":           "worker.count",
	"schedule":        "worker.schedule",
	"remote-url":      "remote.url",
	"keepalive":       "remote.keepalive",
	"listen":          "remote.listen",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"failure-backend": "failure.backend",
	"failure-dsn":     "failure.dsn",
}

// FlagSource loads flags the user set. Unset flags never override other
// sources.
type FlagSource struct {
	Flags *pflag.FlagSet
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags == nil {
		return nil
	}
	provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(s.Flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("error loading command-line flags: %w", err)
	}
	return nil
}

// DefaultSources returns the standard sources for path and flags.
func DefaultSources(path string, flags *pflag.FlagSet) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: path},
		&LegacyEnvSource{},
		&EnvSource{Prefix: "RESQUE_"},
		&FlagSource{Flags: flags},
	}
}
