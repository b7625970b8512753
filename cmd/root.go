// cmd/root.go
/*
Copyright © 2025 AceTeam <dev@aceteam.ai>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/config"
	"github.com/aceteam-ai/resque/internal/failuredb"
	"github.com/aceteam-ai/resque/internal/jobs"
	"github.com/aceteam-ai/resque/internal/logging"
	"github.com/aceteam-ai/resque/internal/redis"
	"github.com/aceteam-ai/resque/internal/resque"
)

var cfgFile string

// Loaded by PersistentPreRunE.
var (
	cfg    *config.Config
	logger zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "resque",
	Short: "Resque is a Redis-backed job queue worker",
	Long: `A worker and inspection CLI for Redis-backed job queues.

Jobs are JSON payloads pushed onto Redis lists. Workers reserve them, run the
registered handler for their class, and keep track of what they are doing,
what failed and how much they processed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupColor()

		loaded, err := config.LoadDefault(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded

		// Logs go to stderr so inspection output stays clean.
		logger, err = logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if err != nil {
			return err
		}
		logger.Debug().Str("command", cmd.CommandPath()).Str("redis", redis.MaskURL(cfg.Redis.URL)).Msg("Configuration loaded")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.String("redis-url", "", "Redis connection URL (default redis://localhost:6379)")
	pf.String("redis-password", "", "Redis password")
	pf.Int("redis-db", 0, "Redis database number")
	pf.String("prefix", "", "key namespace (default resque)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("failure-backend", "", "where failures are recorded: redis or sqlite")
	pf.String("failure-dsn", "", "SQLite database for the sqlite failure backend")
	pf.BoolVar(&noColor, "no-color", false, "Disable colorized output")
	pf.StringVarP(&outputFormat, "output", "o", outputText, "output format: text, yaml or json")
}

// session bundles what a command needs to talk to the queues.
type session struct {
	r      *resque.Resque
	client *redis.Client
	closer func() error
}

func (s *session) Close() error {
	err := s.client.Close()
	if s.closer != nil {
		if cerr := s.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// openResque connects to Redis and builds a Resque with the configured
// failure backend and the built-in job classes.
func openResque(ctx context.Context) (*session, error) {
	client, err := redis.NewClient(redis.ClientConfig{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		Database: cfg.Redis.Database,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}

	s := &session{client: client}

	var failures resque.FailureBackend
	if cfg.Failure.Backend == config.FailureSQLite {
		db, err := failuredb.OpenSQLite(ctx, cfg.Failure.DSN)
		if err != nil {
			client.Close()
			return nil, err
		}
		failures = db
		s.closer = db.Close
	}

	registry := resque.NewRegistry()
	jobs.Register(registry, logger)

	s.r = resque.New(client, resque.Config{
		Failures: failures,
		Factory:  registry,
		Logger:   logger,
	})
	return s, nil
}
