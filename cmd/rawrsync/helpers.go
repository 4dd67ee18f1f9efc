package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joss/rawrsync/internal/config"
	"github.com/joss/rawrsync/internal/store"
)

// flagKeys maps config keys to the cobra flags that override them.
var flagKeys = map[string]string{
	"store":                 "store",
	"source":                "source",
	"destination":           "destination",
	"recursion_depth":       "depth",
	"discovery_parallelism": "discovery-parallelism",
	"exclude":               "exclude",
	"follow_symlinks":       "follow-symlinks",
	"thread_count":          "threads",
	"batch_size":            "batch",
	"blocking_pool":         "blocking-pool",
	"poll_interval":         "poll-interval",
	"retry_errored":         "retry-errored",
	"runner":                "runner",
	"rsync_path":            "rsync-path",
	"rsync_args":            "rsync-arg",
	"interactive":           "interactive",
	"refresh_interval":      "refresh",
	"metrics_addr":          "metrics-addr",
	"log.file":              "log-file",
	"log.level":             "log-level",
	"log.format":            "log-format",
}

// bindFlags binds every flag in fs that has a config key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig layers defaults, config file, env and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore loads config for cmd and opens its task store.
func openStore(cmd *cobra.Command) (*store.TaskStore, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", cfg.Store, err)
	}
	return st, cfg, nil
}

// withStore runs fn against the configured store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.TaskStore) error) error {
	st, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cmd.Context(), st)
}

// exitOnError prints the error to stderr, then exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
