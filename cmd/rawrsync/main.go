// Package main provides the rawrsync CLI entrypoint.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
	pretty  = true
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		exitOnError(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rawrsync",
		Short: "Parallel rsync orchestrator with a durable task store",
		Long: `rawrsync splits a large copy into per-directory rsync tasks.

Tasks are discovered by walking the source to a fixed depth, persisted in a
SQLite store and drained by a pool of workers. Interrupted or failed runs
resume from the store: completed directories are never copied twice.

Use 'rawrsync run -s SRC -d DST' to start a transfer.
Use 'rawrsync status' to inspect the store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml)")
	rootCmd.PersistentFlags().String("store", "", "Task store path (default ./task_store.db)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "transfer", Title: "Transfer:"},
		&cobra.Group{ID: "store", Title: "Store:"},
	)

	run := runCmd()
	run.GroupID = "transfer"
	rootCmd.AddCommand(run)

	requeue := requeueCmd()
	requeue.GroupID = "transfer"
	rootCmd.AddCommand(requeue)

	for _, c := range []*cobra.Command{statusCmd(), remainingCmd(), activeCmd(), errorsCmd(), historyCmd()} {
		c.GroupID = "store"
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rawrsync %s\n", version)
		},
	})

	return rootCmd
}
