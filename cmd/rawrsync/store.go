package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joss/rawrsync/internal/render"
	"github.com/joss/rawrsync/internal/store"
)

// listFlags adds --limit and --offset to cmd.
func listFlags(cmd *cobra.Command, limit int) {
	cmd.Flags().IntP("limit", "n", limit, "Maximum results (0 = all)")
	cmd.Flags().Int("offset", 0, "Skip the first N results")
}

func listFilter(cmd *cobra.Command) store.Filter {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return store.DefaultFilter().WithLimit(limit).WithOffset(offset)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task store counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				stats, err := st.Stats(ctx)
				if err != nil {
					return err
				}
				phase, err := st.DiscoveryPhase(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.New(pretty).Status(st.Path(), phase, stats))
				return nil
			})
		},
	}
}

func remainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remaining",
		Short: "List tasks that are not completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				tasks, err := st.RemainingTasks(ctx, listFilter(cmd))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.New(pretty).Tasks(tasks, "Remaining"))
				return nil
			})
		},
	}
	listFlags(cmd, 0)
	return cmd
}

func activeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List tasks currently claimed by a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				tasks, err := st.ActiveTasks(ctx, listFilter(cmd))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.New(pretty).Tasks(tasks, "Active"))
				return nil
			})
		},
	}
	listFlags(cmd, 0)
	return cmd
}

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List errored tasks with exit code and stderr",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				failed, err := st.ErrorTasks(ctx, listFilter(cmd))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.New(pretty).Failures(failed))
				return nil
			})
		},
	}
	listFlags(cmd, 0)
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "List recent runs, or the event history of one task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				r := render.New(pretty)
				if len(args) == 0 {
					runs, err := st.ListRuns(ctx, listFilter(cmd))
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), r.Runs(runs))
					return nil
				}

				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", args[0])
				}
				task, err := st.GetTask(ctx, id)
				if err != nil {
					return err
				}
				events, err := st.TaskHistory(ctx, id)
				if err != nil {
					return err
				}
				result, err := st.TaskResult(ctx, id)
				if err != nil && !store.IsNotFound(err) {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), r.History(task, events, result))
				return nil
			})
		},
	}
	listFlags(cmd, 20)
	return cmd
}

func requeueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return orphaned in-progress tasks to the queue",
		Long: `Append a discovered event to every task left in progress, and to errored
tasks with --errored, so the next run claims them again.

Do not run this while a transfer is using the same store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			errored, _ := cmd.Flags().GetBool("errored")
			return withStore(cmd, func(ctx context.Context, st *store.TaskStore) error {
				n, err := st.RequeueRemaining(ctx, errored)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.New(pretty).Requeued(n))
				return nil
			})
		},
	}
	cmd.Flags().Bool("errored", false, "Also requeue errored tasks")
	return cmd
}
