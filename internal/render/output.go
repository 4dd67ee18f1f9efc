package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/rawrsync/internal/orchestrator"
	"github.com/joss/rawrsync/internal/store"
	strutil "github.com/joss/rawrsync/internal/strings"
)

// stderrLines is how much of a failed task's stderr is shown.
const stderrLines = 3

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Summary formats the end-of-run report.
func (r *Renderer) Summary(s *orchestrator.Summary) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Run %s\n", s.RunID))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
		fmt.Fprintf(&sb, "  Discovered: %d dirs visited, %d tasks added\n", s.Discovery.DirsVisited, s.Discovery.Added)
		if s.Requeued > 0 {
			fmt.Fprintf(&sb, "  Requeued:   %d\n", s.Requeued)
		}
		fmt.Fprintf(&sb, "  This run:   %d completed, %d errored\n", s.Completed, s.Failed)
		sb.WriteString(r.Stats(s.Stats))
		fmt.Fprintf(&sb, "Ran in [%.2f] seconds\n", s.Duration.Seconds())
	} else {
		fmt.Fprintf(&sb, "run=%s visited=%d added=%d requeued=%d ran=%d failed=%d\n",
			s.RunID, s.Discovery.DirsVisited, s.Discovery.Added, s.Requeued, s.Completed, s.Failed)
		sb.WriteString(r.Stats(s.Stats))
		fmt.Fprintf(&sb, "Ran in [%.2f] seconds\n", s.Duration.Seconds())
	}

	if len(s.Remaining) > 0 {
		sb.WriteString(r.Tasks(s.Remaining, "Remaining"))
	}
	return sb.String()
}

// Stats formats store counts.
func (r *Renderer) Stats(st store.Stats) string {
	if !r.pretty {
		return fmt.Sprintf("tasks=%d updates=%d active=%d remaining=%d completed=%d errored=%d\n",
			st.TaskCount, st.EventCount, st.ActiveCount, st.RemainingCount, st.CompletedCount, st.ErrorCount)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  Tasks:      %d\n", st.TaskCount)
	fmt.Fprintf(&sb, "  Updates:    %d\n", st.EventCount)
	fmt.Fprintf(&sb, "  Active:     %d\n", st.ActiveCount)
	fmt.Fprintf(&sb, "  Remaining:  %d\n", st.RemainingCount)
	fmt.Fprintf(&sb, "  Completed:  %s\n", color.GreenString("%d", st.CompletedCount))
	errCount := fmt.Sprintf("%d", st.ErrorCount)
	if st.ErrorCount > 0 {
		errCount = color.RedString(errCount)
	}
	fmt.Fprintf(&sb, "  Errored:    %s\n", errCount)
	return sb.String()
}

// Tasks formats a task list under title.
func (r *Renderer) Tasks(tasks []store.TaskStatus, title string) string {
	if len(tasks) == 0 {
		return fmt.Sprintf("No %s tasks\n", strings.ToLower(title))
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("%s (%d)\n", title, len(tasks)))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, t := range tasks {
		timeStr := t.ChangedAt.Local().Format("15:04:05")
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s %s %s\n", r.statusIcon(t.Status), color.HiBlackString(timeStr),
				color.HiBlackString("#%d", t.ID), t.Source)
		} else {
			fmt.Fprintf(&sb, "[%s] %d %s %s\n", timeStr, t.ID, t.Status, t.Source)
		}
	}
	return sb.String()
}

// Failures formats errored tasks with exit codes and a stderr tail.
func (r *Renderer) Failures(failed []store.FailedTask) string {
	if len(failed) == 0 {
		return "No errored tasks\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.RedString("✗ Errored tasks (%d)\n", len(failed)))
		sb.WriteString(strings.Repeat("─", 60) + "\n\n")
	}

	for _, f := range failed {
		exit := "exit=?"
		if f.HasResult {
			exit = fmt.Sprintf("exit=%d", f.ExitCode)
		}
		if !r.pretty {
			fmt.Fprintf(&sb, "%d %s %s", f.ID, exit, f.Source)
			if f.Stderr != "" {
				fmt.Fprintf(&sb, " error=%q", strutil.OneLine(f.Stderr))
			}
			sb.WriteString("\n")
			continue
		}

		fmt.Fprintf(&sb, "[%s] %s %s\n", color.RedString("✗"), color.YellowString(exit), f.Source)
		for _, line := range strutil.Tail(f.Stderr, stderrLines) {
			fmt.Fprintf(&sb, "    %s\n", color.RedString(line))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Runs formats the run history.
func (r *Renderer) Runs(runs []store.Run) string {
	if len(runs) == 0 {
		return "No runs recorded\n"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Runs\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, run := range runs {
		started := run.StartedAt.Local().Format("2006-01-02 15:04:05")
		dur := "running"
		if run.Finished() {
			dur = FormatDuration(run.FinishedAt.Sub(run.StartedAt))
		}
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s %s (%s)\n", r.runIcon(run),
				color.HiBlackString(started), run.ID, dur)
			fmt.Fprintf(&sb, "    %s → %s  tasks=%d remaining=%d errored=%d\n",
				run.Source, run.Destination, run.TaskCount, run.RemainingCount, run.ErrorCount)
		} else {
			fmt.Fprintf(&sb, "[%s] %s %s %s tasks=%d remaining=%d errored=%d %s\n",
				started, run.ID, run.Source, run.Destination, run.TaskCount, run.RemainingCount, run.ErrorCount, dur)
		}
	}
	return sb.String()
}

// History formats the event sequence of one task, optionally followed by its result.
func (r *Renderer) History(task *store.TaskStatus, events []store.Event, result *store.StoredResult) string {
	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Task #%d %s\n", task.ID, task.Source))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	} else {
		fmt.Fprintf(&sb, "task=%d source=%s\n", task.ID, task.Source)
	}

	for _, e := range events {
		timeStr := e.ChangedAt.Local().Format("2006-01-02 15:04:05")
		claim := ""
		if e.ClaimID != "" {
			claim = " claim=" + e.ClaimID
		}
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s %s%s\n", r.statusIcon(e.Status), color.HiBlackString(timeStr), e.Status,
				color.HiBlackString(claim))
		} else {
			fmt.Fprintf(&sb, "[%s] %d %s%s\n", timeStr, e.ID, e.Status, claim)
		}
	}

	if result != nil {
		if r.pretty {
			fmt.Fprintf(&sb, "\n  Exit:     %d\n  Duration: %s\n", result.ExitCode, FormatDuration(result.Duration))
			for _, line := range strutil.Tail(result.Stderr, stderrLines) {
				fmt.Fprintf(&sb, "    %s\n", color.RedString(line))
			}
		} else {
			fmt.Fprintf(&sb, "exit=%d duration=%s\n", result.ExitCode, FormatDuration(result.Duration))
		}
	}
	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
