// Package render formats run summaries and task store views for the CLI.
package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/joss/rawrsync/internal/store"
)

// StatusIcon returns the glyph for a task status.
func StatusIcon(status store.Status) string {
	switch status {
	case store.StatusCompleted:
		return "✓"
	case store.StatusErrored:
		return "✗"
	case store.StatusProgress:
		return "⟳"
	case store.StatusDiscovered:
		return "○"
	default:
		return "•"
	}
}

// RunIcon returns the glyph for a run: running, clean, or finished with
// tasks left errored or unfinished.
func RunIcon(run store.Run) string {
	switch {
	case !run.Finished():
		return "⟳"
	case run.ErrorCount == 0 && run.RemainingCount == 0:
		return "✓"
	default:
		return "✗"
	}
}

func (r *Renderer) statusIcon(s store.Status) string {
	icon := StatusIcon(s)
	switch s {
	case store.StatusCompleted:
		return color.GreenString(icon)
	case store.StatusErrored:
		return color.RedString(icon)
	case store.StatusProgress:
		return color.YellowString(icon)
	default:
		return color.HiBlackString(icon)
	}
}

func (r *Renderer) runIcon(run store.Run) string {
	icon := RunIcon(run)
	switch icon {
	case "✓":
		return color.GreenString(icon)
	case "✗":
		return color.RedString(icon)
	default:
		return color.YellowString(icon)
	}
}

// Status formats the store location, discovery phase and counts.
func (r *Renderer) Status(path string, phase store.Phase, st store.Stats) string {
	var sb strings.Builder
	if r.pretty {
		fmt.Fprintf(&sb, "Store:     %s\n", path)
		fmt.Fprintf(&sb, "Discovery: %s\n", phase)
	} else {
		fmt.Fprintf(&sb, "store=%s discovery=%s ", path, phase)
	}
	sb.WriteString(r.Stats(st))
	return sb.String()
}

// Requeued reports how many tasks a requeue returned to the queue.
func (r *Renderer) Requeued(n int) string {
	if !r.pretty {
		return fmt.Sprintf("requeued=%d\n", n)
	}
	return fmt.Sprintf("%s Requeued %d tasks\n", color.GreenString("✓"), n)
}
