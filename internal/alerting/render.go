package alerting

import (
	"fmt"
	"strings"
	"time"

	"lending-rate-alerts/internal/monitor"
)

const maxHistoryLines = 12

// Subject builds the dispatch subject line for a notice.
func Subject(note monitor.Notice) string {
	switch note.Kind {
	case monitor.KindRecovery:
		return fmt.Sprintf("[Rate Recovered] %s back to %s%%", note.Target.String(), note.Rate.StringFixed(4))
	case monitor.KindDigest:
		return fmt.Sprintf("[Rate Alert] %s: %d targets above threshold", note.GroupName, len(note.Triggered))
	default:
		return fmt.Sprintf("[Rate Alert] %s at %s%%", note.Target.String(), note.Rate.StringFixed(4))
	}
}

// RenderBody builds the plain-text dispatch body for a notice.
func RenderBody(note monitor.Notice) string {
	builder := strings.Builder{}

	switch note.Kind {
	case monitor.KindDigest:
		builder.WriteString(fmt.Sprintf("Group: %s\n", note.GroupName))
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n\n", note.At.UTC().Format(time.RFC3339)))
		for _, member := range note.Triggered {
			builder.WriteString(fmt.Sprintf("- %s: %s%% (threshold %s%%)\n",
				member.Target.String(), member.Rate.StringFixed(4), member.Threshold.StringFixed(4)))
		}
	case monitor.KindRecovery:
		builder.WriteString(fmt.Sprintf("Target: %s\n", note.Target.String()))
		builder.WriteString(fmt.Sprintf("Rate: %s%% (threshold %s%%)\n", note.Rate.StringFixed(4), note.Threshold.StringFixed(4)))
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
		builder.WriteString("Rate has fallen back to or below the threshold.\n")
	default:
		builder.WriteString(fmt.Sprintf("Target: %s\n", note.Target.String()))
		builder.WriteString(fmt.Sprintf("Rate: %s%% (threshold %s%%)\n", note.Rate.StringFixed(4), note.Threshold.StringFixed(4)))
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}

	if note.Deferred {
		builder.WriteString("\nThis notification was held until the notification window opened.\n")
	}

	if len(note.History) > 0 {
		builder.WriteString("\nRecent samples:\n")
		points := note.History
		if len(points) > maxHistoryLines {
			points = points[len(points)-maxHistoryLines:]
		}
		for _, p := range points {
			builder.WriteString(fmt.Sprintf("  %s  %s%%\n", p.Time.UTC().Format("2006-01-02 15:04"), p.Rate.StringFixed(4)))
		}
	}

	return builder.String()
}
