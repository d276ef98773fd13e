package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"lending-rate-alerts/internal/storage"
)

// Show prints target states and, optionally, recent samples and dispatches.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show state")
	}
	if closeStore != nil {
		defer closeStore()
	}

	states, err := store.ListStates(ctx)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(os.Stdout, "no target states found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Group\tTarget\tStatus\tLast Rate\tLast Notified\tNext Allowed\tPending\tUpdated (UTC)")
		for _, rec := range states {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				groupLabel(rec.Key.GroupID),
				rec.Key.Target.String(),
				rec.State.Status,
				rec.State.LastRate.StringFixed(4),
				formatOptionalTime(rec.State.LastNotifiedAt),
				formatOptionalTime(rec.State.NextAllowedAt),
				rec.State.PendingNotification,
				rec.State.UpdatedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
	}

	if opts.Samples {
		if err := a.showSamples(ctx, store, opts.Limit); err != nil {
			return err
		}
	}
	if opts.Dispatch {
		if err := a.showDispatches(ctx, store, opts.Limit); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) showSamples(ctx context.Context, store *storage.Store, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "\nno samples found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tTarget\tRate\tThreshold\tStatus")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Key.Target.String(),
			sample.Rate.StringFixed(4),
			sample.Threshold.StringFixed(4),
			sample.Status,
		)
	}
	writer.Flush()
	return nil
}

func (a *App) showDispatches(ctx context.Context, store *storage.Store, limit int) error {
	records, err := store.ListRecentDispatches(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "\nno dispatches found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTarget\tKind\tRecipient\tRate\tDeferred\tError")
	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Target.String(),
			rec.Kind,
			rec.Recipient,
			rec.Rate.StringFixed(4),
			rec.Deferred,
			errMsg,
		)
	}
	writer.Flush()
	return nil
}

func groupLabel(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
