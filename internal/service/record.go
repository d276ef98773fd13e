package service

import (
	"context"

	"github.com/rs/zerolog"

	"lending-rate-alerts/internal/monitor"
	"lending-rate-alerts/internal/storage"
)

// RecordingNotifier decorates a notifier with dispatch audit logging. Every
// attempt is recorded, failures included, so operators can reconstruct what
// was sent and when. Audit failures never fail the dispatch itself.
type RecordingNotifier struct {
	next   monitor.Notifier
	store  *storage.Store
	logger zerolog.Logger
}

// NewRecordingNotifier wraps next with dispatch_log persistence.
func NewRecordingNotifier(next monitor.Notifier, store *storage.Store, logger zerolog.Logger) *RecordingNotifier {
	return &RecordingNotifier{
		next:   next,
		store:  store,
		logger: logger.With().Str("component", "dispatch_log").Logger(),
	}
}

func (r *RecordingNotifier) Notify(ctx context.Context, note monitor.Notice) error {
	err := r.next.Notify(ctx, note)

	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
	}

	for _, rec := range recordsFor(note, errMsg) {
		if insertErr := r.store.InsertDispatch(ctx, rec); insertErr != nil {
			r.logger.Warn().Err(insertErr).Str("kind", string(note.Kind)).Msg("failed to record dispatch")
		}
	}

	return err
}

// recordsFor expands a digest into one audit row per triggered target;
// single notices map to a single row.
func recordsFor(note monitor.Notice, errMsg *string) []storage.DispatchRecord {
	if note.Kind == monitor.KindDigest {
		records := make([]storage.DispatchRecord, 0, len(note.Triggered))
		for _, member := range note.Triggered {
			records = append(records, storage.DispatchRecord{
				GroupID:   note.GroupID,
				Target:    member.Target,
				Kind:      note.Kind,
				Recipient: note.Recipient,
				Rate:      member.Rate,
				Threshold: member.Threshold,
				Deferred:  note.Deferred,
				Error:     errMsg,
			})
		}
		return records
	}

	return []storage.DispatchRecord{{
		GroupID:   note.GroupID,
		Target:    note.Target,
		Kind:      note.Kind,
		Recipient: note.Recipient,
		Rate:      note.Rate,
		Threshold: note.Threshold,
		Deferred:  note.Deferred,
		Error:     errMsg,
	}}
}

var _ monitor.Notifier = (*RecordingNotifier)(nil)
