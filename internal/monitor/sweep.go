package monitor

import (
	"context"
	"time"
)

// Sweep processes the deferred notification queue once: every entry whose
// scheduled time has passed is dispatched if the window is currently open.
// Delivered entries are deleted and the pending flag on the owning state is
// cleared; failed dispatches keep the entry for the next sweep. Entries older
// than the retention TTL are dropped with a warning and never retried.
func (r *Runner) Sweep(ctx context.Context, policy Policy) (CycleResult, error) {
	if !r.cycleMu.TryLock() {
		return CycleResult{}, ErrCycleRunning
	}
	defer r.cycleMu.Unlock()

	var result CycleResult
	r.sweepLocked(ctx, policy, &result)
	return result, nil
}

func (r *Runner) sweepLocked(ctx context.Context, policy Policy, result *CycleResult) {
	entries, err := r.queue.ListPending(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list deferred notifications")
		return
	}
	r.metrics.PendingDepth(len(entries))
	if len(entries) == 0 {
		return
	}

	now := r.now()
	ttl := policy.PendingTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	// An alert and a recovery can be queued for the same key; the pending
	// flag is only cleared once the last of them is gone.
	remaining := make(map[StateKey]int, len(entries))
	for _, entry := range entries {
		remaining[entry.Key]++
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return
		}

		if now.Sub(entry.CreatedAt) > ttl {
			r.logger.Warn().
				Str("id", entry.ID).
				Stringer("target", entry.Key.Target).
				Str("kind", string(entry.Kind)).
				Time("created_at", entry.CreatedAt).
				Msg("deferred notification expired without delivery, dropping")
			r.dropPending(ctx, entry)
			remaining[entry.Key]--
			if remaining[entry.Key] == 0 {
				r.clearPendingFlag(ctx, entry)
			}
			result.SweptExpired++
			r.metrics.SweepExpired()
			continue
		}

		if now.Before(entry.ScheduledAt) || !policy.Window.IsOpen(now) {
			continue
		}

		notice := Notice{
			Kind:      entry.Kind,
			Recipient: entry.Recipient,
			GroupID:   entry.Key.GroupID,
			GroupName: entry.GroupName,
			Target:    entry.Key.Target,
			Rate:      entry.Rate,
			Threshold: entry.Threshold,
			History:   entry.History,
			At:        now,
			Deferred:  true,
		}

		err := r.notifier.Notify(ctx, notice)
		r.metrics.Dispatch(string(entry.Kind), err)
		if err != nil {
			// At-least-once: the entry stays for the next sweep.
			r.logger.Error().Err(err).Str("id", entry.ID).Stringer("target", entry.Key.Target).Msg("deferred dispatch failed, will retry")
			continue
		}

		r.dropPending(ctx, entry)
		remaining[entry.Key]--
		last := remaining[entry.Key] == 0
		if entry.Kind == KindAlert {
			r.stampDelivered(ctx, entry, now, policy, last)
		} else if last {
			r.clearPendingFlag(ctx, entry)
		}
		result.SweptSent++
		r.metrics.SweepDelivered()
		r.logger.Info().Str("id", entry.ID).Stringer("target", entry.Key.Target).Str("kind", string(entry.Kind)).Msg("deferred notification delivered")
	}
}

func (r *Runner) dropPending(ctx context.Context, entry PendingNotification) {
	if err := r.queue.DeletePending(ctx, entry.ID); err != nil {
		r.logger.Error().Err(err).Str("id", entry.ID).Msg("failed to delete deferred notification")
	}
}

// stampDelivered advances the cooldown after a deferred alert delivery, so
// the freshly delivered alert is not immediately repeated by the next cycle.
// The pending flag is cleared only when no other entry remains for the key.
func (r *Runner) stampDelivered(ctx context.Context, entry PendingNotification, now time.Time, policy Policy, last bool) {
	state, found, err := r.states.GetState(ctx, entry.Key)
	if err != nil || !found {
		if err != nil {
			r.logger.Error().Err(err).Stringer("target", entry.Key.Target).Msg("failed to load state after deferred delivery")
		}
		return
	}
	state.PendingNotification = !last
	state.LastNotifiedAt = &now
	advanceCooldown(&state, now, policy.RepeatInterval)
	state.UpdatedAt = now
	if err := r.states.SaveState(ctx, entry.Key, state); err != nil {
		r.logger.Error().Err(err).Stringer("target", entry.Key.Target).Msg("failed to persist state after deferred delivery")
	}
}

func (r *Runner) clearPendingFlag(ctx context.Context, entry PendingNotification) {
	state, found, err := r.states.GetState(ctx, entry.Key)
	if err != nil || !found {
		if err != nil {
			r.logger.Error().Err(err).Stringer("target", entry.Key.Target).Msg("failed to load state after deferred delivery")
		}
		return
	}
	state.PendingNotification = false
	state.UpdatedAt = r.now()
	if err := r.states.SaveState(ctx, entry.Key, state); err != nil {
		r.logger.Error().Err(err).Stringer("target", entry.Key.Target).Msg("failed to persist state after deferred delivery")
	}
}
