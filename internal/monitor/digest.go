package monitor

import (
	"context"
	"time"
)

type digestMember struct {
	key    StateKey
	target Target
	state  TargetState
	obs    Observation
}

type digestBatch struct {
	group   Group
	members []digestMember
}

// flushDigests issues one dispatch per group for the targets that decided
// "dispatch alert now" this cycle. Member cooldowns advance only when the
// digest dispatch succeeds, so a failed digest is retried next cycle.
func (r *Runner) flushDigests(ctx context.Context, digests map[string]*digestBatch, policy Policy, manual bool, result *CycleResult) {
	for _, batch := range digests {
		if len(batch.members) == 0 {
			continue
		}
		now := r.now()

		triggered := make([]TriggeredTarget, 0, len(batch.members))
		for _, m := range batch.members {
			triggered = append(triggered, TriggeredTarget{
				Target:    m.key.Target,
				Rate:      m.obs.Rate,
				Threshold: m.target.Threshold,
			})
		}

		notice := Notice{
			Kind:      KindDigest,
			Recipient: batch.group.Email,
			GroupID:   batch.group.ID,
			GroupName: batch.group.Name,
			Triggered: triggered,
			At:        now,
		}

		err := r.notifier.Notify(ctx, notice)
		r.metrics.Dispatch(string(KindDigest), err)
		if err != nil {
			r.logger.Error().Err(err).Str("group", batch.group.ID).Int("targets", len(triggered)).Msg("digest dispatch failed")
			continue
		}
		result.Alerts += len(batch.members)

		for _, m := range batch.members {
			r.commitDigestMember(ctx, m, policy, manual, now)
		}
	}
}

func (r *Runner) commitDigestMember(ctx context.Context, m digestMember, policy Policy, manual bool, now time.Time) {
	state := m.state
	state.Status = StatusAlert
	state.LastRate = m.obs.Rate
	state.LastNotifiedAt = &now
	advanceCooldown(&state, now, r.cooldownFor(policy, manual))
	state.UpdatedAt = now
	if err := r.states.SaveState(ctx, m.key, state); err != nil {
		r.logger.Error().Err(err).Stringer("target", m.key.Target).Msg("failed to persist digest member state")
	}
}
