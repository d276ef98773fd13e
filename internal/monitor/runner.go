package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lending-rate-alerts/internal/metrics"
)

// ErrCycleRunning indicates a tick arrived while the previous cycle was
// still executing. Cycles are strictly serialized.
var ErrCycleRunning = errors.New("monitor: evaluation cycle already running")

// StateStore persists hysteresis state per target key.
type StateStore interface {
	GetState(ctx context.Context, key StateKey) (TargetState, bool, error)
	SaveState(ctx context.Context, key StateKey, state TargetState) error
}

// PendingQueue persists deferred notifications.
type PendingQueue interface {
	ListPending(ctx context.Context) ([]PendingNotification, error)
	SavePending(ctx context.Context, entry PendingNotification) error
	DeletePending(ctx context.Context, id string) error
}

// Provider acquires an observation for a target. Any error means "no
// observation this cycle"; the target is retried on the next cycle.
type Provider interface {
	Fetch(ctx context.Context, target Target) (Observation, error)
}

// Notifier delivers notices. Implementations live outside the core and are
// injected; the core only observes success or failure.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// SampleRecorder persists observed rates for history and export. Optional.
type SampleRecorder interface {
	RecordSample(ctx context.Context, key StateKey, threshold decimal.Decimal, obs Observation, status Status) error
}

// Policy carries the evaluation parameters for one cycle.
type Policy struct {
	Window         Window
	RepeatInterval time.Duration
	ManualCooldown time.Duration
	PendingTTL     time.Duration
	FetchParallel  int
	DigestMode     bool
}

// CycleResult summarises one cycle for logging.
type CycleResult struct {
	Evaluated    int
	FetchFailed  int
	Alerts       int
	Recoveries   int
	Deferred     int
	Suppressed   int
	SweptSent    int
	SweptExpired int
}

// Runner executes evaluation cycles against the injected collaborators.
// All state writes for a key happen on the evaluation goroutine, keeping the
// read-modify-write single-writer.
type Runner struct {
	states   StateStore
	queue    PendingQueue
	provider Provider
	notifier Notifier
	samples  SampleRecorder
	metrics  *metrics.Set
	logger   zerolog.Logger
	now      func() time.Time

	cycleMu sync.Mutex
}

// NewRunner wires a Runner. samples and mset may be nil.
func NewRunner(states StateStore, queue PendingQueue, provider Provider, notifier Notifier, samples SampleRecorder, mset *metrics.Set, logger zerolog.Logger) *Runner {
	return &Runner{
		states:   states,
		queue:    queue,
		provider: provider,
		notifier: notifier,
		samples:  samples,
		metrics:  mset,
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the wall clock. Intended for tests.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

type workItem struct {
	group  Group
	target Target
	obs    *Observation
	err    error
}

// RunCycle evaluates every enabled target once and then sweeps the deferred
// queue. Returns ErrCycleRunning if a previous cycle has not finished.
func (r *Runner) RunCycle(ctx context.Context, groups []Group, policy Policy) (CycleResult, error) {
	return r.run(ctx, groups, policy, false)
}

// RunManual is the operator-triggered evaluation: the notification window is
// treated as open, and dispatches use the shortened manual cooldown.
func (r *Runner) RunManual(ctx context.Context, groups []Group, policy Policy) (CycleResult, error) {
	return r.run(ctx, groups, policy, true)
}

func (r *Runner) run(ctx context.Context, groups []Group, policy Policy, manual bool) (CycleResult, error) {
	if !r.cycleMu.TryLock() {
		r.metrics.CycleSkipped()
		return CycleResult{}, ErrCycleRunning
	}
	defer r.cycleMu.Unlock()

	r.metrics.CycleRun()

	var result CycleResult

	items := r.collect(groups)
	r.fetchAll(ctx, items, policy.FetchParallel)

	digests := make(map[string]*digestBatch)

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := &items[i]
		if item.err != nil {
			// No observation: state untouched, never treated as recovery.
			result.FetchFailed++
			r.metrics.FetchFailure()
			r.logger.Warn().Err(item.err).Stringer("target", item.target.Key).Msg("data acquisition failed, target skipped this cycle")
			continue
		}
		result.Evaluated++
		if err := r.evaluate(ctx, item, policy, manual, digests, &result); err != nil {
			// Persistence failures are isolated per target.
			r.logger.Error().Err(err).Stringer("target", item.target.Key).Msg("target evaluation failed")
		}
	}

	r.flushDigests(ctx, digests, policy, manual, &result)

	r.sweepLocked(ctx, policy, &result)

	return result, nil
}

func (r *Runner) collect(groups []Group) []workItem {
	var items []workItem
	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		for _, t := range g.Targets {
			if !t.Enabled {
				continue
			}
			items = append(items, workItem{group: g, target: t})
		}
	}
	return items
}

// fetchAll acquires observations concurrently with bounded parallelism.
// Each worker writes only its own slot.
func (r *Runner) fetchAll(ctx context.Context, items []workItem, parallel int) {
	if parallel <= 0 {
		parallel = 4
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for i := range items {
		item := &items[i]
		eg.Go(func() error {
			obs, err := r.provider.Fetch(egCtx, item.target)
			if err != nil {
				item.err = err
				return nil
			}
			item.obs = &obs
			return nil
		})
	}
	_ = eg.Wait()
}

func (r *Runner) evaluate(ctx context.Context, item *workItem, policy Policy, manual bool, digests map[string]*digestBatch, result *CycleResult) error {
	key := StateKey{GroupID: item.group.ID, Target: item.target.Key}
	now := r.now()

	state, found, err := r.states.GetState(ctx, key)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !found {
		state = TargetState{Status: StatusNormal}
	}

	if r.samples != nil {
		if err := r.samples.RecordSample(ctx, key, item.target.Threshold, *item.obs, state.Status); err != nil {
			r.logger.Warn().Err(err).Stringer("target", key.Target).Msg("failed to record rate sample")
		}
	}

	windowOpen := manual || policy.Window.IsOpen(now)
	action := Decide(state, item.obs.Rate, item.target.Threshold, windowOpen, now)

	r.logger.Debug().
		Stringer("target", key.Target).
		Str("group", key.GroupID).
		Str("rate", item.obs.Rate.String()).
		Str("threshold", item.target.Threshold.String()).
		Str("status", string(state.Status)).
		Str("action", action.String()).
		Msg("target evaluated")

	switch action {
	case ActionDispatchAlert, ActionDispatchRepeat:
		if policy.DigestMode {
			b := digests[item.group.ID]
			if b == nil {
				b = &digestBatch{group: item.group}
				digests[item.group.ID] = b
			}
			b.members = append(b.members, digestMember{key: key, target: item.target, state: state, obs: *item.obs})
			return nil
		}
		return r.dispatchAlert(ctx, key, item, state, policy, manual, now, result)

	case ActionDeferAlert:
		return r.deferNotice(ctx, key, item, state, KindAlert, StatusAlert, policy, now, result)

	case ActionDispatchRecovery:
		if !policy.DigestMode {
			notice := r.buildNotice(KindRecovery, key, item, now, false)
			err := r.notifier.Notify(ctx, notice)
			r.metrics.Dispatch(string(KindRecovery), err)
			if err != nil {
				// The rate recovered regardless; apply the transition and log.
				r.logger.Error().Err(err).Stringer("target", key.Target).Msg("recovery dispatch failed")
			} else {
				result.Recoveries++
			}
		} else {
			// Grouped mode: recovery is informational, batched into the
			// next digest rather than mailed on its own.
			result.Recoveries++
			r.logger.Info().Stringer("target", key.Target).Str("group", key.GroupID).Msg("target recovered")
		}
		state.Status = StatusNormal
		state.LastRate = item.obs.Rate
		state.NextAllowedAt = nil
		state.UpdatedAt = now
		return r.states.SaveState(ctx, key, state)

	case ActionDeferRecovery:
		if policy.DigestMode {
			// No standalone recovery mail in grouped mode, so nothing to
			// defer; the transition still applies immediately.
			result.Recoveries++
			state.Status = StatusNormal
			state.LastRate = item.obs.Rate
			state.NextAllowedAt = nil
			state.UpdatedAt = now
			return r.states.SaveState(ctx, key, state)
		}
		return r.deferNotice(ctx, key, item, state, KindRecovery, StatusNormal, policy, now, result)

	case ActionSuppressed:
		result.Suppressed++
		return nil

	default:
		return nil
	}
}

func (r *Runner) dispatchAlert(ctx context.Context, key StateKey, item *workItem, state TargetState, policy Policy, manual bool, now time.Time, result *CycleResult) error {
	notice := r.buildNotice(KindAlert, key, item, now, false)
	err := r.notifier.Notify(ctx, notice)
	r.metrics.Dispatch(string(KindAlert), err)
	if err != nil {
		// Do not advance the cooldown: the next cycle must retry.
		r.logger.Error().Err(err).Stringer("target", key.Target).Msg("alert dispatch failed")
		return nil
	}
	result.Alerts++

	state.Status = StatusAlert
	state.LastRate = item.obs.Rate
	state.LastNotifiedAt = &now
	advanceCooldown(&state, now, r.cooldownFor(policy, manual))
	state.UpdatedAt = now
	return r.states.SaveState(ctx, key, state)
}

// deferNotice enqueues a deferred notification unless one of the same kind
// is already pending for the key. An alert and a recovery may be pending at
// the same time. The state transition applies regardless.
func (r *Runner) deferNotice(ctx context.Context, key StateKey, item *workItem, state TargetState, kind Kind, next Status, policy Policy, now time.Time, result *CycleResult) error {
	exists, err := r.pendingExists(ctx, key, kind)
	if err != nil {
		return fmt.Errorf("check deferred %s: %w", kind, err)
	}
	if !exists {
		entry := PendingNotification{
			ID:          uuid.NewString(),
			Key:         key,
			Kind:        kind,
			Recipient:   item.group.Email,
			GroupName:   item.group.Name,
			Rate:        item.obs.Rate,
			Threshold:   item.target.Threshold,
			History:     item.obs.History,
			ScheduledAt: policy.Window.NextOpen(now),
			CreatedAt:   now,
		}
		if err := r.queue.SavePending(ctx, entry); err != nil {
			return fmt.Errorf("enqueue deferred %s: %w", kind, err)
		}
		result.Deferred++
		r.metrics.Deferred()
		r.logger.Info().
			Stringer("target", key.Target).
			Str("kind", string(kind)).
			Time("scheduled_at", entry.ScheduledAt).
			Msg("notification deferred until window opens")
	}

	state.PendingNotification = true
	state.Status = next
	state.LastRate = item.obs.Rate
	state.UpdatedAt = now
	return r.states.SaveState(ctx, key, state)
}

func (r *Runner) pendingExists(ctx context.Context, key StateKey, kind Kind) (bool, error) {
	entries, err := r.queue.ListPending(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Key == key && entry.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) buildNotice(kind Kind, key StateKey, item *workItem, now time.Time, deferred bool) Notice {
	return Notice{
		Kind:      kind,
		Recipient: item.group.Email,
		GroupID:   key.GroupID,
		GroupName: item.group.Name,
		Target:    key.Target,
		Rate:      item.obs.Rate,
		Threshold: item.target.Threshold,
		History:   item.obs.History,
		At:        now,
		Deferred:  deferred,
	}
}

func (r *Runner) cooldownFor(policy Policy, manual bool) time.Duration {
	if manual && policy.ManualCooldown > 0 {
		return policy.ManualCooldown
	}
	return policy.RepeatInterval
}
