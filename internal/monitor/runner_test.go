package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	mu    sync.Mutex
	rates map[TargetKey]decimal.Decimal
	errs  map[TargetKey]error
}

func (f *fakeProvider) Fetch(_ context.Context, target Target) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[target.Key]; ok {
		return Observation{}, err
	}
	rate, ok := f.rates[target.Key]
	if !ok {
		return Observation{}, errors.New("no rate configured")
	}
	return Observation{Rate: rate, ObservedAt: time.Now().UTC()}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (f *fakeNotifier) Notify(_ context.Context, notice Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notices = append(f.notices, notice)
	return nil
}

func (f *fakeNotifier) sent() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notice, len(f.notices))
	copy(out, f.notices)
	return out
}

var testKey = TargetKey{Symbol: "fUSD", Exchange: "bitfinex", Timeframe: "1h"}

func testGroups(threshold float64) []Group {
	return []Group{{
		ID:      "ops",
		Name:    "Ops",
		Email:   "ops@example.com",
		Enabled: true,
		Targets: []Target{{
			Key:       testKey,
			Threshold: decimal.NewFromFloat(threshold),
			Enabled:   true,
		}},
	}}
}

func testPolicy() Policy {
	return Policy{
		RepeatInterval: 4 * time.Hour,
		ManualCooldown: 30 * time.Minute,
		PendingTTL:     7 * 24 * time.Hour,
	}
}

type testHarness struct {
	runner   *Runner
	store    *MemoryStore
	provider *fakeProvider
	notifier *fakeNotifier
	clock    time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		store:    NewMemoryStore(),
		provider: &fakeProvider{rates: make(map[TargetKey]decimal.Decimal), errs: make(map[TargetKey]error)},
		notifier: &fakeNotifier{},
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.runner = NewRunner(h.store, h.store, h.provider, h.notifier, nil, nil, zerolog.Nop())
	h.runner.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *testHarness) setRate(rate float64) {
	h.provider.mu.Lock()
	h.provider.rates[testKey] = decimal.NewFromFloat(rate)
	h.provider.mu.Unlock()
}

func (h *testHarness) state(t *testing.T) TargetState {
	t.Helper()
	state, found, err := h.store.GetState(context.Background(), StateKey{GroupID: "ops", Target: testKey})
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !found {
		t.Fatal("state not found")
	}
	return state
}

func TestRunCycleDispatchesAlert(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)

	result, err := h.runner.RunCycle(context.Background(), testGroups(5.0), testPolicy())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Alerts != 1 {
		t.Fatalf("expected 1 alert, got %d", result.Alerts)
	}

	notices := h.notifier.sent()
	if len(notices) != 1 || notices[0].Kind != KindAlert {
		t.Fatalf("expected one alert notice, got %+v", notices)
	}
	if notices[0].Recipient != "ops@example.com" {
		t.Fatalf("wrong recipient: %s", notices[0].Recipient)
	}

	state := h.state(t)
	if state.Status != StatusAlert {
		t.Fatalf("status = %s, want alert", state.Status)
	}
	if state.LastNotifiedAt == nil || !state.LastNotifiedAt.Equal(h.clock) {
		t.Fatal("LastNotifiedAt should be stamped with the cycle clock")
	}
	wantNext := h.clock.Add(4 * time.Hour)
	if state.NextAllowedAt == nil || !state.NextAllowedAt.Equal(wantNext) {
		t.Fatalf("NextAllowedAt = %v, want %s", state.NextAllowedAt, wantNext)
	}
}

func TestRunCycleRepeatRespectsCooldown(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	groups := testGroups(5.0)
	ctx := context.Background()

	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// one hour later: still above, inside the 4h cooldown
	h.clock = h.clock.Add(time.Hour)
	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if result.Suppressed != 1 {
		t.Fatalf("expected suppression, got %+v", result)
	}
	if len(h.notifier.sent()) != 1 {
		t.Fatal("no repeat should dispatch inside the cooldown")
	}

	// past the cooldown: repeat fires
	h.clock = h.clock.Add(4 * time.Hour)
	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if len(h.notifier.sent()) != 2 {
		t.Fatal("repeat should dispatch after the cooldown")
	}
}

func TestRunCycleRecoveryAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	groups := testGroups(5.0)
	ctx := context.Background()

	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("alert cycle: %v", err)
	}

	// exactly at the threshold counts as recovered
	h.setRate(5.0)
	h.clock = h.clock.Add(time.Hour)
	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if result.Recoveries != 1 {
		t.Fatalf("expected recovery, got %+v", result)
	}

	notices := h.notifier.sent()
	if notices[len(notices)-1].Kind != KindRecovery {
		t.Fatal("last notice should be a recovery")
	}

	state := h.state(t)
	if state.Status != StatusNormal {
		t.Fatalf("status = %s, want normal", state.Status)
	}
	if state.NextAllowedAt != nil {
		t.Fatal("recovery should clear the cooldown stamp")
	}
}

func TestRunCycleFetchFailureIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	groups := testGroups(5.0)
	ctx := context.Background()

	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("alert cycle: %v", err)
	}

	// acquisition failure must not be treated as recovery
	h.provider.mu.Lock()
	h.provider.errs[testKey] = errors.New("upstream down")
	h.provider.mu.Unlock()

	h.clock = h.clock.Add(time.Hour)
	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("failing cycle: %v", err)
	}
	if result.FetchFailed != 1 || result.Evaluated != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(h.notifier.sent()) != 1 {
		t.Fatal("no dispatch should happen on a fetch failure")
	}
	if h.state(t).Status != StatusAlert {
		t.Fatal("state must stay in alert when no observation arrives")
	}
}

func TestRunCycleDispatchFailureDoesNotAdvanceState(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	h.notifier.err = errors.New("smtp down")
	policy := testPolicy()
	groups := testGroups(5.0)
	ctx := context.Background()

	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Alerts != 0 {
		t.Fatalf("failed dispatch must not count as alert: %+v", result)
	}

	if _, found, _ := h.store.GetState(ctx, StateKey{GroupID: "ops", Target: testKey}); found {
		t.Fatal("failed dispatch must not persist an alert state")
	}

	// next cycle retries and succeeds
	h.notifier.err = nil
	h.clock = h.clock.Add(time.Hour)
	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(h.notifier.sent()) != 1 {
		t.Fatal("retry cycle should dispatch the alert")
	}
	if h.state(t).Status != StatusAlert {
		t.Fatal("state should be alert after the successful retry")
	}
}

func TestRunCycleDefersWhenWindowClosed(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	policy.Window = Window{Enabled: true, Start: 9 * 60, End: 18 * 60}
	groups := testGroups(5.0)
	ctx := context.Background()

	h.clock = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("expected one deferral, got %+v", result)
	}
	if len(h.notifier.sent()) != 0 {
		t.Fatal("nothing should dispatch while the window is closed")
	}

	state := h.state(t)
	if state.Status != StatusAlert || !state.PendingNotification {
		t.Fatalf("state should be alert with pending flag, got %+v", state)
	}

	pending, _ := h.store.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d", len(pending))
	}
	wantScheduled := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !pending[0].ScheduledAt.Equal(wantScheduled) {
		t.Fatalf("ScheduledAt = %s, want %s", pending[0].ScheduledAt, wantScheduled)
	}

	// a second closed-window cycle must not enqueue a duplicate
	h.clock = h.clock.Add(time.Hour)
	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	pending, _ = h.store.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("duplicate deferral enqueued: %d entries", len(pending))
	}
}

func TestRunCycleRecoveryWhileAlertDeferred(t *testing.T) {
	h := newHarness(t)
	policy := testPolicy()
	policy.Window = Window{Enabled: true, Start: 9 * 60, End: 18 * 60}
	groups := testGroups(5.0)
	ctx := context.Background()

	// crossing at 20:00 with the window closed: the alert is deferred
	h.clock = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	h.setRate(6.0)
	if _, err := h.runner.RunCycle(ctx, groups, policy); err != nil {
		t.Fatalf("alert cycle: %v", err)
	}

	// recovery an hour later, window still closed: it must be queued on its
	// own, not swallowed by the pending alert
	h.clock = h.clock.Add(time.Hour)
	h.setRate(4.0)
	result, err := h.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if result.Deferred != 1 {
		t.Fatalf("recovery should be deferred, got %+v", result)
	}

	state := h.state(t)
	if state.Status != StatusNormal || !state.PendingNotification {
		t.Fatalf("state should be normal with pending flag, got %+v", state)
	}

	pending, _ := h.store.ListPending(ctx)
	if len(pending) != 2 {
		t.Fatalf("expected alert and recovery queued, got %d entries", len(pending))
	}
	kinds := make(map[Kind]bool, 2)
	for _, entry := range pending {
		kinds[entry.Kind] = true
	}
	if !kinds[KindAlert] || !kinds[KindRecovery] {
		t.Fatalf("queued kinds = %v, want alert and recovery", kinds)
	}

	// next morning the sweep delivers both, alert first
	h.clock = time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	swept, err := h.runner.Sweep(ctx, policy)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept.SweptSent != 2 {
		t.Fatalf("expected both deliveries, got %+v", swept)
	}

	notices := h.notifier.sent()
	if len(notices) != 2 || notices[0].Kind != KindAlert || notices[1].Kind != KindRecovery {
		t.Fatalf("unexpected notices: %+v", notices)
	}
	if !notices[0].Deferred || !notices[1].Deferred {
		t.Fatal("swept notices should be marked deferred")
	}

	state = h.state(t)
	if state.Status != StatusNormal || state.PendingNotification {
		t.Fatalf("pending flag should clear after both deliveries, got %+v", state)
	}
	if left, _ := h.store.ListPending(ctx); len(left) != 0 {
		t.Fatalf("queue should be empty, got %d entries", len(left))
	}
}

func TestRunManualBypassesWindowWithShortCooldown(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	policy.Window = Window{Enabled: true, Start: 9 * 60, End: 18 * 60}
	groups := testGroups(5.0)
	ctx := context.Background()

	h.clock = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	result, err := h.runner.RunManual(ctx, groups, policy)
	if err != nil {
		t.Fatalf("RunManual: %v", err)
	}
	if result.Alerts != 1 {
		t.Fatalf("manual run should dispatch despite the closed window: %+v", result)
	}

	state := h.state(t)
	wantNext := h.clock.Add(30 * time.Minute)
	if state.NextAllowedAt == nil || !state.NextAllowedAt.Equal(wantNext) {
		t.Fatalf("manual cooldown = %v, want %s", state.NextAllowedAt, wantNext)
	}
}

func TestRunManualStillRespectsCooldown(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	policy := testPolicy()
	groups := testGroups(5.0)
	ctx := context.Background()

	if _, err := h.runner.RunManual(ctx, groups, policy); err != nil {
		t.Fatalf("first manual run: %v", err)
	}

	// ten minutes later, inside the 30 minute manual cooldown
	h.clock = h.clock.Add(10 * time.Minute)
	result, err := h.runner.RunManual(ctx, groups, policy)
	if err != nil {
		t.Fatalf("second manual run: %v", err)
	}
	if result.Suppressed != 1 {
		t.Fatalf("manual run must respect the cooldown: %+v", result)
	}
	if len(h.notifier.sent()) != 1 {
		t.Fatal("second manual run should not dispatch")
	}
}

func TestRunCycleDisabledTargetsSkipped(t *testing.T) {
	h := newHarness(t)
	h.setRate(6.0)
	groups := testGroups(5.0)
	groups[0].Targets[0].Enabled = false

	result, err := h.runner.RunCycle(context.Background(), groups, testPolicy())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Evaluated != 0 || len(h.notifier.sent()) != 0 {
		t.Fatalf("disabled target must not be evaluated: %+v", result)
	}
}
