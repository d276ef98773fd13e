package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var secondKey = TargetKey{Symbol: "fEUR", Exchange: "bitfinex", Timeframe: "1h"}

func digestGroups() []Group {
	return []Group{{
		ID:      "ops",
		Name:    "Ops",
		Email:   "ops@example.com",
		Enabled: true,
		Targets: []Target{
			{Key: testKey, Threshold: decimal.NewFromFloat(5.0), Enabled: true},
			{Key: secondKey, Threshold: decimal.NewFromFloat(3.0), Enabled: true},
		},
	}}
}

func TestDigestBatchesGroupIntoOneDispatch(t *testing.T) {
	h := newHarness(t)
	h.provider.rates[testKey] = decimal.NewFromFloat(6.0)
	h.provider.rates[secondKey] = decimal.NewFromFloat(4.0)
	policy := testPolicy()
	policy.DigestMode = true
	ctx := context.Background()

	result, err := h.runner.RunCycle(ctx, digestGroups(), policy)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Alerts != 2 {
		t.Fatalf("both members should count as alerted: %+v", result)
	}

	notices := h.notifier.sent()
	if len(notices) != 1 {
		t.Fatalf("digest mode must issue one dispatch per group, got %d", len(notices))
	}
	if notices[0].Kind != KindDigest || len(notices[0].Triggered) != 2 {
		t.Fatalf("unexpected digest notice: %+v", notices[0])
	}

	for _, key := range []TargetKey{testKey, secondKey} {
		state, found, _ := h.store.GetState(ctx, StateKey{GroupID: "ops", Target: key})
		if !found || state.Status != StatusAlert {
			t.Fatalf("member %s should be in alert", key)
		}
		if state.NextAllowedAt == nil {
			t.Fatalf("member %s should have its cooldown advanced", key)
		}
	}
}

func TestDigestFailureLeavesMembersUntouched(t *testing.T) {
	h := newHarness(t)
	h.provider.rates[testKey] = decimal.NewFromFloat(6.0)
	h.provider.rates[secondKey] = decimal.NewFromFloat(4.0)
	h.notifier.err = errors.New("smtp down")
	policy := testPolicy()
	policy.DigestMode = true
	ctx := context.Background()

	result, err := h.runner.RunCycle(ctx, digestGroups(), policy)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Alerts != 0 {
		t.Fatalf("failed digest must not count alerts: %+v", result)
	}

	// no member state was committed, so the next cycle retries the digest
	for _, key := range []TargetKey{testKey, secondKey} {
		if _, found, _ := h.store.GetState(ctx, StateKey{GroupID: "ops", Target: key}); found {
			t.Fatalf("member %s must not be committed on digest failure", key)
		}
	}

	h.notifier.err = nil
	h.clock = h.clock.Add(time.Hour)
	if _, err := h.runner.RunCycle(ctx, digestGroups(), policy); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(h.notifier.sent()) != 1 {
		t.Fatal("retry cycle should deliver the digest")
	}
}

func TestDigestModeLogsRecoveriesWithoutDispatch(t *testing.T) {
	h := newHarness(t)
	h.provider.rates[testKey] = decimal.NewFromFloat(6.0)
	h.provider.rates[secondKey] = decimal.NewFromFloat(2.0)
	policy := testPolicy()
	policy.DigestMode = true
	ctx := context.Background()

	if _, err := h.runner.RunCycle(ctx, digestGroups(), policy); err != nil {
		t.Fatalf("alert cycle: %v", err)
	}

	// first target drops back below threshold
	h.provider.rates[testKey] = decimal.NewFromFloat(4.0)
	h.clock = h.clock.Add(5 * time.Hour)

	result, err := h.runner.RunCycle(ctx, digestGroups(), policy)
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if result.Recoveries != 1 {
		t.Fatalf("expected one recovery, got %+v", result)
	}

	for _, notice := range h.notifier.sent() {
		if notice.Kind == KindRecovery {
			t.Fatal("grouped mode must not mail standalone recoveries")
		}
	}

	state, _, _ := h.store.GetState(ctx, StateKey{GroupID: "ops", Target: testKey})
	if state.Status != StatusNormal {
		t.Fatalf("recovered member should be normal, got %s", state.Status)
	}
}
