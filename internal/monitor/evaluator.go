package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the outcome of evaluating one target against one observation.
type Action int

const (
	// ActionNone: rate at or below threshold and already normal.
	ActionNone Action = iota
	// ActionDispatchAlert: first crossing, window open.
	ActionDispatchAlert
	// ActionDispatchRepeat: still above threshold, cooled down, window open.
	ActionDispatchRepeat
	// ActionDeferAlert: alert decided but the window is closed.
	ActionDeferAlert
	// ActionDispatchRecovery: dropped to or below threshold, window open.
	ActionDispatchRecovery
	// ActionDeferRecovery: recovery decided but the window is closed.
	ActionDeferRecovery
	// ActionSuppressed: above threshold but inside the cooldown period.
	ActionSuppressed
)

func (a Action) String() string {
	switch a {
	case ActionDispatchAlert:
		return "dispatch_alert"
	case ActionDispatchRepeat:
		return "dispatch_repeat"
	case ActionDeferAlert:
		return "defer_alert"
	case ActionDispatchRecovery:
		return "dispatch_recovery"
	case ActionDeferRecovery:
		return "defer_recovery"
	case ActionSuppressed:
		return "suppressed"
	default:
		return "none"
	}
}

// Decide implements the hysteresis transition table for one target. Entering
// alert requires a strictly greater rate; a rate exactly equal to the
// threshold counts as normal. A missing observation must be handled by the
// caller as a no-op and never reaches this function.
func Decide(state TargetState, rate, threshold decimal.Decimal, windowOpen bool, now time.Time) Action {
	if rate.GreaterThan(threshold) {
		if state.Status == StatusAlert {
			if !cooledDown(state, now) {
				return ActionSuppressed
			}
			if windowOpen {
				return ActionDispatchRepeat
			}
			return ActionDeferAlert
		}
		if windowOpen {
			return ActionDispatchAlert
		}
		return ActionDeferAlert
	}
	if state.Status == StatusAlert {
		if windowOpen {
			return ActionDispatchRecovery
		}
		return ActionDeferRecovery
	}
	return ActionNone
}
