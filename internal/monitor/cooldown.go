package monitor

import "time"

// cooledDown reports whether a repeat alert may fire for the target.
func cooledDown(state TargetState, now time.Time) bool {
	return state.NextAllowedAt == nil || !now.Before(*state.NextAllowedAt)
}

// advanceCooldown stamps the earliest instant at which the next alert for
// this target may dispatch.
func advanceCooldown(state *TargetState, now time.Time, repeat time.Duration) {
	next := now.Add(repeat)
	state.NextAllowedAt = &next
}
