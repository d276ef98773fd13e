package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a target within the hysteresis state machine.
type Status string

const (
	StatusNormal Status = "normal"
	StatusAlert  Status = "alert"
)

// Kind distinguishes the two notification directions.
type Kind string

const (
	KindAlert    Kind = "alert"
	KindRecovery Kind = "recovery"
	// KindDigest is a wire-only kind for grouped alert dispatches. It is
	// never persisted in the deferred queue.
	KindDigest Kind = "digest"
)

// TargetKey identifies a monitored (symbol, exchange, timeframe) tuple.
type TargetKey struct {
	Symbol    string
	Exchange  string
	Timeframe string
}

func (k TargetKey) String() string {
	return k.Symbol + "/" + k.Exchange + "/" + k.Timeframe
}

// Target couples a key with its alert threshold.
type Target struct {
	Key       TargetKey
	Threshold decimal.Decimal
	Enabled   bool
}

// Group routes a set of targets to one recipient. In digest mode the
// group's triggered targets are batched into a single dispatch.
type Group struct {
	ID      string
	Name    string
	Email   string
	Enabled bool
	Targets []Target
}

// StateKey scopes target state per group so the same symbol can be
// monitored by two groups with different thresholds without interference.
type StateKey struct {
	GroupID string
	Target  TargetKey
}

// TargetState is the persisted hysteresis state for one target. Mutated
// only by the evaluation cycle. PendingNotification is true while any
// deferred entry exists for the key; the queue itself deduplicates per
// (key, kind), so an alert and a recovery can be pending together.
type TargetState struct {
	Status              Status
	LastRate            decimal.Decimal
	LastNotifiedAt      *time.Time
	NextAllowedAt       *time.Time
	PendingNotification bool
	UpdatedAt           time.Time
}

// RatePoint is one sampled (time, rate) pair of display history.
type RatePoint struct {
	Time time.Time       `json:"time"`
	Rate decimal.Decimal `json:"rate"`
}

// Observation is the outcome of one data acquisition for a target.
type Observation struct {
	Rate       decimal.Decimal
	History    []RatePoint
	ObservedAt time.Time
}

// PendingNotification is a deferred dispatch persisted while the
// notification window is closed. At most one pending entry may exist per
// (state key, kind).
type PendingNotification struct {
	ID          string
	Key         StateKey
	Kind        Kind
	Recipient   string
	GroupName   string
	Rate        decimal.Decimal
	Threshold   decimal.Decimal
	History     []RatePoint
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// TriggeredTarget is one member of a digest alert.
type TriggeredTarget struct {
	Target    TargetKey
	Rate      decimal.Decimal
	Threshold decimal.Decimal
}

// Notice is the payload handed to the notification dispatch provider.
type Notice struct {
	Kind      Kind
	Recipient string
	GroupID   string
	GroupName string
	Target    TargetKey
	Rate      decimal.Decimal
	Threshold decimal.Decimal
	History   []RatePoint
	Triggered []TriggeredTarget
	At        time.Time
	Deferred  bool
}
