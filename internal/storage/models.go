package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"lending-rate-alerts/internal/monitor"
)

// StateRecord couples a state key with its persisted hysteresis state for
// listing purposes.
type StateRecord struct {
	Key   monitor.StateKey
	State monitor.TargetState
}

// RateSample represents one persisted observation of a target.
type RateSample struct {
	Key        monitor.StateKey
	Rate       decimal.Decimal
	Threshold  decimal.Decimal
	Status     monitor.Status
	ObservedAt time.Time
	CreatedAt  time.Time
}

// DispatchRecord captures one notification attempt for auditing.
type DispatchRecord struct {
	ID        int64
	GroupID   string
	Target    monitor.TargetKey
	Kind      monitor.Kind
	Recipient string
	Rate      decimal.Decimal
	Threshold decimal.Decimal
	Deferred  bool
	Error     *string
	CreatedAt time.Time
}
