package alerting

import (
	"context"
	"errors"

	"lending-rate-alerts/internal/monitor"
)

// Multi fans one notice out to several channels. The dispatch counts as
// delivered when at least one channel accepts it.
type Multi struct {
	notifiers []monitor.Notifier
}

// NewMulti builds a fan-out notifier.
func NewMulti(notifiers ...monitor.Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Notify(ctx context.Context, note monitor.Notice) error {
	if len(m.notifiers) == 0 {
		return errors.New("no notifiers configured")
	}

	var errs []error
	delivered := false
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}

	if delivered {
		return nil
	}
	return errors.Join(errs...)
}

var _ monitor.Notifier = (*Multi)(nil)
