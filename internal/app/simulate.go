package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"lending-rate-alerts/internal/monitor"
	"lending-rate-alerts/internal/scheduler"
	"lending-rate-alerts/internal/service"
)

// SimulateAlert 用给定利率跑一次完整评估流程，验证告警链路配置。
// State lives in memory only, so real target state is untouched.
func (a *App) SimulateAlert(ctx context.Context, rate decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	groups := a.Config.MonitorGroups()
	if len(groups) == 0 {
		return errors.New("no targets configured")
	}

	mem := monitor.NewMemoryStore()
	runner := monitor.NewRunner(mem, mem, &staticProvider{rate: rate}, notifier, nil, nil, a.Logger)

	sched := scheduler.New(scheduler.Options{}, a.Logger)
	svc := service.New(a.Config, sched, runner, nil, a.Logger)

	_, err := svc.CheckNow(ctx)
	return err
}

type staticProvider struct {
	rate decimal.Decimal
}

func (s *staticProvider) Fetch(_ context.Context, _ monitor.Target) (monitor.Observation, error) {
	return monitor.Observation{Rate: s.rate, ObservedAt: time.Now().UTC()}, nil
}

var _ monitor.Provider = (*staticProvider)(nil)
