package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lending-rate-alerts/internal/config"
	"lending-rate-alerts/internal/monitor"
	"lending-rate-alerts/internal/scheduler"
	"lending-rate-alerts/internal/storage"
)

// Service orchestrates the minute ticker, the trigger gate, and the
// evaluation cycle. Configuration-derived inputs are swappable at runtime
// so config reloads take effect on the next cycle.
type Service struct {
	scheduler *scheduler.Scheduler
	runner    *monitor.Runner
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	lockKey   int64

	mu      sync.RWMutex
	trigger monitor.Trigger
	policy  monitor.Policy
	groups  []monitor.Group
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, runner *monitor.Runner, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	s := &Service{
		scheduler: sched,
		runner:    runner,
		locker:    locker,
		logger:    logger.With().Str("component", "service").Logger(),
		lockKey:   cfg.Monitor.AdvisoryLockKey,
	}
	s.apply(cfg)
	return s
}

// Reconfigure swaps the configuration-derived inputs. The running cycle, if
// any, finishes with the old values; the next cycle sees the new ones.
func (s *Service) Reconfigure(cfg *config.Config) {
	s.apply(cfg)
	s.logger.Info().Msg("service reconfigured")
}

func (s *Service) apply(cfg *config.Config) {
	trigger := cfg.MonitorTrigger()
	policy := cfg.MonitorPolicy(s.logger)
	groups := cfg.MonitorGroups()

	s.mu.Lock()
	s.trigger = trigger
	s.policy = policy
	s.groups = groups
	s.mu.Unlock()
}

func (s *Service) snapshot() (monitor.Trigger, monitor.Policy, []monitor.Group) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trigger, s.policy, s.groups
}

// Run begins the minute tick loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 判断该分钟是否触发评估周期并执行。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	trigger, policy, groups := s.snapshot()

	if !trigger.ShouldRun(tick) {
		return nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	result, err := s.runner.RunCycle(ctx, groups, policy)
	if err != nil {
		if errors.Is(err, monitor.ErrCycleRunning) {
			s.logger.Warn().Time("tick", tick).Msg("previous cycle still running, tick skipped")
			return nil
		}
		return err
	}

	s.logCycle(tick, result)
	return nil
}

// CheckNow runs one operator-triggered evaluation: the notification window
// is bypassed and dispatches use the shortened manual cooldown.
func (s *Service) CheckNow(ctx context.Context) (monitor.CycleResult, error) {
	_, policy, groups := s.snapshot()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return monitor.CycleResult{}, err
	}
	if !proceed {
		return monitor.CycleResult{}, fmt.Errorf("another instance is evaluating, try again later")
	}
	if unlock != nil {
		defer unlock()
	}

	result, err := s.runner.RunManual(ctx, groups, policy)
	if err != nil {
		return monitor.CycleResult{}, err
	}

	s.logCycle(time.Now().UTC(), result)
	return result, nil
}

// SweepNow delivers due deferred notifications without a full evaluation.
func (s *Service) SweepNow(ctx context.Context) (monitor.CycleResult, error) {
	_, policy, _ := s.snapshot()
	return s.runner.Sweep(ctx, policy)
}

func (s *Service) logCycle(tick time.Time, result monitor.CycleResult) {
	s.logger.Info().
		Time("tick", tick).
		Int("evaluated", result.Evaluated).
		Int("fetch_failed", result.FetchFailed).
		Int("alerts", result.Alerts).
		Int("recoveries", result.Recoveries).
		Int("deferred", result.Deferred).
		Int("suppressed", result.Suppressed).
		Int("swept_sent", result.SweptSent).
		Int("swept_expired", result.SweptExpired).
		Msg("evaluation cycle finished")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
