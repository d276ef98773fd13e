package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"lending-rate-alerts/internal/config"
	"lending-rate-alerts/internal/storage"
)

// Jobs prunes historical tables on a cron schedule so the sample and audit
// tables do not grow without bound.
type Jobs struct {
	store  *storage.Store
	cfg    config.HousekeepingConfig
	logger zerolog.Logger
}

// New constructs the housekeeping jobs.
func New(store *storage.Store, cfg config.HousekeepingConfig, logger zerolog.Logger) *Jobs {
	return &Jobs{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "housekeeping").Logger(),
	}
}

// Run blocks until ctx is cancelled, pruning on the configured schedule.
func (j *Jobs) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(j.cfg.Schedule, func() { j.Prune(ctx) }); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		j.logger.Warn().Msg("housekeeping job did not stop in time")
	}
	return nil
}

// Prune removes samples, dispatch log rows and stale deferred notifications
// past their retention.
func (j *Jobs) Prune(ctx context.Context) {
	now := time.Now().UTC()

	if j.cfg.SampleRetention > 0 {
		cutoff := now.Add(-j.cfg.SampleRetention)
		removed, err := j.store.DeleteSamplesBefore(ctx, cutoff)
		if err != nil {
			j.logger.Error().Err(err).Msg("failed to prune rate samples")
		} else if removed > 0 {
			j.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("rate samples pruned")
		}
	}

	if j.cfg.DispatchRetention > 0 {
		cutoff := now.Add(-j.cfg.DispatchRetention)
		removed, err := j.store.DeleteDispatchesBefore(ctx, cutoff)
		if err != nil {
			j.logger.Error().Err(err).Msg("failed to prune dispatch log")
		} else if removed > 0 {
			j.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("dispatch log pruned")
		}
	}

	if j.cfg.PendingRetention > 0 {
		cutoff := now.Add(-j.cfg.PendingRetention)
		removed, err := j.store.DeletePendingBefore(ctx, cutoff)
		if err != nil {
			j.logger.Error().Err(err).Msg("failed to prune expired deferred notifications")
		} else if removed > 0 {
			j.logger.Warn().Int64("removed", removed).Time("cutoff", cutoff).Msg("expired deferred notifications pruned without delivery")
		}
	}
}
