package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lending-rate-alerts/internal/alerting"
	"lending-rate-alerts/internal/config"
	"lending-rate-alerts/internal/fetcher"
	"lending-rate-alerts/internal/housekeeping"
	"lending-rate-alerts/internal/metrics"
	"lending-rate-alerts/internal/monitor"
	"lending-rate-alerts/internal/scheduler"
	"lending-rate-alerts/internal/service"
	"lending-rate-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, configPath string, logger zerolog.Logger) *App {
	return &App{Config: cfg, ConfigPath: configPath, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProvider() monitor.Provider {
	if a.Config.Fetcher.Source == "onchain" {
		eth := a.Config.Fetcher.Ethereum
		return fetcher.NewOnChain(fetcher.OnChainOptions{
			RPCURL:        eth.RPCURL,
			Markets:       eth.Markets,
			BlocksPerYear: eth.BlocksPerYear,
			Timeout:       eth.RequestTimeout,
		}, a.Logger)
	}

	api := a.Config.Fetcher.API
	return fetcher.NewAPI(fetcher.APIOptions{
		BaseURL:   api.BaseURL,
		AuthToken: api.AuthToken,
		Timeout:   api.RequestTimeout,
		UserAgent: api.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() monitor.Notifier {
	var channels []monitor.Notifier

	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		providers := make([]alerting.EmailProvider, 0, len(cfg.Providers))
		for _, p := range cfg.Providers {
			providers = append(providers, alerting.EmailProvider{
				Name:        p.Name,
				ServiceID:   p.ServiceID,
				TemplateID:  p.TemplateID,
				UserID:      p.UserID,
				AccessToken: p.AccessToken,
			})
		}
		channels = append(channels, alerting.NewEmailNotifier(providers, cfg.BaseURL, cfg.RequestTimeout, a.Logger))
	}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}

	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}
	return alerting.NewMulti(channels...)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// buildService assembles the runner and service around the configured
// store, provider, and notification channels.
func (a *App) buildService(store *storage.Store, mset *metrics.Set) (*service.Service, error) {
	notifier := a.newNotifier()
	if notifier == nil {
		return nil, errors.New("no notification channel configured")
	}

	var (
		states  monitor.StateStore
		queue   monitor.PendingQueue
		samples monitor.SampleRecorder
		locker  storage.AdvisoryLocker
	)
	if store != nil {
		states = store
		queue = store
		samples = store
		locker = store
		notifier = service.NewRecordingNotifier(notifier, store, a.Logger)
	} else {
		mem := monitor.NewMemoryStore()
		states = mem
		queue = mem
	}

	runner := monitor.NewRunner(states, queue, a.newProvider(), notifier, samples, mset, a.Logger)

	sched := scheduler.New(scheduler.Options{}, a.Logger)
	return service.New(a.Config, sched, runner, locker, a.Logger), nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; state kept in memory only")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var mset *metrics.Set
	registry := prometheus.NewRegistry()
	if a.Config.Metrics.Enabled {
		mset = metrics.New(registry)
	}

	svc, err := a.buildService(store, mset)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info().Msg("starting monitoring service")
		return svc.Run(groupCtx)
	})

	if a.Config.Metrics.Enabled {
		group.Go(func() error {
			return metrics.Serve(groupCtx, a.Config.Metrics.Listen, registry, a.Logger)
		})
	}

	if store != nil && a.Config.Housekeeping.Enabled {
		jobs := housekeeping.New(store, a.Config.Housekeeping, a.Logger)
		group.Go(func() error {
			return jobs.Run(groupCtx)
		})
	}

	if a.ConfigPath != "" {
		group.Go(func() error {
			return config.Watch(groupCtx, a.ConfigPath, a.Logger, svc.Reconfigure)
		})
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	Exchange  string
	Timeframe string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Samples  bool
	Dispatch bool
}
