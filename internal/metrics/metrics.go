package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Set bundles the monitoring counters. A nil *Set is a valid no-op sink so
// tests and minimal deployments can skip metrics entirely.
type Set struct {
	cyclesRun     prometheus.Counter
	cyclesSkipped prometheus.Counter
	dispatches    *prometheus.CounterVec
	deferred      prometheus.Counter
	sweepSent     prometheus.Counter
	sweepExpired  prometheus.Counter
	fetchFailures prometheus.Counter
	pendingDepth  prometheus.Gauge
}

// New registers the metric set against reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		cyclesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_cycles_run_total",
			Help: "Evaluation cycles executed.",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_cycles_skipped_total",
			Help: "Cycles skipped because a previous cycle was still running.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratewatcher_dispatches_total",
			Help: "Notification dispatch attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_deferred_total",
			Help: "Notifications deferred because the window was closed.",
		}),
		sweepSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_sweep_delivered_total",
			Help: "Deferred notifications delivered by the queue sweep.",
		}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_sweep_expired_total",
			Help: "Deferred notifications dropped after exceeding the retention TTL.",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewatcher_fetch_failures_total",
			Help: "Data acquisition failures.",
		}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratewatcher_pending_queue_depth",
			Help: "Entries currently in the deferred notification queue.",
		}),
	}
	reg.MustRegister(
		s.cyclesRun, s.cyclesSkipped, s.dispatches, s.deferred,
		s.sweepSent, s.sweepExpired, s.fetchFailures, s.pendingDepth,
	)
	return s
}

func (s *Set) CycleRun() {
	if s != nil {
		s.cyclesRun.Inc()
	}
}

func (s *Set) CycleSkipped() {
	if s != nil {
		s.cyclesSkipped.Inc()
	}
}

// Dispatch records one dispatch attempt.
func (s *Set) Dispatch(kind string, err error) {
	if s == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.dispatches.WithLabelValues(kind, outcome).Inc()
}

func (s *Set) Deferred() {
	if s != nil {
		s.deferred.Inc()
	}
}

func (s *Set) SweepDelivered() {
	if s != nil {
		s.sweepSent.Inc()
	}
}

func (s *Set) SweepExpired() {
	if s != nil {
		s.sweepExpired.Inc()
	}
}

func (s *Set) FetchFailure() {
	if s != nil {
		s.fetchFailures.Inc()
	}
}

func (s *Set) PendingDepth(n int) {
	if s != nil {
		s.pendingDepth.Set(float64(n))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
