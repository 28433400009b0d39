// Package timeoutmonitor implements the Timeout Monitor: a ticker that
// periodically releases jobs an encoder has abandoned, per spec §4.4.
package timeoutmonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/internal/metrics"
)

var log = slog.Default()

// Monitor periodically releases jobs whose last heartbeat is older than
// ttl, returning them to unassigned so another encoder can claim them.
type Monitor struct {
	store   jobstore.Store
	alerts  *alerting.Gate
	metrics *metrics.Collector
	period  time.Duration
	ttl     time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. period is the tick interval; ttl is the
// claim-heartbeat time-to-live. m may be nil to disable metrics recording.
func New(store jobstore.Store, alerts *alerting.Gate, m *metrics.Collector, period, ttl time.Duration) *Monitor {
	return &Monitor{
		store:   store,
		alerts:  alerts,
		metrics: m,
		period:  period,
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the monitor loop in the background. The first tick fires
// immediately rather than waiting a full period, per §4.4.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop signals the loop to exit and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one reconciliation pass: it releases timed-out jobs and checks
// whether the fallback-activation latch's second trigger condition — the
// store reporting exactly one completed job (IsFirstAidServiced) — has
// become true.
func (m *Monitor) tick(ctx context.Context) {
	cutoff := time.Now().Add(-m.ttl)
	count, err := m.store.ReleaseTimedOut(ctx, cutoff)
	if err != nil {
		log.Error("timeout monitor: release failed", "error", err)
	} else if count > 0 {
		log.Info("timeout monitor: released jobs", "count", count)
		m.alerts.NotifyTimeoutRelease(ctx, count)
		if m.metrics != nil {
			m.metrics.RecordTimedOut(count)
		}
	}

	serviced, err := m.store.IsFirstAidServiced(ctx)
	if err != nil {
		log.Error("timeout monitor: first-serviced check failed", "error", err)
		return
	}
	if serviced {
		m.alerts.FireFallbackActivated(ctx)
	}
}
