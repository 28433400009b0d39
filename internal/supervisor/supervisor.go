// Package supervisor implements the Process Supervisor: the deterministic
// boot sequence and graceful shutdown path described in spec §4.7.
package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/config"
	"github.com/aidfleet/aid/internal/dispatch"
	"github.com/aidfleet/aid/internal/encodercache"
	"github.com/aidfleet/aid/internal/healer"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/internal/metrics"
	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/internal/timeoutmonitor"
	"github.com/aidfleet/aid/internal/videostore"
)

var log = slog.Default()

// Supervisor owns the boot order: transport listens immediately, the
// encoder registry opens synchronously (it must, since no request can be
// authorized without it), and the job store connects in the background
// under a bounded budget so a slow database never blocks the process from
// accepting health checks.
type Supervisor struct {
	cfg config.Config

	reg     *registry.Registry
	store   jobstore.Store
	videos  videostore.Store
	alerts  *alerting.Gate
	metrics *metrics.Collector

	monitor *timeoutmonitor.Monitor
	healer  *healer.Healer

	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds a Supervisor. The registry is opened here, synchronously,
// because Boot's contract requires it to already be live.
func New(cfg config.Config) (*Supervisor, error) {
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	metricsCollector := metrics.NewCollector()
	alerts := alerting.New(cfg.WebhookURL, metricsCollector.SetFallbackActivated)

	return &Supervisor{
		cfg:     cfg,
		reg:     reg,
		alerts:  alerts,
		metrics: metricsCollector,
	}, nil
}

// Boot runs the deterministic startup sequence of §4.7:
//  1. transport listener starts immediately (health is always answerable)
//  2. the encoder registry is already open (see New)
//  3. the job store connects in the background, budgeted, fail-open
//  4. the Timeout Monitor and Video Healer start once the store handle exists
//
// Opening the job store (step 3's handle) does not itself dial the database —
// database/sql connects lazily — so it's safe to do before the transport
// goroutine starts; only the reachability *check* below is pushed onto a
// background goroutine, which is the part that can block for up to the
// connect budget.
func (s *Supervisor) Boot(ctx context.Context) error {
	s.store = s.openStore()

	videoStore, err := videostore.Open(s.cfg.DBDSN)
	if err != nil {
		return err
	}
	s.videos = videoStore

	var encoders *encodercache.Cache
	if s.cfg.NodeDirectoryURL != "" {
		encoders = encodercache.New(encodercache.NewHTTPSource(s.cfg.NodeDirectoryURL))
	}

	core := dispatch.New(s.store, s.alerts, s.metrics, encoders, s.cfg.Tunables.ListJobsLimit)
	handler := dispatch.NewHandler(core)
	router := dispatch.Router(handler, s.reg)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Encoder-DID"},
	})

	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr, Handler: corsHandler.Handler(router)}
	go func() {
		log.Info("aid transport listening", "addr", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("transport stopped", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	s.metricsServer = &http.Server{Addr: s.cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info("metrics listening", "addr", s.cfg.MetricsAddr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	// Transport is already listening above; confirming the store is
	// actually reachable happens in the background so a slow or
	// unreachable database degrades health rather than delaying startup.
	go s.confirmStoreConnectivity(ctx, s.store)

	s.monitor = timeoutmonitor.New(s.store, s.alerts, s.metrics, s.cfg.Tunables.TimeoutMonitorPeriod, s.cfg.Tunables.ClaimTTL)
	s.monitor.Start(ctx)

	s.healer = healer.New(s.store, s.videos, s.alerts, s.metrics,
		s.cfg.Tunables.HealerPeriod, s.cfg.Tunables.HealerJobWindow, s.cfg.Tunables.HealerRecordWindow)
	s.healer.Start(ctx)

	return nil
}

// openStore opens the Postgres job store handle. This does not block on a
// network round trip: database/sql connects lazily on first use, so it's
// safe to call before the transport listener starts.
func (s *Supervisor) openStore() jobstore.Store {
	store, err := jobstore.Open(s.cfg.DBDSN, s.cfg.Tunables.StorePoolSize)
	if err != nil {
		log.Warn("job store open failed; falling back to an in-memory store", "error", err)
		return jobstore.NewMemStore()
	}
	return store
}

// confirmStoreConnectivity pings store under a bounded budget and logs the
// outcome. A timeout is not fatal: the process already answers /health by
// the time this runs, per §4.7's fail-open boot contract.
func (s *Supervisor) confirmStoreConnectivity(ctx context.Context, store jobstore.Store) {
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.Tunables.StoreConnectBudget)
	defer cancel()
	if err := store.Ping(connectCtx); err != nil {
		log.Warn("job store unreachable within connect budget; serving degraded until it connects", "error", err)
	}
}

// Run blocks until an interrupt or termination signal arrives, then runs
// Shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Boot(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping gracefully")
	return s.Shutdown()
}

// Shutdown closes the transport first, then background loops, then
// storage connections.
func (s *Supervisor) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(shutdownCtx)
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.healer != nil {
		s.healer.Stop()
	}
	if closer, ok := s.store.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	if closer, ok := s.videos.(interface{ Close() error }); ok && closer != nil {
		_ = closer.Close()
	}
	return nil
}
