// Package metrics exposes Aid's operational counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the process's Prometheus metrics.
type Collector struct {
	jobsClaimed    prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsTimedOut   prometheus.Counter
	jobsHealed     prometheus.Counter
	videosHealed   prometheus.Counter
	fallbackLatch  prometheus.Gauge
	claimLatency   prometheus.Histogram
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aid_jobs_claimed_total",
			Help: "Total number of jobs claimed by an encoder.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aid_jobs_completed_total",
			Help: "Total number of jobs marked complete.",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aid_jobs_timed_out_total",
			Help: "Total number of jobs released by the Timeout Monitor.",
		}),
		jobsHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aid_jobs_healed_total",
			Help: "Total number of jobs promoted to complete by the Video Healer.",
		}),
		videosHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aid_videos_healed_total",
			Help: "Total number of video records patched by the Video Healer.",
		}),
		fallbackLatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aid_fallback_activated",
			Help: "1 once the fallback-activation latch has fired, 0 until then.",
		}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aid_claim_request_seconds",
			Help:    "Latency of claim-job requests.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(c.jobsClaimed)
	prometheus.MustRegister(c.jobsCompleted)
	prometheus.MustRegister(c.jobsTimedOut)
	prometheus.MustRegister(c.jobsHealed)
	prometheus.MustRegister(c.videosHealed)
	prometheus.MustRegister(c.fallbackLatch)
	prometheus.MustRegister(c.claimLatency)

	return c
}

func (c *Collector) RecordClaim(latencySeconds float64) {
	c.jobsClaimed.Inc()
	c.claimLatency.Observe(latencySeconds)
}

func (c *Collector) RecordCompleted() {
	c.jobsCompleted.Inc()
}

func (c *Collector) RecordTimedOut(count int) {
	c.jobsTimedOut.Add(float64(count))
}

func (c *Collector) RecordJobsHealed(count int) {
	c.jobsHealed.Add(float64(count))
}

func (c *Collector) RecordVideosHealed(count int) {
	c.videosHealed.Add(float64(count))
}

// SetFallbackActivated flips the latch gauge to 1. Never called with false:
// the latch only ever moves one way.
func (c *Collector) SetFallbackActivated() {
	c.fallbackLatch.Set(1)
}

// Handler returns the /metrics HTTP handler for embedding in a caller-owned
// server.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves /metrics on addr (e.g. ":9090"). Blocks until the
// listener fails.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
