// Package dispatch implements the Aid Dispatch Core: the atomic
// job-claim, heartbeat, progress-update, and completion protocol. It is
// the only component that may mutate authoritative job state from
// encoder-driven requests (spec §4.2).
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/encodercache"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/internal/metrics"
	"github.com/aidfleet/aid/pkg/aiderr"
	"github.com/aidfleet/aid/pkg/types"
)

var log = slog.Default()

// Core is the Aid Dispatch Core. It holds no mutex of its own — all mutual
// exclusion is pushed into the Job Store Gateway's conditional updates, per
// §5's concurrency model.
type Core struct {
	store    jobstore.Store
	alerts   *alerting.Gate
	metrics  *metrics.Collector
	encoders *encodercache.Cache
	listCap  int
}

// New builds a Core over store, with alerts wired for the first-claim
// latch and listCap enforcing the server-imposed cap on list-jobs. m and
// encoders may both be nil to disable metrics recording and fleet-load
// lookups respectively.
func New(store jobstore.Store, alerts *alerting.Gate, m *metrics.Collector, encoders *encodercache.Cache, listCap int) *Core {
	return &Core{store: store, alerts: alerts, metrics: m, encoders: encoders, listCap: listCap}
}

// ListJobs returns unassigned jobs, newest first, capped. No mutation, and
// never returns jobs owned by any encoder.
func (c *Core) ListJobs(ctx context.Context) ([]types.JobSummary, error) {
	jobs, err := c.store.ListUnassigned(ctx, c.listCap)
	if err != nil {
		log.Error("list-jobs store error", "error", err)
		return nil, aiderr.New(aiderr.InternalError, "job store unavailable")
	}

	summaries := make([]types.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, j.Summary())
	}
	return summaries, nil
}

// ClaimJob atomically transitions a single job from unassigned to assigned
// for did. On the first successful claim ever observed, it invokes the
// Alerting Gate's fallback-activation path.
func (c *Core) ClaimJob(ctx context.Context, did types.EncoderDID, jobID types.JobID) (types.Job, error) {
	if jobID == "" {
		return types.Job{}, aiderr.New(aiderr.InvalidRequest, "job_id is required")
	}

	start := time.Now()
	job, ok, err := c.store.ClaimAtomic(ctx, jobID, did, start)
	if err != nil {
		log.Error("claim-job store error", "job_id", jobID, "error", err)
		return types.Job{}, aiderr.New(aiderr.InternalError, "job store unavailable")
	}
	if !ok {
		// The predicate {id=job_id, status=unassigned} was not satisfied.
		// There's no separate not-found code for claim-job, so a
		// nonexistent job and an already-claimed job both surface as
		// JOB_ALREADY_ASSIGNED.
		return types.Job{}, aiderr.New(aiderr.JobAlreadyAssigned, "job is not available to claim")
	}

	c.alerts.FireFallbackActivated(ctx)
	if c.metrics != nil {
		c.metrics.RecordClaim(time.Since(start).Seconds())
	}
	return job, nil
}

// UpdateJob validates and delegates to the store's conditional update,
// returning the timestamp the store stamped the job with.
func (c *Core) UpdateJob(ctx context.Context, did types.EncoderDID, jobID types.JobID, status types.JobStatus, progress types.JobProgress) (time.Time, error) {
	if jobID == "" {
		return time.Time{}, aiderr.New(aiderr.InvalidRequest, "job_id is required")
	}
	if !isUpdatableStatus(status) {
		return time.Time{}, aiderr.New(aiderr.InvalidRequest, "status must be one of assigned, running, failed")
	}
	if progress.Pct < 0 || progress.Pct > 100 || progress.DownloadPct < 0 || progress.DownloadPct > 100 {
		return time.Time{}, aiderr.New(aiderr.InvalidRequest, "progress percentages must be in [0,100]")
	}

	now := time.Now()
	ok, err := c.store.UpdateProgress(ctx, jobID, did, status, progress, now)
	if err != nil {
		log.Error("update-job store error", "job_id", jobID, "error", err)
		return time.Time{}, aiderr.New(aiderr.InternalError, "job store unavailable")
	}
	if !ok {
		// Existence is deliberately masked from non-owners.
		return time.Time{}, aiderr.New(aiderr.JobNotFound, "job not found")
	}
	return now, nil
}

// CompleteJob validates and delegates to the store's conditional update.
// Repeating a complete for an already-complete job owned by did succeeds
// with the same observable outcome, because the store predicate matches on
// ownership alone, not on current status.
func (c *Core) CompleteJob(ctx context.Context, did types.EncoderDID, jobID types.JobID, result types.JobResult) (time.Time, error) {
	if jobID == "" {
		return time.Time{}, aiderr.New(aiderr.InvalidRequest, "job_id is required")
	}
	if result.CID == "" {
		return time.Time{}, aiderr.New(aiderr.InvalidCID, "result.cid is required")
	}

	now := time.Now()
	ok, err := c.store.CompleteJob(ctx, jobID, did, result, now)
	if err != nil {
		log.Error("complete-job store error", "job_id", jobID, "error", err)
		return time.Time{}, aiderr.New(aiderr.InternalError, "job store unavailable")
	}
	if !ok {
		return time.Time{}, aiderr.New(aiderr.JobNotFound, "job not found")
	}

	job, exists, err := c.store.GetJob(ctx, jobID)
	if err == nil && exists && job.CompletedAt != nil {
		now = *job.CompletedAt
	}
	if c.metrics != nil {
		c.metrics.RecordCompleted()
	}
	return now, nil
}

// GetJob is a read-only lookup returning the job plus whether did owns it.
func (c *Core) GetJob(ctx context.Context, did types.EncoderDID, jobID types.JobID) (types.Job, bool, error) {
	job, exists, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error("get-job store error", "job_id", jobID, "error", err)
		return types.Job{}, false, aiderr.New(aiderr.InternalError, "job store unavailable")
	}
	if !exists {
		return types.Job{}, false, aiderr.New(aiderr.JobNotFound, "job not found")
	}
	return job, job.IsOwnedBy(did), nil
}

// HealthStatus is the /aid/v1/health response body.
type HealthStatus struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	StoreConnected bool      `json:"store_connected"`
	Timestamp      time.Time `json:"timestamp"`
}

// Version is stamped at build time in a full release pipeline; fixed here.
const Version = "1.0.0"

// Health reports store reachability without requiring authorization.
func (c *Core) Health(ctx context.Context) HealthStatus {
	connected := c.store.Ping(ctx) == nil
	status := "ok"
	if !connected {
		status = "degraded"
	}
	return HealthStatus{
		Status:         status,
		Version:        Version,
		StoreConnected: connected,
		Timestamp:      time.Now(),
	}
}

// DescribeSelf reports the fleet-wide descriptor (region, current load) the
// cluster node directory holds for the calling encoder. It is informational
// only — nothing in dispatch depends on the result — and returns
// INTERNAL_ERROR if no node directory is configured.
func (c *Core) DescribeSelf(ctx context.Context, did types.EncoderDID) (types.EncoderDescriptor, error) {
	if c.encoders == nil {
		return types.EncoderDescriptor{}, aiderr.New(aiderr.InternalError, "node directory not configured")
	}
	desc, err := c.encoders.Get(ctx, did)
	if err != nil {
		return types.EncoderDescriptor{}, aiderr.New(aiderr.InternalError, "node directory lookup failed")
	}
	return desc, nil
}

func isUpdatableStatus(s types.JobStatus) bool {
	switch s {
	case types.StatusAssigned, types.StatusRunning, types.StatusFailed:
		return true
	default:
		return false
	}
}
