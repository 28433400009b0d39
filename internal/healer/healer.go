// Package healer implements the Video Healer: a slow background loop that
// repairs two kinds of drift the fast paths can leave behind — jobs stuck
// short of "complete" despite having a result, and published video records
// missing their encoded URI — per spec §4.5.
package healer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/internal/metrics"
	"github.com/aidfleet/aid/internal/videostore"
)

var log = slog.Default()

// Healer runs the two-phase reconciliation pass described in §4.5.
type Healer struct {
	jobs    jobstore.Store
	videos  videostore.Store
	alerts  *alerting.Gate
	metrics *metrics.Collector

	period       time.Duration
	jobWindow    time.Duration
	recordWindow time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Healer. jobWindow bounds how far back Phase A will promote
// stuck jobs; recordWindow bounds how far back Phase B will inspect
// recently-completed jobs for a video record needing repair. m may be nil
// to disable metrics recording.
func New(jobs jobstore.Store, videos videostore.Store, alerts *alerting.Gate, m *metrics.Collector, period, jobWindow, recordWindow time.Duration) *Healer {
	return &Healer{
		jobs:         jobs,
		videos:       videos,
		alerts:       alerts,
		metrics:      m,
		period:       period,
		jobWindow:    jobWindow,
		recordWindow: recordWindow,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the Healer loop in the background. The first tick fires
// immediately, matching the Timeout Monitor's startup behavior.
func (h *Healer) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.loop(ctx)
}

func (h *Healer) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *Healer) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	h.tick(ctx)

	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Healer) tick(ctx context.Context) {
	jobsHealed := h.healStuckJobs(ctx)
	recordsHealed := h.healVideoRecords(ctx)

	if jobsHealed > 0 || recordsHealed > 0 {
		h.alerts.NotifyHealCycleSummary(ctx, jobsHealed, recordsHealed)
	}
}

// healStuckJobs is Phase A: jobs that already carry a result but never
// transitioned to complete, most likely due to a crash between the store
// write and the in-process status flip.
func (h *Healer) healStuckJobs(ctx context.Context) int {
	repaired, err := h.jobs.HealStuckJobs(ctx, h.jobWindow, time.Now())
	if err != nil {
		log.Error("healer: stuck-job pass failed", "error", err)
		return 0
	}

	for i, j := range repaired {
		if i >= 5 {
			break
		}
		h.alerts.NotifyJobHeal(ctx, string(j.ID))
	}
	if len(repaired) > 0 {
		log.Info("healer: repaired stuck jobs", "count", len(repaired))
		if h.metrics != nil {
			h.metrics.RecordJobsHealed(len(repaired))
		}
	}
	return len(repaired)
}

// healVideoRecords is Phase B: recently-completed jobs whose video record
// is published but still missing its encoded URI.
func (h *Healer) healVideoRecords(ctx context.Context) int {
	recent, err := h.jobs.RecentlyCompleted(ctx, h.recordWindow)
	if err != nil {
		log.Error("healer: recently-completed lookup failed", "error", err)
		return 0
	}

	healed := 0
	for _, j := range recent {
		owner := j.Metadata.VideoOwner
		permlink := j.Metadata.VideoPermlink
		if owner == "" || permlink == "" || j.Result == nil || j.Result.CID == "" {
			continue
		}

		if _, exists, err := h.videos.Get(ctx, owner, permlink); err != nil {
			log.Error("healer: video record lookup failed", "owner", owner, "permlink", permlink, "error", err)
			continue
		} else if !exists {
			continue
		}

		patched, err := h.videos.MarkPublished(ctx, owner, permlink, j.Result.CID)
		if err != nil {
			log.Error("healer: video record patch failed", "owner", owner, "permlink", permlink, "error", err)
			continue
		}
		if patched {
			healed++
			h.alerts.NotifyVideoHeal(ctx, owner, permlink)
		}
	}
	if healed > 0 {
		log.Info("healer: repaired video records", "count", healed)
		if h.metrics != nil {
			h.metrics.RecordVideosHealed(healed)
		}
	}
	return healed
}
