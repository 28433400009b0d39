// Package jobstore implements the Job Store Gateway: the typed atomic
// operations the Aid Dispatch Core, Timeout Monitor, and Healer depend on.
// All mutating operations are single store-level conditional updates; no
// caller ever needs a separate lock around them.
package jobstore

import (
	"context"
	"time"

	"github.com/aidfleet/aid/pkg/types"
)

// Store is the Job Store Gateway contract (spec §4.3).
type Store interface {
	// ListUnassigned returns up to limit unassigned jobs, newest first.
	ListUnassigned(ctx context.Context, limit int) ([]types.Job, error)

	// ClaimAtomic conditionally transitions job_id from unassigned to
	// assigned, stamping assigned_to/assigned_date/last_pinged. Returns the
	// post-image, or (zero, false) if the predicate {id=job_id,
	// status=unassigned} was not satisfied.
	ClaimAtomic(ctx context.Context, jobID types.JobID, did types.EncoderDID, now time.Time) (types.Job, bool, error)

	// UpdateProgress conditionally updates status/progress/last_pinged for
	// a job owned by did that is not yet complete. Returns false if
	// {id=job_id, assigned_to=did, status<>complete} did not match any row.
	UpdateProgress(ctx context.Context, jobID types.JobID, did types.EncoderDID, status types.JobStatus, progress types.JobProgress, now time.Time) (bool, error)

	// CompleteJob conditionally transitions a job owned by did to complete.
	// Idempotent: completing an already-complete job owned by did succeeds
	// with the same observable outcome.
	CompleteJob(ctx context.Context, jobID types.JobID, did types.EncoderDID, result types.JobResult, now time.Time) (bool, error)

	// GetJob is a read-only lookup, used by get-job and by ownership checks.
	GetJob(ctx context.Context, jobID types.JobID) (types.Job, bool, error)

	// ReleaseTimedOut bulk-releases jobs whose last_pinged predates cutoff,
	// returning the count of rows affected.
	ReleaseTimedOut(ctx context.Context, cutoff time.Time) (int, error)

	// RecentlyCompleted returns jobs completed within the last hoursBack.
	RecentlyCompleted(ctx context.Context, hoursBack time.Duration) ([]types.Job, error)

	// HealStuckJobs promotes jobs with result.cid set but status != complete
	// within the window, returning the set of repaired jobs.
	HealStuckJobs(ctx context.Context, window time.Duration, now time.Time) ([]types.Job, error)

	// IsFirstAidServiced reports true iff exactly one completed job exists.
	// Jobs carry no record of which path dispatched them, so every
	// completed job in the store is counted, not only Aid-dispatched ones.
	IsFirstAidServiced(ctx context.Context) (bool, error)

	// Ping reports whether the store is currently reachable, for health
	// checks and the Process Supervisor's fail-open background connect.
	Ping(ctx context.Context) error
}
