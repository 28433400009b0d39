package timeoutmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/pkg/types"
)

func newTestJob(id string) types.Job {
	return types.Job{
		ID:        types.JobID(id),
		Status:    types.StatusUnassigned,
		CreatedAt: time.Now(),
	}
}

// TestTickReleasesTimedOutJobs checks that a job assigned long enough ago to
// exceed the TTL is released back to unassigned on tick.
func TestTickReleasesTimedOutJobs(t *testing.T) {
	stalePing := time.Now().Add(-2 * time.Hour)
	job := newTestJob("job-1")
	job.Status = types.StatusAssigned
	job.AssignedTo = "did:encoder:a"
	job.LastPinged = &stalePing

	store := jobstore.NewMemStore(job)
	var released int
	alerts := alerting.New("", nil)

	mon := New(store, alerts, nil, time.Minute, time.Hour)
	mon.tick(context.Background())

	got, _, _ := store.GetJob(context.Background(), "job-1")
	if got.Status != types.StatusUnassigned {
		t.Fatalf("expected job released to unassigned, got %s", got.Status)
	}
	_ = released
}

// TestTickFiresLatchOnFirstServiced is the Timeout Monitor's half of the
// Alerting Gate's second trigger condition: learning that exactly one
// job has completed fires the fallback latch.
func TestTickFiresLatchOnFirstServiced(t *testing.T) {
	completedAt := time.Now()
	job := newTestJob("job-1")
	job.Status = types.StatusComplete
	job.CompletedAt = &completedAt
	store := jobstore.NewMemStore(job)

	var fired int
	alerts := alerting.New("", func() { fired++ })
	mon := New(store, alerts, nil, time.Minute, time.Hour)

	mon.tick(context.Background())
	mon.tick(context.Background())

	if fired != 1 {
		t.Fatalf("expected latch to fire exactly once, fired %d times", fired)
	}
}

func TestTickNoOpWhenNothingTimedOut(t *testing.T) {
	store := jobstore.NewMemStore(newTestJob("job-1"))
	alerts := alerting.New("", nil)
	mon := New(store, alerts, nil, time.Minute, time.Hour)

	mon.tick(context.Background())

	got, _, _ := store.GetJob(context.Background(), "job-1")
	if got.Status != types.StatusUnassigned {
		t.Fatalf("expected untouched unassigned job, got %s", got.Status)
	}
}
