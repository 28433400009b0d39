// Package types defines the core domain model shared across Aid's packages.
package types

import "time"

// JobID is the canonical unique identifier of a job.
type JobID string

// EncoderDID is a decentralized identifier used as an opaque encoder identity key.
type EncoderDID string

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	StatusUnassigned JobStatus = "unassigned"
	StatusAssigned   JobStatus = "assigned"
	StatusRunning    JobStatus = "running"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// JobMetadata is immutable after job creation.
type JobMetadata struct {
	VideoOwner    string `json:"video_owner"`
	VideoPermlink string `json:"video_permlink"`
}

// JobInput describes where the source media lives.
type JobInput struct {
	URI  string `json:"uri"`
	Size int64  `json:"size"`
}

// JobProgress is the caller-reported completion percentage, each in [0,100].
type JobProgress struct {
	DownloadPct int `json:"download_pct"`
	Pct         int `json:"pct"`
}

// JobResult is set iff Status == StatusComplete.
type JobResult struct {
	CID string `json:"cid"`
}

// Job is the canonical unit dispatched to encoder nodes.
type Job struct {
	ID     JobID     `json:"id"`
	Status JobStatus `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	AssignedDate  *time.Time `json:"assigned_date,omitempty"`
	LastPinged    *time.Time `json:"last_pinged,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	AssignedTo EncoderDID `json:"assigned_to,omitempty"`

	Metadata        JobMetadata `json:"metadata"`
	StorageMetadata string      `json:"storage_metadata"`
	Input           JobInput    `json:"input"`

	Progress *JobProgress `json:"progress,omitempty"`
	Result   *JobResult   `json:"result,omitempty"`
}

// IsOwnedBy reports whether did currently owns the job.
func (j Job) IsOwnedBy(did EncoderDID) bool {
	return j.AssignedTo != "" && j.AssignedTo == did
}

// JobSummary is the list-jobs projection: no ownership/result detail.
type JobSummary struct {
	ID        JobID       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Metadata  JobMetadata `json:"metadata"`
	Input     JobInput    `json:"input"`
}

// Summary projects a Job into its list-jobs representation.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		CreatedAt: j.CreatedAt,
		Metadata:  j.Metadata,
		Input:     j.Input,
	}
}

// Encoder is a row of the local encoder registry, keyed by DID.
type Encoder struct {
	EncoderID EncoderDID `json:"encoder_id"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// EncoderDescriptor is the denormalized fleet-wide projection cached by EncoderCache.
type EncoderDescriptor struct {
	EncoderID EncoderDID `json:"encoder_id"`
	Name      string     `json:"name"`
	Region    string     `json:"region"`
	Load      float64    `json:"load"`
}

// VideoRecord is the external, mostly-read-only collaborator record the Healer patches.
type VideoRecord struct {
	Owner    string    `json:"owner"`
	Permlink string    `json:"permlink"`
	Status   string    `json:"status"`
	VideoV2  string    `json:"video_v2"`
	Created  time.Time `json:"created"`
}
