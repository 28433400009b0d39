package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/aidfleet/aid/pkg/types"
)

// PostgresStore is the production Store, backed by a `jobs` table with
// secondary indexes on status, assigned_to, last_pinged, and completed_at
// per §6's Job Store schema.
type PostgresStore struct {
	db *sql.DB
}

// Open opens a bounded connection pool against dsn. Connection is not
// verified here; the Process Supervisor performs the background connect
// with its own budget.
func Open(dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const jobColumns = `id, status, created_at, assigned_date, last_pinged, completed_at,
	assigned_to, video_owner, video_permlink, storage_metadata, input_uri, input_size,
	progress_download_pct, progress_pct, result_cid`

func scanJob(row interface{ Scan(...interface{}) error }) (types.Job, error) {
	var j types.Job
	var assignedDate, lastPinged, completedAt sql.NullTime
	var assignedTo sql.NullString
	var downloadPct, pct sql.NullInt64
	var resultCID sql.NullString

	err := row.Scan(
		&j.ID, &j.Status, &j.CreatedAt, &assignedDate, &lastPinged, &completedAt,
		&assignedTo, &j.Metadata.VideoOwner, &j.Metadata.VideoPermlink, &j.StorageMetadata,
		&j.Input.URI, &j.Input.Size, &downloadPct, &pct, &resultCID,
	)
	if err != nil {
		return types.Job{}, err
	}

	if assignedDate.Valid {
		j.AssignedDate = &assignedDate.Time
	}
	if lastPinged.Valid {
		j.LastPinged = &lastPinged.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if assignedTo.Valid {
		j.AssignedTo = types.EncoderDID(assignedTo.String)
	}
	if downloadPct.Valid || pct.Valid {
		j.Progress = &types.JobProgress{DownloadPct: int(downloadPct.Int64), Pct: int(pct.Int64)}
	}
	if resultCID.Valid {
		j.Result = &types.JobResult{CID: resultCID.String}
	}
	return j, nil
}

func (s *PostgresStore) ListUnassigned(ctx context.Context, limit int) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		types.StatusUnassigned, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimAtomic is a single compare-and-set: a row
// transitions from unassigned to assigned only if it is currently
// unassigned, in one UPDATE ... WHERE ... RETURNING statement.
func (s *PostgresStore) ClaimAtomic(ctx context.Context, jobID types.JobID, did types.EncoderDID, now time.Time) (types.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1, assigned_to = $2, assigned_date = $3, last_pinged = $3
		WHERE id = $4 AND status = $5
		RETURNING `+jobColumns,
		types.StatusAssigned, did, now, jobID, types.StatusUnassigned)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, false, nil
	}
	if err != nil {
		return types.Job{}, false, err
	}
	return j, true, nil
}

// UpdateProgress is conditional on {id=job_id, assigned_to=did, status<>complete}:
// a completed job is terminal, so a stale or malicious update after
// completion must not move it back out of complete.
func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID types.JobID, did types.EncoderDID, status types.JobStatus, progress types.JobProgress, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, progress_download_pct = $2, progress_pct = $3, last_pinged = $4
		WHERE id = $5 AND assigned_to = $6 AND status <> $7`,
		status, progress.DownloadPct, progress.Pct, now, jobID, did, types.StatusComplete)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteJob is conditional on {id=job_id, assigned_to=did}. A row already
// complete and owned by did is re-matched by the same predicate (assigned_to
// survives completion in this schema), so a repeated complete is a no-op
// affecting one row — satisfying the idempotence requirement without a
// special case.
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID types.JobID, did types.EncoderDID, result types.JobResult, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, completed_at = COALESCE(completed_at, $2), result_cid = $3
		WHERE id = $4 AND assigned_to = $5`,
		types.StatusComplete, now, result.CID, jobID, did)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID types.JobID) (types.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, false, nil
	}
	if err != nil {
		return types.Job{}, false, err
	}
	return j, true, nil
}

// ReleaseTimedOut is the bulk mutation backing the Timeout Monitor; the
// predicate re-evaluates per row so a double-executed tick is harmless.
func (s *PostgresStore) ReleaseTimedOut(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, assigned_to = NULL, assigned_date = NULL, last_pinged = NULL
		WHERE status IN ($2, $3) AND last_pinged < $4`,
		types.StatusUnassigned, types.StatusAssigned, types.StatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) RecentlyCompleted(ctx context.Context, hoursBack time.Duration) ([]types.Job, error) {
	cutoff := time.Now().Add(-hoursBack)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND completed_at >= $2`,
		types.StatusComplete, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// HealStuckJobs promotes jobs with result.cid set but status != complete
// within the window, in one statement, returning the repaired rows.
func (s *PostgresStore) HealStuckJobs(ctx context.Context, window time.Duration, now time.Time) ([]types.Job, error) {
	cutoff := now.Add(-window)
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = $1, completed_at = $2
		WHERE result_cid IS NOT NULL AND status != $1 AND created_at >= $3
		RETURNING `+jobColumns,
		types.StatusComplete, now, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IsFirstAidServiced(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = $1`, types.StatusComplete).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}
