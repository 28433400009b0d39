// Package videostore accesses the external, mostly-read-only video record
// collaborator the Video Healer patches (spec §3, §4.5 Phase B).
package videostore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/aidfleet/aid/pkg/types"
)

// Store is the video-record contract the Healer depends on.
type Store interface {
	// Get returns the record for owner/permlink, if it exists.
	Get(ctx context.Context, owner, permlink string) (types.VideoRecord, bool, error)

	// MarkPublished patches status="published" and video_v2, but only when
	// the row still satisfies the heal-eligibility predicate — this makes a
	// second identical patch a no-op, keeping repeated heal passes safe.
	MarkPublished(ctx context.Context, owner, permlink, videoV2 string) (bool, error)
}

// PostgresStore is the production Store.
type PostgresStore struct {
	db *sql.DB
}

func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Get(ctx context.Context, owner, permlink string) (types.VideoRecord, bool, error) {
	var rec types.VideoRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, permlink, status, video_v2, created FROM video_records WHERE owner = $1 AND permlink = $2`,
		owner, permlink).Scan(&rec.Owner, &rec.Permlink, &rec.Status, &rec.VideoV2, &rec.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.VideoRecord{}, false, nil
	}
	if err != nil {
		return types.VideoRecord{}, false, err
	}
	return rec, true, nil
}

// MarkPublished is conditional on the record still needing healing: it must
// exist, already be marked published, be within the 24-hour freshness
// window, and have an empty video_v2 — exactly the "needs healing"
// predicate from §4.5 Phase B step 2, pushed into the WHERE clause so the
// update itself is the single source of truth for eligibility.
func (s *PostgresStore) MarkPublished(ctx context.Context, owner, permlink, videoV2 string) (bool, error) {
	cutoff := time.Now().Add(-24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_records
		SET video_v2 = $1
		WHERE owner = $2 AND permlink = $3 AND status = 'published'
		  AND created >= $4 AND (video_v2 IS NULL OR video_v2 = '')`,
		videoV2, owner, permlink, cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MemStore is an in-memory test double.
type MemStore struct {
	records map[string]types.VideoRecord
}

func NewMemStore(seed ...types.VideoRecord) *MemStore {
	m := &MemStore{records: map[string]types.VideoRecord{}}
	for _, r := range seed {
		m.records[key(r.Owner, r.Permlink)] = r
	}
	return m
}

func key(owner, permlink string) string { return owner + "/" + permlink }

func (m *MemStore) Get(ctx context.Context, owner, permlink string) (types.VideoRecord, bool, error) {
	r, ok := m.records[key(owner, permlink)]
	return r, ok, nil
}

func (m *MemStore) MarkPublished(ctx context.Context, owner, permlink, videoV2 string) (bool, error) {
	r, ok := m.records[key(owner, permlink)]
	if !ok {
		return false, nil
	}
	needsHealing := r.Status == "published" &&
		!r.Created.Before(time.Now().Add(-24*time.Hour)) &&
		r.VideoV2 == ""
	if !needsHealing {
		return false, nil
	}
	r.VideoV2 = videoV2
	m.records[key(owner, permlink)] = r
	return true, nil
}
