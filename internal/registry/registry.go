// Package registry implements the local encoder registry: a DID-keyed
// store of {name, owner, active?} consulted on every dispatch request.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aidfleet/aid/pkg/types"
)

var (
	ErrCorrupted    = errors.New("registry file is corrupted")
	ErrIncompatible = errors.New("registry schema version is incompatible")
	ErrNotFound     = errors.New("encoder not found")
	ErrExists       = errors.New("encoder already exists")
)

const schemaVer = 1

type onDiskFormat struct {
	Encoders  map[types.EncoderDID]types.Encoder `json:"encoders"`
	SchemaVer int                                `json:"schema_ver"`
}

// Registry is the local, disk-backed encoder directory. Reads are
// concurrency-safe; writes are serialized and persisted atomically via
// temp-file-then-rename, the same durability pattern the snapshot manager
// uses for job state.
type Registry struct {
	mu       sync.RWMutex
	path     string
	encoders map[types.EncoderDID]types.Encoder
}

// Open loads the registry from path, creating an empty one if absent.
// Per the Process Supervisor's boot contract (§4.7), this must succeed
// synchronously at startup.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, encoders: map[types.EncoderDID]types.Encoder{}}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	var data onDiskFormat
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if data.SchemaVer != schemaVer {
		return fmt.Errorf("%w: got %d, want %d", ErrIncompatible, data.SchemaVer, schemaVer)
	}
	if data.Encoders != nil {
		r.encoders = data.Encoders
	}
	return nil
}

func (r *Registry) persistLocked() error {
	data := onDiskFormat{Encoders: r.encoders, SchemaVer: schemaVer}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}

// Lookup returns the encoder record for did, if present.
func (r *Registry) Lookup(did types.EncoderDID) (types.Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enc, ok := r.encoders[did]
	return enc, ok
}

// Create adds a new encoder record. Admin-only per §3; not reachable from
// the Aid API.
func (r *Registry) Create(enc types.Encoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.encoders[enc.EncoderID]; exists {
		return ErrExists
	}
	if enc.CreatedAt.IsZero() {
		enc.CreatedAt = time.Now()
	}
	r.encoders[enc.EncoderID] = enc
	return r.persistLocked()
}

// SetActive flips the is_active flag for an existing encoder.
func (r *Registry) SetActive(did types.EncoderDID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc, exists := r.encoders[did]
	if !exists {
		return ErrNotFound
	}
	enc.IsActive = active
	r.encoders[did] = enc
	return r.persistLocked()
}

// TouchLastSeen records that did was just presented on a request. This
// updates the in-memory record only: it runs on every authorized dispatch
// request, so persisting to disk here would serialize the whole dispatch
// plane through a file rewrite. LastSeen is advisory telemetry, not
// authoritative state, so losing the last few touches on a crash is fine.
func (r *Registry) TouchLastSeen(did types.EncoderDID, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc, exists := r.encoders[did]
	if !exists {
		return
	}
	enc.LastSeen = &now
	r.encoders[did] = enc
}

// List returns all encoder records, for admin tooling.
func (r *Registry) List() []types.Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Encoder, 0, len(r.encoders))
	for _, enc := range r.encoders {
		out = append(out, enc)
	}
	return out
}
