package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aidfleet/aid/pkg/types"
)

func TestOpenOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	reg, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(reg.List()))
	}
}

func TestCreateAndReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	reg, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	enc := types.Encoder{EncoderID: "did:a", Name: "encoder-a", Owner: "alice", IsActive: true, CreatedAt: time.Now()}
	if err := reg.Create(enc); err != nil {
		t.Fatalf("create: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Lookup("did:a")
	if !ok {
		t.Fatal("expected encoder to survive a reopen")
	}
	if got.Name != "encoder-a" || got.Owner != "alice" {
		t.Errorf("unexpected roundtrip result: %+v", got)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	reg, _ := Open(path)
	enc := types.Encoder{EncoderID: "did:a", IsActive: true}

	if err := reg.Create(enc); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := reg.Create(enc); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestSetActiveUnknownEncoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	reg, _ := Open(path)

	if err := reg.SetActive("did:ghost", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupted file: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestOpenIncompatibleSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	if err := os.WriteFile(path, []byte(`{"encoders":{},"schema_ver":99}`), 0o600); err != nil {
		t.Fatalf("seed incompatible file: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
}

func TestTouchLastSeen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.json")
	reg, _ := Open(path)
	enc := types.Encoder{EncoderID: "did:a", IsActive: true}
	if err := reg.Create(enc); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	reg.TouchLastSeen("did:a", now)

	got, _ := reg.Lookup("did:a")
	if got.LastSeen == nil || !got.LastSeen.Equal(now) {
		t.Errorf("expected last_seen updated to %v, got %v", now, got.LastSeen)
	}
}
