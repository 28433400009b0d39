package authmw

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/pkg/aiderr"
	"github.com/aidfleet/aid/pkg/types"
)

func newTestRegistry(t *testing.T, encoders ...types.Encoder) *registry.Registry {
	t.Helper()
	path := t.TempDir() + "/encoders.json"
	reg, err := registry.Open(path)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	for _, enc := range encoders {
		if err := reg.Create(enc); err != nil {
			t.Fatalf("seed encoder: %v", err)
		}
	}
	return reg
}

func assertErrCode(t *testing.T, err error, want aiderr.Code) {
	t.Helper()
	aerr, ok := aiderr.As(err)
	if !ok {
		t.Fatalf("expected *aiderr.Error, got %v", err)
	}
	if aerr.Code != want {
		t.Fatalf("expected code %s, got %s", want, aerr.Code)
	}
}

func TestResolveHeaderTakesPrecedenceOverLegacyBody(t *testing.T) {
	reg := newTestRegistry(t,
		types.Encoder{EncoderID: "did:header", IsActive: true},
		types.Encoder{EncoderID: "did:body", IsActive: true},
	)

	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", nil)
	req.Header.Set(DIDHeader, "did:header")
	body := []byte(`{"encoder_did":"did:body"}`)

	enc, err := Resolve(reg, req, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.EncoderID != "did:header" {
		t.Errorf("expected header DID to take precedence, got %s", enc.EncoderID)
	}
}

func TestResolveFallsBackToLegacyBody(t *testing.T) {
	reg := newTestRegistry(t, types.Encoder{EncoderID: "did:body", IsActive: true})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", nil)
	body := []byte(`{"encoder_did":"did:body"}`)

	enc, err := Resolve(reg, req, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.EncoderID != "did:body" {
		t.Errorf("expected legacy body DID to resolve, got %s", enc.EncoderID)
	}
}

func TestResolveNoDIDSupplied(t *testing.T) {
	reg := newTestRegistry(t)
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", nil)

	_, err := Resolve(reg, req, nil)
	assertErrCode(t, err, aiderr.InvalidRequest)
}

func TestResolveUnregisteredEncoder(t *testing.T) {
	reg := newTestRegistry(t)
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", nil)
	req.Header.Set(DIDHeader, "did:stranger")

	_, err := Resolve(reg, req, nil)
	assertErrCode(t, err, aiderr.EncoderNotAuthorized)
}

func TestResolveInactiveEncoder(t *testing.T) {
	reg := newTestRegistry(t, types.Encoder{EncoderID: "did:sleepy", IsActive: false})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", nil)
	req.Header.Set(DIDHeader, "did:sleepy")

	_, err := Resolve(reg, req, nil)
	assertErrCode(t, err, aiderr.EncoderInactive)
}

func TestMiddlewareAttachesEncoderAndPreservesBody(t *testing.T) {
	reg := newTestRegistry(t, types.Encoder{EncoderID: "did:a", IsActive: true})

	var gotBody []byte
	var gotEncoder types.Encoder
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEncoder, _ = EncoderFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := Middleware(reg, func(w http.ResponseWriter, err error) {
		t.Fatalf("unexpected middleware error: %v", err)
	})(next)

	body := []byte(`{"job_id":"job-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", bytes.NewReader(body))
	req.Header.Set(DIDHeader, "did:a")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if gotEncoder.EncoderID != "did:a" {
		t.Errorf("expected encoder did:a attached to context, got %s", gotEncoder.EncoderID)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("expected body preserved for downstream handler, got %s", gotBody)
	}
}

