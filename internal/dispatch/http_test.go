package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aidfleet/aid/internal/alerting"
	"github.com/aidfleet/aid/internal/authmw"
	"github.com/aidfleet/aid/internal/jobstore"
	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/pkg/types"
)

func newTestRouter(t *testing.T, jobs ...types.Job) (*Handler, *registry.Registry) {
	t.Helper()
	store := jobstore.NewMemStore(jobs...)
	alerts := alerting.New("", nil)
	core := New(store, alerts, nil, nil, 100)
	handler := NewHandler(core)

	reg, err := registry.Open(t.TempDir() + "/encoders.json")
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if err := reg.Create(types.Encoder{EncoderID: "did:a", IsActive: true}); err != nil {
		t.Fatalf("seed encoder: %v", err)
	}
	return handler, reg
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	handler, reg := newTestRouter(t)
	router := Router(handler, reg)

	req := httptest.NewRequest(http.MethodGet, "/aid/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestClaimJobEndpointHappyPath(t *testing.T) {
	handler, reg := newTestRouter(t, types.Job{ID: "job-1", Status: types.StatusUnassigned})
	router := Router(handler, reg)

	body, _ := json.Marshal(claimJobRequest{JobID: "job-1"})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", bytes.NewReader(body))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success    bool             `json:"success"`
		JobID      types.JobID      `json:"job_id"`
		AssignedTo types.EncoderDID `json:"assigned_to"`
		AssignedAt string           `json:"assigned_at"`
		JobDetails types.Job        `json:"job_details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.JobID != "job-1" || resp.AssignedTo != "did:a" || resp.AssignedAt == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.JobDetails.Status != types.StatusAssigned {
		t.Errorf("expected job_details to reflect the post-claim status, got %+v", resp.JobDetails)
	}
}

func TestClaimJobEndpointRequiresAuth(t *testing.T) {
	handler, reg := newTestRouter(t, types.Job{ID: "job-1", Status: types.StatusUnassigned})
	router := Router(handler, reg)

	body, _ := json.Marshal(claimJobRequest{JobID: "job-1"})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected an auth-rejection status, got %d: %s", rec.Code, rec.Body.String())
	}

	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if env.Success {
		t.Error("expected success=false in the error envelope")
	}
}

func TestClaimJobEndpointUnknownJobReturnsEnvelope(t *testing.T) {
	handler, reg := newTestRouter(t)
	router := Router(handler, reg)

	body, _ := json.Marshal(claimJobRequest{JobID: "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", bytes.NewReader(body))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if env.Success || env.Code == "" {
		t.Errorf("expected a populated failure envelope, got %+v", env)
	}
}

func TestCompleteJobEndpointFormatsTimestamp(t *testing.T) {
	job := types.Job{ID: "job-1", Status: types.StatusAssigned, AssignedTo: "did:a"}
	handler, reg := newTestRouter(t, job)
	router := Router(handler, reg)

	body, _ := json.Marshal(completeJobRequest{JobID: "job-1", Result: types.JobResult{CID: "bafy123"}})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/complete-job", bytes.NewReader(body))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success     bool        `json:"success"`
		JobID       types.JobID `json:"job_id"`
		CompletedAt string      `json:"completed_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Errorf("expected job_id to be echoed back, got %q", resp.JobID)
	}
	if resp.CompletedAt == "" {
		t.Error("expected a non-empty RFC3339 completed_at timestamp")
	}
}

func TestUpdateJobEndpointReturnsDocumentedFields(t *testing.T) {
	job := types.Job{ID: "job-1", Status: types.StatusAssigned, AssignedTo: "did:a"}
	handler, reg := newTestRouter(t, job)
	router := Router(handler, reg)

	body, _ := json.Marshal(updateJobRequest{JobID: "job-1", Status: types.StatusRunning, Progress: types.JobProgress{Pct: 42}})
	req := httptest.NewRequest(http.MethodPost, "/aid/v1/update-job", bytes.NewReader(body))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success   bool            `json:"success"`
		JobID     types.JobID     `json:"job_id"`
		Status    types.JobStatus `json:"status"`
		UpdatedAt string          `json:"updated_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.JobID != "job-1" || resp.Status != types.StatusRunning || resp.UpdatedAt == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestClaimJobEndpointMalformedBodyRejected(t *testing.T) {
	handler, reg := newTestRouter(t)
	router := Router(handler, reg)

	req := httptest.NewRequest(http.MethodPost, "/aid/v1/claim-job", bytes.NewReader([]byte("{not json")))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed body, got %d", rec.Code)
	}
}

func TestEncoderInfoEndpointRequiresDirectory(t *testing.T) {
	handler, reg := newTestRouter(t)
	router := Router(handler, reg)

	req := httptest.NewRequest(http.MethodPost, "/aid/v1/encoder-info", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(authmw.DIDHeader, "did:a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// No node directory is configured for this Core (encoders cache is nil),
	// so the diagnostics endpoint reports an internal error rather than
	// panicking.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when no node directory is configured, got %d: %s", rec.Code, rec.Body.String())
	}
}
