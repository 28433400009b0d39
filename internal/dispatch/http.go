package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aidfleet/aid/internal/authmw"
	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/pkg/aiderr"
	"github.com/aidfleet/aid/pkg/types"
)

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// errorEnvelope is the §6 failure response shape.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// writeError maps any error to the §6 envelope and its HTTP status. A
// non-*aiderr.Error is treated as an unclassified internal failure.
func writeError(w http.ResponseWriter, err error) {
	aerr, ok := aiderr.As(err)
	if !ok {
		aerr = aiderr.New(aiderr.InternalError, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error:   aerr.Message,
		Code:    string(aerr.Code),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Handler adapts a Core to the Aid HTTP/JSON API of spec §6.
type Handler struct {
	core *Core
}

func NewHandler(core *Core) *Handler {
	return &Handler{core: core}
}

// Router builds the Aid API router: health is unauthenticated, the four
// dispatch endpoints run behind the Identity Auth Middleware.
func Router(h *Handler, reg *registry.Registry) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/aid/v1/health", h.Health).Methods("GET")

	auth := authmw.Middleware(reg, writeError)
	r.Handle("/aid/v1/list-jobs", auth(http.HandlerFunc(h.ListJobs))).Methods("POST")
	r.Handle("/aid/v1/claim-job", auth(http.HandlerFunc(h.ClaimJob))).Methods("POST")
	r.Handle("/aid/v1/update-job", auth(http.HandlerFunc(h.UpdateJob))).Methods("POST")
	r.Handle("/aid/v1/complete-job", auth(http.HandlerFunc(h.CompleteJob))).Methods("POST")
	r.Handle("/aid/v1/encoder-info", auth(http.HandlerFunc(h.EncoderInfo))).Methods("POST")
	return r
}

// Health handles GET /aid/v1/health. No identity is required: an encoder
// fleet needs to be able to probe reachability before it has anything to
// authenticate with.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.core.Health(r.Context()))
}

// ListJobs handles POST /aid/v1/list-jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.core.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Success bool               `json:"success"`
		Jobs    []types.JobSummary `json:"jobs"`
	}{true, jobs})
}

type claimJobRequest struct {
	JobID types.JobID `json:"job_id"`
}

// ClaimJob handles POST /aid/v1/claim-job.
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	enc, _ := authmw.EncoderFromContext(r.Context())

	var req claimJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aiderr.New(aiderr.InvalidRequest, "malformed request body"))
		return
	}

	job, err := h.core.ClaimJob(r.Context(), enc.EncoderID, req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Success    bool             `json:"success"`
		JobID      types.JobID      `json:"job_id"`
		AssignedTo types.EncoderDID `json:"assigned_to"`
		AssignedAt string           `json:"assigned_at"`
		JobDetails types.Job        `json:"job_details"`
	}{true, job.ID, job.AssignedTo, job.AssignedDate.UTC().Format(rfc3339), job})
}

type updateJobRequest struct {
	JobID    types.JobID       `json:"job_id"`
	Status   types.JobStatus   `json:"status"`
	Progress types.JobProgress `json:"progress"`
}

// UpdateJob handles POST /aid/v1/update-job.
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	enc, _ := authmw.EncoderFromContext(r.Context())

	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aiderr.New(aiderr.InvalidRequest, "malformed request body"))
		return
	}

	updatedAt, err := h.core.UpdateJob(r.Context(), enc.EncoderID, req.JobID, req.Status, req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Success   bool            `json:"success"`
		JobID     types.JobID     `json:"job_id"`
		Status    types.JobStatus `json:"status"`
		UpdatedAt string          `json:"updated_at"`
	}{true, req.JobID, req.Status, updatedAt.UTC().Format(rfc3339)})
}

type completeJobRequest struct {
	JobID  types.JobID     `json:"job_id"`
	Result types.JobResult `json:"result"`
}

// CompleteJob handles POST /aid/v1/complete-job.
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	enc, _ := authmw.EncoderFromContext(r.Context())

	var req completeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, aiderr.New(aiderr.InvalidRequest, "malformed request body"))
		return
	}

	completedAt, err := h.core.CompleteJob(r.Context(), enc.EncoderID, req.JobID, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Success     bool        `json:"success"`
		JobID       types.JobID `json:"job_id"`
		CompletedAt string      `json:"completed_at"`
	}{true, req.JobID, completedAt.UTC().Format(rfc3339)})
}

// EncoderInfo handles POST /aid/v1/encoder-info: a diagnostics endpoint
// returning the calling encoder's fleet-wide descriptor, not part of the
// core dispatch protocol.
func (h *Handler) EncoderInfo(w http.ResponseWriter, r *http.Request) {
	enc, _ := authmw.EncoderFromContext(r.Context())

	desc, err := h.core.DescribeSelf(r.Context(), enc.EncoderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		Success    bool                    `json:"success"`
		Descriptor types.EncoderDescriptor `json:"descriptor"`
	}{true, desc})
}
