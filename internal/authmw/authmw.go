// Package authmw implements the Identity Auth Middleware: the only
// authorization check in the Aid plane (spec §4.1). No signature is
// verified; identity is asserted via DID and checked against the local
// encoder registry.
package authmw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/pkg/aiderr"
	"github.com/aidfleet/aid/pkg/types"
)

// DIDHeader is the preferred carrier of an encoder's identity.
const DIDHeader = "X-Encoder-DID"

type contextKey int

const encoderContextKey contextKey = 0

// EncoderFromContext returns the resolved encoder attached by Middleware.
func EncoderFromContext(ctx context.Context) (types.Encoder, bool) {
	enc, ok := ctx.Value(encoderContextKey).(types.Encoder)
	return enc, ok
}

// Resolve extracts a DID from the request — the header when present,
// falling back to the legacy encoder_did body field — and resolves it
// against reg. The header is authoritative whenever both are present: the
// spec calls it "preferred" and the body field "legacy", which only makes
// sense if the header wins during the transition window (see DESIGN.md
// Open Question 1).
func Resolve(reg *registry.Registry, r *http.Request, body []byte) (types.Encoder, error) {
	did := types.EncoderDID(r.Header.Get(DIDHeader))
	if did == "" {
		did = legacyDIDFromBody(body)
	}
	if did == "" {
		return types.Encoder{}, aiderr.New(aiderr.InvalidRequest, "no DID supplied")
	}

	enc, ok := reg.Lookup(did)
	if !ok {
		return types.Encoder{}, aiderr.New(aiderr.EncoderNotAuthorized, "encoder not registered")
	}
	if !enc.IsActive {
		return types.Encoder{}, aiderr.New(aiderr.EncoderInactive, "encoder is inactive")
	}
	return enc, nil
}

func legacyDIDFromBody(body []byte) types.EncoderDID {
	if len(body) == 0 {
		return ""
	}
	var legacy struct {
		EncoderDID string `json:"encoder_did"`
	}
	if err := json.Unmarshal(body, &legacy); err != nil {
		return ""
	}
	return types.EncoderDID(legacy.EncoderDID)
}

// Middleware resolves the caller's DID and attaches the encoder to the
// request context so downstream handlers need not re-query the registry,
// per §4.1. It buffers the body (bounded) so Resolve can inspect the
// legacy field without consuming the body for the handler.
func Middleware(reg *registry.Registry, writeErr func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeErr(w, aiderr.New(aiderr.InvalidRequest, "unreadable body"))
				return
			}
			r.Body.Close()

			enc, err := Resolve(reg, r, body)
			if err != nil {
				writeErr(w, err)
				return
			}

			reg.TouchLastSeen(enc.EncoderID, time.Now())

			ctx := context.WithValue(r.Context(), encoderContextKey, enc)
			r = r.WithContext(ctx)
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
