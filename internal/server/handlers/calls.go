package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/dispatcher"
	"github.com/relaycall/relaycall/internal/core/registry"
	"github.com/relaycall/relaycall/internal/core/store"
	apperrors "github.com/relaycall/relaycall/internal/errors"
)

// CallsHandler serves the dispatch API. Submit is synchronous: the response
// carries the call's terminal result, whatever its outcome.
type CallsHandler struct {
	Dispatcher *dispatcher.Dispatcher
	Registry   *registry.Registry
	Log        *store.Store
}

// CallRequest is the POST /v1/calls body.
type CallRequest struct {
	Endpoint       string            `json:"endpoint"`
	Operation      string            `json:"operation,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Timeout        string            `json:"timeout,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CallResponse is the normalized result envelope returned for every
// submitted call. Exactly one of Payload and PayloadBase64 is set when the
// call produced a body.
type CallResponse struct {
	CallID        string            `json:"call_id"`
	Endpoint      string            `json:"endpoint"`
	Outcome       string            `json:"outcome"`
	StatusCode    int               `json:"status_code,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	PayloadBase64 []byte            `json:"payload_base64,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Attempts      int               `json:"attempts"`
	ElapsedMS     int64             `json:"elapsed_ms"`
	RequestedAt   time.Time         `json:"requested_at"`
	ResolvedAt    time.Time         `json:"resolved_at"`
	ToolVersion   string            `json:"tool_version,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Submit handles POST /v1/calls.
func (h *CallsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body is not valid JSON"))
		return
	}

	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		respondWithError(w, r, apperrors.NewValidationError("endpoint is required"))
		return
	}

	if _, err := h.Registry.Resolve(req.Endpoint); err != nil {
		respondWithError(w, r, apperrors.NewUnknownEndpointError(err.Error()))
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil || parsed < 0 {
			respondWithError(w, r, apperrors.NewValidationError("timeout must be a non-negative Go duration"))
			return
		}
		timeout = parsed
	}

	spec := core.CallSpec{
		Endpoint:       req.Endpoint,
		Operation:      req.Operation,
		Payload:        []byte(req.Payload),
		Timeout:        timeout,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}

	result := h.Dispatcher.Submit(r.Context(), spec)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(NewCallResponse(result))
}

// Recent handles GET /v1/calls, returning the newest audit log entries.
func (h *CallsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.Log == nil {
		respondWithError(w, r, apperrors.NewDatabaseError("call log store is not configured"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			respondWithError(w, r, apperrors.NewValidationError("limit must be between 1 and 1000"))
			return
		}
		limit = parsed
	}

	records, err := h.Log.RecentCalls(r.Context(), r.URL.Query().Get("endpoint"), limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to read call log"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"calls": records})
}

// NewCallResponse converts a terminal CallResult into the API envelope.
func NewCallResponse(result *core.CallResult) CallResponse {
	if result == nil {
		return CallResponse{Outcome: core.OutcomeUnknown.String()}
	}

	resp := CallResponse{
		CallID:      result.Provenance.CallID,
		Endpoint:    result.Provenance.Endpoint,
		Outcome:     result.Outcome.String(),
		StatusCode:  result.StatusCode,
		Reason:      result.Reason,
		Attempts:    result.Attempts,
		ElapsedMS:   result.Elapsed.Milliseconds(),
		RequestedAt: result.Provenance.RequestedAt,
		ResolvedAt:  result.Provenance.ResolvedAt,
		ToolVersion: result.Provenance.ToolVersion,
	}

	if len(result.Payload) > 0 {
		if json.Valid(result.Payload) {
			resp.Payload = json.RawMessage(result.Payload)
		} else {
			resp.PayloadBase64 = result.Payload
		}
	}

	return resp
}
