package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/dispatcher"
	"github.com/relaycall/relaycall/internal/core/limiter"
	"github.com/relaycall/relaycall/internal/core/registry"
	"github.com/relaycall/relaycall/internal/core/report"
	"github.com/relaycall/relaycall/internal/core/retry"
	"github.com/relaycall/relaycall/internal/core/transport"
)

func newCallsHandler(t *testing.T) *CallsHandler {
	t.Helper()

	reg, err := registry.New([]core.EndpointConfig{
		{
			Name:           "echo",
			Protocol:       core.ProtocolSDK,
			MaxConcurrency: 4,
			RatePerSecond:  1000,
			Burst:          1000,
			MaxAttempts:    2,
			BackoffBase:    time.Millisecond,
			BackoffCap:     5 * time.Millisecond,
			Timeout:        time.Second,
			Idempotent:     true,
		},
	})
	require.NoError(t, err)

	sdk := transport.NewSDKTransport()
	sdk.Register("echo", func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Payload: req.Payload}, nil
	})
	sdk.Register("boom", func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindFatal, StatusCode: 422, Endpoint: req.Endpoint.Name}
	})

	mux := transport.NewMux()
	mux.Register(core.ProtocolSDK, sdk)

	d := &dispatcher.Dispatcher{
		Registry:  reg,
		Limiters:  limiter.NewPool(reg.All(), nil),
		Transport: mux,
		Retry:     &retry.Engine{},
		Reporter:  &report.Reporter{ToolVersion: "test"},
		Workers:   2,
		QueueSize: 8,
	}
	t.Cleanup(d.Close)

	return &CallsHandler{Dispatcher: d, Registry: reg}
}

func TestSubmitReturnsTerminalResult(t *testing.T) {
	handler := newCallsHandler(t)

	body := `{"endpoint":"echo","payload":{"msg":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "success", resp.Outcome)
	require.Equal(t, "echo", resp.Endpoint)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, 1, resp.Attempts)
	require.NotEmpty(t, resp.CallID)
	require.JSONEq(t, `{"msg":"hi"}`, string(resp.Payload))
}

func TestSubmitFailureStillReturns200(t *testing.T) {
	handler := newCallsHandler(t)

	body := `{"endpoint":"echo","operation":"boom"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "fatal_failure", resp.Outcome)
	require.Equal(t, 422, resp.StatusCode)
	require.NotEmpty(t, resp.Reason)
}

func TestSubmitRejectsInvalidBody(t *testing.T) {
	handler := newCallsHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRejectsMissingEndpoint(t *testing.T) {
	handler := newCallsHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"payload":{}}`))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRejectsUnknownEndpoint(t *testing.T) {
	handler := newCallsHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"endpoint":"missing"}`))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "UNKNOWN_ENDPOINT", resp.Error.Code)
}

func TestSubmitRejectsBadTimeout(t *testing.T) {
	handler := newCallsHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"endpoint":"echo","timeout":"soon"}`))
	rec := httptest.NewRecorder()

	handler.Submit(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentWithoutStore(t *testing.T) {
	handler := newCallsHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	rec := httptest.NewRecorder()

	handler.Recent(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewCallResponsePayloadEncoding(t *testing.T) {
	resolved := time.Date(2026, 2, 10, 9, 30, 1, 0, time.UTC)
	result := &core.CallResult{
		Outcome:    core.OutcomeSuccess,
		StatusCode: 200,
		Payload:    []byte{0xff, 0x01, 0x02},
		Attempts:   1,
		Elapsed:    1500 * time.Millisecond,
		Provenance: core.Provenance{
			CallID:      "abc",
			Endpoint:    "blob",
			RequestedAt: resolved.Add(-1500 * time.Millisecond),
			ResolvedAt:  resolved,
		},
	}

	resp := NewCallResponse(result)
	require.Empty(t, resp.Payload)
	require.Equal(t, []byte{0xff, 0x01, 0x02}, resp.PayloadBase64)
	require.Equal(t, int64(1500), resp.ElapsedMS)

	resp = NewCallResponse(nil)
	require.Equal(t, "unknown", resp.Outcome)
}
