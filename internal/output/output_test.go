package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/limiter"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleResult() *core.CallResult {
	requested := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	return &core.CallResult{
		Outcome:    core.OutcomeTimedOut,
		StatusCode: 504,
		Reason:     "call deadline exceeded",
		Attempts:   3,
		Elapsed:    1250 * time.Millisecond,
		Payload:    []byte(`{"partial":true}`),
		Provenance: core.Provenance{
			CallID:      "11111111-2222-3333-4444-555555555555",
			Endpoint:    "http.get",
			RequestedAt: requested,
			ResolvedAt:  requested.Add(1250 * time.Millisecond),
		},
	}
}

func TestFormatResultTable(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatResult(sampleResult())
	require.NoError(t, err)
	require.Contains(t, rendered, "timed_out")
	require.Contains(t, rendered, "http.get")
	require.Contains(t, rendered, "504")
	require.Contains(t, rendered, "call deadline exceeded")
	require.Contains(t, rendered, `{"partial":true}`)
}

func TestFormatResultJSON(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatResult(sampleResult())
	require.NoError(t, err)

	var decoded core.CallResult
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, core.OutcomeTimedOut, decoded.Outcome)
	require.Equal(t, 3, decoded.Attempts)
	require.Equal(t, "http.get", decoded.Provenance.Endpoint)
}

func TestFormatEndpoints(t *testing.T) {
	configs := []core.EndpointConfig{
		{
			Name:           "http.get",
			Protocol:       core.ProtocolHTTP,
			BaseURL:        "https://httpbin.org",
			RatePerSecond:  20,
			MaxConcurrency: 8,
			MaxAttempts:    3,
			Idempotent:     true,
		},
		{
			Name:           "charges",
			Protocol:       core.ProtocolSDK,
			RatePerSecond:  5,
			MaxConcurrency: 2,
			MaxAttempts:    4,
		},
	}
	statuses := []limiter.Status{
		{Endpoint: "http.get", InFlight: 2, MaxConcurrency: 8},
		{Endpoint: "charges", MaxConcurrency: 2, CoolingDown: true, CooldownUntil: time.Date(2026, 2, 10, 9, 31, 0, 0, time.UTC)},
	}

	tableRendered, err := NewFormatter(FormatTable).FormatEndpoints(configs, statuses)
	require.NoError(t, err)
	require.Contains(t, tableRendered, "http.get")
	require.Contains(t, tableRendered, "2/8")
	require.Contains(t, tableRendered, "cooling down")

	jsonRendered, err := NewFormatter(FormatJSON).FormatEndpoints(configs, statuses)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, `"cooling_down": true`)
	require.Contains(t, jsonRendered, `"in_flight": 2`)
}

func TestFormatNilResult(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatResult(nil)
	require.NoError(t, err)
	require.Empty(t, rendered)

	rendered, err = NewFormatter(FormatJSON).FormatResult(nil)
	require.NoError(t, err)
	require.Empty(t, rendered)
}
