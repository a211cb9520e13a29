package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
)

func TestBeginMintsProvenance(t *testing.T) {
	at := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	reporter := &Reporter{
		ToolVersion: "1.4.0",
		Clock:       func() time.Time { return at },
	}

	prov := reporter.Begin(core.CallSpec{Endpoint: "http.get"})
	require.NotEmpty(t, prov.CallID)
	require.Equal(t, "http.get", prov.Endpoint)
	require.Equal(t, at, prov.RequestedAt)
	require.Equal(t, "1.4.0", prov.ToolVersion)

	other := reporter.Begin(core.CallSpec{Endpoint: "http.get"})
	require.NotEqual(t, prov.CallID, other.CallID)
}

func TestSuccessStampsTiming(t *testing.T) {
	start := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	now := start
	reporter := &Reporter{Clock: func() time.Time { return now }}

	prov := reporter.Begin(core.CallSpec{Endpoint: "web"})
	now = start.Add(750 * time.Millisecond)

	result := reporter.Success(prov, 2, 201, []byte(`{"ok":true}`))
	require.Equal(t, core.OutcomeSuccess, result.Outcome)
	require.Equal(t, 201, result.StatusCode)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, 750*time.Millisecond, result.Elapsed)
	require.Equal(t, prov.CallID, result.Provenance.CallID)
	require.Equal(t, now, result.Provenance.ResolvedAt)
	require.Empty(t, result.Reason)
}

func TestFailureKeepsOutcomeAndReason(t *testing.T) {
	reporter := &Reporter{}
	prov := reporter.Begin(core.CallSpec{Endpoint: "web"})

	result := reporter.Failure(prov, core.OutcomeTimedOut, 3, 504, "call deadline exceeded")
	require.Equal(t, core.OutcomeTimedOut, result.Outcome)
	require.Equal(t, 504, result.StatusCode)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, "call deadline exceeded", result.Reason)
	require.False(t, result.Provenance.ResolvedAt.IsZero())
}

func TestFailureCoercesNonTerminalOutcome(t *testing.T) {
	reporter := &Reporter{}
	prov := reporter.Begin(core.CallSpec{Endpoint: "web"})

	result := reporter.Failure(prov, core.OutcomeUnknown, 1, 0, "broken")
	require.Equal(t, core.OutcomeFatalFailure, result.Outcome)
}
