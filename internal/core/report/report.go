// Package report normalizes heterogeneous call outcomes into the single
// CallResult shape callers consume. Reporters never fail; every path yields
// a value.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaycall/relaycall/internal/core"
)

// Reporter stamps results with provenance and timing.
type Reporter struct {
	ToolVersion string
	Clock       func() time.Time
}

// Begin opens provenance for a call, minting its call ID.
func (r *Reporter) Begin(spec core.CallSpec) core.Provenance {
	return core.Provenance{
		CallID:      uuid.New().String(),
		Endpoint:    spec.Endpoint,
		RequestedAt: r.now(),
		ToolVersion: r.toolVersion(),
	}
}

// Success produces the terminal result for a completed attempt.
func (r *Reporter) Success(prov core.Provenance, attempts int, statusCode int, payload []byte) *core.CallResult {
	prov.ResolvedAt = r.now()

	return &core.CallResult{
		Outcome:    core.OutcomeSuccess,
		StatusCode: statusCode,
		Payload:    payload,
		Attempts:   attempts,
		Elapsed:    prov.ResolvedAt.Sub(prov.RequestedAt),
		Provenance: prov,
	}
}

// Failure produces the terminal result for any non-success condition.
func (r *Reporter) Failure(prov core.Provenance, outcome core.Outcome, attempts int, statusCode int, reason string) *core.CallResult {
	if !outcome.Terminal() {
		outcome = core.OutcomeFatalFailure
	}
	prov.ResolvedAt = r.now()

	return &core.CallResult{
		Outcome:    outcome,
		StatusCode: statusCode,
		Reason:     reason,
		Attempts:   attempts,
		Elapsed:    prov.ResolvedAt.Sub(prov.RequestedAt),
		Provenance: prov,
	}
}

func (r *Reporter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Reporter) toolVersion() string {
	if r == nil {
		return ""
	}
	return r.ToolVersion
}
