package core

import (
	"encoding/json"
	"time"
)

// Protocol identifies the transport family of an endpoint.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolSDK  Protocol = "sdk"
)

// Outcome represents the terminal state of a dispatched call.
type Outcome int

const (
	OutcomeUnknown          Outcome = 0
	OutcomeSuccess          Outcome = 1
	OutcomeRetryableFailure Outcome = 2
	OutcomeFatalFailure     Outcome = 3
	OutcomeTimedOut         Outcome = 4
	OutcomeCancelled        Outcome = 5
)

// String returns the wire label for an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	case OutcomeFatalFailure:
		return "fatal_failure"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the outcome ends the call lifecycle.
func (o Outcome) Terminal() bool {
	return o != OutcomeUnknown
}

// MarshalJSON emits the wire label rather than the numeric code.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts the wire label.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	*o = ParseOutcome(label)
	return nil
}

// ParseOutcome maps a wire label back to an outcome, defaulting to unknown.
func ParseOutcome(label string) Outcome {
	switch label {
	case "success":
		return OutcomeSuccess
	case "retryable_failure":
		return OutcomeRetryableFailure
	case "fatal_failure":
		return OutcomeFatalFailure
	case "timed_out":
		return OutcomeTimedOut
	case "cancelled":
		return OutcomeCancelled
	default:
		return OutcomeUnknown
	}
}

// CallSpec is a caller's request to invoke one logical external operation.
// It is immutable once submitted.
type CallSpec struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	Operation      string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Payload        []byte            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Timeout        time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EndpointConfig holds the transport parameters for one logical endpoint.
// Loaded once at startup; read-only thereafter.
type EndpointConfig struct {
	Name           string        `json:"name"`
	BaseURL        string        `json:"base_url,omitempty"`
	Protocol       Protocol      `json:"protocol"`
	Method         string        `json:"method,omitempty"`
	MaxConcurrency int           `json:"max_concurrency"`
	RatePerSecond  float64       `json:"rate_per_second"`
	Burst          int           `json:"burst"`
	MaxAttempts    int           `json:"max_attempts"`
	BackoffBase    time.Duration `json:"backoff_base"`
	BackoffCap     time.Duration `json:"backoff_cap"`
	Timeout        time.Duration `json:"timeout"`
	Idempotent     bool          `json:"idempotent"`
}

// Provenance captures metadata about how a call was resolved.
type Provenance struct {
	CallID      string    `json:"call_id"`
	Endpoint    string    `json:"endpoint"`
	RequestedAt time.Time `json:"requested_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
	ToolVersion string    `json:"tool_version,omitempty"`
}

// CallResult is the single terminal record produced for a submitted CallSpec.
type CallResult struct {
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Payload    []byte        `json:"payload,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Attempts   int           `json:"attempts"`
	Elapsed    time.Duration `json:"elapsed"`
	Provenance Provenance    `json:"provenance"`
}

// OutcomeLabel is the JSON-friendly outcome name, kept alongside the numeric
// code for consumers that match on strings.
func (r *CallResult) OutcomeLabel() string {
	if r == nil {
		return OutcomeUnknown.String()
	}
	return r.Outcome.String()
}

// CooldownState tracks throttling bookkeeping for one endpoint, persisted so
// Retry-After windows survive restarts.
type CooldownState struct {
	RequestCount  int        `json:"request_count"`
	WindowStart   time.Time  `json:"window_start"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastThrottled *time.Time `json:"last_throttled,omitempty"`
}
