// Package transport executes outbound calls against external integrations.
// Every variant sits behind the same capability interface so the dispatcher
// never branches on integration type.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycall/relaycall/internal/core"
)

// Transport executes one outbound request, honoring the context deadline.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request carries everything a transport needs for a single attempt.
type Request struct {
	Endpoint       core.EndpointConfig
	Operation      string
	Payload        []byte
	IdempotencyKey string
	Metadata       map[string]string
}

// Response is the raw outcome of a successful attempt.
type Response struct {
	StatusCode int
	Payload    []byte
}

// ErrorKind tags a transport failure for retry classification.
type ErrorKind int

const (
	// KindRetryable covers transient faults: connection resets, 5xx-equivalent
	// responses, and transport-level glitches.
	KindRetryable ErrorKind = iota
	// KindFatal covers faults that will not succeed on retry: auth failures,
	// malformed requests, 4xx-equivalent responses.
	KindFatal
	// KindThrottled marks a rate-limit rejection; the endpoint asked us to
	// back off, optionally for RetryAfter.
	KindThrottled
	// KindTimeout marks an attempt aborted by the deadline.
	KindTimeout
)

// String returns the label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindThrottled:
		return "throttled"
	case KindTimeout:
		return "timeout"
	default:
		return "retryable"
	}
}

// Error is the uniform failure shape produced by every transport variant.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Endpoint   string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "transport: unknown error"
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %s call to %s failed: %v", e.Kind, e.Endpoint, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s call to %s failed with status %d", e.Kind, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s call to %s failed", e.Kind, e.Endpoint)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Mux routes requests to the variant registered for the endpoint's protocol.
type Mux struct {
	transports map[core.Protocol]Transport
}

// NewMux builds a mux over the supplied protocol variants.
func NewMux() *Mux {
	return &Mux{transports: make(map[core.Protocol]Transport)}
}

// Register binds a transport variant to a protocol. Later registrations
// replace earlier ones.
func (m *Mux) Register(protocol core.Protocol, t Transport) {
	if m == nil || t == nil {
		return
	}
	m.transports[protocol] = t
}

// Execute dispatches the request to the transport for its protocol.
func (m *Mux) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &Error{Kind: KindFatal, Err: fmt.Errorf("nil request")}
	}

	if m == nil || m.transports == nil {
		return nil, &Error{Kind: KindFatal, Endpoint: req.Endpoint.Name, Err: fmt.Errorf("no transports registered")}
	}

	t, ok := m.transports[req.Endpoint.Protocol]
	if !ok {
		return nil, &Error{
			Kind:     KindFatal,
			Endpoint: req.Endpoint.Name,
			Err:      fmt.Errorf("no transport for protocol %q", req.Endpoint.Protocol),
		}
	}

	return t.Execute(ctx, req)
}
