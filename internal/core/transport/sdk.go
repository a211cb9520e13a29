package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// SDKFunc is one opaque client-library operation (an object-storage put, a
// payment charge, an AI completion, a broker publish, ...). The function owns
// its own wire format; the dispatcher treats it as a single operation that
// must respect the supplied context.
type SDKFunc func(ctx context.Context, req *Request) (*Response, error)

// SDKTransport executes calls backed by vendored client libraries. Operations
// are registered by name; an endpoint's calls resolve against its operation
// (or the endpoint name when the call names none).
type SDKTransport struct {
	mu  sync.RWMutex
	ops map[string]SDKFunc
}

// NewSDKTransport returns an empty SDK transport.
func NewSDKTransport() *SDKTransport {
	return &SDKTransport{ops: make(map[string]SDKFunc)}
}

// Register binds an operation name to an SDK function.
func (t *SDKTransport) Register(name string, fn SDKFunc) {
	if t == nil || fn == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops[name] = fn
}

// Operations returns the registered operation names.
func (t *SDKTransport) Operations() []string {
	if t == nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.ops))
	for name := range t.ops {
		names = append(names, name)
	}
	return names
}

// Execute runs the SDK operation for the request. Errors returned by the
// operation are passed through when already tagged, otherwise they are
// treated as retryable unless the context deadline elapsed.
func (t *SDKTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &Error{Kind: KindFatal, Err: errors.New("nil request")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := strings.TrimSpace(req.Operation)
	if name == "" {
		name = req.Endpoint.Name
	}

	t.mu.RLock()
	fn, ok := t.ops[name]
	t.mu.RUnlock()
	if !ok {
		return nil, &Error{
			Kind:     KindFatal,
			Endpoint: req.Endpoint.Name,
			Err:      fmt.Errorf("unknown sdk operation %q", name),
		}
	}

	resp, err := fn(ctx, req)
	if err == nil {
		if resp == nil {
			resp = &Response{StatusCode: 200}
		}
		return resp, nil
	}

	var terr *Error
	if errors.As(err, &terr) {
		return nil, terr
	}

	kind := KindRetryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return nil, &Error{Kind: kind, Endpoint: req.Endpoint.Name, Err: err}
}
