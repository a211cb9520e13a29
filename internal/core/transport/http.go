package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// IdempotencyKeyHeader carries the caller-supplied idempotency token.
	IdempotencyKeyHeader = "Idempotency-Key"

	// maxResponseBytes bounds how much of a response body is retained.
	maxResponseBytes = 4 << 20
)

// HTTPTransport executes calls against plain HTTP endpoints. The shared
// client keeps connections pooled across calls to the same host.
type HTTPTransport struct {
	Client    *http.Client
	UserAgent string
}

// Execute performs one HTTP attempt. GET requests carry no body; any other
// method sends the call payload. The supplied context bounds the attempt.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &Error{Kind: KindFatal, Err: errors.New("nil request")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := t.buildURL(req)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Endpoint: req.Endpoint.Name, Err: err}
	}

	method := req.Endpoint.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method != http.MethodGet && len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Endpoint: req.Endpoint.Name, Err: err}
	}

	if body != nil {
		contentType := req.Metadata["content_type"]
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if t != nil && t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, req.IdempotencyKey)
	}

	client := t.client()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, t.wrapNetworkError(ctx, req, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, t.wrapNetworkError(ctx, req, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{StatusCode: resp.StatusCode, Payload: payload}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindThrottled,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Endpoint:   req.Endpoint.Name,
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, &Error{Kind: KindRetryable, StatusCode: resp.StatusCode, Endpoint: req.Endpoint.Name}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindRetryable, StatusCode: resp.StatusCode, Endpoint: req.Endpoint.Name}
	default:
		return nil, &Error{Kind: KindFatal, StatusCode: resp.StatusCode, Endpoint: req.Endpoint.Name}
	}
}

func (t *HTTPTransport) client() *http.Client {
	if t != nil && t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *HTTPTransport) buildURL(req *Request) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(req.Endpoint.BaseURL))
	if err != nil {
		return "", err
	}

	if op := strings.TrimSpace(req.Operation); op != "" {
		ref := &url.URL{Path: strings.TrimPrefix(op, "/")}
		if !strings.HasSuffix(parsed.Path, "/") {
			parsed.Path += "/"
		}
		parsed = parsed.ResolveReference(ref)
	}

	return parsed.String(), nil
}

func (t *HTTPTransport) wrapNetworkError(ctx context.Context, req *Request, err error) *Error {
	kind := KindRetryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Endpoint: req.Endpoint.Name, Err: err}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}

	return 0
}
