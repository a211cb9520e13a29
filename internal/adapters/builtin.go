// Package adapters provides the built-in SDK operations behind the default
// endpoint table. They back the sdk-protocol endpoints with local resources
// (libsql tables, the data directory, process memory) so the dispatch
// pipeline is fully exercisable without external credentials.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycall/relaycall/internal/core/store"
	"github.com/relaycall/relaycall/internal/core/transport"
)

// Deps are the local resources the built-in operations run against.
type Deps struct {
	Store   *store.Store
	DataDir string
}

// Register installs every built-in operation on the SDK transport.
func Register(t *transport.SDKTransport, deps Deps) {
	a := &builtins{deps: deps}

	t.Register("storage.put", a.storagePut)
	t.Register("charges", a.charge)
	t.Register("ai.complete", a.aiComplete)
	t.Register("docdb.insert", a.docInsert)
	t.Register("broker.publish", a.brokerPublish)
	t.Register("rdb.query", a.rdbQuery)
	t.Register("cache.set", a.cacheSet)
}

type builtins struct {
	deps  Deps
	cache sync.Map
}

func (a *builtins) storagePut(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	key := strings.TrimSpace(req.Metadata["key"])
	if key == "" {
		key = uuid.New().String()
	}
	if strings.Contains(key, "..") || strings.ContainsRune(key, os.PathSeparator) {
		return nil, fatal(req, 422, "storage key must be a bare object name")
	}

	dir := a.deps.DataDir
	if dir == "" {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "objects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, retryable(req, fmt.Errorf("create object directory: %w", err))
	}

	path := filepath.Join(dir, key)
	if err := os.WriteFile(path, req.Payload, 0o644); err != nil {
		return nil, retryable(req, fmt.Errorf("write object: %w", err))
	}

	return jsonResponse(200, map[string]any{"key": key, "bytes": len(req.Payload)})
}

// charge simulates a payment gateway. Validation failures are fatal; the
// gateway itself never flakes, so retries only matter under injected faults.
func (a *builtins) charge(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var body struct {
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return nil, fatal(req, 422, "charge payload must be JSON with amount_cents and currency")
	}
	if body.AmountCents <= 0 {
		return nil, fatal(req, 422, "amount_cents must be positive")
	}
	if body.Currency == "" {
		body.Currency = "USD"
	}

	chargeID := req.IdempotencyKey
	if chargeID == "" {
		chargeID = uuid.New().String()
	}

	return jsonResponse(201, map[string]any{
		"charge_id":    chargeID,
		"status":       "succeeded",
		"amount_cents": body.AmountCents,
		"currency":     body.Currency,
	})
}

func (a *builtins) aiComplete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		return nil, fatal(req, 422, "completion payload must be JSON with a prompt")
	}

	// Echo provider. Real providers are registered by the embedding
	// application; this keeps the endpoint exercisable standalone.
	return jsonResponse(200, map[string]any{
		"model":      "echo-1",
		"completion": "echo: " + body.Prompt,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *builtins) docInsert(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if a.deps.Store == nil {
		return nil, retryable(req, fmt.Errorf("document store is not configured"))
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, fatal(req, 422, "document body must be JSON")
	}

	collection := strings.TrimSpace(req.Metadata["collection"])
	if collection == "" {
		collection = "default"
	}

	id := req.IdempotencyKey
	if id == "" {
		id = uuid.New().String()
	}

	if err := a.deps.Store.InsertDocument(ctx, id, collection, req.Payload); err != nil {
		// A replayed idempotency key means the insert already happened.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return jsonResponse(200, map[string]any{"id": id, "collection": collection, "replayed": true})
		}
		return nil, retryable(req, err)
	}

	return jsonResponse(201, map[string]any{"id": id, "collection": collection})
}

func (a *builtins) brokerPublish(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if a.deps.Store == nil {
		return nil, retryable(req, fmt.Errorf("broker store is not configured"))
	}

	topic := strings.TrimSpace(req.Metadata["topic"])
	if topic == "" {
		topic = "events"
	}

	offset, err := a.deps.Store.PublishMessage(ctx, topic, req.Payload)
	if err != nil {
		return nil, retryable(req, err)
	}

	return jsonResponse(200, map[string]any{"topic": topic, "offset": offset})
}

func (a *builtins) rdbQuery(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if a.deps.Store == nil {
		return nil, retryable(req, fmt.Errorf("relational store is not configured"))
	}

	counts, err := a.deps.Store.CountCalls(ctx, req.Metadata["endpoint"])
	if err != nil {
		return nil, retryable(req, err)
	}

	return jsonResponse(200, map[string]any{"calls_by_outcome": counts})
}

func (a *builtins) cacheSet(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var body struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil || strings.TrimSpace(body.Key) == "" {
		return nil, fatal(req, 422, "cache payload must be JSON with key and value")
	}

	a.cache.Store(body.Key, []byte(body.Value))

	return jsonResponse(200, map[string]any{"key": body.Key, "stored": true})
}

func jsonResponse(status int, body map[string]any) (*transport.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &transport.Response{StatusCode: status, Payload: encoded}, nil
}

func fatal(req *transport.Request, status int, msg string) error {
	return &transport.Error{
		Kind:       transport.KindFatal,
		StatusCode: status,
		Endpoint:   req.Endpoint.Name,
		Err:        fmt.Errorf("%s", msg),
	}
}

func retryable(req *transport.Request, err error) error {
	return &transport.Error{
		Kind:     transport.KindRetryable,
		Endpoint: req.Endpoint.Name,
		Err:      err,
	}
}
