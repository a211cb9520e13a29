package adapters

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/transport"
)

func newTestTransport(t *testing.T) (*transport.SDKTransport, string) {
	t.Helper()

	dir := t.TempDir()
	sdk := transport.NewSDKTransport()
	Register(sdk, Deps{DataDir: dir})
	return sdk, dir
}

func execute(t *testing.T, sdk *transport.SDKTransport, op string, payload []byte, metadata map[string]string, key string) (*transport.Response, error) {
	t.Helper()

	return sdk.Execute(context.Background(), &transport.Request{
		Endpoint:       core.EndpointConfig{Name: op, Protocol: core.ProtocolSDK},
		Operation:      op,
		Payload:        payload,
		IdempotencyKey: key,
		Metadata:       metadata,
	})
}

func TestRegisterInstallsOperations(t *testing.T) {
	sdk, _ := newTestTransport(t)

	require.ElementsMatch(t, []string{
		"storage.put", "charges", "ai.complete", "docdb.insert",
		"broker.publish", "rdb.query", "cache.set",
	}, sdk.Operations())
}

func TestStoragePutWritesObject(t *testing.T) {
	sdk, dir := newTestTransport(t)

	resp, err := execute(t, sdk, "storage.put", []byte("hello"), map[string]string{"key": "greeting.txt"}, "")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		Key   string `json:"key"`
		Bytes int    `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &body))
	require.Equal(t, "greeting.txt", body.Key)
	require.Equal(t, 5, body.Bytes)

	written, err := os.ReadFile(filepath.Join(dir, "objects", "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), written)
}

func TestStoragePutRejectsTraversal(t *testing.T) {
	sdk, _ := newTestTransport(t)

	_, err := execute(t, sdk, "storage.put", []byte("x"), map[string]string{"key": "../escape"}, "")

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindFatal, terr.Kind)
	require.Equal(t, 422, terr.StatusCode)
}

func TestChargeValidation(t *testing.T) {
	sdk, _ := newTestTransport(t)

	_, err := execute(t, sdk, "charges", []byte(`not json`), nil, "")
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindFatal, terr.Kind)

	_, err = execute(t, sdk, "charges", []byte(`{"amount_cents":-5}`), nil, "")
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 422, terr.StatusCode)
}

func TestChargeUsesIdempotencyKeyAsChargeID(t *testing.T) {
	sdk, _ := newTestTransport(t)

	resp, err := execute(t, sdk, "charges", []byte(`{"amount_cents":1299}`), nil, "charge-42")
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	var body struct {
		ChargeID    string `json:"charge_id"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &body))
	require.Equal(t, "charge-42", body.ChargeID)
	require.Equal(t, "succeeded", body.Status)
	require.Equal(t, int64(1299), body.AmountCents)
	require.Equal(t, "USD", body.Currency)
}

func TestAIComplete(t *testing.T) {
	sdk, _ := newTestTransport(t)

	resp, err := execute(t, sdk, "ai.complete", []byte(`{"prompt":"ping"}`), nil, "")
	require.NoError(t, err)

	var body struct {
		Completion string `json:"completion"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &body))
	require.Equal(t, "echo: ping", body.Completion)

	_, err = execute(t, sdk, "ai.complete", []byte(`{}`), nil, "")
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindFatal, terr.Kind)
}

func TestStoreBackedOperationsWithoutStore(t *testing.T) {
	sdk, _ := newTestTransport(t)

	var terr *transport.Error
	_, err := execute(t, sdk, "docdb.insert", []byte(`{"a":1}`), nil, "")
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindRetryable, terr.Kind)

	_, err = execute(t, sdk, "broker.publish", []byte(`{}`), nil, "")
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindRetryable, terr.Kind)

	_, err = execute(t, sdk, "rdb.query", nil, nil, "")
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindRetryable, terr.Kind)
}

func TestCacheSet(t *testing.T) {
	sdk, _ := newTestTransport(t)

	resp, err := execute(t, sdk, "cache.set", []byte(`{"key":"session:1","value":{"user":"ada"}}`), nil, "")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		Key    string `json:"key"`
		Stored bool   `json:"stored"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &body))
	require.Equal(t, "session:1", body.Key)
	require.True(t, body.Stored)

	_, err = execute(t, sdk, "cache.set", []byte(`{"value":1}`), nil, "")
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, transport.KindFatal, terr.Kind)
}
