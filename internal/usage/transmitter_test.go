package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestcrm/telemetryd/internal/settings"
)

type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, http.ErrNotSupported
}

func TestSendDeliversPayload(t *testing.T) {
	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
		received <- payload
	}))
	t.Cleanup(server.Close)

	transmitter := NewTransmitter(server.URL, 0, nil, testLogger())
	payload := NewBuilder(testMeta()).Build(Snapshot{TotalContacts: 3}, "", Inventory{})
	transmitter.Send(context.Background(), payload)

	select {
	case got := <-received:
		require.Equal(t, payload.SiteID, got.SiteID)
		require.Equal(t, "3", got.Body.TotalContacts)
	case <-time.After(time.Second):
		t.Fatal("payload never reached the endpoint")
	}
}

func TestSendSkippedWhenOptedOut(t *testing.T) {
	transport := &countingTransport{}
	transmitter := NewTransmitter("https://telemetry.invalid/usage", 0,
		func(context.Context) bool { return true }, testLogger())
	transmitter.client.Transport = transport

	transmitter.Send(context.Background(), NewBuilder(testMeta()).Build(Snapshot{}, "", Inventory{}))
	require.Zero(t, transport.calls.Load())
}

func TestSendSwallowsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	transmitter := NewTransmitter(server.URL, 0, nil, testLogger())
	// Must not panic or surface anything.
	transmitter.Send(context.Background(), NewBuilder(testMeta()).Build(Snapshot{}, "", Inventory{}))
}

func TestSendSwallowsNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	transmitter := NewTransmitter(server.URL, 0, nil, testLogger())
	transmitter.Send(context.Background(), NewBuilder(testMeta()).Build(Snapshot{}, "", Inventory{}))
}

func TestSettingsOptOut(t *testing.T) {
	db := newTestDB(t)
	store := newTestSettingsStore(t, db)
	ctx := context.Background()

	optOut := SettingsOptOut(false, store)
	require.False(t, optOut(ctx))

	require.NoError(t, store.Set(ctx, settings.KeyUsageReportDisabled, json.RawMessage(`true`)))
	require.True(t, optOut(ctx))

	require.NoError(t, store.Set(ctx, settings.KeyUsageReportDisabled, json.RawMessage(`false`)))
	require.False(t, optOut(ctx))

	forced := SettingsOptOut(true, store)
	require.True(t, forced(ctx))
}
