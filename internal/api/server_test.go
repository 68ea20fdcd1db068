package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darbylab/darby/internal/daemon"
	"github.com/darbylab/darby/internal/logging"
	"github.com/darbylab/darby/internal/metrics"
)

func testServer(t *testing.T, status StatusFunc) *httptest.Server {
	t.Helper()
	s := New("127.0.0.1:0", status, logging.GetBroadcaster())
	require.NotNil(t, s)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewDisabledWhenAddrEmpty(t *testing.T) {
	s := New("", nil, nil)
	assert.Nil(t, s)
	s.Start(context.Background()) // nil receiver is a no-op
}

func TestHealthz(t *testing.T) {
	ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	ts := testServer(t, func(context.Context) Status {
		return Status{
			Version:         "1.2.3",
			Provider:        "ollama",
			ManifestVersion: 7,
			Daemon:          daemon.Stats{Polls: 12, Pending: 2},
		}
	})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "ollama", got.Provider)
	assert.Equal(t, 7, got.ManifestVersion)
	assert.Equal(t, uint64(12), got.Daemon.Polls)
	assert.Equal(t, 2, got.Daemon.Pending)
}

func TestStatusWithoutSource(t *testing.T) {
	ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWriteMethodsRejected(t *testing.T) {
	ts := testServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RecordRoute("instant") // make sure at least one family exists

	ts := testServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "darby_route_tier_hits_total")
}

func TestLogsWebSocketStreams(t *testing.T) {
	broadcaster := logging.GetBroadcaster()
	ts := testServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/logs/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a beat to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	_, err = broadcaster.Write([]byte(`{"level":"info","message":"stream probe"}`))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "expected the published line before the deadline")
		if strings.Contains(string(msg), "stream probe") {
			return
		}
		// Buffered history from other tests may arrive first; keep reading.
	}
}
