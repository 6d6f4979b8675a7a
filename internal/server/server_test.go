package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpanel/termpanel/internal/infrastructure/config"
	"github.com/termpanel/termpanel/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", Host: "127.0.0.1"},
		Terminal:  config.TerminalConfig{ScrollbackMiB: 1, DefaultCols: 80, DefaultRows: 24},
		Reconnect: config.ReconnectConfig{BaseDelayMs: 1000, MaxDelayMs: 30000, MaxAttempts: 10},
		Logging:   config.LogConfig{Level: "info"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	s := New(cfg, logging.NewNop())
	ts := httptest.NewServer(s.engine)
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "termpanel_")
}

func TestPanelSessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/panel/sessions",
		map[string]string{"cwd": "/tmp", "title": "build"})
	require.Equal(t, http.StatusCreated, code)
	rec := body["session"].(map[string]interface{})
	sid := rec["id"].(string)
	assert.Equal(t, "shell", rec["kind"])
	assert.NotEmpty(t, body["tab_id"])

	code, body = doJSON(t, http.MethodGet, ts.URL+"/panel/layout", nil)
	require.Equal(t, http.StatusOK, code)
	tabs := body["tabs"].([]interface{})
	require.Len(t, tabs, 1)

	// Split the pane, then drag the divider.
	code, body = doJSON(t, http.MethodPost, ts.URL+"/panel/sessions/"+sid+"/split",
		map[string]string{"direction": "horizontal"})
	require.Equal(t, http.StatusCreated, code)
	second := body["session"].(map[string]interface{})["id"].(string)

	_, body = doJSON(t, http.MethodGet, ts.URL+"/panel/layout", nil)
	root := body["tabs"].([]interface{})[0].(map[string]interface{})["tree"].(map[string]interface{})["root"].(map[string]interface{})
	paneID := root["id"].(string)
	sizes := root["sizes"].([]interface{})
	assert.InDelta(t, 50, sizes[0].(float64), 1e-6)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/panel/resize", map[string]interface{}{
		"pane_id": paneID, "child_index": 0, "pixel_delta": -200, "container_px": 1000,
	})
	require.Equal(t, http.StatusOK, code)
	root = body["tabs"].([]interface{})[0].(map[string]interface{})["tree"].(map[string]interface{})["root"].(map[string]interface{})
	sizes = root["sizes"].([]interface{})
	assert.InDelta(t, 30, sizes[0].(float64), 1e-6)
	assert.InDelta(t, 70, sizes[1].(float64), 1e-6)

	// Close the second pane; the split collapses.
	code, _ = doJSON(t, http.MethodDelete, ts.URL+"/panel/sessions/"+second, nil)
	require.Equal(t, http.StatusOK, code)

	_, body = doJSON(t, http.MethodGet, ts.URL+"/panel/layout", nil)
	root = body["tabs"].([]interface{})[0].(map[string]interface{})["tree"].(map[string]interface{})["root"].(map[string]interface{})
	assert.Equal(t, sid, root["session_id"])
	assert.Nil(t, root["children"])

	code, _ = doJSON(t, http.MethodDelete, ts.URL+"/panel/sessions/"+second, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPanelModeEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/panel/mode",
		map[string]string{"mode": "panel"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "panel", body["mode"])

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/panel/mode",
		map[string]string{"mode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRetryRequiresStoredSession(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/panel/sessions",
		map[string]string{"cwd": "/tmp"})
	require.Equal(t, http.StatusCreated, code)
	sid := body["session"].(map[string]interface{})["id"].(string)

	// Never attached, so nothing is stored and nothing is retryable.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/panel/sessions/"+sid+"/retry", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestConnectivityEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/panel/connectivity",
		map[string]string{"status": "offline"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "offline", s.tracker.Get().String())

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/panel/connectivity",
		map[string]string{"status": "flaky"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSplitUnknownSessionIs404(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := doJSON(t, http.MethodPost, ts.URL+"/panel/sessions/sess_nope/split",
		map[string]string{"direction": "vertical"})
	assert.Equal(t, http.StatusNotFound, code)
}
