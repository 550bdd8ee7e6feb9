// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone/scripthost/internal/bridge"
)

func startServer(t *testing.T, ready ReadinessChecker) (*Server, <-chan error) {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	require.NotEmpty(t, server.Addr())
	return server, errCh
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, _ := startServer(t, func() bool { return true })

	server.Metrics().WatcherReloads.WithLabelValues("success").Inc()
	server.Metrics().FramesTotal.WithLabelValues("runtime").Add(3)
	bridge.RecordModuleUnload(bridge.UnloadNotLoaded)

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `scripthost_watcher_reloads_total{status="success"} 1`)
	assert.Contains(t, body, `scripthost_frames_total{mode="runtime"} 3`)
	assert.Contains(t, body, `scripthost_module_unloads_total{outcome="not_loaded"}`)
	assert.Contains(t, body, "scripthost_handles_live")
}

func TestServer_Liveness(t *testing.T) {
	server, _ := startServer(t, func() bool { return false })

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_ReadinessFollowsChecker(t *testing.T) {
	var ready atomic.Bool
	server, _ := startServer(t, ready.Load)

	status, body := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready\n", body)

	ready.Store(true)
	status, body = get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	server, _ := startServer(t, nil)

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server, _ := startServer(t, nil)

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	first, _ := startServer(t, nil)

	second := NewServer(first.Addr(), nil)
	_, err := second.Start()
	require.Error(t, err)

	// A failed start leaves the server startable and stoppable.
	assert.NoError(t, second.Stop(context.Background()))
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	assert.NoError(t, server.Stop(context.Background()))
	assert.NoError(t, server.Stop(context.Background()))
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	require.NoError(t, server.Stop(context.Background()))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after shutdown")
	}
}

func TestServer_HandlerWithoutListening(t *testing.T) {
	server := NewServer("127.0.0.1:0", func() bool { return false })
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scripthost_handles_live")

	assert.Empty(t, server.Addr())
}
