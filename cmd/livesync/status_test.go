package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/inventory-live/internal/auth"
	"github.com/rickgao/inventory-live/internal/config"
	"github.com/rickgao/inventory-live/internal/connection"
	"github.com/rickgao/inventory-live/internal/store/memory"
)

func TestStatusHandler(t *testing.T) {
	conn := connection.NewManager(connection.DefaultManagerConfig(), nil, nil)
	coord := auth.NewCoordinator(auth.DefaultConfig(), conn, memory.New(), nil)
	defer coord.Close()
	defer conn.Disconnect(true)

	handler := createStatusHandler(conn, coord)

	get := func() (int, statusResponse) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp statusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return rec.Code, resp
	}

	code, resp := get()
	if code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Errorf("unauthenticated: code=%d status=%q, want 503 unhealthy", code, resp.Status)
	}
	if resp.Connection.State != "disconnected" {
		t.Errorf("state = %q, want disconnected", resp.Connection.State)
	}

	// No URL configured, so the session is active but the channel never opens.
	if err := coord.AdoptTemporary(context.Background(), "guest-token", nil); err != nil {
		t.Fatalf("AdoptTemporary() error = %v", err)
	}

	code, resp = get()
	if code != http.StatusOK || resp.Status != "degraded" {
		t.Errorf("disconnected session: code=%d status=%q, want 200 degraded", code, resp.Status)
	}
	if !resp.Session.Authenticated || !resp.Session.Temporary {
		t.Errorf("session = %+v", resp.Session)
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := managerConfig(connectionConfigWith(-1))
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("negative max attempts should mean unlimited (0), got %d", cfg.Reconnect.MaxAttempts)
	}
	cfg = managerConfig(connectionConfigWith(5))
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Reconnect.MaxAttempts)
	}
}

func connectionConfigWith(maxAttempts int) config.ConnectionConfig {
	return config.ConnectionConfig{
		URL:                  "ws://localhost:3001",
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    time.Minute,
		ReconnectMultiplier:  2,
		MaxReconnectAttempts: maxAttempts,
	}
}

func TestShutdown_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// Never connected, so leaving the room fails.
	conn := connection.NewManager(connection.DefaultManagerConfig(), nil, nil)

	shutdown(logger, nil, nil, conn, "42")

	out := buf.String()
	if !strings.Contains(out, "failed to leave session") || !strings.Contains(out, "session_id=42") {
		t.Errorf("expected leave failure to be logged, got %q", out)
	}
	if conn.Status().State != connection.StatusDisconnected {
		t.Errorf("state = %v, want disconnected", conn.Status().State)
	}
}
