package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/inventory-live/internal/auth"
	"github.com/rickgao/inventory-live/internal/connection"
	"github.com/rickgao/inventory-live/internal/version"
)

type statusResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Connection connectionInfo `json:"connection"`
	Session    sessionInfo    `json:"session"`
}

type connectionInfo struct {
	State             string     `json:"state"`
	SocketID          string     `json:"socket_id,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	GaveUp            bool       `json:"gave_up"`
	LastError         string     `json:"last_error,omitempty"`
	LastConnectedAt   *time.Time `json:"last_connected_at,omitempty"`
	AuthBlockedUntil  *time.Time `json:"auth_blocked_until,omitempty"`
}

type sessionInfo struct {
	Authenticated bool       `json:"authenticated"`
	Temporary     bool       `json:"temporary,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// createStatusHandler serves the connection and session state.
// /health answers 503 while the client has no live channel.
func createStatusHandler(conn connection.Manager, coord *auth.Coordinator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := conn.Status()
		resp := statusResponse{
			Status:  "healthy",
			Version: version.Version,
			Connection: connectionInfo{
				State:             st.State.String(),
				SocketID:          st.SocketID,
				ReconnectAttempts: st.ReconnectAttempts,
				GaveUp:            st.GaveUp,
				LastError:         st.LastError,
				LastConnectedAt:   timePtr(st.LastConnectedAt),
				AuthBlockedUntil:  timePtr(st.AuthBlockedUntil),
			},
		}

		if cred, ok := coord.Credential(); ok {
			resp.Session = sessionInfo{
				Authenticated: true,
				Temporary:     cred.IsTemporary(),
				ExpiresAt:     timePtr(cred.ExpiresAt),
			}
		}

		switch {
		case !resp.Session.Authenticated || st.GaveUp || st.State == connection.StatusAuthBlocked:
			resp.Status = "unhealthy"
		case !st.IsConnected:
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
