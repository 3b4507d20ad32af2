package connection

import (
	"math"
	"time"
)

// Status is the state of the managed channel.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthBlocked
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthBlocked:
		return "auth_blocked"
	default:
		return "unknown"
	}
}

// ReconnectPolicy configures backoff after network errors.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int // 0 = retry forever
}

// Delay returns the wait before the given 1-based attempt:
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// AuthBlockPolicy configures the reaction to authentication errors.
type AuthBlockPolicy struct {
	Threshold      int           // consecutive auth errors that trigger a block
	Window         time.Duration // max gap between errors counted as consecutive
	Cooldown       time.Duration // how long connects are refused
	SignalDebounce time.Duration // min gap between AuthenticationFailed events
}

// ManagerConfig configures the ConnectionManager.
type ManagerConfig struct {
	URL         string // e.g. wss://api.example.com
	ClientType  string // sent in the auth payload ("web", "mobile", "desktop", "cli")
	DialTimeout time.Duration
	Reconnect   ReconnectPolicy
	AuthBlock   AuthBlockPolicy
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ClientType:  "cli",
		DialTimeout: 20 * time.Second,
		Reconnect: ReconnectPolicy{
			BaseDelay:   2 * time.Second,
			MaxDelay:    60 * time.Second,
			Multiplier:  2,
			MaxAttempts: 5,
		},
		AuthBlock: AuthBlockPolicy{
			Threshold:      2,
			Window:         30 * time.Second,
			Cooldown:       60 * time.Second,
			SignalDebounce: 10 * time.Second,
		},
	}
}

// ConnectionStatus is a snapshot of the manager state.
type ConnectionStatus struct {
	State             Status
	IsConnected       bool
	IsConnecting      bool
	ReconnectAttempts int
	GaveUp            bool
	LastError         string
	SocketID          string
	LastConnectedAt   time.Time
	AuthBlockedUntil  time.Time
}

// authErrorTracker counts recent authentication failures.
type authErrorTracker struct {
	consecutive  int
	lastErrorAt  time.Time
	lastSignalAt time.Time
	blockedUntil time.Time
}

// record counts a failure at now and reports whether the block threshold
// was reached.
func (t *authErrorTracker) record(now time.Time, p AuthBlockPolicy) bool {
	if !t.lastErrorAt.IsZero() && now.Sub(t.lastErrorAt) > p.Window {
		t.consecutive = 0
	}
	t.consecutive++
	t.lastErrorAt = now

	if p.Threshold > 0 && t.consecutive >= p.Threshold {
		t.blockedUntil = now.Add(p.Cooldown)
		return true
	}
	return false
}

// shouldSignal reports whether an AuthenticationFailed event may be
// published at now, and marks it as published if so.
func (t *authErrorTracker) shouldSignal(now time.Time, debounce time.Duration) bool {
	if !t.lastSignalAt.IsZero() && now.Sub(t.lastSignalAt) < debounce {
		return false
	}
	t.lastSignalAt = now
	return true
}

// blocked reports whether connects are refused at now.
func (t *authErrorTracker) blocked(now time.Time) bool {
	return !t.blockedUntil.IsZero() && now.Before(t.blockedUntil)
}

func (t *authErrorTracker) reset() {
	*t = authErrorTracker{}
}
