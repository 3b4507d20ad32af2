package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/inventory-live/internal/events"
	"github.com/rickgao/inventory-live/internal/timer"
)

// Upstream room events.
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
)

// Manager owns one real-time channel and keeps it alive.
type Manager interface {
	// Connect opens a channel authenticated with token. Connecting again
	// with the token of the live or pending channel returns its handle.
	// Returns ErrAuthBlocked without touching the transport while the
	// auth-block cooldown is running.
	Connect(token string) (*Handle, error)

	// Disconnect cancels pending timers, closes the channel and resets
	// the retry state. With clearSubscriptions the event bus is emptied.
	Disconnect(clearSubscriptions bool)

	// ResetAuthErrors forgets recorded authentication failures and lifts
	// an active auth-block.
	ResetAuthErrors()

	// StartWatchdog checks the channel every interval and reconnects it
	// with the token from source when it is neither connected nor
	// connecting. Disconnect stops the watchdog.
	StartWatchdog(interval time.Duration, source TokenSource)

	// Status returns a snapshot of the connection state.
	Status() ConnectionStatus

	// Emit sends a named message on the live channel.
	Emit(event string, payload any) error

	JoinSession(sessionID string) error
	LeaveSession(sessionID string) error

	// Bus returns the event bus lifecycle and server events are published on.
	Bus() *events.Bus
}

// TokenSource returns the token the watchdog should connect with.
// ok is false when the application is not authenticated.
type TokenSource func() (token string, ok bool)

// Handle identifies one connect attempt.
type Handle struct {
	id uuid.UUID
	m  *manager
}

// ID returns the attempt identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// Emit sends a message if this handle's channel is still the live one.
func (h *Handle) Emit(event string, payload any) error {
	ch := h.m.liveChannel(h.id)
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Emit(event, payload)
}

// Option configures a Manager.
type Option func(*manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock driving timers and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(m *manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// attempt is one channel, from dial to disconnect.
type attempt struct {
	m      *manager
	id     uuid.UUID
	token  string
	handle *Handle
	cancel context.CancelFunc

	// guarded by m.mu
	channel    Channel
	dropReason string
	dropErr    error
	dropped    bool
}

func (a *attempt) HandleEvent(name string, payload json.RawMessage) {
	a.m.onEvent(a, name, payload)
}

func (a *attempt) HandleDisconnect(reason string, err error) {
	a.m.onDisconnect(a, reason, err)
}

// effects collects work that must run after m.mu is released.
type effects struct {
	publish []events.Event
	close   []Channel
}

func (fx *effects) emit(ev events.Event) {
	fx.publish = append(fx.publish, ev)
}

type manager struct {
	cfg       ManagerConfig
	transport Transport
	bus       *events.Bus
	clock     clockwork.Clock
	logger    *slog.Logger

	backoff  *timer.Timer
	watchdog *timer.Timer
	cooldown *timer.Timer

	mu              sync.Mutex
	status          Status
	token           string
	current         *attempt
	attempts        int
	gaveUp          bool
	lastErr         error
	lastConnectedAt time.Time
	tracker         authErrorTracker
	epoch           uint64
	source          TokenSource
	watchInterval   time.Duration
}

// NewManager creates a ConnectionManager. A nil bus gets a fresh one.
func NewManager(cfg ManagerConfig, transport Transport, bus *events.Bus, opts ...Option) Manager {
	m := &manager{
		cfg:       cfg,
		transport: transport,
		bus:       bus,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus(m.logger)
	}
	if m.cfg.DialTimeout <= 0 {
		m.cfg.DialTimeout = DefaultManagerConfig().DialTimeout
	}
	m.logger = m.logger.With("component", "connection")

	m.backoff = timer.New(m.clock)
	m.watchdog = timer.New(m.clock)
	m.cooldown = timer.New(m.clock)
	return m
}

func (m *manager) Bus() *events.Bus { return m.bus }

func (m *manager) Connect(token string) (*Handle, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if m.cfg.URL == "" {
		return nil, ErrNoURL
	}

	var fx effects
	m.mu.Lock()

	if m.status == StatusAuthBlocked {
		if m.tracker.blocked(m.clock.Now()) {
			until := m.tracker.blockedUntil
			m.mu.Unlock()
			m.logger.Debug("connect refused while auth-blocked", "until", until)
			return nil, ErrAuthBlocked
		}
		m.liftBlockLocked(&fx)
	}

	if c := m.current; c != nil && c.token == token &&
		(m.status == StatusConnected || m.status == StatusConnecting) {
		m.mu.Unlock()
		m.apply(&fx)
		return c.handle, nil
	}

	if m.gaveUp {
		m.gaveUp = false
		m.attempts = 0
	}
	m.backoff.Cancel()
	a := m.beginLocked(token, &fx)
	m.mu.Unlock()

	m.apply(&fx)
	return a.handle, nil
}

func (m *manager) Disconnect(clearSubscriptions bool) {
	var fx effects
	m.mu.Lock()

	m.epoch++
	m.backoff.Cancel()
	m.watchdog.Cancel()
	m.cooldown.Cancel()
	m.source = nil

	wasConnected := m.status == StatusConnected
	m.detachLocked(&fx)
	m.status = StatusDisconnected
	m.token = ""
	m.attempts = 0
	m.gaveUp = false
	m.lastErr = nil
	m.tracker.reset()
	m.mu.Unlock()

	if clearSubscriptions {
		m.bus.Clear()
	} else if wasConnected {
		fx.emit(events.Disconnected{Reason: ReasonClientDisconnect})
	}
	m.apply(&fx)

	m.logger.Info("disconnected", "clear_subscriptions", clearSubscriptions)
}

func (m *manager) ResetAuthErrors() {
	var fx effects
	m.mu.Lock()
	if m.status == StatusAuthBlocked {
		m.liftBlockLocked(&fx)
	}
	m.tracker.reset()
	m.mu.Unlock()
	m.apply(&fx)
}

func (m *manager) StartWatchdog(interval time.Duration, source TokenSource) {
	if interval <= 0 || source == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.source = source
	m.watchInterval = interval
	m.armWatchdogLocked()
}

func (m *manager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ConnectionStatus{
		State:             m.status,
		IsConnected:       m.status == StatusConnected,
		IsConnecting:      m.status == StatusConnecting,
		ReconnectAttempts: m.attempts,
		GaveUp:            m.gaveUp,
		LastConnectedAt:   m.lastConnectedAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if m.status == StatusConnected && m.current != nil && m.current.channel != nil {
		st.SocketID = m.current.channel.ID()
	}
	if m.status == StatusAuthBlocked {
		st.AuthBlockedUntil = m.tracker.blockedUntil
	}
	return st
}

func (m *manager) Emit(event string, payload any) error {
	ch := m.liveChannel(uuid.Nil)
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Emit(event, payload)
}

func (m *manager) JoinSession(sessionID string) error {
	return m.Emit(EventJoinSession, map[string]string{"sessionId": sessionID})
}

func (m *manager) LeaveSession(sessionID string) error {
	return m.Emit(EventLeaveSession, map[string]string{"sessionId": sessionID})
}

// liveChannel returns the connected channel, optionally only if it belongs
// to attempt id.
func (m *manager) liveChannel(id uuid.UUID) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.current
	if m.status != StatusConnected || c == nil || c.channel == nil {
		return nil
	}
	if id != uuid.Nil && c.id != id {
		return nil
	}
	return c.channel
}

// beginLocked replaces the current attempt with a new dial using token.
func (m *manager) beginLocked(token string, fx *effects) *attempt {
	if m.status == StatusConnected {
		fx.emit(events.Disconnected{Reason: ReasonClientDisconnect})
	}
	m.detachLocked(fx)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	a := &attempt{
		m:      m,
		id:     uuid.New(),
		token:  token,
		cancel: cancel,
	}
	a.handle = &Handle{id: a.id, m: m}

	m.current = a
	m.token = token
	m.status = StatusConnecting

	m.logger.Debug("connecting", "attempt", a.id, "reconnect_attempts", m.attempts)
	go m.dial(ctx, a)
	return a
}

// detachLocked forgets the current attempt. Its dial is cancelled and its
// channel closed once the lock is released.
func (m *manager) detachLocked(fx *effects) {
	c := m.current
	if c == nil {
		return
	}
	m.current = nil
	c.cancel()
	if c.channel != nil {
		fx.close = append(fx.close, c.channel)
		c.channel = nil
	}
}

func (m *manager) dial(ctx context.Context, a *attempt) {
	auth := AuthPayload{Token: a.token, ClientType: m.cfg.ClientType}
	ch, err := m.transport.Dial(ctx, m.cfg.URL, auth, a)
	a.cancel()

	var fx effects
	m.mu.Lock()

	if m.current != a {
		m.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		m.logger.Debug("discarding superseded connect attempt", "attempt", a.id, "error", err)
		return
	}

	switch {
	case err != nil:
		m.failLocked(err, &fx)
	case a.dropped:
		fx.close = append(fx.close, ch)
		m.failLocked(&DisconnectError{Reason: a.dropReason, Err: a.dropErr}, &fx)
	default:
		a.channel = ch
		m.status = StatusConnected
		m.attempts = 0
		m.gaveUp = false
		m.lastErr = nil
		m.lastConnectedAt = m.clock.Now()
		m.tracker.reset()
		fx.emit(events.Connected{HandleID: a.id, SocketID: ch.ID()})
		m.logger.Info("connected", "socket_id", ch.ID(), "attempt", a.id)
	}

	m.mu.Unlock()
	m.apply(&fx)
}

// failLocked handles a failed dial of the current attempt.
func (m *manager) failLocked(err error, fx *effects) {
	m.detachLocked(fx)
	m.status = StatusDisconnected
	m.lastErr = err

	if Classify(err) == KindAuthentication {
		m.authFailureLocked(err, fx)
		return
	}
	m.logger.Warn("connect failed", "error", err)
	m.scheduleReconnectLocked(fx)
}

func (m *manager) authFailureLocked(err error, fx *effects) {
	now := m.clock.Now()
	p := m.cfg.AuthBlock

	reached := m.tracker.record(now, p)
	m.logger.Warn("authentication rejected",
		"error", err,
		"consecutive", m.tracker.consecutive,
	)

	if m.tracker.shouldSignal(now, p.SignalDebounce) {
		fx.emit(events.AuthenticationFailed{Message: authMessage(err)})
	}

	if !reached {
		return
	}

	m.backoff.Cancel()
	m.status = StatusAuthBlocked
	until := m.tracker.blockedUntil
	epoch := m.epoch
	m.cooldown.Arm(p.Cooldown, func() { m.endCooldown(epoch) })

	fx.emit(events.AuthBlocked{Failures: m.tracker.consecutive, Until: until})
	m.logger.Warn("connects blocked after repeated authentication errors",
		"failures", m.tracker.consecutive,
		"until", until,
	)
}

func (m *manager) scheduleReconnectLocked(fx *effects) {
	p := m.cfg.Reconnect

	if p.MaxAttempts > 0 && m.attempts >= p.MaxAttempts {
		if !m.gaveUp {
			m.gaveUp = true
			last := ""
			if m.lastErr != nil {
				last = m.lastErr.Error()
			}
			fx.emit(events.ReconnectGaveUp{Attempts: m.attempts, LastError: last})
			m.logger.Error("giving up reconnecting", "attempts", m.attempts, "last_error", last)
		}
		return
	}

	m.attempts++
	delay := p.Delay(m.attempts)
	epoch := m.epoch
	m.backoff.Arm(delay, func() { m.reconnect(epoch) })

	fx.emit(events.Reconnecting{Attempt: m.attempts, Delay: delay})
	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)
}

// reconnect runs when the backoff timer fires.
func (m *manager) reconnect(epoch uint64) {
	var fx effects
	m.mu.Lock()
	if m.epoch != epoch || m.status != StatusDisconnected || m.current != nil || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.beginLocked(m.token, &fx)
	m.mu.Unlock()
	m.apply(&fx)
}

func (m *manager) endCooldown(epoch uint64) {
	var fx effects
	m.mu.Lock()
	if m.epoch != epoch || m.status != StatusAuthBlocked {
		m.mu.Unlock()
		return
	}
	m.liftBlockLocked(&fx)
	m.mu.Unlock()
	m.apply(&fx)
}

func (m *manager) liftBlockLocked(fx *effects) {
	m.cooldown.Cancel()
	m.tracker.reset()
	m.status = StatusDisconnected
	fx.emit(events.AuthBlockLifted{})
	m.logger.Info("auth-block lifted")
}

func (m *manager) armWatchdogLocked() {
	epoch := m.epoch
	m.watchdog.Arm(m.watchInterval, func() { m.checkChannel(epoch) })
}

// checkChannel is the watchdog tick.
func (m *manager) checkChannel(epoch uint64) {
	m.mu.Lock()
	source := m.source
	if m.epoch != epoch || source == nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// The source may refresh the credential and call back into the manager.
	token, ok := source()
	token = strings.TrimSpace(token)

	var fx effects
	m.mu.Lock()
	if m.epoch != epoch || m.source == nil {
		m.mu.Unlock()
		return
	}
	m.armWatchdogLocked()

	if ok && token != "" && m.needsRepairLocked(&fx) {
		m.logger.Info("watchdog reconnecting", "status", m.status)
		m.beginLocked(token, &fx)
	}
	m.mu.Unlock()
	m.apply(&fx)
}

func (m *manager) needsRepairLocked(fx *effects) bool {
	switch m.status {
	case StatusConnected, StatusConnecting:
		return false
	case StatusAuthBlocked:
		if m.tracker.blocked(m.clock.Now()) {
			return false
		}
		m.liftBlockLocked(fx)
	}
	if m.gaveUp || m.backoff.Armed() {
		return false
	}
	return true
}

// onEvent forwards a server event from a's channel while a is the
// current attempt. Publishing happens after unlocking, so an event whose
// delivery already started when Disconnect or a token switch ran may
// reach subscribers concurrently with the Disconnected event. Events read
// after the switch are dropped.
func (m *manager) onEvent(a *attempt, name string, payload json.RawMessage) {
	m.mu.Lock()
	live := m.current == a
	m.mu.Unlock()
	if !live {
		return
	}
	m.bus.Publish(events.Domain{Name: name, Payload: payload})
}

func (m *manager) onDisconnect(a *attempt, reason string, err error) {
	var fx effects
	m.mu.Lock()

	if m.current != a {
		m.mu.Unlock()
		return
	}
	if a.channel == nil {
		// Dial has not returned yet; it picks the drop up.
		a.dropped = true
		a.dropReason = reason
		a.dropErr = err
		m.mu.Unlock()
		return
	}

	m.current = nil
	a.channel = nil
	m.status = StatusDisconnected
	dErr := &DisconnectError{Reason: reason, Err: err}
	m.lastErr = dErr
	fx.emit(events.Disconnected{Reason: reason})
	m.logger.Warn("channel lost", "reason", reason, "error", err)

	if Classify(dErr) == KindAuthentication {
		m.authFailureLocked(dErr, &fx)
	} else {
		m.scheduleReconnectLocked(&fx)
	}

	m.mu.Unlock()
	m.apply(&fx)
}

func (m *manager) apply(fx *effects) {
	for _, ch := range fx.close {
		if err := ch.Close(); err != nil {
			m.logger.Debug("close channel", "error", err)
		}
	}
	m.bus.Publish(fx.publish...)
}

func authMessage(err error) string {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
