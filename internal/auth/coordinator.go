package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/inventory-live/internal/api"
	"github.com/rickgao/inventory-live/internal/connection"
	"github.com/rickgao/inventory-live/internal/events"
	"github.com/rickgao/inventory-live/internal/store"
)

// Errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token")
)

// Session end reasons.
const (
	ReasonRefreshFailed     = "refresh failed"
	ReasonTemporaryRejected = "temporary session rejected"
	ReasonTemporaryExpired  = "temporary session expired"
)

// TokenService is the REST side of the session. *api.Client implements it.
type TokenService interface {
	Login(ctx context.Context, identifier, password string) (*api.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Config configures the Coordinator.
type Config struct {
	ExpiryBuffer     time.Duration // refresh this long before exp
	FailureDebounce  time.Duration // min gap between reactions to auth failures
	WatchdogInterval time.Duration
	RefreshTimeout   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ExpiryBuffer:     60 * time.Second,
		FailureDebounce:  10 * time.Second,
		WatchdogInterval: 5 * time.Second,
		RefreshTimeout:   15 * time.Second,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for expiry and debounce checks.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Coordinator owns the credential lifecycle.
type Coordinator struct {
	cfg    Config
	conn   connection.Manager
	store  store.CredentialStore
	tokens TokenService
	clock  clockwork.Clock
	logger *slog.Logger

	flight singleflight.Group

	mu            sync.Mutex
	cred          *Credential
	lastFailureAt time.Time
	failureSub    *events.Subscription
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, conn connection.Manager, st store.CredentialStore, tokens TokenService, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}

	c := &Coordinator{
		cfg:    cfg,
		conn:   conn,
		store:  st,
		tokens: tokens,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "auth")
	return c
}

// Credential returns a copy of the current credential.
func (c *Coordinator) Credential() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return Credential{}, false
	}
	return *c.cred, true
}

// Authenticated reports whether a session is active.
func (c *Coordinator) Authenticated() bool {
	_, ok := c.Credential()
	return ok
}

// LoadAndValidate restores the persisted session. A valid token connects
// right away; an expiring one is refreshed first. A temporary credential
// that expired is cleared without any network call. It reports whether a
// session is active afterwards.
func (c *Coordinator) LoadAndValidate(ctx context.Context) (bool, error) {
	access, hasAccess, err := store.Lookup(ctx, c.store, store.KeyAccessToken)
	if err != nil {
		return false, fmt.Errorf("load access token: %w", err)
	}
	refresh, hasRefresh, err := store.Lookup(ctx, c.store, store.KeyRefreshToken)
	if err != nil {
		return false, fmt.Errorf("load refresh token: %w", err)
	}
	user, hasUser, err := store.Lookup(ctx, c.store, store.KeyUser)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}

	if !hasAccess && !hasRefresh {
		c.logger.Debug("no persisted session")
		return false, nil
	}

	var raw json.RawMessage
	if hasUser && json.Valid([]byte(user)) {
		raw = json.RawMessage(user)
	}
	cred := NewCredential(access, refresh, raw)
	c.adopt(&cred)

	if hasAccess && !cred.Expired(c.clock.Now(), c.cfg.ExpiryBuffer) {
		c.logger.Info("restored session", "expires_at", cred.ExpiresAt, "temporary", cred.IsTemporary())
		c.establish(cred.AccessToken)
		return true, nil
	}

	if cred.IsTemporary() {
		c.logger.Info("persisted temporary session expired")
		c.mu.Lock()
		if c.cred == &cred {
			c.cred = nil
		}
		c.mu.Unlock()
		if err := store.RemoveAll(ctx, c.store, store.SessionKeys...); err != nil {
			c.logger.Warn("failed to clear credentials", "error", err)
		}
		return false, nil
	}

	c.logger.Info("persisted access token expired, refreshing", "expires_at", cred.ExpiresAt)
	c.ensureSubscribed()
	if _, err := c.Refresh(ctx); err != nil {
		return false, err
	}
	c.conn.StartWatchdog(c.cfg.WatchdogInterval, c.watchdogToken)
	return true, nil
}

// Login signs in with an email or username and starts the session.
func (c *Coordinator) Login(ctx context.Context, identifier, password string) error {
	s, err := c.tokens.Login(ctx, identifier, password)
	if err != nil {
		return err
	}

	cred := NewCredential(s.AccessToken, s.RefreshToken, s.User)
	if err := c.persist(ctx, cred); err != nil {
		return err
	}
	c.adopt(&cred)
	c.conn.ResetAuthErrors()
	c.establish(cred.AccessToken)

	c.logger.Info("logged in", "expires_at", cred.ExpiresAt)
	return nil
}

// AdoptTemporary starts a guest session from an access token without a
// refresh token, e.g. one obtained from a collaborator invitation.
func (c *Coordinator) AdoptTemporary(ctx context.Context, accessToken string, user json.RawMessage) error {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return connection.ErrEmptyToken
	}

	cred := NewCredential(accessToken, "", user)
	if err := c.persist(ctx, cred); err != nil {
		return err
	}
	c.adopt(&cred)
	c.conn.ResetAuthErrors()
	c.establish(cred.AccessToken)

	c.logger.Info("adopted temporary session", "expires_at", cred.ExpiresAt)
	return nil
}

// Logout ends the session: the channel is closed, the refresh token is
// revoked on a best-effort basis and persisted credentials are removed.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	cred := c.cred
	c.cred = nil
	c.lastFailureAt = time.Time{}
	c.mu.Unlock()

	c.conn.Disconnect(false)

	if cred != nil && !cred.IsTemporary() {
		if err := c.tokens.Logout(ctx, cred.RefreshToken); err != nil {
			c.logger.Warn("server logout failed", "error", err)
		}
	}

	if err := store.RemoveAll(ctx, c.store, store.SessionKeys...); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// Refresh renews the credential. Concurrent callers share one network
// call and observe the same result. The call runs to completion with its
// own timeout even if ctx is cancelled; ctx only bounds the wait.
//
// On success the new pair is persisted, recorded auth errors are cleared
// and the channel is reconnected with the new token. Any failure ends the
// session.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	cred := c.cred
	c.mu.Unlock()

	if cred == nil {
		return "", ErrNotAuthenticated
	}
	if cred.IsTemporary() {
		c.endSession(ctx, cred, ReasonTemporaryRejected)
		return "", ErrNoRefreshToken
	}

	tp, err := c.tokens.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		c.logger.Warn("refresh failed, ending session", "error", err)
		c.endSession(ctx, cred, ReasonRefreshFailed)
		return "", err
	}

	refreshToken := tp.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	next := NewCredential(tp.AccessToken, refreshToken, cred.User)

	c.mu.Lock()
	if c.cred != cred {
		// Logged out or replaced while the call was in flight.
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	c.cred = &next
	c.mu.Unlock()

	if err := c.persist(ctx, next); err != nil {
		c.logger.Warn("failed to persist refreshed credential", "error", err)
	}

	c.conn.ResetAuthErrors()
	if _, err := c.conn.Connect(next.AccessToken); err != nil {
		c.logger.Warn("reconnect after refresh failed", "error", err)
	}
	c.conn.Bus().Publish(events.TokenRefreshed{ExpiresAt: next.ExpiresAt})

	c.logger.Info("credential refreshed", "expires_at", next.ExpiresAt)
	return next.AccessToken, nil
}

// Close stops reacting to authentication failures.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sub := c.failureSub
	c.failureSub = nil
	c.mu.Unlock()
	sub.Unsubscribe()
}

func (c *Coordinator) adopt(cred *Credential) {
	c.mu.Lock()
	c.cred = cred
	c.lastFailureAt = time.Time{}
	c.mu.Unlock()
}

// establish connects with token and keeps the channel watched.
func (c *Coordinator) establish(token string) {
	c.ensureSubscribed()
	if _, err := c.conn.Connect(token); err != nil {
		c.logger.Warn("connect failed", "error", err)
	}
	c.conn.StartWatchdog(c.cfg.WatchdogInterval, c.watchdogToken)
}

// ensureSubscribed (re)registers the auth failure handler. The
// subscription is gone after the bus is cleared.
func (c *Coordinator) ensureSubscribed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failureSub.Active() {
		return
	}
	c.failureSub = events.Subscribe(c.conn.Bus(), c.onAuthFailed)
}

func (c *Coordinator) onAuthFailed(ev events.AuthenticationFailed) {
	now := c.clock.Now()

	c.mu.Lock()
	cred := c.cred
	if cred == nil {
		c.mu.Unlock()
		return
	}
	if !c.lastFailureAt.IsZero() && now.Sub(c.lastFailureAt) < c.cfg.FailureDebounce {
		c.mu.Unlock()
		c.logger.Debug("authentication failure debounced", "message", ev.Message)
		return
	}
	c.lastFailureAt = now
	c.mu.Unlock()

	if cred.IsTemporary() {
		c.logger.Info("temporary session rejected", "message", ev.Message)
		go c.endSession(context.Background(), cred, ReasonTemporaryRejected)
		return
	}

	c.logger.Info("authentication failed, refreshing", "message", ev.Message)
	go c.refreshInBackground()
}

func (c *Coordinator) refreshInBackground() {
	if _, err := c.Refresh(context.Background()); err != nil {
		c.logger.Debug("background refresh failed", "error", err)
	}
}

// watchdogToken supplies the watchdog. An expiring credential is
// refreshed in the background and the tick is skipped; the refresh
// reconnects on its own.
func (c *Coordinator) watchdogToken() (string, bool) {
	c.mu.Lock()
	cred := c.cred
	c.mu.Unlock()

	if cred == nil {
		return "", false
	}
	if !cred.Expired(c.clock.Now(), c.cfg.ExpiryBuffer) {
		return cred.AccessToken, true
	}

	if cred.IsTemporary() {
		go c.endSession(context.Background(), cred, ReasonTemporaryExpired)
		return "", false
	}
	go c.refreshInBackground()
	return "", false
}

// endSession clears cred and tells the application, unless another
// credential replaced it in the meantime.
func (c *Coordinator) endSession(ctx context.Context, cred *Credential, reason string) {
	c.mu.Lock()
	if c.cred != cred {
		c.mu.Unlock()
		return
	}
	c.cred = nil
	c.mu.Unlock()

	c.conn.Disconnect(false)
	if err := store.RemoveAll(ctx, c.store, store.SessionKeys...); err != nil {
		c.logger.Warn("failed to clear credentials", "error", err)
	}

	c.logger.Info("session ended", "reason", reason)
	c.conn.Bus().Publish(events.SessionEnded{Reason: reason})
}

func (c *Coordinator) persist(ctx context.Context, cred Credential) error {
	if err := c.store.Set(ctx, store.KeyAccessToken, cred.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if cred.IsTemporary() {
		if err := c.store.Remove(ctx, store.KeyRefreshToken); err != nil {
			return fmt.Errorf("remove refresh token: %w", err)
		}
	} else if err := c.store.Set(ctx, store.KeyRefreshToken, cred.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	if len(cred.User) > 0 {
		if err := c.store.Set(ctx, store.KeyUser, string(cred.User)); err != nil {
			return fmt.Errorf("persist user: %w", err)
		}
	}
	return nil
}
