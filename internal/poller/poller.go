package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/inventory-live/internal/api"
	"github.com/rickgao/inventory-live/internal/auth"
)

// ProfileFetcher fetches the profile of the bearer of an access token.
type ProfileFetcher interface {
	Profile(ctx context.Context, accessToken string) (*api.User, error)
}

// Session exposes the current credential and refreshes it.
type Session interface {
	Credential() (auth.Credential, bool)
	Refresh(ctx context.Context) (string, error)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // time between checks
	Timeout  time.Duration // per-check timeout, refresh included
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats contains poller statistics.
type Stats struct {
	Checks    int64
	Rejected  int64
	Failures  int64
	Refreshes int64
	LastUser  *api.User
	LastCheck time.Time
}

// Poller periodically verifies the session against the profile endpoint.
type Poller struct {
	cfg     Config
	fetcher ProfileFetcher
	session Session
	clock   clockwork.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. A nil clock uses the real clock.
func New(cfg Config, fetcher ProfileFetcher, session Session, clock clockwork.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		session: session,
		clock:   clock,
		logger:  logger.With("component", "profile_poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	ticker := p.clock.NewTicker(p.cfg.Interval)

	p.wg.Add(1)
	go p.run(ticker)

	p.logger.Info("profile poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("profile poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the poller statistics.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// run is the main polling loop. The first check waits one interval; the
// session was just validated when the poller starts.
func (p *Poller) run(ticker clockwork.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.check(p.ctx)
		}
	}
}

// check fetches the profile once. A rejected credential is refreshed.
func (p *Poller) check(ctx context.Context) {
	cred, ok := p.session.Credential()
	if !ok || cred.IsTemporary() || cred.AccessToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	user, err := p.fetcher.Profile(ctx, cred.AccessToken)

	p.mu.Lock()
	p.stats.Checks++
	p.stats.LastCheck = p.clock.Now()
	switch {
	case err == nil:
		p.stats.LastUser = user
	case api.IsUnauthorized(err):
		p.stats.Rejected++
	default:
		p.stats.Failures++
	}
	p.mu.Unlock()

	switch {
	case err == nil:
		p.logger.Debug("profile check ok", "user_id", user.ID)
		return
	case !api.IsUnauthorized(err):
		// Outages are the connection manager's concern.
		p.logger.Warn("profile check failed", "error", err)
		return
	}

	p.logger.Warn("credential rejected by profile check, refreshing", "error", err)
	if _, err := p.session.Refresh(ctx); err != nil {
		p.logger.Warn("refresh after profile rejection failed", "error", err)
		return
	}

	p.mu.Lock()
	p.stats.Refreshes++
	p.mu.Unlock()
}
