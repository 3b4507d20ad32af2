// livesync keeps an authenticated real-time connection to the inventory
// server and logs every event it receives.
//
// Usage:
//
//	livesync -config configs/livesync.example.yaml -email ana@example.com -session 42
//
// The password is read from LIVESYNC_PASSWORD when -password is not given.
// Without -email the persisted session is restored.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/inventory-live/internal/api"
	"github.com/rickgao/inventory-live/internal/auth"
	"github.com/rickgao/inventory-live/internal/config"
	"github.com/rickgao/inventory-live/internal/connection"
	"github.com/rickgao/inventory-live/internal/events"
	"github.com/rickgao/inventory-live/internal/poller"
	"github.com/rickgao/inventory-live/internal/transport"
	"github.com/rickgao/inventory-live/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: environment only)")
	email := flag.String("email", "", "email or username to sign in with")
	password := flag.String("password", "", "password (default $LIVESYNC_PASSWORD)")
	guestToken := flag.String("guest-token", "", "adopt a temporary session token instead of signing in")
	sessionID := flag.String("session", "", "inventory session room to join")
	statusAddr := flag.String("status-addr", "", "serve /health on this address, e.g. :8080")
	logout := flag.Bool("logout", false, "end the persisted session and exit")
	verbose := flag.Bool("verbose", false, "log full event payloads")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting livesync",
		"version", version.Version,
		"commit", version.Commit,
		"ws_url", cfg.Connection.URL,
		"api_url", cfg.API.BaseURL,
		"store", cfg.Store.Driver,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	creds, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	dialer := transport.NewDialer(transport.Config{
		Path:         cfg.Connection.Path,
		Namespace:    cfg.Connection.Namespace,
		WriteTimeout: cfg.Connection.WriteTimeout,
	}, logger)

	bus := events.NewBus(logger)
	conn := connection.NewManager(managerConfig(cfg.Connection), dialer, bus, connection.WithLogger(logger))
	coord := auth.NewCoordinator(auth.Config{
		ExpiryBuffer:     cfg.Auth.ExpiryBuffer,
		FailureDebounce:  cfg.Auth.FailureDebounce,
		WatchdogInterval: cfg.Auth.WatchdogInterval,
		RefreshTimeout:   cfg.Auth.RefreshTimeout,
	}, conn, creds, apiClient, auth.WithLogger(logger))
	defer coord.Close()

	if *logout {
		if _, err := coord.LoadAndValidate(ctx); err != nil {
			logger.Warn("could not restore session before logout", "error", err)
		}
		if err := coord.Logout(ctx); err != nil {
			logger.Error("logout failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sessionEnded := make(chan string, 1)
	unsubscribe := registerLogging(bus, conn, logger, *sessionID, *verbose, sessionEnded)
	defer unsubscribe()

	stopJournal := func() {}
	if cfg.Journal.Enabled {
		stopJournal, err = startJournal(ctx, cfg.Journal, bus, logger)
		if err != nil {
			logger.Error("failed to start event journal", "error", err)
			os.Exit(1)
		}
	}

	if err := startSession(ctx, coord, *email, *password, *guestToken); err != nil {
		logger.Error("failed to start session", "error", err)
		stopJournal()
		os.Exit(1)
	}

	if cred, ok := coord.Credential(); ok && len(cred.User) > 0 {
		var u api.User
		if json.Unmarshal(cred.User, &u) == nil {
			logger.Info("session user", "id", u.ID, "email", u.Email, "rol", u.Rol)
		}
	}

	var profilePoller *poller.Poller
	if cfg.Auth.ProfileInterval > 0 {
		profilePoller = poller.New(poller.Config{
			Interval: cfg.Auth.ProfileInterval,
			Timeout:  cfg.Auth.ProfileTimeout,
		}, apiClient, coord, nil, logger)
		profilePoller.Start(ctx)
	}

	var statusServer *http.Server
	if *statusAddr != "" {
		statusServer = &http.Server{
			Addr:              *statusAddr,
			Handler:           createStatusHandler(conn, coord),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting status server", "addr", *statusAddr)
			if err := statusServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case reason := <-sessionEnded:
		logger.Error("session ended, sign in again", "reason", reason)
		exitCode = 2
	}

	logger.Info("shutting down...")

	shutdown(logger, statusServer, profilePoller, conn, *sessionID)
	stopJournal()

	logger.Info("livesync stopped")
	if exitCode != 0 {
		coord.Close()
		closeStore()
		os.Exit(exitCode)
	}
}

// shutdown stops the status server and the profile poller, leaves the
// session room and closes the channel. Failures are logged, not returned.
func shutdown(logger *slog.Logger, statusServer *http.Server, profilePoller *poller.Poller, conn connection.Manager, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown failed", "error", err)
		}
	}
	if profilePoller != nil {
		if err := profilePoller.Stop(ctx); err != nil {
			logger.Warn("profile poller did not stop cleanly", "error", err)
		}
	}

	if sessionID != "" {
		if err := conn.LeaveSession(sessionID); err != nil {
			logger.Warn("failed to leave session", "session_id", sessionID, "error", err)
		}
	}
	conn.Disconnect(true)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func managerConfig(c config.ConnectionConfig) connection.ManagerConfig {
	maxAttempts := c.MaxReconnectAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return connection.ManagerConfig{
		URL:         c.URL,
		ClientType:  c.ClientType,
		DialTimeout: c.DialTimeout,
		Reconnect: connection.ReconnectPolicy{
			BaseDelay:   c.ReconnectBaseDelay,
			MaxDelay:    c.ReconnectMaxDelay,
			Multiplier:  c.ReconnectMultiplier,
			MaxAttempts: maxAttempts,
		},
		AuthBlock: connection.AuthBlockPolicy{
			Threshold:      c.AuthBlockThreshold,
			Window:         c.AuthBlockWindow,
			Cooldown:       c.AuthBlockCooldown,
			SignalDebounce: c.AuthSignalDebounce,
		},
	}
}

// startSession signs in, adopts a guest token or restores the persisted
// session, in that order of preference.
func startSession(ctx context.Context, coord *auth.Coordinator, email, password, guestToken string) error {
	switch {
	case email != "":
		if password == "" {
			password = os.Getenv("LIVESYNC_PASSWORD")
		}
		if password == "" {
			return errors.New("password is required with -email")
		}
		return coord.Login(ctx, email, password)

	case guestToken != "":
		user := json.RawMessage(`{"nombre":"Colaborador","rol":"colaborador","tipo":"colaborador_temporal"}`)
		return coord.AdoptTemporary(ctx, guestToken, user)

	default:
		ok, err := coord.LoadAndValidate(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no persisted session, sign in with -email")
		}
		return nil
	}
}

// registerLogging logs every event on the bus. The session room is
// (re)joined on each connect. The reason of a session end is sent on
// ended.
func registerLogging(bus *events.Bus, conn connection.Manager, logger *slog.Logger, sessionID string, verbose bool, ended chan<- string) func() {
	log := logger.With("component", "events")

	return bus.Register(events.Handlers{
		Connected: func(e events.Connected) {
			log.Info("connected", "socket_id", e.SocketID, "handle", e.HandleID)
			if sessionID != "" {
				if err := conn.JoinSession(sessionID); err != nil {
					log.Warn("failed to join session", "session_id", sessionID, "error", err)
				}
			}
		},
		Disconnected: func(e events.Disconnected) {
			log.Warn("disconnected", "reason", e.Reason)
		},
		Reconnecting: func(e events.Reconnecting) {
			log.Info("reconnecting", "attempt", e.Attempt, "delay", e.Delay)
		},
		ReconnectGaveUp: func(e events.ReconnectGaveUp) {
			log.Error("live updates unavailable, reconnection gave up",
				"attempts", e.Attempts, "last_error", e.LastError)
		},
		AuthenticationFailed: func(e events.AuthenticationFailed) {
			log.Warn("authentication failed", "message", e.Message)
		},
		AuthBlocked: func(e events.AuthBlocked) {
			log.Warn("connection blocked after repeated authentication failures",
				"failures", e.Failures, "until", e.Until)
		},
		AuthBlockLifted: func(events.AuthBlockLifted) {
			log.Info("auth block lifted")
		},
		TokenRefreshed: func(e events.TokenRefreshed) {
			log.Info("token refreshed", "expires_at", e.ExpiresAt)
		},
		SessionEnded: func(e events.SessionEnded) {
			select {
			case ended <- e.Reason:
			default:
			}
		},
		Domain: func(e events.Domain) {
			if verbose {
				log.Info("event", "name", e.Name, "payload", string(e.Payload))
				return
			}
			log.Info("event", "name", e.Name, "bytes", len(e.Payload))
		},
	})
}
