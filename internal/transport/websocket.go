// Package transport implements connection.Transport with Socket.IO v5
// (Engine.IO v4) over a plain websocket. Only the websocket transport is
// supported; there is no long-polling fallback.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/inventory-live/internal/connection"
	"github.com/rickgao/inventory-live/internal/version"
)

// Defaults
const (
	DefaultPath             = "/socket.io/"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

// Config configures the Dialer.
type Config struct {
	Path             string // Engine.IO endpoint path
	Namespace        string // Socket.IO namespace, "/" by default
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header // extra headers for the upgrade request
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Dialer opens Socket.IO channels.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
	ws     *websocket.Dialer
}

// NewDialer creates a Dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Dialer{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// EndpointURL turns a server base URL into the Engine.IO websocket URL.
// http(s) schemes are mapped to ws(s).
func EndpointURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if path == "" {
		path = DefaultPath
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the server, performs the Engine.IO and Socket.IO
// handshakes and starts the read loop.
func (d *Dialer) Dial(ctx context.Context, base string, auth connection.AuthPayload, h connection.ChannelHandler) (connection.Channel, error) {
	endpoint, err := EndpointURL(base, d.cfg.Path)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, v := range d.cfg.Header {
		header[k] = v
	}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := d.ws.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &connection.HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// Unblock handshake reads when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ch, err := d.handshake(ctx, conn, auth, h)
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("handshake: %w", ctxErr)
		}
		return nil, err
	}

	if !stop() {
		// ctx ended after the handshake finished; conn is already closed.
		return nil, fmt.Errorf("handshake: %w", context.Cause(ctx))
	}

	go ch.readLoop()

	d.logger.Debug("socket.io connected", "url", endpoint, "socket_id", ch.sid)
	return ch, nil
}

// handshake runs with no read deadline; Dial closes conn when ctx ends so
// a timed-out handshake always reports the context error.
func (d *Dialer) handshake(ctx context.Context, conn *websocket.Conn, auth connection.AuthPayload, h connection.ChannelHandler) (*channel, error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read open packet: %w", err)
	}
	open, err := decodeOpen(msg)
	if err != nil {
		return nil, err
	}

	ch := &channel{
		conn:         conn,
		handler:      h,
		logger:       d.logger,
		namespace:    d.cfg.Namespace,
		writeTimeout: d.cfg.WriteTimeout,
		pingWindow:   pingWindow(open),
		done:         make(chan struct{}),
	}

	connect, err := encodeConnect(d.cfg.Namespace, auth)
	if err != nil {
		return nil, err
	}
	if err := ch.write(connect); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await connect ack: %w", err)
		}
		p, err := decodePacket(msg)
		if err != nil {
			return nil, err
		}

		switch p.engine {
		case enginePing:
			if err := ch.write([]byte{enginePong}); err != nil {
				return nil, fmt.Errorf("send pong: %w", err)
			}
			continue
		case engineClose:
			return nil, fmt.Errorf("server closed during handshake: %w", net.ErrClosed)
		case engineMessage:
		default:
			continue
		}

		if p.namespace != d.cfg.Namespace {
			continue
		}
		switch p.socket {
		case socketConnect:
			var ack connectAck
			if err := json.Unmarshal(p.data, &ack); err != nil {
				return nil, fmt.Errorf("decode connect ack: %w", err)
			}
			ch.sid = ack.SID
			return ch, nil
		case socketConnectError:
			return nil, decodeConnectError(p.data)
		}
	}
}

func pingWindow(op openPacket) time.Duration {
	interval := time.Duration(op.PingInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultPingInterval
	}
	timeout := time.Duration(op.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return interval + timeout
}

// channel is one Socket.IO connection. It implements connection.Channel.
type channel struct {
	conn         *websocket.Conn
	handler      connection.ChannelHandler
	logger       *slog.Logger
	sid          string
	namespace    string
	writeTimeout time.Duration
	pingWindow   time.Duration

	// Write serialization
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func (c *channel) ID() string { return c.sid }

// Emit writes an EVENT packet.
func (c *channel) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return connection.ErrNotConnected
	default:
	}

	msg, err := encodeEvent(c.namespace, event, payload)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Close sends a namespace disconnect and closes the socket.
func (c *channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	_ = c.write(encodeDisconnect(c.namespace))
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	c.finish(connection.ReasonClientDisconnect, nil)
	return nil
}

func (c *channel) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// readLoop dispatches packets until the socket fails or the server leaves.
// The read deadline is pushed out by every frame, so a server that stops
// pinging trips it.
func (c *channel) readLoop() {
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.pingWindow))

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(readFailureReason(err), err)
			return
		}

		p, err := decodePacket(msg)
		if err != nil {
			c.logger.Debug("dropping undecodable packet", "error", err)
			continue
		}

		switch p.engine {
		case enginePing:
			if err := c.write([]byte{enginePong}); err != nil {
				c.finish(connection.ReasonTransportError, err)
				return
			}
		case engineClose:
			c.finish(connection.ReasonTransportClose, nil)
			return
		case engineMessage:
			if p.namespace != c.namespace {
				continue
			}
			if c.dispatch(p) {
				return
			}
		case engineNoop, engineUpgrade, enginePong:
		}
	}
}

// dispatch handles a socket.io packet and reports whether the channel ended.
func (c *channel) dispatch(p packet) bool {
	switch p.socket {
	case socketEvent:
		name, payload, err := decodeEvent(p.data)
		if err != nil {
			c.logger.Warn("malformed event", "error", err)
			return false
		}
		c.handler.HandleEvent(name, payload)
	case socketDisconnect:
		c.finish(connection.ReasonServerDisconnect, nil)
		return true
	case socketConnectError:
		c.finish(connection.ReasonServerDisconnect, decodeConnectError(p.data))
		return true
	case socketAck:
		// No acks are requested.
	}
	return false
}

// finish closes the socket and reports the disconnect exactly once.
func (c *channel) finish(reason string, err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.logger.Debug("socket.io disconnected", "socket_id", c.sid, "reason", reason, "error", err)
		c.handler.HandleDisconnect(reason, err)
	})
}

func readFailureReason(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return connection.ReasonPingTimeout
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return connection.ReasonTransportClose
	}
	if errors.Is(err, net.ErrClosed) {
		return connection.ReasonTransportClose
	}
	return connection.ReasonTransportError
}
