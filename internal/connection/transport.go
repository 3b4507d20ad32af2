package connection

import (
	"context"
	"encoding/json"
)

// AuthPayload is sent to the server when a channel is opened.
type AuthPayload struct {
	Token      string `json:"token"`
	ClientType string `json:"clientType,omitempty"`
}

// Transport opens authenticated duplex channels.
//
// Dial blocks until the server accepts or refuses the channel. After a
// successful Dial the transport reports server events and the final
// disconnect through h; HandleDisconnect is called at most once.
type Transport interface {
	Dial(ctx context.Context, url string, auth AuthPayload, h ChannelHandler) (Channel, error)
}

// Channel is an open duplex channel.
type Channel interface {
	// ID returns the server-assigned socket id.
	ID() string

	// Emit sends a named application message upstream.
	Emit(event string, payload any) error

	// Close tears the channel down. HandleDisconnect is called with
	// ReasonClientDisconnect.
	Close() error
}

// ChannelHandler receives callbacks for one channel.
type ChannelHandler interface {
	HandleEvent(name string, payload json.RawMessage)
	HandleDisconnect(reason string, err error)
}
