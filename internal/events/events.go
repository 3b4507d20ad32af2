// Package events implements the local event bus that decouples the
// real-time channel from application consumers.
//
// Events form a closed set: every variant is a struct in this package
// implementing Event, identified by a Kind. Consumers subscribe per kind
// with typed callbacks, or register a Handlers table covering every kind.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event variant.
type Kind uint8

const (
	KindConnected Kind = iota + 1
	KindDisconnected
	KindReconnecting
	KindReconnectGaveUp
	KindAuthenticationFailed
	KindAuthBlocked
	KindAuthBlockLifted
	KindSessionEnded
	KindTokenRefreshed
	KindDomain
)

// String returns the wire-style name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindReconnecting:
		return "reconnecting"
	case KindReconnectGaveUp:
		return "reconnect_gave_up"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindAuthBlocked:
		return "auth_blocked"
	case KindAuthBlockLifted:
		return "auth_block_lifted"
	case KindSessionEnded:
		return "session_ended"
	case KindTokenRefreshed:
		return "token_refreshed"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// Event is implemented by every event variant in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// Connected is published when a channel finishes its handshake.
type Connected struct {
	HandleID uuid.UUID
	SocketID string
}

// Disconnected is published when a live channel goes away.
type Disconnected struct {
	Reason string
}

// Reconnecting is published when a backoff timer is armed.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectGaveUp is published once the backoff sequence is exhausted.
// Live updates stay unavailable until a manual connect.
type ReconnectGaveUp struct {
	Attempts  int
	LastError string
}

// AuthenticationFailed reports that the server rejected the credential.
type AuthenticationFailed struct {
	Message string
}

// AuthBlocked reports that connects are refused until Until.
type AuthBlocked struct {
	Failures int
	Until    time.Time
}

// AuthBlockLifted reports the end of an auth-block cooldown.
type AuthBlockLifted struct{}

// SessionEnded tells the application the user must sign in again.
type SessionEnded struct {
	Reason string
}

// TokenRefreshed is published after a successful credential refresh.
type TokenRefreshed struct {
	ExpiresAt time.Time
}

// Domain is a server event forwarded verbatim.
type Domain struct {
	Name    string
	Payload json.RawMessage
}

func (Connected) Kind() Kind            { return KindConnected }
func (Disconnected) Kind() Kind         { return KindDisconnected }
func (Reconnecting) Kind() Kind         { return KindReconnecting }
func (ReconnectGaveUp) Kind() Kind      { return KindReconnectGaveUp }
func (AuthenticationFailed) Kind() Kind { return KindAuthenticationFailed }
func (AuthBlocked) Kind() Kind          { return KindAuthBlocked }
func (AuthBlockLifted) Kind() Kind      { return KindAuthBlockLifted }
func (SessionEnded) Kind() Kind         { return KindSessionEnded }
func (TokenRefreshed) Kind() Kind       { return KindTokenRefreshed }
func (Domain) Kind() Kind               { return KindDomain }

func (Connected) sealed()            {}
func (Disconnected) sealed()         {}
func (Reconnecting) sealed()         {}
func (ReconnectGaveUp) sealed()      {}
func (AuthenticationFailed) sealed() {}
func (AuthBlocked) sealed()          {}
func (AuthBlockLifted) sealed()      {}
func (SessionEnded) sealed()         {}
func (TokenRefreshed) sealed()       {}
func (Domain) sealed()               {}

// Server event names emitted by the inventory backend.
const (
	SessionUpdated           = "sesion_actualizada"
	SessionCompleted         = "sesion_completada"
	ProductAdded             = "producto_agregado"
	ProductRemoved           = "producto_removido"
	ProductUpdated           = "producto_actualizado"
	FinancialsUpdated        = "financieros_actualizados"
	UserConnected            = "usuario_conectado"
	UserDisconnected         = "usuario_desconectado"
	CollaboratorConnected    = "colaborador_conectado"
	CollaboratorDisconnected = "colaborador_desconectado"
	OnlineCollaboratorsCount = "online_colaboradores_count"
)

// Decode unmarshals the payload of a domain event into v.
func (d Domain) Decode(v any) error {
	return json.Unmarshal(d.Payload, v)
}

// Handlers is an exhaustive handler table. Nil fields are skipped.
type Handlers struct {
	Connected            func(Connected)
	Disconnected         func(Disconnected)
	Reconnecting         func(Reconnecting)
	ReconnectGaveUp      func(ReconnectGaveUp)
	AuthenticationFailed func(AuthenticationFailed)
	AuthBlocked          func(AuthBlocked)
	AuthBlockLifted      func(AuthBlockLifted)
	SessionEnded         func(SessionEnded)
	TokenRefreshed       func(TokenRefreshed)
	Domain               func(Domain)
}

// Dispatch calls the handler for ev's variant. It reports whether a
// handler was set.
func (h Handlers) Dispatch(ev Event) bool {
	switch e := ev.(type) {
	case Connected:
		return call(h.Connected, e)
	case Disconnected:
		return call(h.Disconnected, e)
	case Reconnecting:
		return call(h.Reconnecting, e)
	case ReconnectGaveUp:
		return call(h.ReconnectGaveUp, e)
	case AuthenticationFailed:
		return call(h.AuthenticationFailed, e)
	case AuthBlocked:
		return call(h.AuthBlocked, e)
	case AuthBlockLifted:
		return call(h.AuthBlockLifted, e)
	case SessionEnded:
		return call(h.SessionEnded, e)
	case TokenRefreshed:
		return call(h.TokenRefreshed, e)
	case Domain:
		return call(h.Domain, e)
	default:
		return false
	}
}

func (h Handlers) kinds() []Kind {
	var kinds []Kind
	add := func(set bool, k Kind) {
		if set {
			kinds = append(kinds, k)
		}
	}
	add(h.Connected != nil, KindConnected)
	add(h.Disconnected != nil, KindDisconnected)
	add(h.Reconnecting != nil, KindReconnecting)
	add(h.ReconnectGaveUp != nil, KindReconnectGaveUp)
	add(h.AuthenticationFailed != nil, KindAuthenticationFailed)
	add(h.AuthBlocked != nil, KindAuthBlocked)
	add(h.AuthBlockLifted != nil, KindAuthBlockLifted)
	add(h.SessionEnded != nil, KindSessionEnded)
	add(h.TokenRefreshed != nil, KindTokenRefreshed)
	add(h.Domain != nil, KindDomain)
	return kinds
}

func call[E Event](fn func(E), e E) bool {
	if fn == nil {
		return false
	}
	fn(e)
	return true
}
