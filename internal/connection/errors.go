package connection

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Errors
var (
	ErrEmptyToken   = errors.New("empty token")
	ErrAuthBlocked  = errors.New("connect refused: authentication blocked")
	ErrNotConnected = errors.New("not connected")
	ErrNoURL        = errors.New("no real-time URL configured")

	// ErrCredentialRejected may be wrapped by a Transport that knows the
	// server rejected the credential.
	ErrCredentialRejected = errors.New("credential rejected")
)

// ErrorKind is the classification of a transport failure.
type ErrorKind uint8

const (
	KindNetwork ErrorKind = iota
	KindAuthentication
)

// String returns the kind name.
func (k ErrorKind) String() string {
	if k == KindAuthentication {
		return "authentication"
	}
	return "network"
}

// HandshakeError is returned when the websocket upgrade is answered with
// a non-101 HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ConnectError is returned when the server refuses the namespace connect.
// Code is the structured reason when the server sends one.
type ConnectError struct {
	Message string
	Code    string
}

func (e *ConnectError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("connect refused (%s): %s", e.Code, e.Message)
	}
	return "connect refused: " + e.Message
}

// DisconnectError wraps a disconnect reason reported by the transport.
type DisconnectError struct {
	Reason string
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// Disconnect reasons reported by a Transport.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

var authCodes = map[string]struct{}{
	"unauthorized":  {},
	"forbidden":     {},
	"invalid_token": {},
	"token_expired": {},
	"token_invalid": {},
	"token_missing": {},
	"invalid_user":  {},
	"401":           {},
	"403":           {},
}

// authKeywords only apply to the message of a server connect refusal
// without a code; dial and read failures are never matched.
var authKeywords = []string{
	"token",
	"auth",
	"autenticacion",
	"unauthorized",
	"no autorizado",
	"expired",
	"expirado",
	"invalid",
	"invalido",
	"usuario no valido",
}

// Classify decides whether err means the credential was rejected.
//
// Structured signals win: ErrCredentialRejected, HTTP 401/403 on the
// upgrade, or a known code on a connect refusal. A connect refusal without
// a code falls back to keyword matching on its message. Everything else is
// a network error.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNetwork
	}
	if errors.Is(err, ErrCredentialRejected) {
		return KindAuthentication
	}

	var hs *HandshakeError
	if errors.As(err, &hs) {
		if hs.StatusCode == http.StatusUnauthorized || hs.StatusCode == http.StatusForbidden {
			return KindAuthentication
		}
		return KindNetwork
	}

	var ce *ConnectError
	if errors.As(err, &ce) {
		if ce.Code != "" {
			if _, ok := authCodes[strings.ToLower(ce.Code)]; ok {
				return KindAuthentication
			}
			return KindNetwork
		}
		if mentionsCredential(ce.Message) {
			return KindAuthentication
		}
	}

	return KindNetwork
}

func mentionsCredential(msg string) bool {
	folded := fold(msg)
	for _, kw := range authKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// fold lower-cases s and strips diacritics ("Autenticación" -> "autenticacion").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
