package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rickgao/inventory-live/internal/connection"
)

// Engine.IO packet types.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO packet types, carried inside an Engine.IO message.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
)

// Errors
var (
	ErrEmptyPacket    = errors.New("empty packet")
	ErrUnexpectedOpen = errors.New("expected engine.io open packet")
	ErrBadEvent       = errors.New("malformed event packet")
)

const defaultNamespace = "/"

// openPacket is the Engine.IO handshake sent by the server.
type openPacket struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

// packet is a decoded websocket text frame.
type packet struct {
	engine    byte
	socket    byte // only for engineMessage
	namespace string
	ackID     int // -1 when absent
	data      []byte
}

func decodePacket(msg []byte) (packet, error) {
	if len(msg) == 0 {
		return packet{}, ErrEmptyPacket
	}

	p := packet{engine: msg[0], ackID: -1, namespace: defaultNamespace}
	rest := msg[1:]
	if p.engine != engineMessage {
		p.data = rest
		return p, nil
	}
	if len(rest) == 0 {
		return packet{}, fmt.Errorf("message without socket.io type: %w", ErrEmptyPacket)
	}

	p.socket = rest[0]
	rest = rest[1:]

	if len(rest) > 0 && rest[0] == '/' {
		if i := bytes.IndexByte(rest, ','); i >= 0 {
			p.namespace = string(rest[:i])
			rest = rest[i+1:]
		} else {
			p.namespace = string(rest)
			rest = nil
		}
	}

	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.Atoi(string(rest[:n]))
		if err == nil {
			p.ackID = id
		}
		rest = rest[n:]
	}

	p.data = rest
	return p, nil
}

func decodeOpen(msg []byte) (openPacket, error) {
	p, err := decodePacket(msg)
	if err != nil {
		return openPacket{}, err
	}
	if p.engine != engineOpen {
		return openPacket{}, fmt.Errorf("%w, got %q", ErrUnexpectedOpen, p.engine)
	}

	var op openPacket
	if err := json.Unmarshal(p.data, &op); err != nil {
		return openPacket{}, fmt.Errorf("decode open packet: %w", err)
	}
	return op, nil
}

// socketPrefix returns the leading bytes of a socket.io packet for ns.
func socketPrefix(kind byte, ns string) []byte {
	b := []byte{engineMessage, kind}
	if ns != "" && ns != defaultNamespace {
		b = append(b, ns...)
		b = append(b, ',')
	}
	return b
}

func encodeConnect(ns string, auth connection.AuthPayload) ([]byte, error) {
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode auth payload: %w", err)
	}
	return append(socketPrefix(socketConnect, ns), body...), nil
}

func encodeDisconnect(ns string) []byte {
	return socketPrefix(socketDisconnect, ns)
}

func encodeEvent(ns, name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", name, err)
	}
	return append(socketPrefix(socketEvent, ns), body...), nil
}

// decodeEvent splits ["name", arg...] into the name and its payload.
// A single argument is returned as-is, several as a JSON array.
func decodeEvent(data []byte) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if len(args) == 0 {
		return "", nil, ErrBadEvent
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", ErrBadEvent, err)
	}

	switch len(args) {
	case 1:
		return name, nil, nil
	case 2:
		return name, args[1], nil
	default:
		rest, err := json.Marshal(args[1:])
		if err != nil {
			return "", nil, err
		}
		return name, rest, nil
	}
}

type connectAck struct {
	SID string `json:"sid"`
}

type connectErrorBody struct {
	Message string `json:"message"`
	Data    struct {
		Code json.RawMessage `json:"code"`
	} `json:"data"`
}

// decodeConnectError turns a CONNECT_ERROR body into a ConnectError. The
// code is taken from data.code and may be a string or a number.
func decodeConnectError(data []byte) *connection.ConnectError {
	var body connectErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		// Older servers send a bare string.
		var msg string
		if json.Unmarshal(data, &msg) == nil {
			return &connection.ConnectError{Message: msg}
		}
		return &connection.ConnectError{Message: string(data)}
	}

	ce := &connection.ConnectError{Message: body.Message}
	if len(body.Data.Code) > 0 && string(body.Data.Code) != "null" {
		var code string
		if json.Unmarshal(body.Data.Code, &code) == nil {
			ce.Code = code
		} else {
			ce.Code = string(body.Data.Code)
		}
	}
	return ce
}
