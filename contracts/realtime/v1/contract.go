// Package v1 defines the relay realtime protocol v1 contract.
//
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "relay.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello asks the server to repeat the connection details (client -> server).
	TypeHello = "hello"
	// TypeHelloAck carries the connection id, channel and subscribed topics (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeEvent is a pushed domain event (server -> client). Event names the event.
	TypeEvent = "event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var inboundTypes = map[string]struct{}{
	TypeHello: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Event   string          `json:"event,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks an inbound (client -> server) envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if _, ok := inboundTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return errors.New("invalid payload")
	}
	return nil
}

// HelloAckPayload describes the server side of a connection.
type HelloAckPayload struct {
	ConnectionID string   `json:"connection_id"`
	Channel      string   `json:"channel"`
	Topics       []string `json:"topics,omitempty"`
}

// ErrorPayload is carried by TypeError envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
