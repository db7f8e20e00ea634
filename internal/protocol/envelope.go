// Package protocol implements the versioned message envelope used over the
// bridge. Request/response pairs are linked by a correlation ID equal to the
// request's message ID; one-way messages carry no correlation ID.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"btk/orchestrator/pkg/jsonutil"
	"btk/orchestrator/pkg/types"
)

// Version is the protocol version stamped on every outgoing message.
// Messages whose major version differs are treated as parse failures.
const Version = "1.0"

// ErrIncompatibleVersion marks a message whose protocol version cannot be
// understood. Receivers drop such messages without closing the connection.
var ErrIncompatibleVersion = errors.New("incompatible protocol version")

// New builds an envelope for a fresh message with a generated ID.
func New(source, target string, msgType types.MessageType, payload any) (*types.BridgeMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &types.BridgeMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Target:    target,
		Type:      msgType,
		Payload:   raw,
		Version:   Version,
	}, nil
}

// Reply builds a response envelope correlated to req.
func Reply(req *types.BridgeMessage, msgType types.MessageType, payload any) (*types.BridgeMessage, error) {
	msg, err := New(req.Target, req.Source, msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.CorrelationID = req.ID
	return msg, nil
}

// Encode serializes an envelope for the wire.
func Encode(msg *types.BridgeMessage) ([]byte, error) {
	return jsonutil.Marshal(msg)
}

// Decode parses a wire message and validates its version and identity.
func Decode(raw []byte) (*types.BridgeMessage, error) {
	var msg types.BridgeMessage
	if err := jsonutil.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed bridge message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("bridge message has no id")
	}
	if !Compatible(msg.Version) {
		return nil, fmt.Errorf("%w: %q", ErrIncompatibleVersion, msg.Version)
	}
	return &msg, nil
}

// Compatible reports whether a peer's protocol version shares our major
// version. An empty version is never compatible.
func Compatible(v string) bool {
	major := func(s string) string {
		if i := strings.IndexByte(s, '.'); i >= 0 {
			return s[:i]
		}
		return s
	}
	if v == "" {
		return false
	}
	return major(v) == major(Version)
}

// DecodePayload parses an envelope payload into the given value.
func DecodePayload(msg *types.BridgeMessage, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", msg.ID)
	}
	return jsonutil.Unmarshal(msg.Payload, v)
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := jsonutil.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}
