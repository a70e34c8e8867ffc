// Package broker serves a newline-delimited JSON request/response protocol
// to a sandboxed peer over a restricted channel.
package broker

import (
	"encoding/json"
	"fmt"
)

// Request types understood by the server itself. Anything else goes to the
// Handler.
const (
	TypeHello = "hello"
	TypePing  = "ping"
)

// MinTokenLength is the shortest handshake token accepted on either side.
const MinTokenLength = 16

// ErrorCode classifies a failed response.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeHandshakeRequired ErrorCode = "HANDSHAKE_REQUIRED"
	CodeHandshakeFailed   ErrorCode = "HANDSHAKE_FAILED"
	CodeExecutionError    ErrorCode = "EXECUTION_ERROR"
)

// Request is one line sent by the peer. Raw holds the complete message so
// handlers can decode type-specific fields.
type Request struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Token         string `json:"token,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the full request into v.
func (r Request) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode %s request: %w", r.Type, err)
	}
	return nil
}

// Response is one line sent back to the peer.
type Response struct {
	ID      string    `json:"id"`
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

// Session is the data returned by a successful hello.
type Session struct {
	SessionID   string `json:"sessionId"`
	ConnectedAt string `json:"connectedAt"`
}

// Pong is the data returned by ping.
type Pong struct {
	Pong bool `json:"pong"`
}

func success(id string, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

func failure(id string, code ErrorCode, msg string) Response {
	return Response{ID: id, Error: msg, Code: code}
}

// PipePath returns the channel endpoint name for a broker session.
func PipePath(sessionID string) string {
	return `\\.\pipe\appkeep-` + sessionID
}
