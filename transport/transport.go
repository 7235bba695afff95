// Package transport defines the contract between wire transports and the
// protocol server that sits on top of a session.
//
// A Transport carries messages for exactly one session over one wire encoding.
// Inbound messages are pushed to the bound Server in payload order; the Server
// answers by calling Send on whichever Transport it is currently connected to.
// When a client reconnects the registry calls Server.Connect again with the new
// Transport, so Server implementations must tolerate being rebound.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ggoodman/mcp-transport-go/jsonrpc"
)

var (
	// ErrTransportClosed is returned once a transport has been closed.
	ErrTransportClosed = errors.New("transport closed")
	// ErrNotConnected is returned when sending before the push channel is open.
	ErrNotConnected = errors.New("transport not connected")
	// ErrAlreadyStarted is returned when a push channel is opened twice.
	ErrAlreadyStarted = errors.New("transport already started")
)

// Transport is a single wire binding of a session.
type Transport interface {
	// SessionID returns the session token the transport is bound to.
	SessionID() string
	// Send delivers one outbound message to the client.
	Send(ctx context.Context, msg *jsonrpc.Message) error
	// Close releases the transport. Calling Close more than once is a no-op.
	Close() error
}

// Server is the application dispatcher that owns a session's protocol state.
// One instance exists per session and survives transport reconnects.
type Server interface {
	// Connect binds the server to a transport. It is called once per
	// transport, including when a session is resumed on a new transport.
	Connect(t Transport) error
	// HandleMessage receives one validated inbound message.
	HandleMessage(ctx context.Context, msg jsonrpc.Message)
	// HandleError is told about inbound payloads that failed validation.
	HandleError(ctx context.Context, err error)
	// HandleClose is told that t will carry no further traffic.
	HandleClose(t Transport)
}

// ServerFactory builds the Server backing a freshly allocated session.
type ServerFactory func(ctx context.Context, sessionID string) (Server, error)

// Result is the HTTP-level outcome of an inbound POST, GET or DELETE.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSONResult builds a Result carrying v encoded as JSON.
func JSONResult(status int, v any) Result {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": map[string]any{"code": http.StatusInternalServerError, "message": "failed to encode response"}})
		status = http.StatusInternalServerError
	}
	return Result{Status: status, Body: b}
}

// ErrorResult builds the minimal transport-level error body used before any
// JSON-RPC exchange is possible: {"error":{"code":<status>,"message":"..."}}.
func ErrorResult(status int, msg string) Result {
	return JSONResult(status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// ParseErrorResult renders a validation failure as a JSON-RPC error envelope.
func ParseErrorResult(err error) Result {
	var pe *jsonrpc.ParseError
	if !errors.As(err, &pe) {
		pe = &jsonrpc.ParseError{Code: jsonrpc.ErrorCodeParseError, Reason: err.Error(), Index: -1}
	}
	return JSONResult(http.StatusBadRequest, pe.Response())
}

// Write renders the result onto w.
func (r Result) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(r.Body) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}
