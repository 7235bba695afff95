package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ParseError rejects an entire inbound payload. Index is the offending
// position inside a batch, or -1 when the payload was a single value.
type ParseError struct {
	Code   ErrorCode
	Reason string
	Index  int
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("batch item %d: %s", e.Index, e.Reason)
	}
	return e.Reason
}

// Response renders the error as the JSON-RPC envelope returned to the client.
// The id is always null since the offending payload could not be trusted.
func (e *ParseError) Response() *Message {
	msg := "Parse error"
	if e.Code == ErrorCodeInvalidRequest {
		msg = "Invalid Request"
	}
	return NewErrorResponse(nil, e.Code, msg, e.Error())
}

func invalidRequest(format string, args ...any) *ParseError {
	return &ParseError{Code: ErrorCodeInvalidRequest, Reason: fmt.Sprintf(format, args...), Index: -1}
}
