package sessions

import (
	"errors"
	"net/http"

	"github.com/ggoodman/mcp-transport-go/transport"
)

var (
	// ErrSessionNotFound is returned for tokens that were never issued or whose
	// session was evicted.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionDisconnected is returned for sessions in their grace period.
	// The client must reconnect before sending further messages.
	ErrSessionDisconnected = errors.New("session disconnected")
	// ErrEncodingMismatch is returned when a token is used with the other wire
	// encoding.
	ErrEncodingMismatch = errors.New("session uses a different transport")
	// ErrRegistryClosed is returned by connects after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// ReconnectBody is the machine-readable instruction returned for messages
// that could not be routed.
type ReconnectBody struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	ShouldReconnect bool   `json:"shouldReconnect"`
}

// ErrorResult renders a registry lookup error as an HTTP result. Unknown
// sessions map to 404 and grace-period sessions to 409, both carrying a
// ReconnectBody.
func ErrorResult(err error) transport.Result {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return transport.JSONResult(http.StatusNotFound, ReconnectBody{
			Error:           "session_not_found",
			Message:         "Session not found or expired. Open a new connection.",
			ShouldReconnect: true,
		})
	case errors.Is(err, ErrSessionDisconnected):
		return transport.JSONResult(http.StatusConflict, ReconnectBody{
			Error:           "session_disconnected",
			Message:         "Session is disconnected. Reconnect with the same session id to resume.",
			ShouldReconnect: true,
		})
	case errors.Is(err, ErrEncodingMismatch):
		return transport.ErrorResult(http.StatusBadRequest, err.Error())
	case errors.Is(err, transport.ErrTransportClosed):
		return transport.ErrorResult(http.StatusGone, "session closed")
	case errors.Is(err, ErrRegistryClosed):
		return transport.ErrorResult(http.StatusServiceUnavailable, err.Error())
	default:
		return transport.ErrorResult(http.StatusInternalServerError, "internal error")
	}
}
