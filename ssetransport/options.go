package ssetransport

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/jonboulle/clockwork"
)

// DefaultHeartbeatInterval is how often a keep-alive comment is pushed.
const DefaultHeartbeatInterval = 5 * time.Second

// DefaultMessageEndpoint is the POST path advertised in the endpoint event.
const DefaultMessageEndpoint = "/messages"

// Option configures a Transport.
type Option func(*Transport)

// WithSessionID binds the transport to an existing session token instead of
// generating a new one. Used when a client resumes a session.
func WithSessionID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.id = id
		}
	}
}

// WithClock overrides the clock driving the heartbeat.
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithHeartbeatInterval sets the keep-alive period. Non-positive values
// disable the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *Transport) { t.heartbeat = d }
}

// WithMessageEndpoint sets the URL clients POST messages to. The session token
// is appended as the sessionId query parameter.
func WithMessageEndpoint(endpoint string) Option {
	return func(t *Transport) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithOnClose registers a hook invoked once after the transport closes, for
// whatever reason.
func WithOnClose(fn func(transport.Transport)) Option {
	return func(t *Transport) { t.onClose = fn }
}
