package streaminghttp

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/jonboulle/clockwork"
)

// DefaultRequestTimeout bounds how long a POST carrying requests waits for
// the server's response.
const DefaultRequestTimeout = 60 * time.Second

// Exchange outcomes reported to the hook installed with WithOutcomeHook.
const (
	OutcomeResolved = "resolved"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeAborted  = "aborted"
)

// Option configures a Transport.
type Option func(*Transport)

// WithSessionID binds the transport to an existing session token.
func WithSessionID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.id = id
		}
	}
}

// WithClock overrides the clock driving exchange deadlines.
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithRequestTimeout sets the exchange deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
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

// WithOnClose registers a hook invoked once after the transport closes.
func WithOnClose(fn func(transport.Transport)) Option {
	return func(t *Transport) { t.onClose = fn }
}

// WithOutcomeHook registers fn to observe how each exchange ended.
func WithOutcomeHook(fn func(outcome string)) Option {
	return func(t *Transport) { t.outcome = fn }
}
