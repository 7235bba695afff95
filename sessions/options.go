package sessions

import (
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-transport-go/ssetransport"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultGracePeriod is how long a disconnected session stays resumable.
	DefaultGracePeriod = 60 * time.Second
	// DefaultSweepInterval is how often Run evicts expired sessions.
	DefaultSweepInterval = 30 * time.Second
	// DefaultIdleTimeout is how long a Streamable HTTP session may go without
	// a request before Sweep closes it.
	DefaultIdleTimeout = 30 * time.Minute
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for timestamps and the sweep loop.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithGracePeriod sets how long a disconnected session may be resumed.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithIdleTimeout closes and evicts Streamable HTTP sessions that have seen
// no request for d. Zero keeps them until terminated.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.idle = d
		}
	}
}

// WithSweepInterval sets the period of the sweep loop started by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepEvery = d
		}
	}
}

// WithStore mirrors session metadata to s.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics registers session and exchange collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) { r.registerer = reg }
}

// WithSSEOptions appends options applied to every SSE transport the registry
// creates. Session id, clock and close hooks always come from the registry and
// override any given here.
func WithSSEOptions(opts ...ssetransport.Option) Option {
	return func(r *Registry) { r.sseOpts = append(r.sseOpts, opts...) }
}

// WithStreamableOptions appends options applied to every Streamable HTTP
// transport the registry creates, with the same overrides as WithSSEOptions.
func WithStreamableOptions(opts ...streaminghttp.Option) Option {
	return func(r *Registry) { r.streamOpts = append(r.streamOpts, opts...) }
}
