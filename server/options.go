package server

import (
	"log/slog"
	"net/http"

	"github.com/ggoodman/mcp-transport-go/auth"
)

// DefaultMaxBodyBytes bounds inbound POST bodies.
const DefaultMaxBodyBytes int64 = 4 << 20

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithAuthenticator requires a valid bearer token on every session route.
// Health and metrics routes stay open.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) { h.authn = a }
}

// WithRealm sets the realm advertised in bearer challenges.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = realm }
}

// WithMetricsHandler mounts m at GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxBodyBytes bounds inbound POST bodies. Larger bodies get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}
