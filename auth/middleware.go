package auth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	bearerPrefix          = "Bearer "
)

type middlewareConfig struct {
	realm string
	log   *slog.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) MiddlewareOption {
	return func(c *middlewareConfig) { c.realm = realm }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated UserInfo on the request context for downstream handlers.
func Middleware(authn Authenticator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, o := range opts {
		o(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get(authorizationHeader)

			if authHeader == "" {
				// RFC 6750 §3.1: no error code when the request carries no credentials.
				cfg.log.InfoContext(ctx, "auth.check.missing")
				w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, nil))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, bearerPrefix) {
				cfg.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
				w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tok == "" {
				cfg.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
				w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, map[string]string{"error": "invalid_request", "error_description": "empty bearer token"}))
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			ui, err := authn.CheckAuthentication(ctx, tok)
			switch {
			case errors.Is(err, ErrInsufficientScope):
				cfg.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
				w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, map[string]string{"error": "insufficient_scope", "error_description": err.Error()}))
				w.WriteHeader(http.StatusForbidden)
				return
			case errors.Is(err, ErrUnauthorized):
				cfg.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
				w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, map[string]string{"error": "invalid_token", "error_description": err.Error()}))
				w.WriteHeader(http.StatusUnauthorized)
				return
			case err != nil:
				cfg.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			cfg.log.DebugContext(ctx, "auth.ok", slog.String("user_id", ui.UserID()))
			next.ServeHTTP(w, r.WithContext(WithUserInfo(ctx, ui)))
		})
	}
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty.
func buildBearerChallenge(realm string, params map[string]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
