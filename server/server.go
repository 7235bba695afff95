// Package server exposes a sessions.Registry over HTTP.
//
// Routes:
//
//	GET    /sse?sessionId=<token>       open (or resume) an SSE session
//	POST   /messages?sessionId=<token>  deliver messages to an SSE session
//	POST   /mcp                         Streamable HTTP request/response
//	GET    /mcp                         Streamable HTTP out-of-band stream
//	DELETE /mcp                         terminate a Streamable HTTP session
//	GET    /sessions                    list the caller's sessions (authenticated only)
//	GET    /healthz                     liveness plus session counts
//	GET    /metrics                     Prometheus exposition, if configured
//
// Streamable HTTP routes carry the session token in the Mcp-Session-Id
// header. A POST without it opens a new session, provided its body holds at
// least one request.
//
// With an authenticator configured each session belongs to the principal that
// opened it and is invisible to everyone else.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-transport-go/auth"
	"github.com/ggoodman/mcp-transport-go/internal/logctx"
	"github.com/ggoodman/mcp-transport-go/jsonrpc"
	"github.com/ggoodman/mcp-transport-go/sessions"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler routes HTTP requests to a session registry.
type Handler struct {
	reg     *sessions.Registry
	log     *slog.Logger
	authn   auth.Authenticator
	realm   string
	metrics http.Handler
	maxBody int64

	router chi.Router
}

// New builds the HTTP surface for reg.
func New(reg *sessions.Registry, opts ...Option) *Handler {
	h := &Handler{
		reg:     reg,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(h.requestData)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(auth.Middleware(h.authn, auth.WithRealm(h.realm), auth.WithLogger(h.log)))
		}
		r.Get("/sse", h.handleSSEConnect)
		r.Post("/messages", h.handleSSEMessage)
		r.Post("/mcp", h.handleStreamablePost)
		r.Get("/mcp", h.handleStreamableGet)
		r.Delete("/mcp", h.handleStreamableDelete)
		if h.authn != nil {
			r.Get("/sessions", h.handleListSessions)
		}
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) requestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})))
	})
}

func (h *Handler) handleSSEConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "sse.connect.not_acceptable")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	conn, err := h.reg.ConnectSSE(ctx, r.URL.Query().Get("sessionId"))
	if err != nil {
		h.writeRegistryError(w, r, "sse.connect.fail", err)
		return
	}
	h.log.InfoContext(ctx, "sse.connect.ok", slog.String("session_id", conn.Token), slog.Bool("resumed", conn.Resumed))
	conn.Handler.ServeHTTP(w, r)
	h.log.InfoContext(ctx, "sse.stream.end", slog.String("session_id", conn.Token))
}

func (h *Handler) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("sessionId")
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId query parameter")
		h.log.WarnContext(ctx, "sse.message.missing_session_id")
		return
	}
	body, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}
	h.reg.Route(ctx, token, body).Write(w)
}

func (h *Handler) handleStreamablePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}

	token := r.Header.Get(streaminghttp.SessionIDHeader)
	if token == "" {
		if !h.opensSession(w, r, body) {
			return
		}
		conn, err := h.reg.ConnectStreamable(ctx, "")
		if err != nil {
			h.writeRegistryError(w, r, "http.post.connect.fail", err)
			return
		}
		token = conn.Token
		h.log.InfoContext(ctx, "http.post.session.new", slog.String("session_id", token))
	}
	h.reg.Route(ctx, token, body).Write(w)
}

// opensSession reports whether a header-less POST may allocate a session.
// Malformed payloads are answered with the parse error and payloads without a
// request are refused, so neither leaves a session behind.
func (h *Handler) opensSession(w http.ResponseWriter, r *http.Request, body []byte) bool {
	msgs, err := jsonrpc.Parse(body)
	if err != nil {
		h.log.WarnContext(r.Context(), "jsonrpc.message.invalid", slog.String("err", err.Error()))
		transport.ParseErrorResult(err).Write(w)
		return false
	}
	for _, msg := range msgs {
		if msg.IsRequest() {
			return true
		}
	}
	writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
	h.log.WarnContext(r.Context(), "http.post.missing_session_id")
	return false
}

func (h *Handler) handleStreamableGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		return
	}
	token := r.Header.Get(streaminghttp.SessionIDHeader)
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "http.get.missing_session_id")
		return
	}

	stream, err := h.reg.OpenStream(ctx, token)
	if err != nil {
		h.writeRegistryError(w, r, "http.get.open.fail", err)
		return
	}
	w.Header().Set(streaminghttp.SessionIDHeader, token)
	stream.ServeHTTP(w, r)
}

func (h *Handler) handleStreamableDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.Header.Get(streaminghttp.SessionIDHeader)
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "http.delete.missing_session_id")
		return
	}
	h.reg.Terminate(ctx, token).Write(w)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.reg.List(r.Context())
	if err != nil {
		h.writeRegistryError(w, r, "sessions.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.reg.Stats()})
}

// readJSONBody enforces the JSON content type and the body size limit. It
// writes the rejection itself and reports false when the request must stop.
func (h *Handler) readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			h.log.WarnContext(ctx, "body.too_large", slog.Int64("limit", tooLarge.Limit))
			return nil, false
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return nil, false
	}
	return body, true
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.log.WarnContext(r.Context(), event, slog.String("err", err.Error()))
	sessions.ErrorResult(err).Write(w)
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. Shape: {"error":{"code":<status>,"message":"..."}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
