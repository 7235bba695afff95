package sessions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/mcp-transport-go/auth"
	"github.com/ggoodman/mcp-transport-go/internal/logctx"
	"github.com/ggoodman/mcp-transport-go/internal/metrics"
	"github.com/ggoodman/mcp-transport-go/ssetransport"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry maps session tokens to their backing Server and bound transport.
type Registry struct {
	factory    transport.ServerFactory
	clock      clockwork.Clock
	grace      time.Duration
	idle       time.Duration
	sweepEvery time.Duration
	store      Store
	log        *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics.Metrics
	sseOpts    []ssetransport.Option
	streamOpts []streaminghttp.Option

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// Stats counts sessions by state.
type Stats struct {
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
}

// NewRegistry creates a Registry that builds one Server per session with
// factory.
func NewRegistry(factory transport.ServerFactory, opts ...Option) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("sessions: server factory is required")
	}
	r := &Registry{
		factory:    factory,
		clock:      clockwork.NewRealClock(),
		grace:      DefaultGracePeriod,
		idle:       DefaultIdleTimeout,
		sweepEvery: DefaultSweepInterval,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessions:   make(map[string]*session),
	}
	for _, o := range opts {
		o(r)
	}
	if r.registerer != nil {
		m, err := metrics.New(r.registerer, func() (int, int) {
			st := r.Stats()
			return st.Connected, st.Disconnected
		})
		if err != nil {
			return nil, fmt.Errorf("sessions: register metrics: %w", err)
		}
		r.metrics = m
	}
	return r, nil
}

// ConnectSSE opens an SSE session. If token names a session in its grace
// period that belongs to the caller, the new transport is bound to that
// session's existing Server. Otherwise a new session is allocated.
//
// The caller is the principal stored on ctx by auth.Middleware. Sessions are
// owned by their creator and every other operation treats a session owned by
// someone else as unknown.
func (r *Registry) ConnectSSE(ctx context.Context, token string) (*Connection, error) {
	return r.connect(ctx, EncodingSSE, token)
}

// ConnectStreamable opens a Streamable HTTP session with the same resume
// semantics as ConnectSSE. Messages are then delivered with Route.
func (r *Registry) ConnectStreamable(ctx context.Context, token string) (*Connection, error) {
	return r.connect(ctx, EncodingStreamable, token)
}

func (r *Registry) connect(ctx context.Context, enc Encoding, token string) (*Connection, error) {
	if token != "" {
		conn, ok, err := r.resume(ctx, enc, token)
		if ok || err != nil {
			return conn, err
		}
	}
	return r.create(ctx, enc)
}

// resume reports ok=false when token does not name a resumable session, in
// which case the caller allocates a fresh one.
func (r *Registry) resume(ctx context.Context, enc Encoding, token string) (*Connection, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRegistryClosed
	}
	s, ok := r.sessions[token]
	if !ok || !s.disconnected || s.reconnecting || s.encoding != enc || s.userID != callerID(ctx) {
		r.mu.Unlock()
		r.log.InfoContext(ctx, "session.resume.miss", slog.String("session_id", token))
		return nil, false, nil
	}
	s.reconnecting = true
	server := s.server
	r.mu.Unlock()

	sse, streamable, h, err := r.bind(server, enc, token)
	if err != nil {
		r.mu.Lock()
		s.reconnecting = false
		r.mu.Unlock()
		r.log.ErrorContext(ctx, "session.resume.fail", slog.String("session_id", token), slog.String("err", err.Error()))
		return nil, true, fmt.Errorf("resume session: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeBound(sse, streamable)
		return nil, true, ErrRegistryClosed
	}
	now := r.clock.Now()
	s.reconnecting = false
	s.disconnected = false
	s.disconnectedAt = time.Time{}
	s.lastActivityAt = now
	s.sse, s.streamable = sse, streamable
	rec := s.record()
	r.mu.Unlock()

	r.journal(ctx, rec)
	r.metrics.SessionEvent("resumed", string(enc))
	r.log.InfoContext(r.sessionCtx(ctx, rec), "session.resume.ok")
	return &Connection{Token: token, Resumed: true, Handler: h}, true, nil
}

func (r *Registry) create(ctx context.Context, enc Encoding) (*Connection, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}

	token := uuid.NewString()
	server, err := r.factory(ctx, token)
	if err != nil {
		r.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return nil, fmt.Errorf("create server: %w", err)
	}

	sse, streamable, h, err := r.bind(server, enc, token)
	if err != nil {
		closeServer(server)
		r.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return nil, fmt.Errorf("bind transport: %w", err)
	}

	now := r.clock.Now()
	s := &session{
		token:          token,
		userID:         callerID(ctx),
		encoding:       enc,
		server:         server,
		sse:            sse,
		streamable:     streamable,
		createdAt:      now,
		lastActivityAt: now,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeBound(sse, streamable)
		closeServer(server)
		return nil, ErrRegistryClosed
	}
	r.sessions[token] = s
	rec := s.record()
	r.mu.Unlock()

	r.journal(ctx, rec)
	r.metrics.SessionEvent("created", string(enc))
	r.log.InfoContext(r.sessionCtx(ctx, rec), "session.create.ok")
	return &Connection{Token: token, Handler: h}, nil
}

// bind builds a transport for token and connects server to it. For SSE the
// response handler is created before Connect so the endpoint event is always
// the first frame on the stream.
func (r *Registry) bind(server transport.Server, enc Encoding, token string) (*ssetransport.Transport, *streaminghttp.Transport, http.Handler, error) {
	switch enc {
	case EncodingSSE:
		opts := append([]ssetransport.Option{ssetransport.WithLogger(r.log)}, r.sseOpts...)
		opts = append(opts,
			ssetransport.WithClock(r.clock),
			ssetransport.WithSessionID(token),
			ssetransport.WithOnClose(r.onTransportClose),
		)
		tr := ssetransport.New(server, opts...)
		h, err := tr.CreateResponse()
		if err != nil {
			return nil, nil, nil, err
		}
		if err := server.Connect(tr); err != nil {
			_ = tr.Close()
			return nil, nil, nil, err
		}
		return tr, nil, h, nil
	case EncodingStreamable:
		opts := append([]streaminghttp.Option{streaminghttp.WithLogger(r.log)}, r.streamOpts...)
		opts = append(opts,
			streaminghttp.WithClock(r.clock),
			streaminghttp.WithSessionID(token),
			streaminghttp.WithOnClose(r.onTransportClose),
			streaminghttp.WithOutcomeHook(r.metrics.Exchange),
		)
		tr := streaminghttp.New(server, opts...)
		if err := server.Connect(tr); err != nil {
			_ = tr.Close()
			return nil, nil, nil, err
		}
		return nil, tr, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Route delivers an inbound POST body to the transport bound to token.
// Messages for unknown or grace-period sessions are never delivered; the
// caller receives a reconnect instruction instead.
func (r *Registry) Route(ctx context.Context, token string, body []byte) transport.Result {
	r.mu.Lock()
	s, err := r.lookupLocked(ctx, token)
	if err != nil {
		r.mu.Unlock()
		r.reject(ctx, token, err)
		return ErrorResult(err)
	}
	s.lastActivityAt = r.clock.Now()
	rec := s.record()
	sse, streamable := s.sse, s.streamable
	r.mu.Unlock()

	r.journal(ctx, rec)
	ctx = r.sessionCtx(ctx, rec)
	if sse != nil {
		return sse.HandlePostMessage(ctx, body)
	}
	return streamable.HandlePost(ctx, body)
}

// OpenStream opens the out-of-band event stream of a Streamable HTTP session.
func (r *Registry) OpenStream(ctx context.Context, token string) (http.Handler, error) {
	r.mu.Lock()
	s, err := r.lookupLocked(ctx, token)
	if err == nil && s.streamable == nil {
		err = ErrEncodingMismatch
	}
	if err != nil {
		r.mu.Unlock()
		r.reject(ctx, token, err)
		return nil, err
	}
	s.lastActivityAt = r.clock.Now()
	rec := s.record()
	tr := s.streamable
	r.mu.Unlock()

	r.journal(ctx, rec)
	return tr.HandleGet()
}

// Terminate closes and evicts the session immediately, skipping the grace
// period. Sessions in their grace period may be terminated too.
func (r *Registry) Terminate(ctx context.Context, token string) transport.Result {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok || s.reconnecting || s.userID != callerID(ctx) {
		r.mu.Unlock()
		r.reject(ctx, token, ErrSessionNotFound)
		return ErrorResult(ErrSessionNotFound)
	}
	delete(r.sessions, token)
	rec := s.record()
	r.mu.Unlock()

	res := transport.Result{Status: http.StatusNoContent}
	if s.streamable != nil {
		res = s.streamable.HandleDelete()
	} else if s.sse != nil {
		_ = s.sse.Close()
	}
	closeServer(s.server)
	r.forget(ctx, token)
	r.metrics.SessionEvent("terminated", string(s.encoding))
	r.log.InfoContext(r.sessionCtx(ctx, rec), "session.terminate.ok")
	return res
}

// Lookup returns the record for token using the same error taxonomy as Route.
func (r *Registry) Lookup(ctx context.Context, token string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookupLocked(ctx, token)
	if err != nil {
		return Record{}, err
	}
	return s.record(), nil
}

func (r *Registry) lookupLocked(ctx context.Context, token string) (*session, error) {
	s, ok := r.sessions[token]
	if !ok || s.userID != callerID(ctx) {
		return nil, ErrSessionNotFound
	}
	if s.disconnected || s.reconnecting {
		return nil, ErrSessionDisconnected
	}
	return s, nil
}

func (r *Registry) reject(ctx context.Context, token string, err error) {
	reason := "session_not_found"
	switch err {
	case ErrSessionDisconnected:
		reason = "session_disconnected"
	case ErrEncodingMismatch:
		reason = "encoding_mismatch"
	}
	r.metrics.Rejected(reason)
	r.log.InfoContext(ctx, "session.route.reject", slog.String("session_id", token), slog.String("reason", reason))
}

// onTransportClose moves the session into its grace period. Closes of
// transports that are no longer bound (replaced or evicted) are ignored.
func (r *Registry) onTransportClose(t transport.Transport) {
	r.mu.Lock()
	s, ok := r.sessions[t.SessionID()]
	if !ok || s.bound() != t || s.disconnected {
		r.mu.Unlock()
		return
	}
	s.disconnected = true
	s.disconnectedAt = r.clock.Now()
	rec := s.record()
	r.mu.Unlock()

	ctx := context.Background()
	r.journal(ctx, rec)
	r.metrics.SessionEvent("disconnected", string(s.encoding))
	r.log.InfoContext(r.sessionCtx(ctx, rec), "session.disconnect")
}

// Sweep evicts every session whose grace period has elapsed and closes its
// Server. With an idle timeout configured, Streamable HTTP sessions without
// activity for that long are closed and evicted too. It returns the number of
// evicted sessions.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired, idle []*session
	for token, s := range r.sessions {
		switch {
		case s.reconnecting:
		case s.disconnected && now.Sub(s.disconnectedAt) >= r.grace:
			delete(r.sessions, token)
			expired = append(expired, s)
		case !s.disconnected && r.idle > 0 && s.streamable != nil && now.Sub(s.lastActivityAt) >= r.idle:
			delete(r.sessions, token)
			idle = append(idle, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		closeServer(s.server)
		r.forget(ctx, s.token)
		r.metrics.SessionEvent("evicted", string(s.encoding))
		r.log.InfoContext(ctx, "session.sweep.evict",
			slog.String("session_id", s.token),
			slog.Duration("disconnected_for", now.Sub(s.disconnectedAt)),
		)
	}
	for _, s := range idle {
		_ = s.streamable.Close()
		closeServer(s.server)
		r.forget(ctx, s.token)
		r.metrics.SessionEvent("evicted", string(s.encoding))
		r.log.InfoContext(ctx, "session.sweep.idle",
			slog.String("session_id", s.token),
			slog.Duration("idle_for", now.Sub(s.lastActivityAt)),
		)
	}
	return len(expired) + len(idle)
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep(ctx)
		}
	}
}

// Close closes every transport and Server and empties the registry. Later
// connects fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	ctx := context.Background()
	var result *multierror.Error
	for token, s := range all {
		if t := s.bound(); t != nil && !s.disconnected {
			if err := t.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close transport %s: %w", token, err))
			}
		}
		if c, ok := s.server.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close server %s: %w", token, err))
			}
		}
		r.forget(ctx, token)
	}
	return result.ErrorOrNil()
}

// Stats counts connected and grace-period sessions.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st Stats
	for _, s := range r.sessions {
		if s.disconnected || s.reconnecting {
			st.Disconnected++
		} else {
			st.Connected++
		}
	}
	return st
}

// List returns the caller's sessions ordered by creation time. With a Store
// configured the records are read from it, so sessions journaled by other
// registries sharing the store are included.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if r.store != nil {
		all, err := r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		recs = all
	} else {
		recs = r.Snapshot()
	}

	caller := callerID(ctx)
	owned := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if rec.UserID == caller {
			owned = append(owned, rec)
		}
	}
	return owned, nil
}

// Snapshot returns the records of all sessions, whoever owns them, ordered by
// creation time.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	recs := make([]Record, 0, len(r.sessions))
	for _, s := range r.sessions {
		recs = append(recs, s.record())
	}
	r.mu.Unlock()
	slices.SortFunc(recs, func(a, b Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return recs
}

func (r *Registry) journal(ctx context.Context, rec Record) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, rec); err != nil {
		r.log.WarnContext(ctx, "session.store.put.fail", slog.String("session_id", rec.Token), slog.String("err", err.Error()))
	}
}

func (r *Registry) forget(ctx context.Context, token string) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, token); err != nil {
		r.log.WarnContext(ctx, "session.store.delete.fail", slog.String("session_id", token), slog.String("err", err.Error()))
	}
}

func (r *Registry) sessionCtx(ctx context.Context, rec Record) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: rec.Token,
		Encoding:  string(rec.Encoding),
		UserID:    rec.UserID,
		State:     rec.State(),
	})
}

// callerID is the principal authenticated for ctx, or "" when the request
// carried no credentials.
func callerID(ctx context.Context) string {
	if ui, ok := auth.UserInfoFromContext(ctx); ok {
		return ui.UserID()
	}
	return ""
}

func closeServer(s transport.Server) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

func closeBound(sse *ssetransport.Transport, streamable *streaminghttp.Transport) {
	if sse != nil {
		_ = sse.Close()
	}
	if streamable != nil {
		_ = streamable.Close()
	}
}
