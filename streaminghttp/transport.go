package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/mcp-transport-go/internal/logctx"
	"github.com/ggoodman/mcp-transport-go/jsonrpc"
	"github.com/ggoodman/mcp-transport-go/pushstream"
	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// SessionIDHeader correlates requests with a session.
const SessionIDHeader = "Mcp-Session-Id"

var _ transport.Transport = (*Transport)(nil)

// Transport is the Streamable HTTP binding of one session.
type Transport struct {
	id      string
	server  transport.Server
	clock   clockwork.Clock
	timeout time.Duration
	log     *slog.Logger
	onClose func(transport.Transport)
	outcome func(string)

	// slot is held by the POST that owns the open exchange.
	slot chan struct{}
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	pending *exchange
	stream  *pushstream.Channel
}

// New creates a transport delivering inbound messages to server.
func New(server transport.Server, opts ...Option) *Transport {
	t := &Transport{
		id:      uuid.NewString(),
		server:  server,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultRequestTimeout,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		slot:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(slog.String("session_id", t.id), slog.String("transport", "streamable"))
	return t
}

// SessionID returns the session token.
func (t *Transport) SessionID() string { return t.id }

func (t *Transport) header() http.Header {
	return http.Header{SessionIDHeader: []string{t.id}}
}

// HandlePost validates a POSTed payload and delivers it to the server. When
// the payload holds at least one request, HandlePost waits until the server
// sends a response, the request deadline elapses, ctx ends or the transport
// closes, and answers with every message accumulated meanwhile.
func (t *Transport) HandlePost(ctx context.Context, body []byte) transport.Result {
	if t.isClosed() {
		return t.closedResult()
	}

	msgs, err := jsonrpc.Parse(body)
	if err != nil {
		t.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		t.server.HandleError(ctx, err)
		res := transport.ParseErrorResult(err)
		res.Header = t.header()
		return res
	}

	if !hasRequest(msgs) {
		for _, msg := range msgs {
			mctx := logctx.ForMessage(ctx, msg)
			t.log.DebugContext(mctx, "jsonrpc.message.deliver")
			t.server.HandleMessage(mctx, msg)
		}
		t.log.DebugContext(ctx, "post.accepted", slog.Int("messages", len(msgs)))
		return transport.Result{Status: http.StatusAccepted, Header: t.header()}
	}

	select {
	case t.slot <- struct{}{}:
	case <-t.done:
		return t.closedResult()
	case <-ctx.Done():
		return transport.ErrorResult(http.StatusServiceUnavailable, "request abandoned")
	}
	defer func() { <-t.slot }()

	ex := newExchange()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return t.closedResult()
	}
	t.pending = ex
	t.mu.Unlock()

	timer := t.clock.NewTimer(t.timeout)
	defer timer.Stop()

	for _, msg := range msgs {
		mctx := logctx.ForMessage(ctx, msg)
		t.log.DebugContext(mctx, "jsonrpc.message.deliver")
		t.server.HandleMessage(mctx, msg)
	}

	outcome := OutcomeResolved
	select {
	case <-ex.done:
	case <-timer.Chan():
		outcome = OutcomeTimeout
	case <-ctx.Done():
		outcome = OutcomeAborted
	}

	out, responded := t.finish(ex)
	if outcome == OutcomeResolved && !responded {
		outcome = OutcomeClosed
	}
	t.log.InfoContext(ctx, "exchange."+outcome, slog.Int("messages", len(out)))
	if t.outcome != nil {
		t.outcome(outcome)
	}

	b, err := jsonrpc.Encode(out)
	if err != nil {
		t.log.ErrorContext(ctx, "exchange.encode.fail", slog.String("err", err.Error()))
		return transport.ErrorResult(http.StatusInternalServerError, "failed to encode response")
	}
	h := t.header()
	h.Set("Content-Type", "application/json")
	return transport.Result{Status: http.StatusOK, Header: h, Body: b}
}

// finish detaches ex and returns its accumulated messages and whether a
// Response was among them.
func (t *Transport) finish(ex *exchange) ([]jsonrpc.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == ex {
		t.pending = nil
	}
	ex.resolve()
	return ex.msgs, ex.responded
}

// Send routes an outbound message. While an exchange is open the message is
// accumulated for the waiting POST, and the first Response resolves the
// exchange. Otherwise it goes to the out-of-band stream if one is open, or is
// dropped.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrTransportClosed
	}
	if ex := t.pending; ex != nil {
		ex.add(*msg)
		if ex.responded {
			t.pending = nil
		}
		t.mu.Unlock()
		return nil
	}
	stream := t.stream
	t.mu.Unlock()

	if stream == nil {
		t.log.DebugContext(ctx, "send.dropped", slog.String("kind", msg.Kind.String()))
		return nil
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := stream.Enqueue(pushstream.Event("message", b)); err != nil {
		if errors.Is(err, pushstream.ErrChannelClosed) {
			t.log.DebugContext(ctx, "send.dropped", slog.String("kind", msg.Kind.String()))
			return nil
		}
		return err
	}
	return nil
}

// HandleGet opens the out-of-band push channel used for server-initiated
// messages outside an exchange. A previous channel, if any, is closed.
func (t *Transport) HandleGet() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrTransportClosed
	}
	if t.stream != nil {
		t.stream.Close()
	}
	var ch *pushstream.Channel
	ch = pushstream.New(
		pushstream.WithLogger(t.log),
		pushstream.WithOnCancel(func() { t.dropStream(ch) }),
	)
	t.stream = ch
	t.log.Info("stream.open")
	return ch, nil
}

func (t *Transport) dropStream(ch *pushstream.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stream == ch {
		t.stream = nil
	}
}

// HandleDelete terminates the transport.
func (t *Transport) HandleDelete() transport.Result {
	_ = t.Close()
	return transport.Result{Status: http.StatusNoContent, Header: t.header()}
}

// Close marks the transport closed, releases any waiting POST with whatever
// it has accumulated and closes the out-of-band stream. Subsequent calls are
// no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	if t.pending != nil {
		t.pending.resolve()
		t.pending = nil
	}
	if t.stream != nil {
		t.stream.Close()
		t.stream = nil
	}
	t.mu.Unlock()

	t.log.Info("transport.close")
	t.server.HandleClose(t)
	if t.onClose != nil {
		t.onClose(t)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) closedResult() transport.Result {
	res := transport.ErrorResult(http.StatusGone, "session closed")
	res.Header = t.header()
	return res
}

func hasRequest(msgs []jsonrpc.Message) bool {
	for _, m := range msgs {
		if m.IsRequest() {
			return true
		}
	}
	return false
}
