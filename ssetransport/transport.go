// Package ssetransport implements the legacy HTTP+SSE encoding: server to
// client traffic flows over a long-lived event stream opened by GET, and client
// to server traffic arrives as individual POSTs correlated by a session token
// in the query string.
//
// The first event on the stream is always
//
//	event: endpoint
//	data: <message endpoint>?sessionId=<token>
//
// followed by "message" events carrying one JSON-RPC message each, interleaved
// with keep-alive comments.
package ssetransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ggoodman/mcp-transport-go/internal/logctx"
	"github.com/ggoodman/mcp-transport-go/jsonrpc"
	"github.com/ggoodman/mcp-transport-go/pushstream"
	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var _ transport.Transport = (*Transport)(nil)

// Transport is the SSE binding of one session.
type Transport struct {
	id        string
	server    transport.Server
	clock     clockwork.Clock
	heartbeat time.Duration
	endpoint  string
	log       *slog.Logger
	onClose   func(transport.Transport)

	mu       sync.Mutex
	ch       *pushstream.Channel
	ticker   clockwork.Ticker
	stopBeat chan struct{}
	closed   bool
}

// New creates a transport delivering inbound messages to server.
func New(server transport.Server, opts ...Option) *Transport {
	t := &Transport{
		id:        uuid.NewString(),
		server:    server,
		clock:     clockwork.NewRealClock(),
		heartbeat: DefaultHeartbeatInterval,
		endpoint:  DefaultMessageEndpoint,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(slog.String("session_id", t.id), slog.String("transport", "sse"))
	return t
}

// SessionID returns the session token.
func (t *Transport) SessionID() string { return t.id }

// EndpointURL returns the POST URL advertised to the client.
func (t *Transport) EndpointURL() string {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return fmt.Sprintf("%s?sessionId=%s", t.endpoint, url.QueryEscape(t.id))
	}
	q := u.Query()
	q.Set("sessionId", t.id)
	u.RawQuery = q.Encode()
	return u.String()
}

// CreateResponse opens the push channel, queues the endpoint event and starts
// the heartbeat. The returned handler streams the channel to the client and is
// meant to be served exactly once by the hosting HTTP layer.
func (t *Transport) CreateResponse() (http.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.ErrTransportClosed
	}
	if t.ch != nil {
		return nil, transport.ErrAlreadyStarted
	}

	ch := pushstream.New(
		pushstream.WithLogger(t.log),
		pushstream.WithOnCancel(t.handleDisconnect),
	)
	if err := ch.Enqueue(pushstream.Event("endpoint", []byte(t.EndpointURL()))); err != nil {
		return nil, fmt.Errorf("failed to queue endpoint event: %w", err)
	}
	t.ch = ch

	if t.heartbeat > 0 {
		t.ticker = t.clock.NewTicker(t.heartbeat)
		t.stopBeat = make(chan struct{})
		go t.runHeartbeat(ch, t.ticker, t.stopBeat)
	}

	t.log.Info("sse.connect.ok")
	return ch, nil
}

func (t *Transport) runHeartbeat(ch *pushstream.Channel, ticker clockwork.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := ch.Enqueue(pushstream.Comment("keepalive")); err != nil {
				return
			}
		}
	}
}

// HandlePostMessage validates a POSTed payload and hands every message, in
// order, to the server. It acknowledges receipt only; JSON-RPC replies travel
// back over the event stream.
func (t *Transport) HandlePostMessage(ctx context.Context, body []byte) transport.Result {
	t.mu.Lock()
	open := t.ch != nil && !t.closed
	t.mu.Unlock()
	if !open {
		t.log.WarnContext(ctx, "sse.post.not_connected")
		return transport.ErrorResult(http.StatusServiceUnavailable, "SSE connection not established")
	}

	msgs, err := jsonrpc.Parse(body)
	if err != nil {
		t.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		t.server.HandleError(ctx, err)
		return transport.ParseErrorResult(err)
	}

	for _, msg := range msgs {
		mctx := logctx.ForMessage(ctx, msg)
		t.log.DebugContext(mctx, "jsonrpc.message.deliver")
		t.server.HandleMessage(mctx, msg)
	}
	t.log.DebugContext(ctx, "sse.post.accepted", slog.Int("messages", len(msgs)))

	return transport.Result{
		Status: http.StatusAccepted,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte("Accepted"),
	}
}

// Send pushes one message event onto the stream.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	ch, closed := t.ch, t.closed
	t.mu.Unlock()

	if closed {
		return transport.ErrTransportClosed
	}
	if ch == nil {
		return transport.ErrNotConnected
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := ch.Enqueue(pushstream.Event("message", b)); err != nil {
		if errors.Is(err, pushstream.ErrChannelClosed) {
			return transport.ErrTransportClosed
		}
		return err
	}
	return nil
}

// Close stops the heartbeat, closes the stream and notifies the server and
// owner. Subsequent calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopBeat)
	}
	if t.ch != nil {
		t.ch.Close()
	}
	t.mu.Unlock()

	t.log.Info("sse.close")
	t.server.HandleClose(t)
	if t.onClose != nil {
		t.onClose(t)
	}
	return nil
}

func (t *Transport) handleDisconnect() {
	t.log.Info("sse.client.disconnect")
	_ = t.Close()
}
