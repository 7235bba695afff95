// Package pushstream implements a one-directional server-to-client event
// stream. Producers Enqueue frames at any time; the hosting HTTP layer serves
// the Channel as a text/event-stream response that drains the queue in order.
package pushstream

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

var (
	// ErrChannelClosed is returned when enqueuing onto a closed channel.
	ErrChannelClosed = errors.New("push channel closed")

	_ http.Handler = (*Channel)(nil)
)

// Option configures a Channel.
type Option func(*Channel)

// WithOnCancel registers fn to run once when the consuming client goes away
// while the channel is still open. It does not run after Close.
func WithOnCancel(fn func()) Option {
	return func(c *Channel) { c.onCancel = fn }
}

// WithLogger sets the logger used for stream lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// Channel is a queued push channel. It is safe for concurrent use.
type Channel struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
	done   chan struct{}

	served   atomic.Bool
	onCancel func()
	log      *slog.Logger
}

// New creates an open channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue appends a frame for delivery.
func (c *Channel) Enqueue(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.queue = append(c.queue, f.encode())
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting frames. Frames already queued are still written if a
// consumer is attached. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Closed reports whether the channel has been closed or cancelled.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the channel closes for any reason.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) cancel() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	if c.onCancel != nil {
		c.onCancel()
	}
}

func (c *Channel) drain() ([][]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames, c.closed
}

// ServeHTTP streams queued frames to the client until the channel is closed
// or the request context ends. A channel can be consumed at most once.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !c.served.CompareAndSwap(false, true) {
		http.Error(w, "push channel already consumed", http.StatusConflict)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		c.log.ErrorContext(ctx, "sse.flusher.missing")
		c.cancel()
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	c.log.DebugContext(ctx, "sse.stream.start")

	for {
		frames, closed := c.drain()
		for _, frame := range frames {
			if err := writeFrame(w, f, frame); err != nil {
				c.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				c.cancel()
				return
			}
		}
		if closed {
			c.log.DebugContext(ctx, "sse.stream.end")
			return
		}

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			c.log.DebugContext(ctx, "sse.stream.client_gone")
			c.cancel()
			return
		}
	}
}
