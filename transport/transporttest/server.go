// Package transporttest provides a recording transport.Server for exercising
// transports and the session registry in tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-transport-go/jsonrpc"
	"github.com/ggoodman/mcp-transport-go/transport"
)

// HandlerFunc reacts to an inbound message. It may call t.Send.
type HandlerFunc func(ctx context.Context, t transport.Transport, msg jsonrpc.Message)

// Server records every callback it receives.
type Server struct {
	mu         sync.Mutex
	handler    HandlerFunc
	transports []transport.Transport
	messages   []jsonrpc.Message
	errors     []error
	closes     int
	closed     bool

	delivered chan jsonrpc.Message
}

// NewServer returns a Server. If fn is nil inbound messages are only recorded.
func NewServer(fn HandlerFunc) *Server {
	return &Server{handler: fn, delivered: make(chan jsonrpc.Message, 64)}
}

// Factory returns a transport.ServerFactory producing fresh recording servers
// and reporting each one through created.
func Factory(fn HandlerFunc, created func(id string, s *Server)) transport.ServerFactory {
	return func(_ context.Context, id string) (transport.Server, error) {
		s := NewServer(fn)
		if created != nil {
			created(id, s)
		}
		return s, nil
	}
}

func (s *Server) Connect(t transport.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports = append(s.transports, t)
	return nil
}

func (s *Server) HandleMessage(ctx context.Context, msg jsonrpc.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	var t transport.Transport
	if n := len(s.transports); n > 0 {
		t = s.transports[n-1]
	}
	fn := s.handler
	s.mu.Unlock()

	select {
	case s.delivered <- msg:
	default:
	}

	if fn != nil && t != nil {
		fn(ctx, t, msg)
	}
}

func (s *Server) HandleError(_ context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *Server) HandleClose(transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

// Close marks the server as finalized; the registry calls it on eviction.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Delivered exposes inbound messages as they arrive.
func (s *Server) Delivered() <-chan jsonrpc.Message { return s.delivered }

// Messages returns a copy of every inbound message so far.
func (s *Server) Messages() []jsonrpc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jsonrpc.Message(nil), s.messages...)
}

// Errors returns the validation errors reported so far.
func (s *Server) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

// Transports returns every transport the server was connected to, in order.
func (s *Server) Transports() []transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Transport(nil), s.transports...)
}

// Closes reports how many HandleClose callbacks were received.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Finalized reports whether Close was called.
func (s *Server) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reply answers every request with an empty result object.
func Reply(ctx context.Context, t transport.Transport, msg jsonrpc.Message) {
	if !msg.IsRequest() {
		return
	}
	res, err := jsonrpc.NewResultResponse(msg.ID, map[string]any{})
	if err != nil {
		return
	}
	_ = t.Send(ctx, res)
}
