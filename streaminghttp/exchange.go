package streaminghttp

import "github.com/ggoodman/mcp-transport-go/jsonrpc"

// exchange correlates the requests of one POST with what the server sends
// back. Fields are guarded by the owning Transport's mutex.
//
// The exchange resolves on the first Response it sees, even if the POST held
// several requests or the response answers some other id, so a batch reply
// can be truncated.
// TODO: track outstanding request ids and resolve once all are answered.
type exchange struct {
	msgs      []jsonrpc.Message
	done      chan struct{}
	resolved  bool
	responded bool
}

func newExchange() *exchange {
	return &exchange{done: make(chan struct{})}
}

func (e *exchange) add(msg jsonrpc.Message) {
	if e.resolved {
		return
	}
	e.msgs = append(e.msgs, msg)
	if msg.IsResponse() {
		e.responded = true
		e.resolve()
	}
}

func (e *exchange) resolve() {
	if e.resolved {
		return
	}
	e.resolved = true
	close(e.done)
}
