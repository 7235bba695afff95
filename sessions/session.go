package sessions

import (
	"net/http"
	"time"

	"github.com/ggoodman/mcp-transport-go/ssetransport"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/ggoodman/mcp-transport-go/transport"
)

// Encoding names the wire encoding a session was opened with.
type Encoding string

const (
	EncodingSSE        Encoding = "sse"
	EncodingStreamable Encoding = "streamable"
)

// Record is the externally visible metadata of a session.
type Record struct {
	Token          string    `json:"token"`
	// UserID is the principal that created the session, empty for
	// unauthenticated sessions.
	UserID         string    `json:"userId,omitempty"`
	Encoding       Encoding  `json:"encoding"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	// DisconnectedAt is zero while a transport is bound.
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`
}

// Connected reports whether the session had a live transport when the record
// was taken.
func (r Record) Connected() bool { return r.DisconnectedAt.IsZero() }

// State renders the connection state for logs and listings.
func (r Record) State() string {
	if r.Connected() {
		return "connected"
	}
	return "disconnected"
}

// Connection is returned by a successful connect.
type Connection struct {
	Token string
	// Resumed is true when an existing session in its grace period was
	// rebound rather than a new one created.
	Resumed bool
	// Handler streams the SSE response. Nil for Streamable HTTP sessions.
	Handler http.Handler
}

type session struct {
	token    string
	userID   string
	encoding Encoding
	server   transport.Server

	sse        *ssetransport.Transport
	streamable *streaminghttp.Transport

	createdAt      time.Time
	lastActivityAt time.Time
	disconnectedAt time.Time
	disconnected   bool
	// reconnecting is set while a resume is binding a new transport outside
	// the registry lock. Such a session is neither resumable nor sweepable.
	reconnecting bool
}

func (s *session) bound() transport.Transport {
	if s.sse != nil {
		return s.sse
	}
	if s.streamable != nil {
		return s.streamable
	}
	return nil
}

func (s *session) record() Record {
	rec := Record{
		Token:          s.token,
		UserID:         s.userID,
		Encoding:       s.encoding,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
	if s.disconnected {
		rec.DisconnectedAt = s.disconnectedAt
	}
	return rec
}
