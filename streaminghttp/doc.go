// Package streaminghttp implements the Streamable HTTP encoding of a session.
// Client messages arrive as POST bodies holding one JSON-RPC message or a
// batch. A POST that carries only notifications or responses is acknowledged
// with 202 immediately. A POST carrying at least one request opens an
// exchange: the messages are delivered to the transport.Server, and the reply
// is whatever the server sends before its first Response, the request deadline
// or transport closure, rendered inline as a single object or an array.
//
// Messages the server sends while no exchange is open go to the optional
// out-of-band stream opened by GET, or are dropped if there is none.
//
// Every reply carries the Mcp-Session-Id header. Once closed, the transport
// answers POSTs with 410 Gone.
//
// The transport does not speak HTTP directly; the server package adapts it to
// net/http and the sessions registry decides which transport a request
// reaches.
package streaminghttp
