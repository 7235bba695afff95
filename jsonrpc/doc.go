// Package jsonrpc holds the JSON-RPC 2.0 message model shared by every
// transport. Parse is the only way inbound bytes become Messages: it accepts a
// single object or a batch array and rejects the whole payload with a
// *ParseError when anything is malformed, so nothing unvalidated travels past
// the transport boundary.
package jsonrpc
