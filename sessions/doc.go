// Package sessions owns the table of live and grace-period sessions.
//
// A session binds a token to a backing transport.Server and to exactly one
// live transport (SSE or Streamable HTTP). When the transport closes the
// session is not removed; it is marked disconnected and kept for a grace
// period during which the client may reconnect with the same token. A
// reconnect binds a fresh transport to the existing Server, so protocol state
// survives transient network failures.
//
// Time is read from an injectable clockwork.Clock so grace-period and sweep
// behaviour can be driven deterministically in tests:
//
//	clock := clockwork.NewFakeClock()
//	reg, _ := sessions.NewRegistry(factory, sessions.WithClock(clock))
//	...
//	clock.Advance(time.Minute)
//	reg.Sweep(ctx)
//
// Every mutation of the table is mirrored to an optional Store so operators
// can inspect sessions across processes. Store failures are logged and never
// affect routing.
package sessions
