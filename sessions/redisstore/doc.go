// Package redisstore implements sessions.Store on Redis so session listings
// can be shared by several processes behind a load balancer.
//
// Layout
//
//	<prefix>rec:<token>   hash of record fields, expires after RecordTTL
//	<prefix>index         sorted set of tokens scored by creation time
//
// Index entries whose hash has expired are pruned lazily by List. Records are
// refreshed on every Put, so only abandoned sessions age out.
//
// Example:
//
//	store, err := redisstore.NewFromEnv()
//	if err != nil { ... }
//	defer store.Close()
//	reg, _ := sessions.NewRegistry(factory, sessions.WithStore(store))
package redisstore
