// Package memorystore provides an in-memory sessions.Store suitable for tests,
// development and single-process servers. Records are discarded on exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Concurrency       : safe (RWMutex)
//
// For listings shared across processes prefer redisstore.
package memorystore
