// Package eventcache maintains a live cache of eventbus state topics.
//
// Every service on the bus publishes its state as a retained envelope
// under brewcast/state/{service}. This package subscribes to the whole
// state hierarchy and keeps the latest message per topic together with
// a receipt timestamp. Entries expire lazily: a read computes
// receivedAt + ttl > now and treats stale entries as absent, so no
// sweeper goroutine is needed.
//
// Spark services publish high-frequency partial updates as patch
// envelopes on a /patch sub-topic. The cache reconciles those into the
// previously cached base snapshot (remove deleted and changed blocks,
// append changed) instead of waiting for a full republish.
//
// The topic map is written only by the bus dispatch callback. Reads
// return deep copies so callers never observe a half-applied patch.
package eventcache
