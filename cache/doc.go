// Package cache is the shared result store of the resolver: a small
// key/value interface with expiry and three backends.
//
//   - [NewInMemory] keeps values in a map guarded by a mutex, as given and
//     without serialization. A background goroutine sweeps expired entries.
//   - [NewRedis] stores msgpack encoded values in Redis hashes with native
//     TTLs, so several processes can share results.
//   - [NewComposite] chains caches as tiers, typically in-memory in front of
//     Redis.
//
// [GetValue] returns a typed value from any backend: in-memory values are
// type asserted, serialized ones decoded.
//
//	found, res, err := cache.GetValue[result](ctx, c, key)
//
// Serialized backends need exported fields; use msgpack struct tags to
// control names.
package cache
