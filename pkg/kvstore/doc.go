// Package kvstore persists small pieces of subscription and paywall state.
//
// Store is deliberately minimal: byte values addressed by string keys.
// Namespace scopes a store to "ns:key", and the typed helpers encode ints,
// bools, strings, epoch-millisecond timestamps and JSON blobs on top of it.
//
// Backends: Memory (tests), File (single JSON document, the local default),
// Redis, Postgres (table created by an embedded goose migration) and Mongo.
// Open picks one from Config.
package kvstore
