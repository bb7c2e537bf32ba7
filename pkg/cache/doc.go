// Package cache provides the two caching layers in front of gateway calls:
// exact-match request deduplication within a TTL window, and semantic
// response caching keyed by meaning-similarity of the query rather than
// literal equality. Both survive transient reconnects; their lifetimes are
// independent of connection state.
package cache
