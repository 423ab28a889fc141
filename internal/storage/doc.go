// Package storage provides the small key-value persistence layer behind
// plugin history and state.
//
// Values are opaque bytes grouped by namespace (one per plugin). The store
// also keeps notifier dedup state and an append-only audit trail of manual
// actions. Drivers: memory, file, sqlite, redis.
package storage
