package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Store is the persistence API used by plugins and host services.
type Store interface {
	Get(ctx context.Context, ns, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, ns, key string, val []byte) error
	Delete(ctx context.Context, ns, key string) error
	Keys(ctx context.Context, ns string) ([]string, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, dry runs)
//   - "file":   snapshot + JSON Lines journal next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis":  Redis server at Redis.Addr
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "forumsign:"
}

// AuditEntry records a manual action (CLI, API or bot command).
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"` // cli | api | telegram:<id>
	Plugin   string    `json:"plugin"`
	Action   string    `json:"action"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	MetaJSON string    `json:"meta,omitempty"`
}
