package notifier

import (
	"time"

	kit "forumsign/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// DefaultChannel is used when Notification.Channel is empty.
	DefaultChannel string
	// DefaultTarget is used when Notification.Target.ChatID is 0.
	DefaultTarget kit.ChatTarget
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Title   string    `json:"title,omitempty"`
	Text    string    `json:"text"`
}

// NotificationEvent is published on the bus for notifier lifecycle events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
