package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Notification is one outbound message queued on the notifier.
type Notification struct {
	Channel  string // "telegram" or "log"
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Title    string
	Text     string
	Options  *SendOptions
}

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender with a lifecycle.
type Adapter interface {
	Sender
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
