package notifier

import (
	"context"

	kit "forumsign/internal/transport"
	logx "forumsign/pkg/logx"
)

// LogSender writes notifications to the log. It is the "log" channel and
// the fallback when no chat transport is configured.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	l.Log.Info("notification", logx.Int64("chat_id", to.ChatID), logx.String("text", text))
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}, nil
}
