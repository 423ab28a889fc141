package plugin

import (
	"context"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"forumsign/internal/signin"
	kit "forumsign/internal/transport"
)

// maxNotifyRunes bounds a notification body; forum error pages can be long.
const maxNotifyRunes = 1000

var stripPolicy = bluemonday.StrictPolicy()

// StripHTML drops markup and decodes entities, leaving plain text.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// Excerpt is StripHTML cut to at most n runes.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(StripHTML(s)), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// pluginNotifier tags and sanitizes check-in notifications before they
// reach the host notifier.
type pluginNotifier struct {
	next   signin.Notifier
	plugin string
}

func (n pluginNotifier) Notify(ctx context.Context, msg kit.Notification) error {
	if n.next == nil {
		return nil
	}
	msg.Title = StripHTML(msg.Title)
	if msg.Title == "" {
		msg.Title = n.plugin
	}
	msg.Text = excerptLines(msg.Text, maxNotifyRunes)
	return n.next.Notify(ctx, msg)
}

// excerptLines is Excerpt that keeps line breaks.
func excerptLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(StripHTML(l)), " ")
	}
	out := strings.Join(lines, "\n")
	if utf8.RuneCountInString(out) <= n {
		return out
	}
	return string([]rune(out)[:n]) + "…"
}
