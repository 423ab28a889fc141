package logx

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "forumsign/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	got := formatTelegramJSON([]byte(`{"level":"warn","time":"x","message":"retry scheduled","plugin":"deepflood_sign","attempt":2}`))
	want := "[WARN] retry scheduled\n- attempt=2\n- plugin=deepflood_sign"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain line \n")); got != "plain line" {
		t.Fatalf("non-json passthrough: %q", got)
	}
}

func TestNopAndZeroLoggerAreSafe(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("ignored", String("k", "v"))
	Nop().With(Int("n", 1)).Error("ignored")
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestServiceTelegramSinkHonorsMinLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "app.log")},
		Telegram: TelegramConfig{
			Enabled:    true,
			MinLevel:   "error",
			RatePerSec: 10,
		},
	}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(42, 0)

	log.Warn("below threshold")
	log.Error("above threshold", String("plugin", "enshansignin"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("expected exactly one telegram message, got %d", len(sender.msgs))
	}
	if !strings.Contains(sender.msgs[0], "above threshold") {
		t.Fatalf("unexpected message: %q", sender.msgs[0])
	}
}
