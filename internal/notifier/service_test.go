package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsign/internal/storage"
	kit "forumsign/internal/transport"
	logx "forumsign/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	to    []kit.ChatTarget
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func startNotifier(t *testing.T, cfg Config, store storage.Store) (*Service, *recordingSender) {
	t.Helper()
	cfg.Enabled = true
	cfg.RatePerSec = 100
	cfg.RetryBase = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	s := New(cfg, logx.Nop(), nil, store)
	rec := &recordingSender{}
	s.Register("telegram", rec)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, rec
}

func TestNotifyDeliversFormattedMessage(t *testing.T) {
	t.Parallel()

	s, rec := startNotifier(t, Config{DefaultChannel: "telegram", DefaultTarget: kit.ChatTarget{ChatID: 42}}, nil)
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Title: "DeepFlood 签到", Text: "签到成功，获得 5 鸡腿"}))

	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "【DeepFlood 签到】\n签到成功，获得 5 鸡腿", rec.messages()[0])
	assert.Equal(t, int64(42), rec.to[0].ChatID)
	require.Len(t, s.History(), 1)
	assert.Equal(t, "telegram", s.History()[0].Channel)
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	s, rec := startNotifier(t, Config{DefaultChannel: "telegram", RetryMax: 3}, nil)
	rec.fails = 2
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Text: "hello"}))
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	s, rec := startNotifier(t, Config{DefaultChannel: "telegram", DedupWindow: time.Minute, PersistDedup: true}, st)
	n := kit.Notification{Title: "恩山签到", Text: "已签到"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Title: "恩山签到", Text: "签到成功"}))

	require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.messages(), 2)

	// A fresh service sharing the store still suppresses the duplicate.
	require.Eventually(t, func() bool {
		_, ok, _ := st.GetDedup(context.Background(), dedupKey(kit.Notification{Channel: "telegram", Title: "恩山签到", Text: "已签到"}))
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	s2, rec2 := startNotifier(t, Config{DefaultChannel: "telegram", DedupWindow: time.Minute, PersistDedup: true}, st)
	require.NoError(t, s2.Notify(context.Background(), n))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec2.messages())
}

func TestNotifyRejects(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, disabled.Notify(context.Background(), kit.Notification{Text: "x"}), ErrDisabled)

	notStarted := New(Config{Enabled: true}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, notStarted.Notify(context.Background(), kit.Notification{Text: "x"}), ErrStopped)

	s, _ := startNotifier(t, Config{}, nil)
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Channel: "email", Text: "x"}), ErrNoSender)
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Channel: "telegram"}), ErrEmptyMessage)
}

func TestFormatPriorityPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "🚨 【Cookie 失效】", Format(kit.Notification{Priority: 9, Title: "Cookie 失效"}))
	assert.Equal(t, "body", Format(kit.Notification{Text: " body "}))
}
