package signin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"forumsign/internal/httpx"
	"forumsign/internal/storage"
	kit "forumsign/internal/transport"
)

type fakeSigner struct {
	mu      sync.Mutex
	results []signResult
	calls   int
	block   chan struct{}
}

type signResult struct {
	att Attempt
	err error
}

func (f *fakeSigner) SignIn(ctx context.Context) (Attempt, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return Attempt{}, errors.New("no result queued")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.att, r.err
}

type onceJob struct {
	name string
	at   time.Time
	job  func(ctx context.Context) error
}

type fakeScheduler struct {
	mu      sync.Mutex
	added   []onceJob
	removed []string
}

func (f *fakeScheduler) AddOnce(name string, at time.Time, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, onceJob{name: name, at: at, job: job})
	return name, nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return true
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) last() kit.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return kit.Notification{}
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	runner  *Runner
	signer  *fakeSigner
	sched   *fakeScheduler
	notify  *fakeNotifier
	history *History
	now     time.Time
}

func newHarness(t *testing.T, opts Options, results ...signResult) *harness {
	t.Helper()
	h := &harness{
		signer:  &fakeSigner{results: results},
		sched:   &fakeScheduler{},
		notify:  &fakeNotifier{},
		history: NewHistory(storage.NewMemory(), "deepflood_sign"),
		now:     time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	h.history.now = func() time.Time { return h.now }
	h.runner = NewRunner(RunnerConfig{
		Name:      "deepflood_sign",
		Title:     "DeepFlood论坛签到",
		Signer:    h.signer,
		History:   h.history,
		Scheduler: h.sched,
		Notifier:  h.notify,
	})
	h.runner.now = func() time.Time { return h.now }
	h.runner.sleep = func(context.Context, time.Duration) error { return nil }
	h.runner.intn = func(n int) int { return n - 1 }
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.Notify = true
	h.runner.Configure(opts)
	return h
}

var ignoreVolatile = cmpopts.IgnoreFields(Record{}, "AttemptID", "Time")

func TestRunWithoutCookieRecordsFailureAndSkipsHTTP(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: false, MaxRetries: 3})
	rec, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := Record{Status: StatusFailed, Message: MsgMissingCookie, Outcome: Unknown, ErrorKind: "missing_credential"}
	if diff := cmp.Diff(want, rec, ignoreVolatile); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if h.signer.calls != 0 {
		t.Fatalf("signer called %d times", h.signer.calls)
	}
	if len(h.sched.added) != 0 {
		t.Fatal("retry scheduled for missing cookie")
	}
	if got := h.notify.last().Text; got != MsgMissingCookieHint {
		t.Fatalf("notification=%q", got)
	}
	list, _ := h.history.List(context.Background(), 0)
	if len(list) != 1 {
		t.Fatalf("history len=%d", len(list))
	}
}

func TestRunSuccessRecordsGainAndSignDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true, MaxRetries: 3},
		signResult{att: Attempt{Outcome: Success, Message: "签到收益 5 鸡腿", Gain: 5, Rank: 12, TotalSigners: 300}})
	rec, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := Record{Status: StatusSuccess, Message: "签到收益 5 鸡腿", Outcome: Success, Gain: 5, Rank: 12, TotalSigners: 300}
	if diff := cmp.Diff(want, rec, ignoreVolatile); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	day, _ := h.history.LastSignDate(context.Background())
	if day != "2026-10-18" {
		t.Fatalf("last_sign_date=%q", day)
	}
	n := h.notify.last()
	if n.Title != "DeepFlood论坛签到成功" || !strings.Contains(n.Text, "奖励: 5") || !strings.Contains(n.Text, "第 12 名 / 共 300 人") {
		t.Fatalf("notification=%+v", n)
	}
	st := h.runner.State(context.Background())
	if !st.SignedToday || st.LastRecord == nil || st.LastRecord.Gain != 5 {
		t.Fatalf("state=%+v", st)
	}
}

func TestThreeFailuresScheduleExactlyThreeRetries(t *testing.T) {
	t.Parallel()

	fail := signResult{att: Attempt{Outcome: Unknown, Message: "服务器繁忙"}}
	h := newHarness(t, Options{HasCredential: true, MaxRetries: 3}, fail)

	if _, err := h.runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if len(h.sched.added) != i+1 {
			t.Fatalf("after failure %d: %d retries scheduled", i+1, len(h.sched.added))
		}
		job := h.sched.added[i]
		if d := job.at.Sub(h.now); d < 5*time.Minute || d > 15*time.Minute {
			t.Fatalf("retry delay %s outside [5m,15m]", d)
		}
		if want := "将在 15 分钟后进行第 " + string(rune('1'+i)) + "/3 次重试"; !strings.Contains(h.notify.last().Text, want) {
			t.Fatalf("notification %q lacks %q", h.notify.last().Text, want)
		}
		h.now = h.now.Add(15*time.Minute + time.Second)
		if err := job.job(context.Background()); err != nil {
			t.Fatalf("retry job returned %v", err)
		}
	}
	if len(h.sched.added) != 3 {
		t.Fatalf("scheduled %d retries, want 3", len(h.sched.added))
	}
	if got := h.notify.last().Text; !strings.Contains(got, "已达到最大重试次数 (3)") {
		t.Fatalf("terminal notification=%q", got)
	}
	if h.signer.calls != 4 {
		t.Fatalf("signer calls=%d, want 4", h.signer.calls)
	}
	list, _ := h.history.List(context.Background(), 0)
	if len(list) != 4 || list[3].Retry != 3 {
		t.Fatalf("history=%+v", list)
	}
}

func TestRetryBudgetProperty(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, 1, 2, 5} {
		h := newHarness(t, Options{HasCredential: true, MaxRetries: limit},
			signResult{err: &httpx.TransportError{Strategy: "plain", Err: errors.New("timeout")}})
		_, _ = h.runner.Run(context.Background())
		for i := 0; i < len(h.sched.added); i++ {
			_ = h.sched.added[i].job(context.Background())
		}
		if len(h.sched.added) != limit {
			t.Fatalf("max_retries=%d: scheduled %d", limit, len(h.sched.added))
		}
		if limit == 0 && !strings.Contains(h.notify.last().Text, MsgNoRetry) {
			t.Fatalf("max=0 notification=%q", h.notify.last().Text)
		}
	}
}

func TestSuccessResetsCounterAndCancelsPendingRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true, MaxRetries: 3},
		signResult{err: httpx.ErrBlocked},
		signResult{att: Attempt{Outcome: AlreadySigned, Message: "今日已完成签到"}},
	)
	_, _ = h.runner.Run(context.Background())
	if count, pending := h.runner.Retry().Snapshot(); count != 1 || pending == "" {
		t.Fatalf("count=%d pending=%q", count, pending)
	}
	// A manual run succeeds while the retry is still pending.
	rec, _ := h.runner.Run(context.Background())
	if rec.Status != StatusAlreadySigned {
		t.Fatalf("status=%q", rec.Status)
	}
	if count, pending := h.runner.Retry().Snapshot(); count != 0 || pending != "" {
		t.Fatalf("after success count=%d pending=%q", count, pending)
	}
	if len(h.sched.removed) != 1 || h.sched.removed[0] != h.sched.added[0].name {
		t.Fatalf("removed=%v added=%v", h.sched.removed, h.sched.added[0].name)
	}
}

func TestInvalidCookieIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true, MaxRetries: 3},
		signResult{att: Attempt{Outcome: InvalidCookie, Message: "USER NOT FOUND"}})
	rec, _ := h.runner.Run(context.Background())
	if rec.Outcome != InvalidCookie || rec.ErrorKind != "remote_validation" || rec.Status != StatusFailed {
		t.Fatalf("record=%+v", rec)
	}
	if len(h.sched.added) != 0 {
		t.Fatal("invalid cookie scheduled a retry")
	}
	if n := h.notify.last(); n.Priority != 9 || !strings.Contains(n.Text, MsgInvalidCookieHint) {
		t.Fatalf("notification=%+v", n)
	}
}

func TestFallbackConfirmationOverridesFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true, MaxRetries: 3, Confirm: true, ConfirmWindow: 30 * time.Minute},
		signResult{att: Attempt{Outcome: Unknown, Message: "error", Gain: 7, RecordedAt: time.Date(2026, 10, 18, 0, 5, 0, 0, time.UTC)}})
	rec, _ := h.runner.Run(context.Background())
	if rec.Status != StatusRecordConfirm || rec.Outcome != AlreadySigned || rec.Gain != 7 {
		t.Fatalf("record=%+v", rec)
	}
	if len(h.sched.added) != 0 {
		t.Fatal("confirmed run scheduled a retry")
	}
}

func TestOverlappingRunIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true}, signResult{att: Attempt{Outcome: Success}})
	h.signer.block = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.runner.Run(context.Background())
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !h.runner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := h.runner.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
	if err := h.runner.Job(context.Background()); err != nil {
		t.Fatalf("Job returned %v", err)
	}
	close(h.signer.block)
	<-done
}

func TestCanceledDelayProducesNoRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{HasCredential: true, MinDelay: time.Second, MaxDelay: 2 * time.Second})
	h.runner.sleep = sleepCtx
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if h.signer.calls != 0 {
		t.Fatal("signer called after cancellation")
	}
}
