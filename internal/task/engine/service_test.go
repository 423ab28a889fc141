package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "forumsign/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "deepflood_sign:daily", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if ran.Load() != 1 {
		t.Fatalf("ran=%d", ran.Load())
	}
}

func TestSkipIfRunningRejectsOverlap(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "enshansignin:daily",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("expected ErrOverlapSkip, got %v", err)
	}
	close(release)
}

func TestRetriesUntilSuccessAndHonorsNoRetry(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 2})

	var flaky atomic.Int32
	_ = s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if flaky.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})

	var permanent atomic.Int32
	_ = s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			permanent.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	})

	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })
	if flaky.Load() != 3 {
		t.Fatalf("flaky ran %d times, want 3", flaky.Load())
	}
	if permanent.Load() != 1 {
		t.Fatalf("permanent ran %d times, want 1", permanent.Load())
	}
}

func TestNegativeRetryMaxDisablesRetries(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var runs atomic.Int32
	_ = s.Enqueue(Task{
		Name: "once",
		Opt:  TaskOptions{RetryMax: -1},
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if runs.Load() != 1 {
		t.Fatalf("runs=%d", runs.Load())
	}
	if h := s.Snapshot().History[0]; h.Error != "boom" {
		t.Fatalf("history error=%q", h.Error)
	}
}

func TestEnqueueWhenDisabledOrStopped(t *testing.T) {
	t.Parallel()

	disabled := New(Config{Enabled: false}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}
	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
}
