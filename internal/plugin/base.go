package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"forumsign/internal/config"
	"forumsign/internal/httpx"
	"forumsign/internal/runtime/supervisor"
	"forumsign/internal/signin"
	logx "forumsign/pkg/logx"
)

// onlyOnceDelay is how long after a config apply the onlyonce run fires.
const onlyOnceDelay = 3 * time.Second

const (
	keyOnlyOnceHash     = "onlyonce_consumed"
	keyClearHistoryHash = "clear_history_consumed"
)

// Base carries the host plumbing both check-in plugins share: the runner,
// history, cron registration, the onlyonce and clear_history flags and the
// describe-state view.
//
//	type Plugin struct { plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
//		p.InitBase(deps, "name", "title", p, signin.Hooks{})
//		return nil
//	}
type Base struct {
	Log  logx.Logger
	Deps Deps

	name  string
	title string

	history *signin.History
	runner  *signin.Runner

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	started bool
	common  Common
	raw     json.RawMessage
	disp    *httpx.Dispatcher
}

var errNotInitialized = errors.New("plugin not initialized")

func (b *Base) Name() string { return b.name }

// InitBase wires deps, history and the runner around signer.
func (b *Base) InitBase(deps Deps, name, title string, signer signin.Signer, hooks signin.Hooks) {
	b.Deps = deps
	b.name = name
	b.title = title
	if !deps.Logger.IsZero() {
		b.Log = deps.Logger.With(logx.String("plugin", name))
	} else {
		b.Log = logx.Nop().With(logx.String("plugin", name))
	}
	b.history = signin.NewHistory(deps.Store, name)

	var sched signin.Scheduler
	if deps.Scheduler != nil {
		sched = deps.Scheduler
	}
	b.runner = signin.NewRunner(signin.RunnerConfig{
		Name:      name,
		Title:     title,
		Signer:    signer,
		History:   b.history,
		Scheduler: sched,
		Notifier:  pluginNotifier{next: deps.Notifier, plugin: title},
		Bus:       deps.Bus,
		Log:       b.Log,
		Hooks:     hooks,
	})
}

func (b *Base) HistoryStore() *signin.History { return b.history }

func (b *Base) SigninRunner() *signin.Runner { return b.runner }

// Location is the scheduler's time zone.
func (b *Base) Location() *time.Location {
	if b.Deps.Scheduler != nil {
		if loc := b.Deps.Scheduler.Location(); loc != nil {
			return loc
		}
	}
	return time.Local
}

// Common returns the last applied shared config.
func (b *Base) Common() Common {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.common
}

// Dispatcher returns the dispatcher built by the last ApplyCommon.
func (b *Base) Dispatcher() *httpx.Dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disp
}

// ApplyConfig stores c, rebuilds the dispatcher with header and
// reconfigures the runner. When the plugin is running the cron trigger and
// one-shot flags are applied immediately; otherwise StartBase does it.
func (b *Base) ApplyConfig(ctx context.Context, raw json.RawMessage, c Common, opts signin.Options, header map[string]string) error {
	if b.runner == nil {
		return errNotInitialized
	}
	ho := httpx.Options{
		VerifySSL:  c.VerifySSL,
		Timeout:    c.Timeout,
		UserAgent:  b.Deps.HTTP.UserAgent,
		Header:     header,
		RatePerSec: b.Deps.HTTP.RatePerSec,
		Browser:    b.Deps.HTTP.Browser,
		Log:        b.Log,
	}
	if c.UseProxy {
		ho.Proxy = b.Deps.HTTP.Proxy
	}
	disp, err := httpx.New(ho)
	if err != nil {
		return err
	}

	opts.HasCredential = c.Cookie != ""
	opts.Notify = c.Notify
	opts.MaxRetries = c.MaxRetries
	opts.MinDelay = c.MinDelay
	opts.MaxDelay = c.MaxDelay
	opts.HistoryDays = c.HistoryDays
	opts.JobTimeout = jobTimeout(c)
	opts.Location = b.Location()
	b.runner.Configure(opts)

	b.mu.Lock()
	b.common = c
	b.raw = append(json.RawMessage(nil), raw...)
	b.disp = disp
	started := b.started
	b.mu.Unlock()

	b.Log.Info("config applied",
		logx.Bool("cookie_set", c.Cookie != ""),
		logx.Bool("notify", c.Notify),
		logx.String("cron", c.Cron),
		logx.Int("history_days", c.HistoryDays),
		logx.Bool("use_proxy", c.UseProxy),
		logx.Int("max_retries", c.MaxRetries),
		logx.Bool("verify_ssl", c.VerifySSL),
		logx.Duration("min_delay", c.MinDelay),
		logx.Duration("max_delay", c.MaxDelay),
		logx.Strings("strategies", disp.Strategies()),
	)
	if started {
		b.activate(ctx)
	}
	return nil
}

// jobTimeout covers the random delay plus a handful of requests.
func jobTimeout(c Common) time.Duration {
	return c.MaxDelay + 6*c.Timeout
}

// StartBase creates the per-plugin supervisor and registers triggers.
func (b *Base) StartBase(ctx context.Context) {
	b.mu.Lock()
	b.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
	b.started = true
	b.mu.Unlock()
	b.activate(ctx)
}

// StopBase removes every trigger, cancels a pending retry and waits for
// plugin goroutines, bounded by ctx.
func (b *Base) StopBase(ctx context.Context) error {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.started = false
	b.mu.Unlock()

	if s := b.Deps.Scheduler; s != nil {
		s.Remove(b.cronJob())
		s.Remove(b.onlyOnceJob())
	}
	if b.runner != nil {
		b.runner.CancelRetry()
	}
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

// Go runs fn on the plugin supervisor; it is a no-op when stopped.
func (b *Base) Go(name string, fn func(ctx context.Context)) {
	b.mu.Lock()
	sup := b.sup
	b.mu.Unlock()
	if sup != nil {
		sup.Go0(name, fn)
	}
}

func (b *Base) cronJob() string     { return b.name + ":cron" }
func (b *Base) onlyOnceJob() string { return b.name + ":onlyonce" }

func (b *Base) activate(ctx context.Context) {
	b.mu.Lock()
	c := b.common
	raw := b.raw
	b.mu.Unlock()

	b.reschedule(c)

	hash := config.CanonicalHash(raw)
	if c.ClearHistory && b.consume(ctx, keyClearHistoryHash, hash) {
		if err := b.history.Clear(ctx); err != nil {
			b.Log.Error("clear history failed", logx.Err(err))
		} else {
			b.Log.Info("history cleared (clear_history)")
		}
	}
	if c.OnlyOnce && b.Deps.Scheduler != nil && b.consume(ctx, keyOnlyOnceHash, hash) {
		b.runOnceAfter(onlyOnceDelay, jobTimeout(c))
	}
}

func (b *Base) reschedule(c Common) {
	s := b.Deps.Scheduler
	if s == nil {
		return
	}
	if c.Cron == "" {
		if s.Remove(b.cronJob()) {
			b.Log.Info("daily trigger removed")
		} else {
			b.Log.Warn("no cron configured; check-in runs only on demand")
		}
		return
	}
	if _, err := s.AddSchedule(b.cronJob(), c.Cron, jobTimeout(c), b.runner.Job); err != nil {
		b.Log.Error("register daily trigger failed", logx.String("cron", c.Cron), logx.Err(err))
		return
	}
	if next, ok := s.Next(b.cronJob()); ok {
		b.Log.Info("daily trigger registered", logx.String("cron", c.Cron), logx.Time("next", next))
	}
}

func (b *Base) runOnceAfter(d, timeout time.Duration) {
	s := b.Deps.Scheduler
	if s == nil {
		return
	}
	at := time.Now().Add(d)
	if _, err := s.AddOnce(b.onlyOnceJob(), at, timeout, b.runner.Job); err != nil {
		b.Log.Error("schedule onlyonce run failed", logx.Err(err))
		return
	}
	b.Log.Info("onlyonce run scheduled", logx.Time("at", at))
}

// consume reports whether flag is seen for the first time under hash and
// records it. A config blob sets a flag at most once.
func (b *Base) consume(ctx context.Context, key string, hash uint64) bool {
	want := strconv.FormatUint(hash, 16)
	got, ok, err := b.Deps.Store.Get(ctx, b.name, key)
	if err != nil {
		b.Log.Warn("read flag state failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if ok && string(got) == want {
		return false
	}
	if err := b.Deps.Store.Put(ctx, b.name, key, []byte(want)); err != nil {
		b.Log.Warn("save flag state failed", logx.String("key", key), logx.Err(err))
		return false
	}
	return true
}

// Run performs a check-in now.
func (b *Base) Run(ctx context.Context) (signin.Record, error) {
	if b.runner == nil {
		return signin.Record{}, errNotInitialized
	}
	return b.runner.Run(ctx)
}

func (b *Base) History(ctx context.Context, n int) ([]signin.Record, error) {
	if b.history == nil {
		return nil, errNotInitialized
	}
	return b.history.List(ctx, n)
}

func (b *Base) ClearHistory(ctx context.Context) error {
	if b.history == nil {
		return errNotInitialized
	}
	return b.history.Clear(ctx)
}

// LocalStats summarizes the gains kept in history and caches the result.
func (b *Base) LocalStats(ctx context.Context, days int) (signin.Stats, error) {
	if b.history == nil {
		return signin.Stats{}, errNotInitialized
	}
	list, err := b.history.List(ctx, 0)
	if err != nil {
		return signin.Stats{}, err
	}
	st := signin.LocalStats(list, days, time.Now())
	if err := b.history.SaveJSON(ctx, signin.KeyStats, st); err != nil {
		b.Log.Warn("save stats failed", logx.Err(err))
	}
	return st, nil
}

// CachedStats returns the last saved stats.
func (b *Base) CachedStats(ctx context.Context) (signin.Stats, bool, error) {
	if b.history == nil {
		return signin.Stats{}, false, errNotInitialized
	}
	var st signin.Stats
	ok, err := b.history.LoadJSON(ctx, signin.KeyStats, &st)
	return st, ok, err
}

// DescribeState is the runner state plus schedule and transport details.
func (b *Base) DescribeState(ctx context.Context) signin.State {
	if b.runner == nil {
		return signin.State{Plugin: b.name}
	}
	st := b.runner.State(ctx)
	b.mu.Lock()
	st.Enabled = b.started
	st.Cron = b.common.Cron
	if b.disp != nil {
		st.Strategies = b.disp.Strategies()
	}
	b.mu.Unlock()
	if s := b.Deps.Scheduler; s != nil {
		if next, ok := s.Next(b.cronJob()); ok {
			st.NextRun = next
		}
	}
	return st
}

// WarnFields logs keys that fell back to defaults.
func (b *Base) WarnFields(f *Fields) {
	for _, w := range f.Warnings() {
		b.Log.Warn("config value ignored", logx.String("detail", w))
	}
}
