package signin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"forumsign/internal/eventbus"
	kit "forumsign/internal/transport"
	logx "forumsign/pkg/logx"
)

const displayLayout = "2006-01-02 15:04:05"

// Signer performs the forum-specific check-in and classifies the answer.
// A non-nil error means the attempt failed before a classification; its
// Kind decides whether a retry is scheduled.
type Signer interface {
	SignIn(ctx context.Context) (Attempt, error)
}

type Scheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Options is the runtime slice of a plugin config the runner needs.
type Options struct {
	HasCredential bool
	Notify        bool
	MaxRetries    int
	MinDelay      time.Duration
	MaxDelay      time.Duration
	HistoryDays   int
	JobTimeout    time.Duration

	// Confirm enables the record-based fallback after a failed attempt.
	Confirm       bool
	ConfirmWindow time.Duration

	Location *time.Location
}

type Hooks struct {
	// SuccessText renders the success notification body.
	SuccessText func(ctx context.Context, rec Record) string
	// AfterRun runs after every recorded run, once history is written.
	AfterRun func(ctx context.Context, rec Record)
}

type RunnerConfig struct {
	Name      string
	Title     string // human name used in notification titles
	Signer    Signer
	History   *History
	Scheduler Scheduler
	Notifier  Notifier
	Bus       eventbus.Bus
	Log       logx.Logger
	Hooks     Hooks
}

// Event is the payload of signin.* bus events.
type Event struct {
	Plugin  string    `json:"plugin"`
	Record  Record    `json:"record"`
	Job     string    `json:"job,omitempty"`
	RetryAt time.Time `json:"retry_at,omitzero"`
	Attempt int       `json:"attempt,omitempty"`
	Max     int       `json:"max,omitempty"`
}

// Runner sequences one check-in: credential check, random delay, Signer,
// fallback confirmation, history, notification and retry scheduling.
// Overlapping runs of the same instance are rejected with ErrAlreadyRunning.
type Runner struct {
	name    string
	title   string
	signer  Signer
	history *History
	sched   Scheduler
	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger
	hooks   Hooks
	retry   *RetryState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	intn  func(n int) int

	run     sync.Mutex
	running atomic.Bool

	mu      sync.Mutex
	opts    Options
	lastErr string
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	if cfg.Title == "" {
		cfg.Title = cfg.Name
	}
	return &Runner{
		name:    cfg.Name,
		title:   cfg.Title,
		signer:  cfg.Signer,
		history: cfg.History,
		sched:   cfg.Scheduler,
		notify:  cfg.Notifier,
		bus:     cfg.Bus,
		log:     cfg.Log,
		hooks:   cfg.Hooks,
		retry:   NewRetryState(cfg.Name),
		opts:    Options{Location: time.Local},
		now:     time.Now,
		sleep:   sleepCtx,
		intn:    rand.Intn,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) Configure(opts Options) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MinDelay, opts.MaxDelay = opts.MaxDelay, opts.MinDelay
	}
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

func (r *Runner) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) Retry() *RetryState { return r.retry }

// Run performs a fresh check-in. Forum failures are reported in the Record;
// the error is only non-nil when no record was produced.
func (r *Runner) Run(ctx context.Context) (Record, error) {
	return r.do(ctx, "")
}

// Job is Run shaped for the scheduler. It always returns nil so the engine
// never retries a check-in on its own.
func (r *Runner) Job(ctx context.Context) error {
	r.jobResult(r.do(ctx, ""))
	return nil
}

func (r *Runner) retryJob(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		r.jobResult(r.do(ctx, name))
		return nil
	}
}

func (r *Runner) jobResult(_ Record, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		r.log.Info("check-in skipped: previous run still active")
	default:
		r.log.Warn("check-in aborted", logx.Err(err))
	}
}

// CancelRetry removes a pending retry job, used when the plugin stops.
func (r *Runner) CancelRetry() {
	if job := r.retry.OnSuccess(); job != "" && r.sched != nil {
		r.sched.Remove(job)
	}
}

func (r *Runner) do(ctx context.Context, retryJob string) (Record, error) {
	if !r.run.TryLock() {
		return Record{}, ErrAlreadyRunning
	}
	defer r.run.Unlock()
	r.running.Store(true)
	defer r.running.Store(false)

	opts := r.Options()
	now := r.now()
	if retryJob == "" {
		r.retry.BeginCycle(now.In(opts.Location).Format(dateLayout))
	} else {
		r.retry.Fired(retryJob)
	}
	retryN, _ := r.retry.Snapshot()
	if retryJob == "" {
		retryN = 0
	}
	id := uuid.NewString()
	log := r.log.With(logx.String("attempt_id", id))
	log.Info("check-in started", logx.Int("retry", retryN))

	if !opts.HasCredential {
		rec := Record{
			Time:      now,
			Status:    StatusFailed,
			Message:   MsgMissingCookie,
			Outcome:   Unknown,
			ErrorKind: KindMissingCredential.String(),
			AttemptID: id,
			Retry:     retryN,
		}
		log.Error("check-in failed: no cookie configured")
		r.persist(ctx, log, rec, opts)
		r.send(ctx, opts, r.title+"失败", MsgMissingCookieHint, 7)
		r.publish(eventbus.SigninCompleted, Event{Plugin: r.name, Record: rec})
		return rec, nil
	}

	if err := r.sleep(ctx, r.randomDelay(opts)); err != nil {
		return Record{}, err
	}

	att, err := r.signer.SignIn(ctx)
	if err != nil && ctx.Err() != nil {
		return Record{}, ctx.Err()
	}
	now = r.now()
	rec := buildRecord(att, err, now, id, retryN)

	if !rec.Outcome.Signed() && rec.Outcome != InvalidCookie && opts.Confirm {
		if confirmed, status, ok := Confirm(att, now, opts.Location, opts.ConfirmWindow); ok {
			log.Warn("check-in confirmed by fallback", logx.String("status", status), logx.String("reason", rec.Message))
			rec.Outcome = confirmed.Outcome
			rec.Status = status
			rec.Message = confirmed.Message
			rec.ErrorKind = ""
			err = nil
		}
	}

	r.persist(ctx, log, rec, opts)
	if r.hooks.AfterRun != nil {
		r.hooks.AfterRun(ctx, rec)
	}

	if rec.Outcome.Signed() {
		r.onSuccess(ctx, log, rec, opts)
	} else {
		r.onFailure(ctx, log, rec, err, opts)
	}
	r.publish(eventbus.SigninCompleted, Event{Plugin: r.name, Record: rec})
	return rec, nil
}

func buildRecord(att Attempt, err error, now time.Time, id string, retryN int) Record {
	rec := Record{
		Time:         now,
		Outcome:      att.Outcome,
		Message:      strings.TrimSpace(att.Message),
		Gain:         att.Gain,
		Rank:         att.Rank,
		TotalSigners: att.TotalSigners,
		AttemptID:    id,
		Retry:        retryN,
	}
	if err != nil {
		if rec.Outcome != InvalidCookie {
			rec.Outcome = Unknown
		}
		rec.ErrorKind = KindOf(err).String()
		if rec.Message == "" {
			rec.Message = err.Error()
		}
	}
	if rec.Outcome == InvalidCookie {
		rec.ErrorKind = KindRemoteValidation.String()
	}
	if rec.Message == "" && !rec.Outcome.Signed() {
		rec.Message = "未知错误"
	}
	rec.Status = statusFor(rec.Outcome)
	return rec
}

func (r *Runner) onSuccess(ctx context.Context, log logx.Logger, rec Record, opts Options) {
	if err := r.history.SetLastSignDate(ctx, rec.Time.In(opts.Location)); err != nil {
		log.Warn("save last sign date failed", logx.Err(err))
	}
	if job := r.retry.OnSuccess(); job != "" && r.sched != nil {
		r.sched.Remove(job)
	}
	log.Info("check-in done", logx.String("status", rec.Status), logx.Int("gain", rec.Gain))

	text := ""
	if r.hooks.SuccessText != nil {
		text = r.hooks.SuccessText(ctx, rec)
	}
	if text == "" {
		text = DefaultSuccessText(rec, opts.Location)
	}
	r.send(ctx, opts, r.title+"成功", text, 0)
}

// DefaultSuccessText is the plain success notification body.
func DefaultSuccessText(rec Record, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "状态: %s", rec.Status)
	if rec.Message != "" && rec.Message != rec.Status {
		fmt.Fprintf(&b, "\n信息: %s", rec.Message)
	}
	if rec.Gain > 0 {
		fmt.Fprintf(&b, "\n奖励: %d", rec.Gain)
	}
	if rec.Rank > 0 {
		if rec.TotalSigners > 0 {
			fmt.Fprintf(&b, "\n排名: 第 %d 名 / 共 %d 人", rec.Rank, rec.TotalSigners)
		} else {
			fmt.Fprintf(&b, "\n排名: 第 %d 名", rec.Rank)
		}
	}
	fmt.Fprintf(&b, "\n⏱️ %s", rec.Time.In(loc).Format(displayLayout))
	return b.String()
}

func (r *Runner) onFailure(ctx context.Context, log logx.Logger, rec Record, err error, opts Options) {
	stamp := "⏱️ " + rec.Time.In(opts.Location).Format(displayLayout)
	retryable := rec.Outcome != InvalidCookie && (err == nil || KindOf(err).Retryable())
	if !retryable {
		log.Error("check-in failed; not retrying", logx.String("kind", rec.ErrorKind), logx.String("reason", rec.Message))
		text := "签到失败: " + rec.Message
		if rec.Outcome == InvalidCookie {
			text += "\n" + MsgInvalidCookieHint
		}
		r.send(ctx, opts, r.title+"失败", text+"\n"+stamp, 9)
		return
	}

	minutes := RetryMinMinutes + r.intn(RetryMaxMinutes-RetryMinMinutes+1)
	maxRetries := opts.MaxRetries
	if r.sched == nil {
		maxRetries = 0
	}
	d := r.retry.OnFailure(maxRetries, minutes, rec.Time)
	if d.Schedule {
		if d.Cancel != "" {
			r.sched.Remove(d.Cancel)
		}
		at := rec.Time.Add(d.Delay)
		if _, serr := r.sched.AddOnce(d.Job, at, opts.JobTimeout, r.retryJob(d.Job)); serr != nil {
			r.retry.Abort(d)
			log.Error("schedule retry failed", logx.String("job", d.Job), logx.Err(serr))
			r.send(ctx, opts, r.title+"失败", fmt.Sprintf("签到失败: %s\n重试调度失败: %v\n%s", rec.Message, serr, stamp), 9)
			return
		}
		log.Warn("check-in failed; retry scheduled",
			logx.String("reason", rec.Message),
			logx.Int("minutes", minutes),
			logx.Int("attempt", d.Attempt),
			logx.Int("max", d.Max),
			logx.String("job", d.Job),
		)
		r.send(ctx, opts, r.title+"失败",
			fmt.Sprintf("签到失败: %s\n将在 %d 分钟后进行第 %d/%d 次重试\n%s", rec.Message, minutes, d.Attempt, d.Max, stamp), 7)
		r.publish(eventbus.SigninRetryScheduled, Event{Plugin: r.name, Record: rec, Job: d.Job, RetryAt: at, Attempt: d.Attempt, Max: d.Max})
		return
	}

	log.Warn("check-in failed; no retry left", logx.String("reason", rec.Message), logx.String("why", d.Reason))
	r.send(ctx, opts, r.title+"失败", fmt.Sprintf("签到失败: %s\n%s\n%s", rec.Message, d.Reason, stamp), 9)
	r.publish(eventbus.SigninRetryExhausted, Event{Plugin: r.name, Record: rec, Attempt: d.Attempt, Max: d.Max})
}

func (r *Runner) randomDelay(opts Options) time.Duration {
	if opts.MaxDelay <= 0 {
		return 0
	}
	span := opts.MaxDelay - opts.MinDelay
	if span <= 0 {
		return opts.MinDelay
	}
	return opts.MinDelay + time.Duration(r.intn(int(span/time.Millisecond)+1))*time.Millisecond
}

func (r *Runner) persist(ctx context.Context, log logx.Logger, rec Record, opts Options) {
	// History must survive a canceled run context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := r.history.Append(pctx, rec, opts.HistoryDays)
	r.mu.Lock()
	if err != nil {
		r.lastErr = err.Error()
	} else {
		r.lastErr = ""
	}
	r.mu.Unlock()
	if err != nil {
		log.Error("save history failed", logx.Err(err))
	}
}

func (r *Runner) send(ctx context.Context, opts Options, title, text string, priority int) {
	if !opts.Notify || r.notify == nil {
		return
	}
	err := r.notify.Notify(context.WithoutCancel(ctx), kit.Notification{Title: title, Text: text, Priority: priority})
	if err != nil {
		r.log.Warn("notification failed", logx.String("title", title), logx.Err(err))
	}
}

func (r *Runner) publish(typ string, ev Event) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: ev})
	}
}

// State fills the runner-owned part of the plugin state.
func (r *Runner) State(ctx context.Context) State {
	opts := r.Options()
	count, pending := r.retry.Snapshot()
	st := State{
		Plugin:       r.name,
		Running:      r.Running(),
		RetryCount:   count,
		MaxRetries:   opts.MaxRetries,
		PendingRetry: pending,
	}
	r.mu.Lock()
	st.LastError = r.lastErr
	r.mu.Unlock()

	if last, err := r.history.Last(ctx); err == nil {
		st.LastRecord = last
	} else {
		st.LastError = err.Error()
	}
	if day, err := r.history.LastSignDate(ctx); err == nil {
		st.LastSignDate = day
		st.SignedToday = day != "" && day == r.now().In(opts.Location).Format(dateLayout)
	}
	var stats Stats
	if ok, err := r.history.LoadJSON(ctx, KeyStats, &stats); err == nil && ok {
		st.Stats = &stats
	}
	return st
}
