package signin

import (
	"fmt"
	"sync"
	"time"
)

const (
	RetryMinMinutes = 5
	RetryMaxMinutes = 15
)

// RetryDecision is the outcome of RetryState.OnFailure.
type RetryDecision struct {
	Schedule bool
	Attempt  int
	Max      int
	Delay    time.Duration
	Job      string
	// Cancel names the previously pending job, if any.
	Cancel string
	// Reason explains a terminal decision.
	Reason string
}

// RetryState is the idle / retry-pending machine for one plugin instance.
// The counter covers one calendar day: the first run of a new day starts a
// fresh budget, and any success resets it. It is never persisted.
type RetryState struct {
	mu      sync.Mutex
	plugin  string
	count   int
	pending string
	day     string
}

func NewRetryState(plugin string) *RetryState {
	return &RetryState{plugin: plugin}
}

// BeginCycle resets the budget when day differs from the current cycle.
func (s *RetryState) BeginCycle(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day != day {
		s.day = day
		s.count = 0
	}
}

// OnSuccess resets the counter and returns the pending job to cancel.
func (s *RetryState) OnSuccess() (cancel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel = s.pending
	s.count = 0
	s.pending = ""
	return cancel
}

// OnFailure decides whether to retry. minutes must be in
// [RetryMinMinutes, RetryMaxMinutes].
func (s *RetryState) OnFailure(maxRetries, minutes int, now time.Time) RetryDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := RetryDecision{Max: maxRetries, Attempt: s.count}
	switch {
	case maxRetries <= 0:
		d.Reason = MsgNoRetry
		return d
	case s.count >= maxRetries:
		d.Reason = fmt.Sprintf("已达到最大重试次数 (%d)", maxRetries)
		return d
	}
	s.count++
	d.Schedule = true
	d.Attempt = s.count
	d.Delay = time.Duration(minutes) * time.Minute
	d.Cancel = s.pending
	d.Job = fmt.Sprintf("%s:retry-%d", s.plugin, now.Unix())
	s.pending = d.Job
	return d
}

// Fired clears the pending marker once the scheduler ran job.
func (s *RetryState) Fired(job string) {
	s.mu.Lock()
	if s.pending == job {
		s.pending = ""
	}
	s.mu.Unlock()
}

// Abort undoes a decision whose job could not be scheduled.
func (s *RetryState) Abort(d RetryDecision) {
	s.mu.Lock()
	if s.pending == d.Job {
		s.pending = ""
		s.count--
	}
	s.mu.Unlock()
}

func (s *RetryState) Snapshot() (count int, pending string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.pending
}
