package scheduler

import (
	"errors"
	"time"

	"forumsign/internal/task/engine"
	logx "forumsign/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

type EnqueueFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips are routine for a slow job on a tight schedule.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.publish("schedule.enqueue_failed", EnqueueFailure{Name: name, Error: err.Error()})

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
