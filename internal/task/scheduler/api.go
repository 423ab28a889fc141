package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"forumsign/internal/task/engine"
	logx "forumsign/pkg/logx"
)

var ErrNameRequired = errors.New("schedule name required")

// AddSchedule registers a cron trigger under name, replacing any trigger
// with the same name. Accepted forms are 5- or 6-field cron expressions and
// descriptors such as "@daily" or "@every 24h", optionally prefixed with
// "cron:".
//
// Scheduled jobs skip a trigger while a previous run is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	expr, err := NormalizeSchedule(schedule)
	if err != nil {
		return "", err
	}
	return s.addDef(name, expr, timeout, opt, job)
}

func (s *Service) addDef(name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.removeOnce(name)

	s.defs = append(s.defs, scheduleDef{
		id:      fmt.Sprintf("cron:%d", time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil || !s.cfg.Enabled {
		// Registered on Start, or when the scheduler gets enabled.
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// AddOnce runs job once at the given time. Past times fire immediately.
// One-shot jobs are not retried by the engine.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	return s.AddOnceOpt(name, at, timeout, TaskOptions{RetryMax: -1}, job)
}

func (s *Service) AddOnceOpt(name string, at time.Time, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev := s.once[name]; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	s.onceSeq++
	d := &onceDef{at: at, timeout: timeout, job: job, opt: opt, ver: s.onceSeq}
	s.once[name] = d
	if s.running {
		s.armOnceLocked(name, d)
	}
	s.log.Debug("one-shot registered", logx.String("name", name), logx.Time("at", at))
	return name, nil
}

// Remove unregisters every trigger with the given name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	removed = s.removeOnce(name) || removed
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a trigger with the given name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	for _, d := range s.defs {
		if d.name == name {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.once[name]
	return ok
}

// Next returns the next fire time of the named cron or one-shot trigger.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	for _, d := range s.defs {
		if d.name == name && s.c != nil && d.entryID != 0 {
			next := s.c.Entry(d.entryID).Next
			s.mu.Unlock()
			return next, !next.IsZero()
		}
	}
	s.mu.Unlock()
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if d := s.once[name]; d != nil {
		return d.at, true
	}
	return time.Time{}, false
}

// removeScheduleLocked drops cron definitions by name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// armOnceLocked starts the timer for d. Call with s.tmu held.
func (s *Service) armOnceLocked(name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() { s.fireOnce(name, ver) })
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[name]
	// A replaced or removed definition leaves a stale callback behind.
	if !ok || d.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{Name: name, Timeout: d.timeout, Run: d.job, Opt: d.opt, State: &engine.RunState{}})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// addCronLocked registers d with cron and records its entry id. The cron
// closure copies the task fields: s.defs is compacted in place on removal,
// so a pointer into it may later hold another definition.
func (s *Service) addCronLocked(d *scheduleDef) error {
	task := engine.Task{Name: d.name, Timeout: d.timeout, Run: d.job, Opt: d.opt, State: d.state}
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		if err := s.engine.Enqueue(task); err != nil {
			s.reportEnqueueError(task.Name, err)
		}
	})

	// "@every" triggers get a per-name startup offset so they do not all fire together.
	if every, ok := everyInterval(d.spec); ok {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, spread := spreadSchedule(d.name, every, time.Now().In(loc))
		d.startupSpread = spread
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// previewNextRunsLocked lists upcoming run times for debug logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
