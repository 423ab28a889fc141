package scheduler

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"forumsign/internal/eventbus"
	"forumsign/internal/task/engine"
	logx "forumsign/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		engine:      eng,
		parser:      cronParser,
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the scheduler time zone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Apply swaps the config. A timezone or enable change re-registers every
// cron definition.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) || prev.Enabled != cfg.Enabled {
		s.restartLocked()
	}
}

// Start begins triggering and arms the pending one-shot timers.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if s.cfg.Enabled {
		for i := range s.defs {
			if err := s.addCronLocked(&s.defs[i]); err != nil {
				s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
			}
		}
	}
	s.c.Start()

	s.tmu.Lock()
	s.running = true
	for name, d := range s.once {
		s.armOnceLocked(name, d)
	}
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Bool("enabled", s.cfg.Enabled), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. One-shot definitions stay so Start can re-arm them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.running = false
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	if snap.Timezone == "" {
		snap.Timezone = loc.String()
	}
	snap.Schedules = make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout, Spread: d.startupSpread}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	s.tmu.Lock()
	snap.Once = make([]OnceInfo, 0, len(s.once))
	for name, d := range s.once {
		snap.Once = append(snap.Once, OnceInfo{Name: name, At: d.at.In(loc)})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Once, func(i, j int) bool { return snap.Once[i].At.Before(snap.Once[j].At) })

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		if s.cfg.Enabled {
			_ = s.addCronLocked(&s.defs[i])
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Bool("enabled", s.cfg.Enabled), logx.Int("schedules", len(s.defs)))
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}
