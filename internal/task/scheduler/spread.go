package scheduler

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst holds back the first fire of an "@every" schedule by a
// fixed offset; later fires follow the base schedule.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

// everyInterval returns the duration of an "@every" spec.
func everyInterval(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(spec, "@every")
	if !ok {
		return 0, false
	}
	every, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || every <= 0 {
		return 0, false
	}
	return every, true
}

// spreadOffset derives a stable per-name whole-second offset below
// min(every, 30s) so
// plugins sharing an interval do not hit the network in the same second
// and a restart keeps the same phase.
func spreadOffset(name string, every time.Duration) time.Duration {
	secs := uint64(min(every, maxStartupSpread) / time.Second)
	if secs == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%secs) * time.Second
}

func spreadSchedule(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	off := spreadOffset(name, every)
	return delayedFirst{base: cron.Every(every), first: now.Add(every + off)}, off
}
