package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"forumsign/internal/eventbus"
	"forumsign/internal/task/engine"
	logx "forumsign/pkg/logx"
)

// Config controls the trigger service. Execution settings live in engine.Config.
type Config struct {
	// Enabled gates cron triggers ("@every" included). One-shot jobs always fire.
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"
}

type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

type Job = func(ctx context.Context) error

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	opt           TaskOptions
	state         *engine.RunState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	opt     TaskOptions
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// once definitions outlive Stop so they resume on the next Start.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
	running bool
}

type ScheduleInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitzero"`
	Prev    time.Time     `json:"prev,omitzero"`
	Spread  time.Duration `json:"startup_spread,omitempty"`
}

type OnceInfo struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Timezone  string          `json:"timezone"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Once      []OnceInfo      `json:"once"`
	Engine    engine.Snapshot `json:"engine"`
}
