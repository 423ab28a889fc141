package plugin

import (
	"context"
	"encoding/json"
	"time"

	"forumsign/internal/eventbus"
	"forumsign/internal/httpx"
	"forumsign/internal/signin"
	"forumsign/internal/storage"
	logx "forumsign/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// Runner performs one check-in on demand.
type Runner interface {
	Run(ctx context.Context) (signin.Record, error)
}

type StateDescriber interface {
	DescribeState(ctx context.Context) signin.State
}

type HistoryProvider interface {
	History(ctx context.Context, n int) ([]signin.Record, error)
	ClearHistory(ctx context.Context) error
}

// StatsProvider reports reward statistics. refresh asks the plugin to
// rebuild them instead of returning the cached copy.
type StatsProvider interface {
	Stats(ctx context.Context, refresh bool) (signin.Stats, error)
}

// Scheduler is the slice of the host scheduler plugins use.
type Scheduler interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	Next(name string) (time.Time, bool)
	Location() *time.Location
}

// HTTPDefaults are the host-wide outbound settings each plugin dispatcher
// starts from.
type HTTPDefaults struct {
	Proxy      string
	UserAgent  string
	RatePerSec float64
	// Browser is shared by every plugin; nil disables the browser strategy.
	Browser *httpx.Browser
}

type Deps struct {
	Logger    logx.Logger
	Store     storage.Store
	Scheduler Scheduler
	Notifier  signin.Notifier
	Bus       eventbus.Bus
	HTTP      HTTPDefaults
}

type StopReason string

const (
	StopAppStop          StopReason = "app_stop"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)
