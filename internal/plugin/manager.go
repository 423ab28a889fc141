package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"forumsign/internal/config"
	"forumsign/internal/eventbus"
	"forumsign/internal/signin"
	"forumsign/internal/task/engine"
	logx "forumsign/pkg/logx"
)

var (
	ErrUnknownPlugin = errors.New("unknown plugin")
	ErrNotRunning    = errors.New("plugin not running")
	ErrNotSupported  = errors.New("operation not supported by plugin")
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// Manager reconciles config with the registered plugins: it starts enabled
// plugins, stops disabled ones, re-applies changed config blobs and
// quarantines plugins whose config fails validation.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *config.ConfigManager
	deps Deps
	reg  map[string]Plugin
	run  map[string]bool
	// Init runs at most once per plugin, even across disable/enable cycles.
	inited map[string]bool
	// last applied config blob hash per running plugin
	lastRawHash map[string]uint64

	// baseCtx outlives the call-scoped contexts passed to StartAll and
	// OnConfigUpdate; BindContext cancels it when the app context ends.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-plugin run context (cancelled on disable/stop)
	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	quarantine map[string]quarantineState
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

func NewManager(log logx.Logger, cfgm *config.ConfigManager, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
	}
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (pm *Manager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *Manager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		pm.emit("plugin.quarantine_cleared", pluginEvent{Plugin: name})
		return
	}
	pm.mu.Unlock()
}

func (pm *Manager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	// Same broken config again: count it, log once.
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr))
	pm.emit(eventbus.PluginQuarantined, pluginEvent{Plugin: name, Stage: stage, Err: errStr, Count: count})
}

// BindContext binds appCtx to baseCtx via cancellation bridge. First non-nil bind wins.
func (pm *Manager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	go func() {
		<-appCtx.Done()
		baseCancel()
	}()
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
}

// Names returns the registered plugin names, sorted.
func (pm *Manager) Names() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *Manager) StopAll(ctx context.Context, reason StopReason) {
	for _, name := range pm.Names() {
		pm.stopOne(ctx, name, reason)
	}
}

func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.BindContext(ctx)
	_ = pm.reconcile(cfg)
}

func (pm *Manager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	if cancel != nil {
		cancel()
	}

	// Stop is bounded by stopCtx; a stuck plugin does not block shutdown.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(eventbus.PluginStopped, pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

func (pm *Manager) reconcile(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("no config loaded")
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       p,
			raw:     raw,
			rawHash: config.CanonicalHash(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	const callTimeout = 10 * time.Second

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.clearQuarantineOnChange(o.name, o.rawHash)
			if pm.isQuarantined(o.name, o.rawHash) {
				pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", o.name))
				continue
			}
			pm.enable(o.name, o.p, o.raw, o.rawHash, callTimeout)

		case !o.enabled && o.run:
			pm.log.Debug("plugin disable requested", logx.String("plugin", o.name))
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()

		case o.enabled && o.run:
			cp, ok := o.p.(ConfigurablePlugin)
			if !ok {
				break
			}
			pm.mu.Lock()
			oldHash := pm.lastRawHash[o.name]
			pctx := pm.pctx[o.name]
			pm.mu.Unlock()
			if o.rawHash == oldHash {
				pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", o.name))
				break
			}
			if pctx == nil {
				pctx = pm.baseCtx
			}
			err := pm.applyConfig(pctx, o.name, o.p, cp, o.raw, callTimeout)
			if err != nil {
				pm.setQuarantine(o.name, o.rawHash, err, "config")
				stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
				pm.stopOne(stopCtx, o.name, StopPluginQuarantine)
				cancel()
				break
			}
			pm.mu.Lock()
			pm.lastRawHash[o.name] = o.rawHash
			delete(pm.quarantine, o.name)
			pm.mu.Unlock()
		}
	}
	return nil
}

func (pm *Manager) enable(name string, p Plugin, raw config.PluginConfigRaw, rawHash uint64, callTimeout time.Duration) {
	pm.log.Debug("plugin enable requested", logx.String("plugin", name))

	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	pm.mu.Unlock()
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			pm.emit("plugin.init_failed", pluginEvent{Plugin: name, Err: err.Error()})
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		if err := pm.applyConfig(pctx, name, p, cp, raw, callTimeout); err != nil {
			pm.setQuarantine(name, rawHash, err, "config")
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		pm.emit("plugin.start_failed", pluginEvent{Plugin: name, Err: err.Error()})
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(eventbus.PluginStarted, pluginEvent{Plugin: name})
}

// applyConfig validates and then applies raw, each bounded by timeout.
func (pm *Manager) applyConfig(pctx context.Context, name string, p Plugin, cp ConfigurablePlugin, raw config.PluginConfigRaw, timeout time.Duration) error {
	if v, ok := p.(ConfigValidator); ok {
		cctx, cancel := context.WithTimeout(pctx, timeout)
		err := pm.safeCall("plugin.validate."+name, func() error { return v.ValidateConfig(cctx, raw.Config) })
		cancel()
		if err != nil {
			pm.emit("plugin.config_invalid", pluginEvent{Plugin: name, Err: err.Error()})
			return fmt.Errorf("config validate: %w", err)
		}
	}
	cctx, cancel := context.WithTimeout(pctx, timeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	cancel()
	if err != nil {
		pm.emit("plugin.config_failed", pluginEvent{Plugin: name, Err: err.Error()})
		return fmt.Errorf("config apply: %w", err)
	}
	pm.emit("plugin.config_applied", pluginEvent{Plugin: name})
	return nil
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()

		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

// ValidateConfig checks every enabled plugin block before a config is
// committed. It does not call Init/Start/Stop.
func (pm *Manager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	type target struct {
		name string
		v    ConfigValidator
		raw  config.PluginConfigRaw
	}
	pm.mu.Lock()
	var targets []target
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		if v, ok := p.(ConfigValidator); ok {
			targets = append(targets, target{name: name, v: v, raw: raw})
		}
	}
	pm.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	for _, t := range targets {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.safeCall("plugin.validate."+t.name, func() error { return t.v.ValidateConfig(cctx, t.raw.Config) })
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", t.name, err)
		}
	}
	return nil
}

func (pm *Manager) Snapshot() PluginsSnapshot {
	var cfg *config.Config
	if pm.cfgm != nil {
		cfg = pm.cfgm.Get()
	}
	names := pm.Names()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := PluginsSnapshot{Time: time.Now(), Plugins: make([]PluginStatus, 0, len(names))}
	for _, name := range names {
		st := PluginStatus{Name: name, Running: pm.run[name]}
		if cfg != nil {
			if r, ok := cfg.Plugins[name]; ok {
				st.Enabled = r.Enabled
				st.HasConfig = true
			}
		}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.QuarantineErr = q.err
			st.QuarantineSince = q.since
		}
		out.Plugins = append(out.Plugins, st)
	}
	return out
}

// lookup returns the plugin and whether it is running.
func (pm *Manager) lookup(name string) (Plugin, bool, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.reg[name]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return p, pm.run[name], nil
}

// Run performs a check-in synchronously. The plugin must be running so
// its config is applied.
func (pm *Manager) Run(ctx context.Context, name string) (signin.Record, error) {
	p, running, err := pm.lookup(name)
	if err != nil {
		return signin.Record{}, err
	}
	if !running {
		return signin.Record{}, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	r, ok := p.(Runner)
	if !ok {
		return signin.Record{}, ErrNotSupported
	}
	var rec signin.Record
	err = pm.safeCall("plugin.run."+name, func() error {
		var rerr error
		rec, rerr = r.Run(ctx)
		return rerr
	})
	return rec, err
}

// Trigger queues a check-in on the task engine and returns the job name.
func (pm *Manager) Trigger(name string, timeout time.Duration) (string, error) {
	p, running, err := pm.lookup(name)
	if err != nil {
		return "", err
	}
	if !running {
		return "", fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	r, ok := p.(Runner)
	if !ok {
		return "", ErrNotSupported
	}
	if pm.deps.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	job := name + ":manual"
	log := pm.log.With(logx.String("plugin", name))
	return pm.deps.Scheduler.AddOnce(job, time.Now(), timeout, func(ctx context.Context) error {
		err := pm.safeCall("plugin.run."+name, func() error {
			rec, rerr := r.Run(ctx)
			if rerr == nil {
				log.Info("manual check-in finished", logx.String("status", rec.Status))
			}
			return rerr
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, signin.ErrAlreadyRunning):
			log.Info("manual check-in skipped: previous run still active")
			return nil
		}
		// Forum failures come back as records; an error here means the run
		// never happened. Keep it in the engine history, without retries.
		log.Warn("manual check-in failed", logx.Err(err))
		return engine.NoRetry(err)
	})
}

func (pm *Manager) State(ctx context.Context, name string) (signin.State, error) {
	p, running, err := pm.lookup(name)
	if err != nil {
		return signin.State{}, err
	}
	sd, ok := p.(StateDescriber)
	if !ok {
		return signin.State{Plugin: name, Running: running}, nil
	}
	st := sd.DescribeState(ctx)
	if !running {
		st.Enabled = false
	}
	return st, nil
}

func (pm *Manager) History(ctx context.Context, name string, n int) ([]signin.Record, error) {
	p, _, err := pm.lookup(name)
	if err != nil {
		return nil, err
	}
	hp, ok := p.(HistoryProvider)
	if !ok {
		return nil, ErrNotSupported
	}
	return hp.History(ctx, n)
}

func (pm *Manager) ClearHistory(ctx context.Context, name string) error {
	p, _, err := pm.lookup(name)
	if err != nil {
		return err
	}
	hp, ok := p.(HistoryProvider)
	if !ok {
		return ErrNotSupported
	}
	return hp.ClearHistory(ctx)
}

func (pm *Manager) Stats(ctx context.Context, name string, refresh bool) (signin.Stats, error) {
	p, _, err := pm.lookup(name)
	if err != nil {
		return signin.Stats{}, err
	}
	sp, ok := p.(StatsProvider)
	if !ok {
		return signin.Stats{}, ErrNotSupported
	}
	return sp.Stats(ctx, refresh)
}
