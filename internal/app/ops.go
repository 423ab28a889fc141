package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"forumsign/internal/signin"
	"forumsign/internal/storage"
	logx "forumsign/pkg/logx"
)

// Result is the outcome of one on-demand check-in.
type Result struct {
	Plugin string
	Record signin.Record
	Err    error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: error: %v", r.Plugin, r.Err)
	}
	return FormatRecord(r.Plugin, r.Record)
}

// RunningPlugins lists the plugins that are enabled and started.
func (a *App) RunningPlugins() []string {
	var out []string
	for _, st := range a.pm.Snapshot().Plugins {
		if st.Running {
			out = append(out, st.Name)
		}
	}
	return out
}

// SignIn runs the named plugins concurrently; no names means every running
// plugin. Each run is audited under actor.
func (a *App) SignIn(ctx context.Context, actor string, names ...string) []Result {
	if len(names) == 0 {
		names = a.RunningPlugins()
	}
	out := make([]Result, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			rec, err := a.pm.Run(ctx, name)
			out[i] = Result{Plugin: name, Record: rec, Err: err}
			meta := map[string]string{"status": rec.Status}
			if rec.AttemptID != "" {
				meta["attempt_id"] = rec.AttemptID
			}
			a.audit(ctx, actor, name, "run", start, err, meta)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ClearHistory drops a plugin's history and audits it.
func (a *App) ClearHistory(ctx context.Context, actor, name string) error {
	start := time.Now()
	err := a.pm.ClearHistory(ctx, name)
	a.audit(ctx, actor, name, "clear_history", start, err, nil)
	return err
}

func (a *App) audit(ctx context.Context, actor, name, action string, start time.Time, err error, meta map[string]string) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Actor:  actor,
		Plugin: name,
		Action: action,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, jerr := json.Marshal(meta); jerr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aerr := a.store.AppendAudit(ctx, e); aerr != nil {
		a.log.Warn("audit append failed", logx.Err(aerr))
	}
}

func joinResults(rs []Result) string {
	if len(rs) == 0 {
		return "no running plugins"
	}
	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}
