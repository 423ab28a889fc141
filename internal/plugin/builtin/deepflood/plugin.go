// Package deepflood checks in to the DeepFlood forum through its JSON API.
package deepflood

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
	logx "forumsign/pkg/logx"
)

const (
	Name  = "deepflood_sign"
	Title = "DeepFlood论坛签到"

	keyUserInfo = "last_user_info"
)

type Plugin struct {
	plugin.Base

	mu  sync.RWMutex
	cfg Config
	set bool

	now func() time.Time
}

func New() *Plugin { return &Plugin{now: time.Now} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	p.InitBase(deps, Name, Title, p, signin.Hooks{
		SuccessText: p.successText,
		AfterRun:    p.afterRun,
	})
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	_, _, err := parseConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, f, err := parseConfig(raw)
	if err != nil {
		return err
	}
	p.WarnFields(f)

	p.mu.Lock()
	prev, prevSet := p.cfg, p.set
	p.cfg, p.set = c, true
	p.mu.Unlock()

	opts := signin.Options{Confirm: true, ConfirmWindow: c.ConfirmWindow}
	header := map[string]string{"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8"}
	if err := p.ApplyConfig(ctx, raw, c.Common, opts, header); err != nil {
		p.mu.Lock()
		p.cfg, p.set = prev, prevSet
		p.mu.Unlock()
		return err
	}
	p.Log.Info("deepflood options",
		logx.Bool("random_choice", c.RandomChoice),
		logx.String("member_id", c.MemberID),
		logx.Int("stats_days", c.StatsDays),
		logx.Duration("confirm_window", c.ConfirmWindow),
	)
	return nil
}

// current returns the applied config and a client on the current dispatcher.
func (p *Plugin) current() (Config, *client) {
	p.mu.RLock()
	c, set := p.cfg, p.set
	p.mu.RUnlock()
	disp := p.Dispatcher()
	if !set || disp == nil {
		return c, nil
	}
	return c, newClient(disp, c)
}

// SignIn posts the check-in, then merges the attendance board so the
// record carries reward, rank and the server-side timestamp.
func (p *Plugin) SignIn(ctx context.Context) (signin.Attempt, error) {
	_, cli := p.current()
	if cli == nil {
		return signin.Attempt{}, signin.Errorf(signin.KindMissingCredential, "attendance", "plugin not configured")
	}
	att, err := cli.attend(ctx)
	if att.Outcome == signin.InvalidCookie || ctx.Err() != nil {
		return att, err
	}

	b, berr := cli.board(ctx)
	if berr != nil {
		p.Log.Warn("fetch attendance board failed", logx.Err(berr))
		return att, err
	}
	att.RecordedAt = b.CreatedAt
	if att.Outcome.Signed() || p.sameDay(b.CreatedAt) {
		if b.Gain > 0 {
			att.Gain = b.Gain
		}
		att.Rank = b.Rank
		att.TotalSigners = b.Total
	}
	return att, err
}

func (p *Plugin) sameDay(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	loc := p.Location()
	return t.In(loc).Format(time.DateOnly) == p.now().In(loc).Format(time.DateOnly)
}

func (p *Plugin) successText(ctx context.Context, rec signin.Record) string {
	text := signin.DefaultSuccessText(rec, p.Location())
	info, ok := p.userInfo(ctx)
	if !ok {
		return text
	}
	var b strings.Builder
	if info.MemberName != "" {
		fmt.Fprintf(&b, "用户: %s (ID %d)\n", info.MemberName, info.MemberID)
	}
	fmt.Fprintf(&b, "等级: %d  鸡腿: %d  星辰: %d\n", info.Rank, info.Coin, info.Stardust)
	return b.String() + text
}

// userInfo fetches the member profile, falling back to the cached copy.
func (p *Plugin) userInfo(ctx context.Context) (UserInfo, bool) {
	c, cli := p.current()
	if c.MemberID == "" || cli == nil {
		return UserInfo{}, false
	}
	h := p.HistoryStore()
	info, err := cli.userInfo(ctx, c.MemberID)
	if err == nil {
		if err := h.SaveJSON(ctx, keyUserInfo, info); err != nil {
			p.Log.Warn("save user info failed", logx.Err(err))
		}
		return info, true
	}
	p.Log.Warn("fetch user info failed", logx.String("member_id", c.MemberID), logx.Err(err))
	ok, lerr := h.LoadJSON(ctx, keyUserInfo, &info)
	return info, ok && lerr == nil
}

func (p *Plugin) afterRun(context.Context, signin.Record) {
	p.Go("stats", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		st, err := p.refreshStats(ctx)
		if err != nil {
			p.Log.Warn("refresh stats failed", logx.Err(err))
			return
		}
		p.Log.Info("stats refreshed",
			logx.String("source", st.Source),
			logx.Int("count", st.Count),
			logx.Int("total", st.Total),
		)
	})
}

func (p *Plugin) Stats(ctx context.Context, refresh bool) (signin.Stats, error) {
	if !refresh {
		if st, ok, err := p.CachedStats(ctx); err == nil && ok {
			return st, nil
		}
	}
	return p.refreshStats(ctx)
}
