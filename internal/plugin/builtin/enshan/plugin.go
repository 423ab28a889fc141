// Package enshan checks in to the Right.com.cn (Enshan) Discuz! forum
// through the dsu_paulsign plugin.
package enshan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"forumsign/internal/httpx"
	"forumsign/internal/plugin"
	"forumsign/internal/signin"
	logx "forumsign/pkg/logx"
)

const (
	Name  = "enshansignin"
	Title = "恩山论坛签到"
)

type Plugin struct {
	plugin.Base

	mu  sync.RWMutex
	cfg Config
	set bool
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	p.InitBase(deps, Name, Title, p, signin.Hooks{AfterRun: p.afterRun})
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

	if err := p.ApplyConfig(ctx, raw, c.Common, signin.Options{}, nil); err != nil {
		p.mu.Lock()
		p.cfg, p.set = prev, prevSet
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Plugin) current() (Config, *httpx.Dispatcher) {
	p.mu.RLock()
	c, set := p.cfg, p.set
	p.mu.RUnlock()
	if !set {
		return c, nil
	}
	return c, p.Dispatcher()
}

func (p *Plugin) request(c Config, method, target string) *httpx.Request {
	req := httpx.NewRequest(method, target)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Cookie", c.Cookie)
	req.Header.Set("Referer", c.BaseURL+"/forum/forum.php")
	if u, err := url.Parse(c.BaseURL); err == nil {
		req.Header.Set("Host", u.Host)
	}
	return req
}

// SignIn loads the forum index for the formhash, then posts the sign form.
func (p *Plugin) SignIn(ctx context.Context) (signin.Attempt, error) {
	c, disp := p.current()
	if disp == nil {
		return signin.Attempt{}, signin.Errorf(signin.KindMissingCredential, "forum", "plugin not configured")
	}

	resp, err := disp.Do(ctx, p.request(c, http.MethodGet, c.BaseURL+"/forum/forum.php"))
	if err != nil {
		return signin.Attempt{}, fmt.Errorf("forum page: %w", err)
	}
	page := decodeBody(resp.Body, resp.Header.Get("Content-Type"))
	if loggedOut(pageText(page)) {
		return signin.Attempt{Outcome: signin.InvalidCookie, Message: "Cookie已失效，请重新获取"}, nil
	}
	formhash := findFormhash(page)
	if formhash == "" {
		return signin.Attempt{Outcome: signin.Unknown, Message: msgNoFormhash},
			signin.Errorf(signin.KindUnexpectedResponse, "formhash", "%s (HTTP %d)", msgNoFormhash, resp.StatusCode)
	}
	p.Log.Debug("formhash found", logx.String("strategy", resp.Strategy))

	form := url.Values{
		"formhash":  {formhash},
		"qdxq":      {c.Mood},
		"qdmode":    {"1"},
		"todaysay":  {c.Say},
		"fastreply": {"0"},
	}
	req := httpx.NewForm(c.BaseURL+"/forum/plugin.php?id=dsu_paulsign:sign&operation=qiandao&infloat=1&inajax=1", form)
	for k, v := range p.request(c, http.MethodPost, "").Header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	sresp, err := disp.Do(ctx, req)
	if err != nil {
		return signin.Attempt{}, fmt.Errorf("sign: %w", err)
	}
	return classifySign(decodeBody(sresp.Body, sresp.Header.Get("Content-Type"))), nil
}

func (p *Plugin) afterRun(ctx context.Context, _ signin.Record) {
	c, _ := p.current()
	if _, err := p.LocalStats(ctx, c.HistoryDays); err != nil {
		p.Log.Warn("refresh stats failed", logx.Err(err))
	}
}

func (p *Plugin) Stats(ctx context.Context, refresh bool) (signin.Stats, error) {
	if !refresh {
		if st, ok, err := p.CachedStats(ctx); err == nil && ok {
			return st, nil
		}
	}
	c, _ := p.current()
	return p.LocalStats(ctx, c.HistoryDays)
}
