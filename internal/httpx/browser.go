package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/singleflight"

	logx "forumsign/pkg/logx"
)

// BrowserConfig controls the shared headless Chrome.
type BrowserConfig struct {
	Bin           string
	Headless      bool
	Proxy         string
	LaunchTimeout time.Duration
	// PageTimeout bounds one Fetch; 0 leaves it to the caller's context.
	PageTimeout time.Duration
}

// Browser is a lazily launched Chrome shared by every plugin. Concurrent
// first calls launch it once.
type Browser struct {
	cfg BrowserConfig
	log logx.Logger

	sf singleflight.Group

	mu     sync.Mutex
	b      *rod.Browser
	warmed map[string]bool
	closed bool
}

var ErrBrowserClosed = errors.New("httpx: browser closed")

func NewBrowser(cfg BrowserConfig, log logx.Logger) *Browser {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 45 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Browser{cfg: cfg, log: log, warmed: map[string]bool{}}
}

func (b *Browser) get(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrowserClosed
	}
	if b.b != nil {
		br := b.b
		b.mu.Unlock()
		return br, nil
	}
	b.mu.Unlock()

	v, err, _ := b.sf.Do("launch", func() (any, error) {
		b.mu.Lock()
		if b.b != nil {
			br := b.b
			b.mu.Unlock()
			return br, nil
		}
		b.mu.Unlock()

		br, err := b.launch(ctx)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			_ = br.Close()
			return nil, ErrBrowserClosed
		}
		b.b = br
		return br, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rod.Browser), nil
}

func (b *Browser) launch(ctx context.Context) (*rod.Browser, error) {
	lctx, cancel := context.WithTimeout(ctx, b.cfg.LaunchTimeout)
	defer cancel()

	l := launcher.New().Context(lctx).Headless(b.cfg.Headless).NoSandbox(true)
	bin := strings.TrimSpace(b.cfg.Bin)
	if bin == "" {
		if p, ok := launcher.LookPath(); ok {
			bin = p
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if p := strings.TrimSpace(b.cfg.Proxy); p != "" {
		l = l.Proxy(p)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.log.Info("browser launched", logx.String("bin", bin), logx.Bool("headless", b.cfg.Headless))
	return br, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	br := b.b
	b.b = nil
	b.closed = true
	b.mu.Unlock()
	if br == nil {
		return nil
	}
	return br.Close()
}

// fetchJS runs inside the page so the request carries the page's cookies
// and CloudFlare clearance.
const fetchJS = `(method, url, headers, body) => fetch(url, {
	method: method,
	headers: headers,
	body: body === "" ? undefined : body,
	credentials: "include",
}).then(async (r) => ({
	status: r.status,
	contentType: r.headers.get("content-type") || "",
	body: await r.text(),
}))`

// Headers the page sets itself; fetch() rejects or ignores them.
var forbiddenFetchHeaders = map[string]bool{
	"Cookie": true, "Host": true, "User-Agent": true, "Referer": true, "Origin": true,
	"Accept-Encoding": true, "Connection": true, "Content-Length": true,
}

// Fetch navigates a fresh page to the request origin and replays the
// request with fetch(). The first visit to an origin waits for the page to
// settle so a JS challenge can complete.
func (b *Browser) Fetch(ctx context.Context, r *Request) (*Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, err
	}
	origin := u.Scheme + "://" + u.Host

	if b.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.PageTimeout)
		defer cancel()
	}
	br, err := b.get(ctx)
	if err != nil {
		return nil, err
	}
	page, err := br.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if ua := r.Header.Get("User-Agent"); ua != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
	}
	if cookies := cookieParams(r.Header.Get("Cookie"), origin); len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	if err := page.Navigate(origin); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", origin, err)
	}
	_ = page.WaitLoad()
	b.mu.Lock()
	first := !b.warmed[origin]
	b.warmed[origin] = true
	b.mu.Unlock()
	if first {
		_ = page.WaitIdle(5 * time.Second)
		b.log.Debug("browser warmed origin", logx.String("origin", origin))
	}

	headers := map[string]string{}
	for k, vs := range r.Header {
		k = http.CanonicalHeaderKey(k)
		if forbiddenFetchHeaders[k] || len(vs) == 0 {
			continue
		}
		headers[k] = vs[0]
	}
	res, err := page.Evaluate(rod.Eval(fetchJS, r.method(), r.URL, headers, string(r.Body)).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("browser fetch: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", res.Value.Get("contentType").Str())
	return &Response{
		StatusCode: res.Value.Get("status").Int(),
		Header:     hdr,
		Body:       []byte(res.Value.Get("body").Str()),
		Strategy:   StrategyBrowser,
	}, nil
}

// cookieParams turns a Cookie header into CDP cookies bound to origin.
func cookieParams(header, origin string) []*proto.NetworkCookieParam {
	var out []*proto.NetworkCookieParam
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, &proto.NetworkCookieParam{Name: name, Value: value, URL: origin})
	}
	return out
}

// BrowserStrategy adapts a shared Browser to the Strategy interface.
type BrowserStrategy struct {
	Browser *Browser
}

func (s BrowserStrategy) Name() string { return StrategyBrowser }

func (s BrowserStrategy) Do(ctx context.Context, r *Request) (*Response, error) {
	return s.Browser.Fetch(ctx, r)
}
