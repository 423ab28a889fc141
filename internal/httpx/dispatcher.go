package httpx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	logx "forumsign/pkg/logx"
)

type Strategy interface {
	Name() string
	Do(ctx context.Context, r *Request) (*Response, error)
}

// Options build the standard strategy chain for one plugin.
type Options struct {
	Proxy     string
	VerifySSL bool
	Timeout   time.Duration
	UserAgent string
	Header    map[string]string

	// RatePerSec paces every attempt; 0 means 2/s.
	RatePerSec float64

	// Browser, when set, adds the headless strategy between primary and plain.
	Browser *Browser

	Log logx.Logger
}

type Dispatcher struct {
	strategies []Strategy
	limiter    *rate.Limiter
	log        logx.Logger
}

// New builds primary → browser (optional) → plain.
func New(opt Options) (*Dispatcher, error) {
	hdr := map[string][]string{}
	for k, v := range opt.Header {
		hdr[k] = []string{v}
	}
	base := ClientOptions{Proxy: opt.Proxy, VerifySSL: opt.VerifySSL, Timeout: opt.Timeout, UserAgent: opt.UserAgent}

	primaryOpt := base
	primaryOpt.Spoof, primaryOpt.Jar, primaryOpt.Header = true, true, hdr
	primary, err := NewHTTPStrategy(StrategyPrimary, primaryOpt)
	if err != nil {
		return nil, err
	}
	plain, err := NewHTTPStrategy(StrategyPlain, base)
	if err != nil {
		return nil, err
	}

	chain := []Strategy{primary}
	if opt.Browser != nil {
		chain = append(chain, BrowserStrategy{Browser: opt.Browser})
	}
	chain = append(chain, plain)
	return NewWithStrategies(opt.RatePerSec, opt.Log, chain...), nil
}

func NewWithStrategies(ratePerSec float64, log logx.Logger, strategies ...Strategy) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		strategies: strategies,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), max(1, int(ratePerSec))),
		log:        log,
	}
}

func (d *Dispatcher) Strategies() []string {
	out := make([]string, 0, len(d.strategies))
	for _, s := range d.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Do tries every strategy in order.
func (d *Dispatcher) Do(ctx context.Context, r *Request) (*Response, error) {
	return d.run(ctx, d.strategies, r)
}

// From re-runs the chain starting after the named strategy.
func (d *Dispatcher) From(ctx context.Context, after string, r *Request) (*Response, error) {
	for i, s := range d.strategies {
		if s.Name() == after {
			if i+1 >= len(d.strategies) {
				return nil, ErrNoStrategy
			}
			return d.run(ctx, d.strategies[i+1:], r)
		}
	}
	return nil, fmt.Errorf("httpx: unknown strategy %q", after)
}

func (d *Dispatcher) run(ctx context.Context, chain []Strategy, r *Request) (*Response, error) {
	if len(chain) == 0 {
		return nil, ErrNoStrategy
	}
	var (
		blocked *Response
		lastErr error
	)
	for _, s := range chain {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		resp, err := s.Do(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransportError{Strategy: s.Name(), Err: err}
			d.log.Debug("strategy failed", logx.String("strategy", s.Name()), logx.String("method", r.method()), logx.Err(err))
			continue
		}
		resp.Strategy = s.Name()
		if Blocked(r, resp) {
			blocked = resp
			d.log.Debug("strategy blocked",
				logx.String("strategy", s.Name()),
				logx.Int("status", resp.StatusCode),
				logx.String("content_type", resp.ContentType()),
			)
			continue
		}
		d.log.Debug("request done", logx.String("strategy", s.Name()), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
		return resp, nil
	}
	if blocked != nil {
		return blocked, ErrBlocked
	}
	return nil, lastErr
}
