package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forumsign/internal/config"
	"forumsign/internal/task/scheduler"
)

// Fields is a decoded plugin config block. Accessors accept both JSON
// scalars and their string spellings ("3", "true"), which is what settings
// forms tend to produce.
type Fields struct {
	m        map[string]json.RawMessage
	warnings []string
}

func ParseFields(raw json.RawMessage) (*Fields, error) {
	f := &Fields{m: map[string]json.RawMessage{}}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.m); err != nil {
		return nil, fmt.Errorf("plugin config must be an object: %w", err)
	}
	return f, nil
}

// Warnings lists keys that fell back to defaults.
func (f *Fields) Warnings() []string { return f.warnings }

func (f *Fields) warnf(format string, args ...any) {
	f.warnings = append(f.warnings, fmt.Sprintf(format, args...))
}

func (f *Fields) Has(key string) bool {
	v, ok := f.m[key]
	return ok && string(v) != "null"
}

func (f *Fields) String(key, def string) string {
	v, ok := f.m[key]
	if !ok || string(v) == "null" {
		return def
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// Numbers are accepted for ids like member_id.
	return strings.Trim(strings.TrimSpace(string(v)), `"`)
}

func (f *Fields) Bool(key string, def bool) bool {
	v, ok := f.m[key]
	if !ok || string(v) == "null" {
		return def
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	f.warnf("%s: invalid boolean %s, using default %t", key, v, def)
	return def
}

// Int reads an integer in [lo, hi]. Invalid or out-of-range values fall
// back to def with a warning.
func (f *Fields) Int(key string, def, lo, hi int) int {
	v, ok := f.m[key]
	if !ok || string(v) == "null" {
		return def
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			f.warnf("%s: invalid integer %s, using default %d", key, v, def)
			return def
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		n, err = strconv.Atoi(s)
		if err != nil {
			f.warnf("%s: invalid integer %q, using default %d", key, s, def)
			return def
		}
	}
	if n < lo || n > hi {
		f.warnf("%s: %d out of range [%d, %d], using default %d", key, n, lo, hi, def)
		return def
	}
	return n
}

// Duration reads a Go duration string. Unlike integers, a malformed
// duration is a config error.
func (f *Fields) Duration(key string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(key, f.String(key, ""), def)
}

// Common holds the keys every check-in plugin shares.
type Common struct {
	Cookie       string
	Notify       bool
	Cron         string
	OnlyOnce     bool
	ClearHistory bool
	HistoryDays  int
	UseProxy     bool
	MaxRetries   int
	VerifySSL    bool
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
	BaseURL      string
}

// CommonDefaults are the per-plugin defaults for Common.
type CommonDefaults struct {
	Notify  bool
	Cron    string
	BaseURL string
}

// ParseCommon reads the shared keys. Errors are reserved for values that
// cannot be defaulted: a bad cron expression, timeout or base_url.
func ParseCommon(f *Fields, d CommonDefaults) (Common, error) {
	c := Common{
		Cookie:       f.String("cookie", ""),
		Notify:       f.Bool("notify", d.Notify),
		Cron:         f.String("cron", d.Cron),
		OnlyOnce:     f.Bool("onlyonce", false),
		ClearHistory: f.Bool("clear_history", false),
		HistoryDays:  f.Int("history_days", 30, 1, 3650),
		UseProxy:     f.Bool("use_proxy", true),
		MaxRetries:   f.Int("max_retries", 3, 0, 10),
		VerifySSL:    f.Bool("verify_ssl", false),
		BaseURL:      strings.TrimRight(f.String("base_url", d.BaseURL), "/"),
	}
	minDelay := f.Int("min_delay", 5, 0, 3600)
	maxDelay := f.Int("max_delay", 12, 0, 3600)
	if maxDelay < minDelay {
		f.warnf("max_delay %d < min_delay %d, swapping", maxDelay, minDelay)
		minDelay, maxDelay = maxDelay, minDelay
	}
	c.MinDelay = time.Duration(minDelay) * time.Second
	c.MaxDelay = time.Duration(maxDelay) * time.Second

	var err error
	if c.Timeout, err = f.Duration("timeout", 30*time.Second); err != nil {
		return c, err
	}
	if c.Cron != "" {
		if err := scheduler.ValidateSchedule(c.Cron); err != nil {
			return c, fmt.Errorf("cron: %w", err)
		}
	}
	if c.BaseURL == "" || !(strings.HasPrefix(c.BaseURL, "https://") || strings.HasPrefix(c.BaseURL, "http://")) {
		return c, fmt.Errorf("base_url: must be an http(s) URL, got %q", c.BaseURL)
	}
	return c, nil
}
