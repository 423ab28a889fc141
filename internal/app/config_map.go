package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"forumsign/internal/api"
	"forumsign/internal/config"
	"forumsign/internal/httpx"
	"forumsign/internal/notifier"
	"forumsign/internal/plugin"
	"forumsign/internal/task/engine"
	kit "forumsign/internal/transport"
	logx "forumsign/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// chatTarget parses telegram.chat_id. An empty id yields the zero target.
func chatTarget(cfg *config.Config) (kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.ChatID)
	if raw == "" {
		return kit.ChatTarget{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.chat_id: invalid %q: %w", raw, err)
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID}, nil
}

// mapTaskEngineConfig applies defaults. The engine is on by default since
// manual triggers and retries run as one-shot jobs even when cron
// triggers are disabled.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   64,
		HistorySize: 200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	switch {
	case te.Workers < 0:
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	case te.QueueSize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	case te.HistorySize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	case te.RetryMax < 0:
		return engine.Config{}, fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapNotifierConfig applies defaults; an omitted section means enabled.
// Notifications go to Telegram when a chat is configured and the bot is
// available, otherwise to the log.
func mapNotifierConfig(cfg *config.Config, haveTelegram bool) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       128,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
		DefaultChannel:  channelLog,
	}
	target, err := chatTarget(cfg)
	if err != nil {
		return notifier.Config{}, err
	}
	if haveTelegram && target.ChatID != 0 {
		out.DefaultChannel = channelTelegram
		out.DefaultTarget = target
	}

	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers < 0 || n.QueueSize < 0 || n.RetryMax < 0 || n.RatePerSec < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size, rate_per_sec, retry_max and dedup_max_entries must be >= 0")
	}
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapHTTPDefaults builds the plugin-facing HTTP defaults. The browser is
// returned separately so the app can close it on stop.
func mapHTTPDefaults(cfg *config.Config, log logx.Logger) (plugin.HTTPDefaults, *httpx.Browser, error) {
	h := cfg.HTTP
	out := plugin.HTTPDefaults{
		Proxy:      strings.TrimSpace(h.Proxy),
		UserAgent:  strings.TrimSpace(h.UserAgent),
		RatePerSec: h.RatePerSec,
	}
	if h.RatePerSec < 0 {
		return out, nil, fmt.Errorf("http.rate_per_sec must be >= 0")
	}
	pageTimeout, err := config.ParseDurationField("http.timeout", h.Timeout)
	if err != nil {
		return out, nil, err
	}
	if !h.Browser.Enabled {
		return out, nil, nil
	}
	launch, err := config.ParseDurationOrDefault("http.browser.launch_timeout", h.Browser.LaunchTimeout, 45*time.Second)
	if err != nil {
		return out, nil, err
	}
	headless := true
	if h.Browser.Headless != nil {
		headless = *h.Browser.Headless
	}
	out.Browser = httpx.NewBrowser(httpx.BrowserConfig{
		Bin:           strings.TrimSpace(h.Browser.Bin),
		Headless:      headless,
		Proxy:         out.Proxy,
		LaunchTimeout: launch,
		PageTimeout:   pageTimeout,
	}, log)
	return out, out.Browser, nil
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    strings.TrimSpace(cfg.API.Addr),
		Token:   strings.TrimSpace(cfg.API.Token),
		Pprof:   cfg.API.Pprof,
	}
}
