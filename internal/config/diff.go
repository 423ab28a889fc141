package config

import (
	"reflect"
	"sort"
	"strings"

	logx "forumsign/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe
// structured fields for logging and the names of plugins whose enable flag
// or config blob changed. Secrets (tokens, cookies, passwords) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID || ot.Commands != nt.Commands ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || (ot.Token != "") != (nt.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nt.Token != ""),
			logx.Bool("telegram.chat_set", strings.TrimSpace(nt.ChatID) != ""),
			logx.Bool("telegram.commands", nt.Commands),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}

	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", nDriver), logx.Bool("storage.driver_changed", oDriver != nDriver))
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.proxy_set", strings.TrimSpace(newCfg.HTTP.Proxy) != ""),
			logx.Bool("http.browser", newCfg.HTTP.Browser.Enabled),
		)
	}

	oa, na := oldCfg.API, newCfg.API
	if oa.Enabled != na.Enabled || oa.Addr != na.Addr || oa.Pprof != na.Pprof || (oa.Token != "") != (na.Token != "") {
		changed = append(changed, "api")
		attrs = append(attrs, logx.Bool("api.enabled", na.Enabled), logx.String("api.addr", na.Addr))
	}

	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, n := oldM[name], newM[name]
		if o.Enabled != n.Enabled || CanonicalHash(o.Config) != CanonicalHash(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
