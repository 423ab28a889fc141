package enshan

import (
	"encoding/json"

	"forumsign/internal/plugin"
)

const (
	DefaultBaseURL = "https://www.right.com.cn"
	DefaultCron    = "0 9 * * *"
)

// Config is the enshansignin block. Mood and Say fill the sign form's
// qdxq and todaysay fields.
type Config struct {
	plugin.Common

	Mood string
	Say  string
}

func parseConfig(raw json.RawMessage) (Config, *plugin.Fields, error) {
	f, err := plugin.ParseFields(raw)
	if err != nil {
		return Config{}, nil, err
	}
	common, err := plugin.ParseCommon(f, plugin.CommonDefaults{
		Notify:  true,
		Cron:    DefaultCron,
		BaseURL: DefaultBaseURL,
	})
	if err != nil {
		return Config{}, f, err
	}
	return Config{
		Common: common,
		Mood:   f.String("mood", "kx"),
		Say:    f.String("todaysay", "Daily Checkin"),
	}, f, nil
}
