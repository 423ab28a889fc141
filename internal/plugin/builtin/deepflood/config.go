package deepflood

import (
	"encoding/json"
	"time"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
)

const DefaultBaseURL = "https://www.deepflood.com"

// Config is the deepflood_sign block.
//
//	plugins:
//	  deepflood_sign:
//	    enabled: true
//	    config:
//	      cookie: "session=..."
//	      cron: "30 8 * * *"
//	      random_choice: true
//	      member_id: "1234"
type Config struct {
	plugin.Common

	// RandomChoice asks for the random reward instead of the fixed one.
	RandomChoice bool
	MemberID     string
	StatsDays    int
	// ConfirmWindow bounds the time-proximity fallback; 0 disables it.
	ConfirmWindow time.Duration
}

func parseConfig(raw json.RawMessage) (Config, *plugin.Fields, error) {
	f, err := plugin.ParseFields(raw)
	if err != nil {
		return Config{}, nil, err
	}
	common, err := plugin.ParseCommon(f, plugin.CommonDefaults{BaseURL: DefaultBaseURL})
	if err != nil {
		return Config{}, f, err
	}
	c := Config{
		Common:       common,
		RandomChoice: f.Bool("random_choice", true),
		MemberID:     f.String("member_id", ""),
		StatsDays:    f.Int("stats_days", 30, 1, 365),
	}
	c.ConfirmWindow = signin.DefaultConfirmWindow
	if f.Has("confirm_window") {
		// "0" and "0s" disable the window.
		if c.ConfirmWindow, err = f.Duration("confirm_window", 0); err != nil {
			return c, f, err
		}
	}
	return c, f, nil
}
