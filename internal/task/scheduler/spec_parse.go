package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field and 6-field (leading seconds) specs and
// descriptors such as "@daily" and "@every 24h".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NormalizeSchedule trims raw, drops an optional "cron:" prefix and checks
// that the rest parses. The returned expression is what gets registered.
func NormalizeSchedule(raw string) (string, error) {
	expr := strings.TrimSpace(raw)
	if len(expr) >= len("cron:") && strings.EqualFold(expr[:len("cron:")], "cron:") {
		expr = strings.TrimSpace(expr[len("cron:"):])
	}
	if expr == "" {
		return "", errors.New("schedule required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cron %q (use e.g. '0 9 * * *' or '@every 24h'): %w", expr, err)
	}
	return expr, nil
}

// ValidateSchedule reports whether raw is accepted by AddSchedule.
func ValidateSchedule(raw string) error {
	_, err := NormalizeSchedule(raw)
	return err
}
