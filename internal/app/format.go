package app

import (
	"fmt"
	"strings"

	"forumsign/internal/signin"
)

const timeLayout = "2006-01-02 15:04:05"

// FormatRecord renders one record on a single line.
func FormatRecord(name string, r signin.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s", r.Time.Format(timeLayout), name, r.Status)
	if r.Gain > 0 {
		fmt.Fprintf(&b, "  +%d", r.Gain)
	}
	if r.Rank > 0 {
		fmt.Fprintf(&b, "  #%d/%d", r.Rank, r.TotalSigners)
	}
	if r.Retry > 0 {
		fmt.Fprintf(&b, "  retry=%d", r.Retry)
	}
	if m := strings.TrimSpace(r.Message); m != "" && m != r.Status {
		b.WriteString("  ")
		b.WriteString(m)
	}
	return b.String()
}

// FormatHistory lists records newest first.
func FormatHistory(name string, recs []signin.Record) string {
	if len(recs) == 0 {
		return name + ": no history"
	}
	lines := make([]string, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		lines = append(lines, FormatRecord(name, recs[i]))
	}
	return strings.Join(lines, "\n")
}

func FormatState(st signin.State) string {
	var b strings.Builder
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "%s (%s)", st.Plugin, state)
	if st.SignedToday {
		b.WriteString(" signed today")
	} else if st.LastSignDate != "" {
		fmt.Fprintf(&b, " last signed %s", st.LastSignDate)
	}
	if st.Cron != "" {
		fmt.Fprintf(&b, "\n  cron %s", st.Cron)
		if !st.NextRun.IsZero() {
			fmt.Fprintf(&b, ", next %s", st.NextRun.Format(timeLayout))
		}
	}
	if st.RetryCount > 0 || st.PendingRetry != "" {
		fmt.Fprintf(&b, "\n  retries %d/%d", st.RetryCount, st.MaxRetries)
		if st.PendingRetry != "" {
			fmt.Fprintf(&b, ", pending %s", st.PendingRetry)
		}
	}
	if st.LastRecord != nil {
		b.WriteString("\n  last ")
		b.WriteString(FormatRecord(st.Plugin, *st.LastRecord))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "\n  error %s", st.LastError)
	}
	return b.String()
}

func FormatStats(name string, st signin.Stats) string {
	updated := "never"
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.Format(timeLayout)
	}
	return fmt.Sprintf("%s: %d check-ins in %d days, total %d, average %.2f (source %s, updated %s)",
		name, st.Count, st.Days, st.Total, st.Average, st.Source, updated)
}
