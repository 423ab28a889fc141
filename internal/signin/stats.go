package signin

import "time"

const (
	StatsSourceLedger  = "ledger"
	StatsSourceHistory = "history"
)

// StatsEntry is one rewarded check-in.
type StatsEntry struct {
	Time time.Time `json:"time"`
	Gain int       `json:"gain"`
}

// Stats summarizes check-in rewards over a window of days.
type Stats struct {
	Days      int          `json:"days"`
	Count     int          `json:"count"`
	Total     int          `json:"total"`
	Average   float64      `json:"average"`
	Source    string       `json:"source"`
	UpdatedAt time.Time    `json:"updated_at"`
	Entries   []StatsEntry `json:"entries,omitempty"`
}

// Summarize builds Stats from entries inside the window.
func Summarize(entries []StatsEntry, days int, source string, now time.Time) Stats {
	st := Stats{Days: days, Source: source, UpdatedAt: now}
	cutoff := now.AddDate(0, 0, -days)
	for _, e := range entries {
		if days > 0 && e.Time.Before(cutoff) {
			continue
		}
		st.Entries = append(st.Entries, e)
		st.Total += e.Gain
		st.Count++
	}
	if st.Count > 0 {
		st.Average = float64(st.Total) / float64(st.Count)
	}
	return st
}

// LocalStats uses the gains recorded in history.
func LocalStats(records []Record, days int, now time.Time) Stats {
	entries := make([]StatsEntry, 0, len(records))
	for _, r := range records {
		if r.Outcome.Signed() && r.Gain > 0 {
			entries = append(entries, StatsEntry{Time: r.Time, Gain: r.Gain})
		}
	}
	return Summarize(entries, days, StatsSourceHistory, now)
}
