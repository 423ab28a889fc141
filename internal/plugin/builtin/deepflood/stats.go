package deepflood

import (
	"context"
	"strings"
	"time"

	"forumsign/internal/signin"
	logx "forumsign/pkg/logx"
)

// maxLedgerPages bounds how far back the credit ledger is walked.
const maxLedgerPages = 10

const ledgerKeyword = "签到"

// ledgerStats walks the credit ledger newest first and keeps check-in
// rewards inside the window. Pages stop once a row is older than the cutoff.
func ledgerStats(ctx context.Context, cli *client, days int, now time.Time) (signin.Stats, error) {
	cutoff := now.AddDate(0, 0, -days)
	var entries []signin.StatsEntry
	for page := 1; page <= maxLedgerPages; page++ {
		rows, err := cli.creditPage(ctx, page)
		if err != nil {
			if page == 1 {
				return signin.Stats{}, err
			}
			break
		}
		if len(rows) == 0 {
			break
		}
		older := false
		for _, r := range rows {
			if r.CreatedAt.Before(cutoff) {
				older = true
				continue
			}
			if strings.Contains(r.Description, ledgerKeyword) {
				entries = append(entries, signin.StatsEntry{Time: r.CreatedAt, Gain: r.Amount})
			}
		}
		if older {
			break
		}
	}
	return signin.Summarize(entries, days, signin.StatsSourceLedger, now), nil
}

// refreshStats prefers the ledger and falls back to history gains.
func (p *Plugin) refreshStats(ctx context.Context) (signin.Stats, error) {
	c, cli := p.current()
	if cli != nil && c.Cookie != "" {
		st, err := ledgerStats(ctx, cli, c.StatsDays, p.now())
		switch {
		case err == nil && st.Count > 0:
			if err := p.HistoryStore().SaveJSON(ctx, signin.KeyStats, st); err != nil {
				p.Log.Warn("save stats failed", logx.Err(err))
			}
			return st, nil
		case err == nil:
			p.Log.Info("ledger has no check-ins in window; using history", logx.Int("days", c.StatsDays))
		case ctx.Err() != nil:
			return signin.Stats{}, ctx.Err()
		default:
			p.Log.Warn("ledger stats failed; using history", logx.Err(err))
		}
	}
	return p.LocalStats(ctx, c.StatsDays)
}
