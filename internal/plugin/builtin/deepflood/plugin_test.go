package deepflood

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
	"forumsign/internal/storage"
)

// forum is a scripted DeepFlood API.
type forum struct {
	attendStatus int
	attendType   string
	attendBody   string

	boardBody  string
	creditBody map[int]string
	userBody   string
	userDown   atomic.Bool

	attendCalls atomic.Int32
	boardCalls  atomic.Int32
	creditCalls atomic.Int32
	lastCookie  atomic.Value
	lastQuery   atomic.Value
}

func (f *forum) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/attendance", func(w http.ResponseWriter, r *http.Request) {
		f.attendCalls.Add(1)
		f.lastCookie.Store(r.Header.Get("Cookie"))
		f.lastQuery.Store(r.URL.RawQuery)
		ct := f.attendType
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(f.attendStatus)
		_, _ = w.Write([]byte(f.attendBody))
	})
	mux.HandleFunc("GET /api/attendance/board", func(w http.ResponseWriter, r *http.Request) {
		f.boardCalls.Add(1)
		if f.boardBody == "" {
			http.Error(w, `{"success":false}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.boardBody))
	})
	mux.HandleFunc("GET /api/account/getInfo/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.userDown.Load() || f.userBody == "" || r.PathValue("id") != "42" {
			http.Error(w, `{"success":false}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.userBody))
	})
	mux.HandleFunc("GET /api/account/credit/{page}", func(w http.ResponseWriter, r *http.Request) {
		f.creditCalls.Add(1)
		var n int
		_, _ = fmt.Sscanf(r.PathValue("page"), "page-%d", &n)
		body, ok := f.creditBody[n]
		if !ok {
			http.Error(w, `{"success":false}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func newTestPlugin(t *testing.T, f *forum, extra string) *Plugin {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	p := New()
	ctx := context.Background()
	require.NoError(t, p.Init(ctx, plugin.Deps{
		Store: storage.NewMemory(),
		HTTP:  plugin.HTTPDefaults{RatePerSec: 1000},
	}))
	raw := fmt.Sprintf(`{"cookie":"session=abc","base_url":%q,"min_delay":0,"max_delay":0,"max_retries":0%s}`, srv.URL, extra)
	require.NoError(t, p.OnConfigChange(ctx, json.RawMessage(raw)))
	return p
}

func boardJSON(rank, gain, total int, at time.Time) string {
	return fmt.Sprintf(`{"success":true,"record":{"rank":%d,"gain":%d,"created_at":%q},"total":%d}`,
		rank, gain, at.UTC().Format(time.RFC3339), total)
}

func TestRunSuccessMergesBoard(t *testing.T) {
	t.Parallel()

	f := &forum{
		attendStatus: 200,
		attendBody:   `{"success":true,"message":"签到收益5个鸡腿","gain":5,"current":100}`,
		boardBody:    boardJSON(3, 7, 120, time.Now()),
	}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusSuccess, rec.Status)
	assert.Equal(t, 7, rec.Gain, "board gain wins over the attendance response")
	assert.Equal(t, 3, rec.Rank)
	assert.Equal(t, 120, rec.TotalSigners)
	assert.Equal(t, "session=abc", f.lastCookie.Load())
	assert.Equal(t, "random=true", f.lastQuery.Load())

	hist, err := p.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, rec.AttemptID, hist[0].AttemptID)
}

func TestRunAlreadySigned(t *testing.T) {
	t.Parallel()

	f := &forum{
		attendStatus: 200,
		attendBody:   `{"success":false,"message":"今天已完成签到，请勿重复操作"}`,
		boardBody:    boardJSON(10, 4, 50, time.Now().Add(-time.Hour)),
	}
	p := newTestPlugin(t, f, `,"random_choice":false`)

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusAlreadySigned, rec.Status)
	assert.Equal(t, "random=false", f.lastQuery.Load())

	st := p.DescribeState(context.Background())
	assert.True(t, st.SignedToday)
}

func TestRunInvalidCookieSkipsBoard(t *testing.T) {
	t.Parallel()

	f := &forum{attendStatus: 404, attendBody: `{"success":false,"message":"USER NOT FOUND"}`}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.InvalidCookie, rec.Outcome)
	assert.Equal(t, signin.StatusFailed, rec.Status)
	assert.Zero(t, f.boardCalls.Load())
}

func TestRunConfirmedByTodaysRecord(t *testing.T) {
	t.Parallel()

	f := &forum{
		attendStatus: 500,
		attendBody:   `{"success":false,"message":"服务器错误"}`,
		boardBody:    boardJSON(8, 6, 90, time.Now()),
	}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Outcome.Signed())
	assert.Equal(t, signin.StatusRecordConfirm, rec.Status)
	assert.Equal(t, 6, rec.Gain)
	assert.Empty(t, rec.ErrorKind)
}

func TestRunConfirmDisabled(t *testing.T) {
	t.Parallel()

	old := time.Now().AddDate(0, 0, -1).Add(-time.Hour)
	f := &forum{
		attendStatus: 500,
		attendBody:   `{"success":false,"message":"服务器错误"}`,
		boardBody:    boardJSON(8, 6, 90, old),
	}
	p := newTestPlugin(t, f, `,"confirm_window":"0"`)

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusFailed, rec.Status)
	assert.Equal(t, "服务器错误", rec.Message)
	assert.Zero(t, rec.Gain, "yesterday's reward must not leak into a failed record")
}

func TestRunBlockedJSONIsClassified(t *testing.T) {
	t.Parallel()

	f := &forum{
		attendStatus: 403,
		attendBody:   `{"success":false,"message":"今日已签到"}`,
		boardBody:    boardJSON(1, 2, 3, time.Now()),
	}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusAlreadySigned, rec.Status)
	assert.EqualValues(t, 2, f.attendCalls.Load(), "primary then plain")
}

func TestRunChallengePageIsBlocked(t *testing.T) {
	t.Parallel()

	f := &forum{
		attendStatus: 200,
		attendType:   "text/html",
		attendBody:   `<!doctype html><html><title>Just a moment...</title></html>`,
	}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusFailed, rec.Status)
	assert.Equal(t, signin.KindBlocked.String(), rec.ErrorKind)
}

func TestRunUnrecognizedTextRetriesOnce(t *testing.T) {
	t.Parallel()

	f := &forum{attendStatus: 200, attendType: "text/plain", attendBody: "maintenance"}
	p := newTestPlugin(t, f, "")

	rec, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signin.StatusFailed, rec.Status)
	assert.Equal(t, signin.KindUnexpectedResponse.String(), rec.ErrorKind)
	assert.Equal(t, "maintenance", rec.Message)
	assert.EqualValues(t, 2, f.attendCalls.Load())
}

func creditRowJSON(amount, balance int, desc string, at time.Time) string {
	return fmt.Sprintf(`[%d,%d,%q,%q]`, amount, balance, desc, at.UTC().Format("2006-01-02 15:04:05"))
}

func TestStatsFromLedger(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rows := []string{
		creditRowJSON(5, 100, "签到收益", now.AddDate(0, 0, -1)),
		creditRowJSON(-10, 95, "购买道具", now.AddDate(0, 0, -2)),
		creditRowJSON(3, 105, "签到收益", now.AddDate(0, 0, -3)),
		creditRowJSON(4, 102, "签到收益", now.AddDate(0, 0, -40)),
	}
	f := &forum{creditBody: map[int]string{
		1: `{"success":true,"data":[` + strings.Join(rows, ",") + `]}`,
		2: `{"success":true,"data":[` + creditRowJSON(9, 1, "签到收益", now.AddDate(0, 0, -2)) + `]}`,
	}}
	p := newTestPlugin(t, f, `,"stats_days":30`)

	st, err := p.Stats(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, signin.StatsSourceLedger, st.Source)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 8, st.Total)
	assert.InDelta(t, 4.0, st.Average, 0.001)
	assert.EqualValues(t, 1, f.creditCalls.Load(), "an old row ends the walk")

	cached, err := p.Stats(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, st.Total, cached.Total)
	assert.EqualValues(t, 1, f.creditCalls.Load())
}

func TestStatsFallsBackToHistory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		credit map[int]string
	}{
		{name: "ledger unreachable"},
		{name: "ledger empty", credit: map[int]string{1: `{"success":true,"data":[]}`}},
		{name: "no check-in rows", credit: map[int]string{
			1: `{"success":true,"data":[` + creditRowJSON(-10, 95, "购买道具", time.Now().Add(-time.Hour)) + `]}`,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &forum{creditBody: tc.credit}
			p := newTestPlugin(t, f, "")
			ctx := context.Background()
			require.NoError(t, p.HistoryStore().Append(ctx, signin.Record{
				Time: time.Now(), Status: signin.StatusSuccess, Outcome: signin.Success, Gain: 6,
			}, 30))

			st, err := p.Stats(ctx, true)
			require.NoError(t, err)
			assert.Equal(t, signin.StatsSourceHistory, st.Source)
			assert.Equal(t, 1, st.Count)
			assert.Equal(t, 6, st.Total)
		})
	}
}

func TestSuccessTextIncludesUserInfo(t *testing.T) {
	t.Parallel()

	f := &forum{userBody: `{"success":true,"detail":{"member_id":42,"member_name":"alice","rank":3,"coin":"150","stardust":8}}`}
	p := newTestPlugin(t, f, `,"member_id":42`)
	ctx := context.Background()
	rec := signin.Record{Time: time.Now(), Status: signin.StatusSuccess, Outcome: signin.Success, Gain: 5}

	text := p.successText(ctx, rec)
	assert.Contains(t, text, "用户: alice (ID 42)")
	assert.Contains(t, text, "鸡腿: 150")
	assert.Contains(t, text, "奖励: 5")

	// The profile endpoint failing falls back to the cached copy.
	f.userDown.Store(true)
	assert.Contains(t, p.successText(ctx, rec), "用户: alice")
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	p := New()
	assert.NoError(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"cookie":"x"}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"cron":"nope"}`)))
	assert.Error(t, p.ValidateConfig(context.Background(), json.RawMessage(`{"confirm_window":"soon"}`)))
}
