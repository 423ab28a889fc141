package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
	"forumsign/internal/storage"
	"forumsign/internal/task/scheduler"
	logx "forumsign/pkg/logx"
)

type fakePlugins struct {
	mu       sync.Mutex
	history  []signin.Record
	cleared  bool
	lastN    int
	triggers []string
}

func (f *fakePlugins) known(name string) error {
	switch name {
	case "forum":
		return nil
	case "stopped":
		return fmt.Errorf("%w: %s", plugin.ErrNotRunning, name)
	}
	return fmt.Errorf("%w: %s", plugin.ErrUnknownPlugin, name)
}

func (f *fakePlugins) Snapshot() plugin.PluginsSnapshot {
	return plugin.PluginsSnapshot{Plugins: []plugin.PluginStatus{{Name: "forum", Enabled: true, Running: true}}}
}

func (f *fakePlugins) State(_ context.Context, name string) (signin.State, error) {
	if err := f.known(name); err != nil {
		return signin.State{}, err
	}
	return signin.State{Plugin: name, Enabled: true, Running: true, SignedToday: true}, nil
}

func (f *fakePlugins) History(_ context.Context, name string, n int) ([]signin.Record, error) {
	if err := f.known(name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastN = n
	return f.history, nil
}

func (f *fakePlugins) ClearHistory(_ context.Context, name string) error {
	if err := f.known(name); err != nil {
		return err
	}
	f.mu.Lock()
	f.cleared = true
	f.mu.Unlock()
	return nil
}

func (f *fakePlugins) Stats(_ context.Context, name string, refresh bool) (signin.Stats, error) {
	if err := f.known(name); err != nil {
		return signin.Stats{}, err
	}
	if !refresh {
		return signin.Stats{}, plugin.ErrNotSupported
	}
	return signin.Stats{Days: 30, Count: 2, Total: 9, Source: signin.StatsSourceHistory}, nil
}

func (f *fakePlugins) Trigger(name string, _ time.Duration) (string, error) {
	if err := f.known(name); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.triggers = append(f.triggers, name)
	f.mu.Unlock()
	return "once-1", nil
}

type fakeScheduler struct{}

func (fakeScheduler) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Enabled: true, Timezone: "Asia/Shanghai"}
}

func newTestServer(cfg Config) (*Server, *fakePlugins, *storage.Memory) {
	fp := &fakePlugins{history: []signin.Record{{Status: signin.StatusSuccess, Gain: 5}}}
	st := storage.NewMemory()
	cfg.Enabled = true
	return New(cfg, logx.Nop(), fp, fakeScheduler{}, st), fp, st
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{})
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"plugins", http.MethodGet, "/api/plugins", http.StatusOK},
		{"state", http.MethodGet, "/api/plugins/forum/state", http.StatusOK},
		{"state unknown", http.MethodGet, "/api/plugins/nope/state", http.StatusNotFound},
		{"history", http.MethodGet, "/api/plugins/forum/history?limit=5", http.StatusOK},
		{"history bad limit", http.MethodGet, "/api/plugins/forum/history?limit=x", http.StatusBadRequest},
		{"stats cached unsupported", http.MethodGet, "/api/plugins/forum/stats", http.StatusNotImplemented},
		{"stats refresh", http.MethodGet, "/api/plugins/forum/stats?refresh=1", http.StatusOK},
		{"run stopped", http.MethodPost, "/api/plugins/stopped/run", http.StatusConflict},
		{"scheduler", http.MethodGet, "/api/scheduler", http.StatusOK},
		{"pprof off", http.MethodGet, "/debug/pprof/", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w, _ := do(t, h, tc.method, tc.target, nil)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestHistoryLimitIsCapped(t *testing.T) {
	t.Parallel()

	s, fp, _ := newTestServer(Config{})
	h := s.Handler()

	_, body := do(t, h, http.MethodGet, "/api/plugins/forum/history", nil)
	assert.Equal(t, 0, body.Code)
	fp.mu.Lock()
	assert.Equal(t, defaultHistoryLimit, fp.lastN)
	fp.mu.Unlock()

	do(t, h, http.MethodGet, "/api/plugins/forum/history?limit=100000", nil)
	fp.mu.Lock()
	assert.Equal(t, maxHistoryLimit, fp.lastN)
	fp.mu.Unlock()
}

func TestRunIsQueuedAndAudited(t *testing.T) {
	t.Parallel()

	s, fp, st := newTestServer(Config{})
	w, body := do(t, s.Handler(), http.MethodPost, "/api/plugins/forum/run", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", body.Message)
	assert.Equal(t, []string{"forum"}, fp.triggers)

	audit := st.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "api", audit[0].Actor)
	assert.Equal(t, "run", audit[0].Action)
	assert.True(t, audit[0].OK)
	assert.Contains(t, audit[0].MetaJSON, "once-1")
}

func TestClearHistory(t *testing.T) {
	t.Parallel()

	s, fp, st := newTestServer(Config{})
	w, _ := do(t, s.Handler(), http.MethodDelete, "/api/plugins/forum/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fp.cleared)

	w, _ = do(t, s.Handler(), http.MethodDelete, "/api/plugins/ghost/history", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	audit := st.Audit()
	require.Len(t, audit, 2)
	assert.False(t, audit[1].OK)
	assert.NotEmpty(t, audit[1].Error)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{Token: "s3cret", Pprof: true})
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		status int
	}{
		{"health is open", "/healthz", nil, http.StatusOK},
		{"missing", "/api/plugins", nil, http.StatusUnauthorized},
		{"wrong", "/api/plugins", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"header", "/api/plugins", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query", "/api/plugins?token=s3cret", nil, http.StatusOK},
		{"pprof guarded", "/debug/pprof/", nil, http.StatusUnauthorized},
		{"pprof index", "/debug/pprof/?token=s3cret", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w, _ := do(t, h, http.MethodGet, tc.target, tc.hdr)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(Config{})
	w, _ := do(t, s.Handler(), http.MethodGet, "/api/plugins", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w, _ = do(t, s.Handler(), http.MethodGet, "/api/plugins", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestServerLifecycle(t *testing.T) {
	s, _, _ := newTestServer(Config{Addr: "127.0.0.1:0"})
	ctx := context.Background()

	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
	assert.False(t, s.Enabled())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	assert.True(t, isLoopbackAddr("127.0.0.1:8089"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.False(t, isLoopbackAddr(":8089"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8089"))

	s, _, _ := newTestServer(Config{Addr: "0.0.0.0:0"})
	err := s.serveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure bind")
}
