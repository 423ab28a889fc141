package plugin

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsign/internal/signin"
	"forumsign/internal/storage"
)

type recordingScheduler struct {
	mu        sync.Mutex
	schedules map[string]string
	once      map[string]time.Time
	onceAdds  int
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{schedules: map[string]string{}, once: map[string]time.Time{}}
}

func (s *recordingScheduler) AddSchedule(name, spec string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[name] = spec
	return name, nil
}

func (s *recordingScheduler) AddOnce(name string, at time.Time, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[name] = at
	s.onceAdds++
	return name, nil
}

func (s *recordingScheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, a := s.schedules[name]
	_, b := s.once[name]
	delete(s.schedules, name)
	delete(s.once, name)
	return a || b
}

func (s *recordingScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[name]; ok {
		return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), true
	}
	at, ok := s.once[name]
	return at, ok
}

func (s *recordingScheduler) Location() *time.Location { return time.UTC }

type basePlugin struct {
	Base
}

func (p *basePlugin) SignIn(context.Context) (signin.Attempt, error) {
	return signin.Attempt{Outcome: signin.Success}, nil
}

func (p *basePlugin) apply(t *testing.T, raw string) {
	t.Helper()
	f, err := ParseFields(json.RawMessage(raw))
	require.NoError(t, err)
	c, err := ParseCommon(f, CommonDefaults{Cron: "0 9 * * *", BaseURL: "https://www.right.com.cn"})
	require.NoError(t, err)
	require.NoError(t, p.ApplyConfig(context.Background(), json.RawMessage(raw), c, signin.Options{}, nil))
}

func newBasePlugin(t *testing.T) (*basePlugin, *recordingScheduler, storage.Store) {
	t.Helper()
	sched := newRecordingScheduler()
	store := storage.NewMemory()
	p := &basePlugin{}
	p.InitBase(Deps{Store: store, Scheduler: sched}, "enshansignin", "恩山论坛签到", p, signin.Hooks{})
	return p, sched, store
}

func TestBaseRegistersCronOnStart(t *testing.T) {
	t.Parallel()

	p, sched, _ := newBasePlugin(t)
	p.apply(t, `{"cookie":"c"}`)
	assert.Empty(t, sched.schedules, "nothing registered before Start")

	p.StartBase(context.Background())
	assert.Equal(t, "0 9 * * *", sched.schedules["enshansignin:cron"])

	st := p.DescribeState(context.Background())
	assert.True(t, st.Enabled)
	assert.Equal(t, "0 9 * * *", st.Cron)
	assert.Equal(t, []string{"primary", "plain"}, st.Strategies)
	assert.False(t, st.NextRun.IsZero())

	p.apply(t, `{"cookie":"c","cron":"30 7 * * *"}`)
	assert.Equal(t, "30 7 * * *", sched.schedules["enshansignin:cron"])

	require.NoError(t, p.StopBase(context.Background()))
	assert.Empty(t, sched.schedules)
}

func TestBaseOnlyOnceConsumedPerConfig(t *testing.T) {
	t.Parallel()

	p, sched, _ := newBasePlugin(t)
	p.StartBase(context.Background())
	t.Cleanup(func() { _ = p.StopBase(context.Background()) })

	p.apply(t, `{"cookie":"c","onlyonce":true}`)
	require.Equal(t, 1, sched.onceAdds)
	at := sched.once["enshansignin:onlyonce"]
	assert.WithinDuration(t, time.Now().Add(onlyOnceDelay), at, time.Second)

	// Re-applying the same blob (e.g. after a restart) does not run again.
	p.apply(t, `{"onlyonce":true,"cookie":"c"}`)
	assert.Equal(t, 1, sched.onceAdds)

	p.apply(t, `{"cookie":"c2","onlyonce":true}`)
	assert.Equal(t, 2, sched.onceAdds)
}

func TestBaseClearHistoryFlag(t *testing.T) {
	t.Parallel()

	p, _, _ := newBasePlugin(t)
	ctx := context.Background()
	require.NoError(t, p.HistoryStore().Append(ctx, signin.Record{Time: time.Now(), Status: signin.StatusSuccess}, 30))

	p.StartBase(ctx)
	t.Cleanup(func() { _ = p.StopBase(context.Background()) })
	p.apply(t, `{"cookie":"c","clear_history":true}`)

	list, err := p.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, p.HistoryStore().Append(ctx, signin.Record{Time: time.Now(), Status: signin.StatusSuccess}, 30))
	p.apply(t, `{"clear_history":true,"cookie":"c"}`)
	list, err = p.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "same config must not clear twice")
}

func TestBaseNoCronMeansOnDemandOnly(t *testing.T) {
	t.Parallel()

	p, sched, _ := newBasePlugin(t)
	f, _ := ParseFields(json.RawMessage(`{"cookie":"c"}`))
	c, err := ParseCommon(f, CommonDefaults{BaseURL: "https://www.deepflood.com"})
	require.NoError(t, err)
	require.NoError(t, p.ApplyConfig(context.Background(), nil, c, signin.Options{}, nil))
	p.StartBase(context.Background())
	t.Cleanup(func() { _ = p.StopBase(context.Background()) })
	assert.Empty(t, sched.schedules)
}
