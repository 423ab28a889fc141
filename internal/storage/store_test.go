package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "forumsign/pkg/logx"
)

func openDriver(t *testing.T, driver, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, "forumsign.db")}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver, t.TempDir())
			defer st.Close()

			_, ok, err := st.Get(ctx, "deepflood_sign", "sign_history")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.Put(ctx, "deepflood_sign", "sign_history", []byte(`[{"status":"签到成功"}]`)))
			require.NoError(t, st.Put(ctx, "deepflood_sign", "last_sign_date", []byte("2026-10-18")))
			require.NoError(t, st.Put(ctx, "enshansignin", "last_sign_date", []byte("2026-10-17")))

			v, ok, err := st.Get(ctx, "deepflood_sign", "sign_history")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `[{"status":"签到成功"}]`, string(v))

			keys, err := st.Keys(ctx, "deepflood_sign")
			require.NoError(t, err)
			assert.Equal(t, []string{"last_sign_date", "sign_history"}, keys)

			require.NoError(t, st.Delete(ctx, "deepflood_sign", "sign_history"))
			_, ok, err = st.Get(ctx, "deepflood_sign", "sign_history")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutDedup(ctx, "fresh", time.Now().Add(time.Hour)))
			require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))
			_, ok, err = st.GetDedup(ctx, "fresh")
			require.NoError(t, err)
			assert.True(t, ok)
			_, ok, err = st.GetDedup(ctx, "stale")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Actor: "cli", Plugin: "enshansignin", Action: "signin", OK: true}))
		})
	}
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			dir := t.TempDir()

			st := openDriver(t, driver, dir)
			require.NoError(t, st.Put(ctx, "enshansignin", "sign_history", []byte(`[]`)))
			require.NoError(t, st.Put(ctx, "enshansignin", "last_sign_date", []byte("2026-10-18")))
			require.NoError(t, st.Delete(ctx, "enshansignin", "sign_history"))
			require.NoError(t, st.Close())

			st = openDriver(t, driver, dir)
			defer st.Close()
			v, ok, err := st.Get(ctx, "enshansignin", "last_sign_date")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "2026-10-18", string(v))
			_, ok, err = st.Get(ctx, "enshansignin", "sign_history")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mysql"}, logx.Nop())
	require.Error(t, err)
}
