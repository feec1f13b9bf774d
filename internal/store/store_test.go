package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behavior every backend must share.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "absent")
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "cart.local", []byte{0x01, 0x02}))
		got, err := s.Get(ctx, "cart.local")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02}, got)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("one")))
		require.NoError(t, s.Set(ctx, "k", []byte("two")))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("empty value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "empty", []byte{}))
		got, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "gone", []byte("x")))
		require.NoError(t, s.Remove(ctx, "gone"))
		_, err := s.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, s.Remove(ctx, "gone"), "removing twice is fine")
	})
}

func TestMemory(t *testing.T) {
	testStoreContract(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'z'

	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemory_FailWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("disk full")
	m.FailWrites(boom)
	assert.ErrorIs(t, m.Set(ctx, "k", nil), boom)
	m.FailWrites(nil)
	assert.NoError(t, m.Set(ctx, "k", nil))
	assert.ElementsMatch(t, []string{"k"}, m.Keys())
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func openTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cartsync.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLite(t *testing.T) {
	s, _ := openTestSQLite(t)
	testStoreContract(t, s)
}

func TestSQLite_CreatesFileAndPragmas(t *testing.T) {
	s, path := openTestSQLite(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	timeout, err := s.pragma("busy_timeout")
	require.NoError(t, err)
	assert.Equal(t, "5000", timeout)

	v, err := s.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "cartsync.offline_queue", []byte("snapshot")))
	require.NoError(t, s1.Close())

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "reopen %d", i)
		got, err := s.Get(ctx, "cartsync.offline_queue")
		require.NoError(t, err)
		assert.Equal(t, "snapshot", string(got))
		require.NoError(t, s.Close())
	}
}

// TestRedis runs against a live server when CARTSYNC_REDIS_URL is set,
// e.g. redis://localhost:6379/15.
func TestRedis(t *testing.T) {
	url := os.Getenv("CARTSYNC_REDIS_URL")
	if url == "" {
		t.Skip("CARTSYNC_REDIS_URL not set")
	}
	r, err := OpenRedis(context.Background(), url, "cartsync-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	testStoreContract(t, r)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}
