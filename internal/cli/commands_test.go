package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/config"
	"github.com/roach88/cartsync/internal/migration"
)

type cliFixture struct {
	t       *testing.T
	backend *cartapi.Memory
	config  string
}

// newCLIFixture serves backend over HTTP and writes a config that points
// at it with a SQLite store in a temp dir, so state survives between
// command invocations.
func newCLIFixture(t *testing.T, account ...cart.Item) *cliFixture {
	t.Helper()
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvStore, "")

	backend := cartapi.NewMemory(account...)
	srv := httptest.NewServer(cartapi.NewServer(backend,
		cartapi.WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`api:
  base_url: %s
  rate_limit: 0
store:
  driver: sqlite
  path: %s
retry:
  jitter: 0
log:
  level: error
`, srv.URL, filepath.Join(dir, "cart.db"))
	path := filepath.Join(dir, "cartsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	return &cliFixture{t: t, backend: backend, config: path}
}

func (f *cliFixture) run(args ...string) (string, error) {
	return f.runContext(context.Background(), args...)
}

func (f *cliFixture) runContext(ctx context.Context, args ...string) (string, error) {
	f.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (f *cliFixture) remote() cart.State {
	f.t.Helper()
	s, err := f.backend.Snapshot().State()
	require.NoError(f.t, err)
	return s
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestAddSyncsToServer(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("add", "P1", "M", "2", "--price", "1999")
	require.NoError(t, err)
	assert.Contains(t, out, "P1")
	assert.Contains(t, out, "39.98")

	it, ok := f.remote().Get(cart.NewKey("P1", "M"))
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity)

	out, err = f.run("--format", "json", "cart")
	require.NoError(t, err)
	var view CartView
	decodeData(t, out, &view)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(3998), view.Subtotal)
}

func TestOfflineAddThenProcess(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("--offline", "add", "P1", "M", "1", "--price", "100")
	require.NoError(t, err)
	_, err = f.run("--offline", "update", "P1", "M", "3")
	require.NoError(t, err)
	assert.True(t, f.remote().IsEmpty())

	out, err := f.run("--format", "json", "queue")
	require.NoError(t, err)
	var queued QueueView
	decodeData(t, out, &queued)
	require.Len(t, queued.Operations, 2)
	assert.Equal(t, []string{queued.Operations[0].ID}, queued.Operations[1].Dependencies)

	out, err = f.run("--format", "json", "process")
	require.NoError(t, err)
	var processed ProcessView
	decodeData(t, out, &processed)
	assert.Equal(t, 2, processed.Result.Completed)
	assert.Empty(t, processed.Result.Cancelled)

	it, ok := f.remote().Get(cart.NewKey("P1", "M"))
	require.True(t, ok)
	assert.Equal(t, 3, it.Quantity)

	out, err = f.run("queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")
}

func TestAddRejectsQuantityAboveLimit(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("--format", "json", "add", "P1", "M", "11")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_QUANTITY_LIMIT", resp.Error.Code)
	assert.Empty(t, f.backend.Calls())
}

func TestAddInvalidQuantity(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("add", "P1", "M", "two")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid quantity")
}

func TestProcessCancelsRejectedOperation(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("--offline", "add", "P1", "M", "1", "--price", "100")
	require.NoError(t, err)
	f.backend.FailNext(cartapi.ErrValidation("rejected by server"))

	out, err := f.run("process")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 cancelled")
	assert.Contains(t, out, "VALIDATION_ERROR")

	out, err = f.run("cart")
	require.NoError(t, err)
	assert.Contains(t, out, "Cart is empty.")
}

func TestProcessWatchDrainsQueue(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("--offline", "add", "P1", "M", "1", "--price", "100")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := f.runContext(ctx, "process", "--watch")
		done <- err
	}()

	require.Eventually(t, func() bool {
		s, err := f.backend.Snapshot().State()
		return err == nil && s.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process --watch did not stop")
	}
}

func TestStatusJSON(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("--format", "json", "status")
	require.NoError(t, err)
	var view StatusView
	decodeData(t, out, &view)
	assert.Equal(t, "idle", string(view.Sync.State))
	assert.True(t, view.Sync.Online)
	assert.Equal(t, 100, view.Queue.Capacity)
}

func TestLoginMigratesGuestCart(t *testing.T) {
	f := newCLIFixture(t, cart.Item{
		ProductID: "P1", Size: "M", Quantity: 2, UnitPrice: 450,
		AddedAt: time.Now().Add(-time.Hour),
	})

	_, err := f.run("--offline", "add", "P1", "M", "3", "--price", "500")
	require.NoError(t, err)
	_, err = f.run("--offline", "add", "P2", "S", "1", "--price", "900")
	require.NoError(t, err)

	out, err := f.run("--format", "json", "login", "account-token")
	require.NoError(t, err)
	var view MigrationView
	decodeData(t, out, &view)
	assert.True(t, view.Migrated)
	require.NotNil(t, view.Result)
	assert.Equal(t, migration.StatusCompleted, view.Result.Status)
	assert.Len(t, view.Result.Conflicts, 1)

	remote := f.remote()
	it, ok := remote.Get(cart.NewKey("P1", "M"))
	require.True(t, ok)
	assert.Equal(t, 5, it.Quantity)
	assert.Equal(t, int64(500), it.UnitPrice)
	_, ok = remote.Get(cart.NewKey("P2", "S"))
	assert.True(t, ok)

	out, err = f.run("queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")
}

func TestMigrateWithoutPendingCart(t *testing.T) {
	f := newCLIFixture(t)
	t.Setenv(config.EnvToken, "account-token")

	out, err := f.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to migrate.")
}

func TestMigrateRejectsUnknownStrategy(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("migrate", "--strategy", "coin_flip")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLogoutClearsCart(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("--offline", "add", "P1", "M", "1", "--price", "100")
	require.NoError(t, err)

	out, err := f.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Cart is empty.")

	out, err = f.run("--format", "json", "status")
	require.NoError(t, err)
	var view StatusView
	decodeData(t, out, &view)
	assert.Zero(t, view.Queue.Total)
}

func TestConfigErrors(t *testing.T) {
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvStore, "")
	dir := t.TempDir()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "api:\n  base_uri: http://x\n"},
		{"bad driver", "store:\n  driver: etcd\n"},
		{"bad url", "api:\n  base_url: ftp://x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			cmd := NewRootCommand()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs([]string{"--config", path, "status"})
			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "failed to load config")
		})
	}
}

func TestMemoryDriverFromEnv(t *testing.T) {
	t.Setenv(config.EnvStore, config.DriverMemory)
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvToken, "")

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--offline", "add", "P1", "M", "1"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1 items")
}

func TestServeMockStopsOnCancel(t *testing.T) {
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvStore, "")

	ctx, cancel := context.WithCancel(context.Background())
	errOut := &safeBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"serve-mock", "--addr", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return bytes.Contains(errOut.Bytes(), []byte("Listening on"))
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve-mock did not stop")
	}
}

// safeBuffer is a bytes.Buffer safe for one writer and one reader.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
