package cartapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/credential"
	"github.com/roach88/cartsync/internal/retry"
)

func newTestServer(t *testing.T, backend API, opts ...ServerOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(backend, opts...))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(url, append([]ClientOption{WithRateLimit(0, 0)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestHTTP_RoundTrip(t *testing.T) {
	backend := NewMemory()
	c := newTestClient(t, newTestServer(t, backend).URL)
	ctx := context.Background()
	k := cart.NewKey("P1", "M")

	snap, err := c.Add(ctx, item("P1", "M", 2, 500))
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.True(t, snap.Items[0].AddedAt.Equal(t0))

	snap, err = c.Update(ctx, k, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Items[0].Quantity)

	snap, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.Snapshot().Version, snap.Version)

	snap, err = c.Replace(ctx, []cart.Item{item("A", "S", 1, 1), item("B", "L", 2, 2)})
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)

	snap, err = c.Remove(ctx, cart.NewKey("A", "S"))
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)

	snap, err = c.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.NotNil(t, snap.Items, "empty list, not null")
}

func TestHTTP_EscapedKey(t *testing.T) {
	backend := NewMemory(item("tee/red", "X L", 1, 100))
	c := newTestClient(t, newTestServer(t, backend).URL)

	snap, err := c.Update(context.Background(), cart.NewKey("tee/red", "X L"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Items[0].Quantity)
}

func TestHTTP_ErrorsClassify(t *testing.T) {
	backend := NewMemory()
	backend.SetStock("P1", 2)
	c := newTestClient(t, newTestServer(t, backend).URL)
	ctx := context.Background()

	_, err := c.Add(ctx, item("P1", "M", 5, 100))
	require.Error(t, err)
	assert.Equal(t, retry.CategoryInsufficientStock, retry.CategoryOf(err))
	avail, _ := Details(err)
	require.NotNil(t, avail)
	assert.Equal(t, 2, *avail)

	backend.FailNext(ErrServerUnavailable())
	_, err = c.Get(ctx)
	assert.Equal(t, retry.CategoryServerUnavailable, retry.CategoryOf(err))

	backend.FailNext(assert.AnError)
	_, err = c.Get(ctx)
	assert.Equal(t, retry.CategoryInternalServerError, retry.CategoryOf(err))
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, retry.CategoryNetworkUnavailable, retry.CategoryOf(err))
}

func TestHTTP_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c := newTestClient(t, srv.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, retry.CategoryConnectionTimeout, retry.CategoryOf(err))
}

func TestHTTP_Auth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).SignedString([]byte("k"))
		require.NoError(t, err)
		return s
	}
	srv := newTestServer(t, NewMemory(), WithAuthenticator(JWTAuth(func() time.Time { return now })))
	ctx := context.Background()

	_, err := newTestClient(t, srv.URL).Get(ctx)
	assert.Equal(t, retry.CategoryUnauthorized, retry.CategoryOf(err))

	_, err = newTestClient(t, srv.URL, WithCredential(credential.NewStatic("garbage"))).Get(ctx)
	assert.Equal(t, retry.CategoryTokenInvalid, retry.CategoryOf(err))

	_, err = newTestClient(t, srv.URL, WithCredential(credential.NewStatic(token(now.Add(-time.Minute))))).Get(ctx)
	assert.Equal(t, retry.CategoryTokenExpired, retry.CategoryOf(err))

	_, err = newTestClient(t, srv.URL, WithCredential(credential.NewStatic(token(now.Add(time.Hour))))).Get(ctx)
	assert.NoError(t, err)
}

func TestNewHTTPClient_BadURL(t *testing.T) {
	_, err := NewHTTPClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewHTTPClient("://")
	assert.Error(t, err)
}
