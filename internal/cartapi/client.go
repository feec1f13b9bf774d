package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/credential"
)

// Client defaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 20 // requests per second
	DefaultBurst     = 5
)

// HTTPClient talks to a Cart API over HTTP. Transport failures are
// returned unwrapped enough for retry.Classify to recognise them; non-2xx
// responses become *HTTPError.
type HTTPClient struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	creds   credential.Provider
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithRateLimit sets the client-side request rate. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(h *HTTPClient) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCredential attaches a bearer credential to every request.
func WithCredential(p credential.Provider) ClientOption {
	return func(h *HTTPClient) { h.creds = p }
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("cartapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cartapi: unsupported scheme %q", u.Scheme)
	}
	h := &HTTPClient{
		base:    u,
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(DefaultRateLimit, DefaultBurst),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type quantityBody struct {
	Quantity int `json:"quantity"`
}

type itemsBody struct {
	Items []cart.Item `json:"items"`
}

func (h *HTTPClient) Get(ctx context.Context) (Snapshot, error) {
	return h.call(ctx, http.MethodGet, "/cart", nil)
}

func (h *HTTPClient) Add(ctx context.Context, item cart.Item) (Snapshot, error) {
	return h.call(ctx, http.MethodPost, "/cart/items", item)
}

func (h *HTTPClient) Update(ctx context.Context, key cart.Key, quantity int) (Snapshot, error) {
	return h.call(ctx, http.MethodPatch, itemPath(key), quantityBody{Quantity: quantity})
}

func (h *HTTPClient) Remove(ctx context.Context, key cart.Key) (Snapshot, error) {
	return h.call(ctx, http.MethodDelete, itemPath(key), nil)
}

func (h *HTTPClient) Clear(ctx context.Context) (Snapshot, error) {
	return h.call(ctx, http.MethodDelete, "/cart", nil)
}

func (h *HTTPClient) Replace(ctx context.Context, items []cart.Item) (Snapshot, error) {
	if items == nil {
		items = []cart.Item{}
	}
	return h.call(ctx, http.MethodPut, "/cart", itemsBody{Items: items})
}

func itemPath(k cart.Key) string {
	return "/cart/items/" + url.PathEscape(k.ProductID) + "/" + url.PathEscape(k.Size)
}

func (h *HTTPClient) call(ctx context.Context, method, path string, body any) (Snapshot, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("cartapi: rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return Snapshot{}, fmt.Errorf("cartapi: encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.base.String()+path, reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cartapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.creds != nil {
		token, err := h.creds.Token(ctx)
		switch {
		case errors.Is(err, credential.ErrNoCredential):
			// Guest session: no Authorization header.
		case err != nil:
			return Snapshot{}, err
		default:
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Snapshot{}, fmt.Errorf("cartapi: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		he := &HTTPError{}
		if len(data) > 0 {
			// A body that is not JSON still yields a status-only error.
			_ = json.Unmarshal(data, he)
		}
		he.Status = resp.StatusCode
		return Snapshot{}, he
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("cartapi: decode snapshot: %w", err)
	}
	return snap, nil
}
