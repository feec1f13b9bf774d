package cartapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/credential"
)

// Authenticator checks the bearer token of an incoming request. A non-nil
// error is written back as the response.
type Authenticator func(token string) *HTTPError

// JWTAuth rejects missing or unparsable tokens with TOKEN_INVALID and
// tokens whose exp claim is before now() with TOKEN_EXPIRED. Signatures
// are not verified; this is a development backend.
func JWTAuth(now func() time.Time) Authenticator {
	return func(token string) *HTTPError {
		if token == "" {
			return &HTTPError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "missing bearer token"}
		}
		exp, err := credential.Expiry(token)
		if err != nil {
			return ErrTokenInvalid()
		}
		if !exp.IsZero() && !now().Before(exp) {
			return ErrTokenExpired()
		}
		return nil
	}
}

// Server exposes an API over HTTP.
type Server struct {
	api    API
	auth   Authenticator
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthenticator enables bearer-token checks.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer returns the HTTP handler for api.
func NewServer(api API, opts ...ServerOption) http.Handler {
	s := &Server{api: api, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.auth != nil {
		r.Use(s.authenticate)
	}

	r.Get("/cart", s.getCart)
	r.Delete("/cart", s.clearCart)
	r.Put("/cart", s.replaceCart)
	r.Post("/cart/items", s.addItem)
	r.Patch("/cart/items/{productId}/{size}", s.updateItem)
	r.Delete("/cart/items/{productId}/{size}", s.removeItem)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("cart api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = ""
		}
		if he := s.auth(token); he != nil {
			writeHTTPError(w, he)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.api.Get(r.Context()))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.api.Clear(r.Context()))
}

func (s *Server) replaceCart(w http.ResponseWriter, r *http.Request) {
	var body itemsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeHTTPError(w, ErrValidation("invalid JSON body"))
		return
	}
	s.respond(w)(s.api.Replace(r.Context(), body.Items))
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var item cart.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeHTTPError(w, ErrValidation("invalid JSON body"))
		return
	}
	s.respond(w)(s.api.Add(r.Context(), item))
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var body quantityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeHTTPError(w, ErrValidation("invalid JSON body"))
		return
	}
	s.respond(w)(s.api.Update(r.Context(), key, body.Quantity))
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	s.respond(w)(s.api.Remove(r.Context(), key))
}

func keyParam(w http.ResponseWriter, r *http.Request) (cart.Key, bool) {
	product, err1 := url.PathUnescape(chi.URLParam(r, "productId"))
	size, err2 := url.PathUnescape(chi.URLParam(r, "size"))
	if err1 != nil || err2 != nil {
		writeHTTPError(w, ErrValidation("malformed item path"))
		return cart.Key{}, false
	}
	return cart.NewKey(product, size), true
}

func (s *Server) respond(w http.ResponseWriter) func(Snapshot, error) {
	return func(snap Snapshot, err error) {
		if err != nil {
			var he *HTTPError
			if !errors.As(err, &he) {
				s.logger.Error("cart api backend failure", "error", err)
				he = &HTTPError{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
			}
			writeHTTPError(w, he)
			return
		}
		if snap.Items == nil {
			snap.Items = []cart.Item{}
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeHTTPError(w http.ResponseWriter, he *HTTPError) {
	writeJSON(w, he.Status, he)
}
