// Package credential supplies the bearer credential used for Cart API
// calls and decides when it must be refreshed.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is how long before expiry a credential counts as near expiry.
const DefaultSkew = 30 * time.Second

// ErrNoCredential is returned by Token when no credential is held.
var ErrNoCredential = errors.New("credential: none available")

// Provider exposes the current credential and its refresh.
type Provider interface {
	// Token returns the current bearer credential.
	Token(ctx context.Context) (string, error)
	// Valid reports whether the credential is still usable at now, with
	// enough margin that a call started now will not race its expiry.
	Valid(now time.Time) bool
	// Refresh obtains a new credential.
	Refresh(ctx context.Context) error
}

// RefreshFunc exchanges the current credential for a new one.
type RefreshFunc func(ctx context.Context, current string) (string, error)

// JWT is a Provider over a JSON Web Token credential. Validity is judged
// from the exp claim; the signature is not checked here since the Cart API
// is the verifier.
type JWT struct {
	mu      sync.Mutex
	token   string
	exp     time.Time
	skew    time.Duration
	refresh RefreshFunc
}

// NewJWT creates a provider for token. refresh may be nil, in which case
// Refresh always fails.
func NewJWT(token string, refresh RefreshFunc) (*JWT, error) {
	p := &JWT{skew: DefaultSkew, refresh: refresh}
	if err := p.set(token); err != nil {
		return nil, err
	}
	return p, nil
}

// WithSkew overrides DefaultSkew.
func (p *JWT) WithSkew(d time.Duration) *JWT {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skew = d
	return p
}

// ExpiresAt returns the exp claim, or the zero time when the token has none.
func (p *JWT) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exp
}

func (p *JWT) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", ErrNoCredential
	}
	return p.token, nil
}

func (p *JWT) Valid(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return false
	}
	if p.exp.IsZero() {
		return true
	}
	return now.Add(p.skew).Before(p.exp)
}

func (p *JWT) Refresh(ctx context.Context) error {
	if p.refresh == nil {
		return errors.New("credential: refresh not configured")
	}
	current, _ := p.Token(ctx)
	next, err := p.refresh(ctx, current)
	if err != nil {
		return fmt.Errorf("credential: refresh: %w", err)
	}
	return p.set(next)
}

func (p *JWT) set(token string) error {
	exp, err := Expiry(token)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.exp = exp
	return nil
}

// Expiry extracts the exp claim from an unverified JWT. An empty token
// returns the zero time and no error.
func Expiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("credential: parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Static is a Provider with a fixed, always-valid credential. Refreshes
// are counted but change nothing.
type Static struct {
	token     string
	mu        sync.Mutex
	refreshes int
}

// NewStatic returns a Static provider. An empty token makes Token fail.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoCredential
	}
	return s.token, nil
}

func (s *Static) Valid(time.Time) bool { return s.token != "" }

func (s *Static) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

// Refreshes returns how many times Refresh was called.
func (s *Static) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Session holds the credential of the current login. A session without a
// login is a guest: Token returns ErrNoCredential and Valid reports true,
// since there is nothing to refresh.
type Session struct {
	mu sync.RWMutex
	p  Provider
}

// NewSession returns a guest session.
func NewSession() *Session { return &Session{} }

// Login makes p the session credential.
func (s *Session) Login(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

// Logout returns the session to guest.
func (s *Session) Logout() { s.Login(nil) }

// Authenticated reports whether a credential is held.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p != nil
}

func (s *Session) provider() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *Session) Token(ctx context.Context) (string, error) {
	p := s.provider()
	if p == nil {
		return "", ErrNoCredential
	}
	return p.Token(ctx)
}

func (s *Session) Valid(now time.Time) bool {
	p := s.provider()
	return p == nil || p.Valid(now)
}

func (s *Session) Refresh(ctx context.Context) error {
	p := s.provider()
	if p == nil {
		return ErrNoCredential
	}
	return p.Refresh(ctx)
}
