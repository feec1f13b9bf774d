package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy names how a category is handled after a failure.
type Strategy string

const (
	// StrategyExponentialBackoff retries later with growing delays.
	StrategyExponentialBackoff Strategy = "exponential_backoff"
	// StrategyRefreshCredential refreshes the credential once, then retries.
	StrategyRefreshCredential Strategy = "refresh_credential"
	// StrategyReauthenticate surfaces an authentication failure; the user must log in again.
	StrategyReauthenticate Strategy = "reauthenticate"
	// StrategyLocalCorrection applies the mandated local fix and surfaces the error.
	StrategyLocalCorrection Strategy = "local_correction"
	// StrategyNone surfaces the error as is.
	StrategyNone Strategy = "none"
)

// Default delay bounds.
const (
	DefaultCap    = 30 * time.Second
	DefaultJitter = 0.1
)

// Policy is the retry decision for one category.
type Policy struct {
	Strategy          Strategy
	Retryable         bool
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
}

var defaultPolicies = map[Category]Policy{
	CategoryNetworkUnavailable:  {Strategy: StrategyExponentialBackoff, Retryable: true, MaxRetries: 5, BaseDelay: time.Second, BackoffMultiplier: 2},
	CategoryConnectionTimeout:   {Strategy: StrategyExponentialBackoff, Retryable: true, MaxRetries: 3, BaseDelay: time.Second, BackoffMultiplier: 2},
	CategoryServerUnavailable:   {Strategy: StrategyExponentialBackoff, Retryable: true, MaxRetries: 5, BaseDelay: 2 * time.Second, BackoffMultiplier: 2},
	CategoryInternalServerError: {Strategy: StrategyExponentialBackoff, Retryable: true, MaxRetries: 3, BaseDelay: time.Second, BackoffMultiplier: 2},
	CategoryTokenExpired:        {Strategy: StrategyRefreshCredential, Retryable: true, MaxRetries: 1, BackoffMultiplier: 1},
	CategoryTokenInvalid:        {Strategy: StrategyReauthenticate},
	CategoryUnauthorized:        {Strategy: StrategyReauthenticate},
	CategoryProductUnavailable:  {Strategy: StrategyLocalCorrection},
	CategoryInsufficientStock:   {Strategy: StrategyLocalCorrection},
	CategoryPriceChanged:        {Strategy: StrategyLocalCorrection},
	CategoryValidationError:     {Strategy: StrategyNone},
	CategoryUnknown:             {Strategy: StrategyNone},
}

// IsRetryable is a pure lookup of the default policy table.
func IsRetryable(c Category) bool {
	return defaultPolicies[c].Retryable
}

// DefaultPolicy returns the built-in policy for c. Unknown categories get
// the CategoryUnknown policy.
func DefaultPolicy(c Category) Policy {
	if p, ok := defaultPolicies[c]; ok {
		return p
	}
	return defaultPolicies[CategoryUnknown]
}

// Engine resolves policies and computes backoff delays. It holds no state
// beyond its configuration and random source, and has no side effects.
type Engine struct {
	cap       time.Duration
	jitter    float64
	overrides map[Category]Policy

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithCap sets the maximum delay before jitter (default 30s).
func WithCap(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cap = d
		}
	}
}

// WithJitter sets the jitter fraction (default 0.1). Jitter is drawn
// uniformly from [0, fraction × delay].
func WithJitter(fraction float64) Option {
	return func(e *Engine) {
		if fraction >= 0 {
			e.jitter = fraction
		}
	}
}

// WithRand injects the random source used for jitter; tests pass a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rnd = r
	}
}

// WithPolicy overrides the policy for one category.
func WithPolicy(c Category, p Policy) Option {
	return func(e *Engine) {
		e.overrides[c] = p
	}
}

// NewEngine creates a policy engine with the default table.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cap:       DefaultCap,
		jitter:    DefaultJitter,
		overrides: make(map[Category]Policy),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Policy returns the effective policy for c.
func (e *Engine) Policy(c Category) Policy {
	if p, ok := e.overrides[c]; ok {
		return p
	}
	return DefaultPolicy(c)
}

// Evaluate classifies err and returns it together with its policy.
func (e *Engine) Evaluate(err error) (*Error, Policy) {
	ce := Classify(err)
	if ce == nil {
		return nil, Policy{}
	}
	return ce, e.Policy(ce.Category)
}

// BaseDelay is the deterministic part of the delay for 0-indexed attempt n:
// min(base × multiplier^n, cap).
func (e *Engine) BaseDelay(p Policy, n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n))
	if d > float64(e.cap) || math.IsInf(d, 1) {
		return e.cap
	}
	return time.Duration(d)
}

// Delay returns BaseDelay plus jitter drawn uniformly from
// [0, jitter × BaseDelay].
func (e *Engine) Delay(p Policy, n int) time.Duration {
	d := e.BaseDelay(p, n)
	if d <= 0 || e.jitter == 0 {
		return d
	}
	e.mu.Lock()
	f := e.rnd.Float64()
	e.mu.Unlock()
	return d + time.Duration(f*e.jitter*float64(d))
}

// Cap returns the configured delay cap.
func (e *Engine) Cap() time.Duration {
	return e.cap
}
