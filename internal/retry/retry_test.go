package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
	code   string
}

func (e *statusErr) Error() string     { return fmt.Sprintf("status %d %s", e.status, e.code) }
func (e *statusErr) HTTPStatus() int   { return e.status }
func (e *statusErr) ErrorCode() string { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Category(""), CategoryOf(nil))
}

func TestClassify_Network(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    Category
		timeout bool
	}{
		{"offline sentinel", fmt.Errorf("attempt: %w", ErrOffline), CategoryNetworkUnavailable, false},
		{"deadline", context.DeadlineExceeded, CategoryConnectionTimeout, true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, CategoryConnectionTimeout, true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CategoryNetworkUnavailable, false},
		{"op error", &net.OpError{Op: "read", Err: errors.New("broken pipe")}, CategoryNetworkUnavailable, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "cart.local"}, CategoryNetworkUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Category)
			assert.Equal(t, FailureNetwork, ce.Failure.Kind)
			assert.Equal(t, tt.timeout, ce.Failure.Timeout)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

func TestClassify_HTTP(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   Category
	}{
		{401, "TOKEN_EXPIRED", CategoryTokenExpired},
		{401, "token_invalid", CategoryTokenInvalid},
		{401, "", CategoryUnauthorized},
		{403, "", CategoryUnauthorized},
		{404, "PRODUCT_UNAVAILABLE", CategoryProductUnavailable},
		{410, "", CategoryProductUnavailable},
		{409, "INSUFFICIENT_STOCK", CategoryInsufficientStock},
		{409, "PRICE_CHANGED", CategoryPriceChanged},
		{404, "ITEM_NOT_FOUND", CategoryValidationError},
		{422, "", CategoryValidationError},
		{408, "", CategoryConnectionTimeout},
		{504, "", CategoryConnectionTimeout},
		{503, "", CategoryServerUnavailable},
		{429, "", CategoryServerUnavailable},
		{500, "", CategoryInternalServerError},
		{507, "", CategoryInternalServerError},
		{418, "", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.code), func(t *testing.T) {
			ce := Classify(fmt.Errorf("remote: %w", &statusErr{status: tt.status, code: tt.code}))
			assert.Equal(t, tt.want, ce.Category)
			assert.Equal(t, FailureHTTP, ce.Failure.Kind)
			assert.Equal(t, tt.status, ce.Failure.Status)
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	first := Classify(syscall.ECONNRESET)
	second := Classify(fmt.Errorf("wrapped: %w", first))
	assert.Same(t, first, second)
}

func TestClassify_Unknown(t *testing.T) {
	ce := Classify(errors.New("boom"))
	assert.Equal(t, CategoryUnknown, ce.Category)
	assert.Equal(t, FailureUnknown, ce.Failure.Kind)
	assert.Contains(t, ce.Error(), "UNKNOWN")
}

func TestIsRetryable(t *testing.T) {
	retryable := map[Category]bool{
		CategoryNetworkUnavailable:  true,
		CategoryConnectionTimeout:   true,
		CategoryServerUnavailable:   true,
		CategoryInternalServerError: true,
		CategoryTokenExpired:        true,
	}
	for _, c := range Categories {
		assert.Equal(t, retryable[c], IsRetryable(c), "category %s", c)
	}
}

func TestCategoryGroups(t *testing.T) {
	assert.True(t, CategoryServerUnavailable.IsTransient())
	assert.False(t, CategoryTokenExpired.IsTransient())
	assert.True(t, CategoryPriceChanged.IsBusinessRule())
	assert.True(t, CategoryUnauthorized.IsAuth())
	assert.True(t, CategoryTokenInvalid.IsAuth())
	assert.False(t, CategoryTokenExpired.IsAuth())
}

func TestEngine_PolicyOverride(t *testing.T) {
	e := NewEngine(WithPolicy(CategoryValidationError, Policy{Strategy: StrategyExponentialBackoff, Retryable: true, MaxRetries: 2}))
	assert.True(t, e.Policy(CategoryValidationError).Retryable)
	assert.False(t, e.Policy(CategoryUnknown).Retryable)

	ce, p := e.Evaluate(&statusErr{status: 503})
	assert.Equal(t, CategoryServerUnavailable, ce.Category)
	assert.Equal(t, StrategyExponentialBackoff, p.Strategy)
}

func TestEngine_BaseDelay(t *testing.T) {
	e := NewEngine()
	p := Policy{BaseDelay: time.Second, BackoffMultiplier: 2}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, w := range want {
		assert.Equal(t, w, e.BaseDelay(p, n), "attempt %d", n)
	}
	assert.Equal(t, time.Duration(0), e.BaseDelay(Policy{}, 3))
	assert.Equal(t, 30*time.Second, e.BaseDelay(p, 5000))
}

func TestEngine_DelayWithoutJitter(t *testing.T) {
	e := NewEngine(WithJitter(0))
	p := DefaultPolicy(CategoryConnectionTimeout)
	assert.Equal(t, 4*time.Second, e.Delay(p, 2))
}

// TestBackoffGrowth checks that for ConnectionTimeout with base 1s,
// multiplier 2 and cap 30s, delays grow monotonically up to the cap and
// each one stays within [d, 1.1×d] of the formula value.
func TestBackoffGrowth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("jittered delays are bounded and base delays monotone", prop.ForAll(
		func(seed uint64) bool {
			e := NewEngine(WithCap(30*time.Second), WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))))
			p := DefaultPolicy(CategoryConnectionTimeout)
			prev := time.Duration(0)
			for n := 0; n < 10; n++ {
				d := e.BaseDelay(p, n)
				if d < prev || d > 30*time.Second {
					return false
				}
				got := e.Delay(p, n)
				if got < d || float64(got) > 1.1*float64(d) {
					return false
				}
				prev = d
			}
			return true
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestJournal_Bounded(t *testing.T) {
	j := NewJournal(3)
	for i := 1; i <= 5; i++ {
		j.Append(Record{Attempt: i, Category: CategoryUnknown})
	}
	recs := j.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, 3, recs[0].Attempt)
	assert.Equal(t, 5, recs[2].Attempt)
	assert.Equal(t, 3, j.Len())
}
