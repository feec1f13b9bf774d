package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/clock"
	"github.com/roach88/cartsync/internal/credential"
	"github.com/roach88/cartsync/internal/engine"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/migration"
	"github.com/roach88/cartsync/internal/queue"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/testutil"
)

// traceBuffer bounds the events one step may publish.
const traceBuffer = 4096

// faults maps fail_next names to the error the backend returns.
var faults = map[string]func(product string) error{
	"network":             func(string) error { return cartapi.NetworkError() },
	"timeout":             func(string) error { return context.DeadlineExceeded },
	"server_unavailable":  func(string) error { return cartapi.ErrServerUnavailable() },
	"internal":            func(string) error { return &cartapi.HTTPError{Status: http.StatusInternalServerError, Message: "internal error"} },
	"token_expired":       func(string) error { return cartapi.ErrTokenExpired() },
	"token_invalid":       func(string) error { return cartapi.ErrTokenInvalid() },
	"validation":          func(string) error { return cartapi.ErrValidation("rejected by server") },
	"product_unavailable": func(p string) error { return cartapi.ErrProductUnavailable(p) },
}

// Harness holds one scenario run.
type Harness struct {
	engine  *engine.Engine
	backend *cartapi.Memory
	clock   *clock.Fake
	events  <-chan event.Event
	logger  *slog.Logger
}

// Run executes a scenario in a fresh engine and returns the result. The
// error is reserved for setup failures; step and assertion failures are
// reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	account := make([]cart.Item, 0, len(scenario.Account))
	for _, it := range scenario.Account {
		account = append(account, cart.Item{
			ProductID: it.Product,
			Size:      it.Size,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
			AddedAt:   Epoch.Add(-it.Age),
		})
	}
	if _, err := cart.NewState(account...); err != nil {
		return nil, fmt.Errorf("account cart: %w", err)
	}

	strategy := migration.MergeQuantities
	if scenario.Strategy != "" {
		s, err := migration.ParseStrategy(scenario.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	h := &Harness{
		backend: cartapi.NewMemory(account...),
		clock:   clock.NewFake(Epoch),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	bus := event.NewBus()
	events, cancel := bus.Subscribe(traceBuffer)
	defer cancel()
	h.events = events

	eng, err := engine.New(ctx, h.backend,
		engine.WithStore(store.NewMemory()),
		engine.WithClock(h.clock),
		engine.WithBus(bus),
		engine.WithLogger(h.logger),
		engine.WithPolicy(retry.NewEngine(retry.WithJitter(0))),
		engine.WithStrategy(strategy),
		engine.WithQueueOptions(queue.WithIDGenerator(queue.NewSequenceIDs("op"))),
		engine.WithMigrationOptions(migration.WithRunIDs(testutil.NewSequence("run").Next)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()
	h.engine = eng

	result := NewResult()
	h.drain(0, result)
	for i, step := range scenario.Steps {
		n := i + 1
		err := h.execute(ctx, step)
		h.drain(n, result)
		switch {
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got none", n, step.Action, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got %v", n, step.Action, step.ExpectError, err))
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("step %d (%s): %v", n, step.Action, err))
		}
	}

	remote, err := h.backend.Snapshot().State()
	if err != nil {
		return nil, fmt.Errorf("server cart: %w", err)
	}
	result.Final = finalState(eng.Cart(), remote, eng.QueueStats().Total, eng.SyncStatus())

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) drain(step int, result *Result) {
	for _, ev := range event.Drain(h.events) {
		result.record(step, ev)
	}
}

func (h *Harness) execute(ctx context.Context, st Step) error {
	e := h.engine
	var err error
	switch st.Action {
	case ActionAdd:
		_, err = e.AddToCart(ctx, st.Product, st.Size, st.Quantity, st.Price)
	case ActionUpdate:
		_, err = e.UpdateCartItem(ctx, st.Product, st.Size, st.Quantity)
	case ActionRemove:
		_, err = e.RemoveFromCart(ctx, st.Product, st.Size)
	case ActionClear:
		_, err = e.ClearCart(ctx)
	case ActionOffline:
		e.SetOnline(false)
	case ActionOnline:
		e.SetOnline(true)
	case ActionProcess:
		_, err = e.ProcessQueue(ctx)
	case ActionAdvance:
		h.clock.Advance(st.By)
	case ActionFailNext:
		times := max(st.Times, 1)
		errs := make([]error, times)
		for i := range errs {
			errs[i] = faults[st.Error](st.Product)
		}
		h.backend.FailNext(errs...)
	case ActionStock:
		h.backend.SetStock(st.Product, st.Quantity)
	case ActionPrice:
		h.backend.SetPrice(st.Product, st.Price)
	case ActionUnavailable:
		h.backend.SetUnavailable(st.Product)
	case ActionPull:
		_, err = e.Pull(ctx)
	case ActionLogin:
		token := st.Token
		if token == "" {
			token = "scenario-token"
		}
		_, err = e.Authenticate(ctx, credential.NewStatic(token))
	case ActionLogout:
		err = e.Logout(ctx)
	default:
		err = fmt.Errorf("unknown action %q", st.Action)
	}
	return err
}
