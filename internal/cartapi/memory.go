package cartapi

import (
	"context"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/roach88/cartsync/internal/cart"
)

// Operation names recorded by Memory.Calls and passed to a Fault.
const (
	OpGet     = "get"
	OpAdd     = "add"
	OpUpdate  = "update"
	OpRemove  = "remove"
	OpClear   = "clear"
	OpReplace = "replace"
)

// Fault decides whether a call fails before it reaches the cart. It is
// called with the operation name and the 1-based index of that call since
// the fault was installed. Returning nil lets the call proceed.
type Fault func(op string, n int) error

// Memory is an authoritative in-memory cart that enforces the server-side
// business rules (stock, current price, availability) and supports fault
// injection. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	state   cart.State
	version int64

	stock       map[string]int
	prices      map[string]int64
	unavailable map[string]bool

	pending []error
	fault   Fault
	faultN  int
	calls   []string
}

// NewMemory creates a backend holding items.
func NewMemory(items ...cart.Item) *Memory {
	return &Memory{
		state:       cart.MustState(items...),
		stock:       make(map[string]int),
		prices:      make(map[string]int64),
		unavailable: make(map[string]bool),
	}
}

// SetStock limits the quantity of productID a single line may hold.
func (m *Memory) SetStock(productID string, available int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = available
}

// SetPrice sets the authoritative unit price for productID. Adds quoting a
// different price fail with PRICE_CHANGED.
func (m *Memory) SetPrice(productID string, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[productID] = price
}

// SetUnavailable marks productID as withdrawn.
func (m *Memory) SetUnavailable(productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[productID] = true
}

// FailNext queues errors returned, in order, by the next calls.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, errs...)
}

// SetFault installs f, replacing any previous fault. Pass nil to remove it.
func (m *Memory) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
	m.faultN = 0
}

// Calls returns the operation names received so far, failed ones included.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Snapshot returns the current server cart without recording a call.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// NetworkError returns an error shaped like a refused TCP connection.
func NetworkError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func (m *Memory) Get(ctx context.Context) (Snapshot, error) {
	return m.do(ctx, OpGet, func() error { return nil })
}

func (m *Memory) Add(ctx context.Context, item cart.Item) (Snapshot, error) {
	return m.do(ctx, OpAdd, func() error {
		k := item.Key()
		if err := m.checkProduct(k.ProductID, item.UnitPrice, true); err != nil {
			return err
		}
		qty := item.Quantity
		if cur, ok := m.state.Get(k); ok {
			qty += cur.Quantity
		}
		if err := m.checkStock(k.ProductID, qty); err != nil {
			return err
		}
		next, err := cart.AddItem(m.state, item)
		if err != nil {
			return ErrValidation(err.Error())
		}
		m.state = next
		return nil
	})
}

func (m *Memory) Update(ctx context.Context, key cart.Key, quantity int) (Snapshot, error) {
	return m.do(ctx, OpUpdate, func() error {
		if _, ok := m.state.Get(key); !ok {
			return ErrItemNotFound(key.String())
		}
		if quantity > 0 {
			if err := m.checkProduct(key.ProductID, 0, false); err != nil {
				return err
			}
			if err := m.checkStock(key.ProductID, quantity); err != nil {
				return err
			}
		}
		next, err := cart.UpdateItem(m.state, key, quantity)
		if err != nil {
			return ErrValidation(err.Error())
		}
		m.state = next
		return nil
	})
}

// Remove is idempotent: removing a missing line returns the snapshot.
func (m *Memory) Remove(ctx context.Context, key cart.Key) (Snapshot, error) {
	return m.do(ctx, OpRemove, func() error {
		next, err := cart.RemoveItem(m.state, key)
		if err != nil && !cart.IsNotFound(err) {
			return ErrValidation(err.Error())
		}
		if err == nil {
			m.state = next
		}
		return nil
	})
}

func (m *Memory) Clear(ctx context.Context) (Snapshot, error) {
	return m.do(ctx, OpClear, func() error {
		m.state = cart.Clear(m.state)
		return nil
	})
}

func (m *Memory) Replace(ctx context.Context, items []cart.Item) (Snapshot, error) {
	return m.do(ctx, OpReplace, func() error {
		next, err := cart.NewState(items...)
		if err != nil {
			return ErrValidation(err.Error())
		}
		m.state = next
		return nil
	})
}

// do runs fn under the lock after fault injection. The version advances
// on every successful mutating call.
func (m *Memory) do(ctx context.Context, op string, fn func() error) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)

	if len(m.pending) > 0 {
		err := m.pending[0]
		m.pending = m.pending[1:]
		if err != nil {
			return Snapshot{}, err
		}
	}
	if m.fault != nil {
		m.faultN++
		if err := m.fault(op, m.faultN); err != nil {
			return Snapshot{}, err
		}
	}

	if err := fn(); err != nil {
		return Snapshot{}, err
	}
	if op != OpGet {
		m.version++
	}
	return m.snapshotLocked(), nil
}

func (m *Memory) checkProduct(productID string, quoted int64, checkPrice bool) error {
	if m.unavailable[productID] {
		return ErrProductUnavailable(productID)
	}
	if current, ok := m.prices[productID]; ok && checkPrice && current != quoted {
		return ErrPriceChanged(productID, current)
	}
	return nil
}

func (m *Memory) checkStock(productID string, quantity int) error {
	if available, ok := m.stock[productID]; ok && quantity > available {
		return ErrInsufficientStock(productID, available)
	}
	return nil
}

func (m *Memory) snapshotLocked() Snapshot {
	return Snapshot{Items: m.state.Items(), Version: m.version}
}
