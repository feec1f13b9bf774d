package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/queue"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/syncer"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("VALIDATION_ERROR", "add failed", []string{"quantity"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "add failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("E_QUANTITY_LIMIT", "add failed", "P1/M"))
			assert.Contains(t, buf.String(), "Error [E_QUANTITY_LIMIT]: add failed")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: P1/M")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("queued %d", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "queued 2\n", errOut.String())

	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.Equal(t, "queued 2\n", errOut.String())
}

func TestOutputFormatter_Amount(t *testing.T) {
	f := NewOutputFormatter(&RootOptions{Format: "text"}, &bytes.Buffer{}, nil)
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1999, "19.99"},
		{123456, "1,234.56"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.minor), func(t *testing.T) {
			assert.Equal(t, tt.want, f.Amount(tt.minor))
		})
	}
}

func TestCartView_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter(&RootOptions{Format: "text"}, buf, nil)

	state := cart.MustState(
		cart.Item{ProductID: "P1", Size: "M", Quantity: 2, UnitPrice: 1999},
		cart.Item{ProductID: "P2", Size: "S", Quantity: 1, UnitPrice: 500},
	)
	require.NoError(t, f.Success(newCartView(state)))

	out := buf.String()
	assert.Contains(t, out, "PRODUCT")
	assert.Contains(t, out, "39.98")
	assert.Contains(t, out, "3 items, subtotal 44.98")
}

func TestCartView_EmptyText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter(&RootOptions{Format: "text"}, buf, nil)

	require.NoError(t, f.Success(newCartView(cart.State{})))
	assert.Equal(t, "Cart is empty.\n", buf.String())
}

func TestCartView_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter(&RootOptions{Format: "json"}, buf, nil)

	state := cart.MustState(cart.Item{ProductID: "P1", Size: "M", Quantity: 2, UnitPrice: 100})
	require.NoError(t, f.Success(newCartView(state)))

	var resp struct {
		Status string   `json:"status"`
		Data   CartView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, 2, resp.Data.TotalQuantity)
	assert.Equal(t, int64(200), resp.Data.Subtotal)
}

func TestStatusView_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter(&RootOptions{Format: "text"}, buf, nil)

	view := StatusView{
		Sync: syncer.Status{
			State:        event.StateError,
			LastSyncedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
			LastError:    "service unavailable",
			LastCategory: retry.CategoryServerUnavailable,
		},
		Queue: queue.Stats{Total: 2, Capacity: 100, Pending: 2},
	}
	require.NoError(t, f.Success(view))

	out := buf.String()
	assert.Contains(t, out, "(offline)")
	assert.Contains(t, out, "2026-01-01T12:00:00Z")
	assert.Contains(t, out, "[SERVER_UNAVAILABLE]")
	assert.Contains(t, out, "Queue:   2/100 (pending 2, failed 0)")
}

func TestQueueView_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := NewOutputFormatter(&RootOptions{Format: "text"}, buf, nil)

	require.NoError(t, f.Success(QueueView{}))
	assert.Equal(t, "Queue is empty.\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Success(QueueView{Operations: []queue.Operation{{
		ID:           "op-2",
		Mutation:     cart.Update(cart.NewKey("P1", "M"), 3),
		Priority:     queue.PriorityNormal,
		Status:       queue.StatusPending,
		MaxAttempts:  5,
		Dependencies: []string{"op-1"},
	}}}))
	assert.Contains(t, buf.String(), "op-2")
	assert.Contains(t, buf.String(), "NORMAL")
	assert.Contains(t, buf.String(), "0/5")
	assert.Contains(t, buf.String(), "op-1")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "store", errors.New("locked")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: store: locked", wrapped.Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "E_QUANTITY_LIMIT", errorCode(fmt.Errorf("add: %w", cart.ErrQuantityLimitExceeded)))
	assert.Equal(t, "E_ITEM_NOT_FOUND", errorCode(cart.ErrItemNotFound))
	assert.Equal(t, string(retry.CategoryNetworkUnavailable), errorCode(retry.ErrOffline))
}
