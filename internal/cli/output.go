package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/queue"
	"github.com/roach88/cartsync/internal/syncer"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (scenario failure, cancelled operations, failed migration)
	ExitCommandError = 2 // Command error (bad arguments, unreadable config, store unavailable)
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose/diagnostic output; defaults to Writer
	Verbose   bool
	Printer   *message.Printer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewOutputFormatter returns a formatter for the global flags.
func NewOutputFormatter(opts *RootOptions, w, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    w,
		ErrWriter: errW,
		Verbose:   opts.Verbose,
		Printer:   message.NewPrinter(language.English),
	}
}

// Success writes data in the configured format. In text mode data is
// rendered with fmt unless it is a textRenderer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(textRenderer); ok {
		return r.renderText(f)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose mode is enabled. It
// goes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Amount formats minor currency units with two decimals and thousands
// separators, e.g. 123456 -> "1,234.56".
func (f *OutputFormatter) Amount(minor int64) string {
	p := f.Printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + p.Sprintf("%d.%02d", minor/100, minor%100)
}

type textRenderer interface {
	renderText(f *OutputFormatter) error
}

// CartView is the output form of a cart.
type CartView struct {
	Items         []cart.Item `json:"items"`
	TotalQuantity int         `json:"total_quantity"`
	Subtotal      int64       `json:"subtotal"`
}

func newCartView(s cart.State) CartView {
	return CartView{Items: s.Items(), TotalQuantity: s.TotalQuantity(), Subtotal: s.Subtotal()}
}

func (v CartView) renderText(f *OutputFormatter) error {
	if len(v.Items) == 0 {
		fmt.Fprintln(f.Writer, "Cart is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tSIZE\tQTY\tPRICE\tTOTAL")
	for _, it := range v.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.ProductID, it.Size, it.Quantity, f.Amount(it.UnitPrice), f.Amount(it.LineTotal()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(f.Writer, "%d items, subtotal %s\n", v.TotalQuantity, f.Amount(v.Subtotal))
	return nil
}

// StatusView combines the sync status with queue statistics.
type StatusView struct {
	Sync  syncer.Status `json:"sync"`
	Queue queue.Stats   `json:"queue"`
}

func (v StatusView) renderText(f *OutputFormatter) error {
	w := f.Writer
	online := "offline"
	if v.Sync.Online {
		online = "online"
	}
	fmt.Fprintf(w, "State:   %s (%s)\n", v.Sync.State, online)
	if !v.Sync.LastSyncedAt.IsZero() {
		fmt.Fprintf(w, "Synced:  %s\n", v.Sync.LastSyncedAt.Format(time.RFC3339))
	}
	if v.Sync.LastError != "" {
		fmt.Fprintf(w, "Error:   %s [%s]\n", v.Sync.LastError, v.Sync.LastCategory)
	}
	fmt.Fprintf(w, "Queue:   %d/%d (pending %d, failed %d)\n", v.Queue.Total, v.Queue.Capacity, v.Queue.Pending, v.Queue.Failed)
	return nil
}

// QueueView lists queued operations.
type QueueView struct {
	Operations []queue.Operation `json:"operations"`
}

func (v QueueView) renderText(f *OutputFormatter) error {
	if len(v.Operations) == 0 {
		fmt.Fprintln(f.Writer, "Queue is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tPRIORITY\tSTATUS\tATTEMPTS\tDEPENDS")
	for _, op := range v.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			op.ID, op.Mutation, op.Priority, op.Status, op.Attempts, op.MaxAttempts, strings.Join(op.Dependencies, ","))
	}
	return tw.Flush()
}

// ProcessView reports one processing pass.
type ProcessView struct {
	Result queue.ProcessResult `json:"result"`
	Cart   CartView            `json:"cart"`
}

func (v ProcessView) renderText(f *OutputFormatter) error {
	r := v.Result
	fmt.Fprintf(f.Writer, "Processed %d: %d completed, %d retrying, %d cancelled, %d skipped\n",
		r.Attempted, r.Completed, r.Retrying, len(r.Cancelled), r.Skipped)
	for _, c := range r.Cancelled {
		fmt.Fprintf(f.Writer, "  ✗ %s %s [%s] %s\n", c.ID, c.Mutation, c.Category, c.Message)
	}
	return nil
}
