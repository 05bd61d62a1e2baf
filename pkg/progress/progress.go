// Package progress provides the cancellation, progress and report hooks
// polled by long-running stages.
package progress

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// WaitingHandler receives progress from long-running work and tells it when
// to stop.
type WaitingHandler interface {
	IsCancelled() bool
	IncreaseProgress()
	SetMaxProgress(n int)
	SetIndeterminate(indeterminate bool)
	AppendReport(text string)
}

// ExceptionHandler receives non-fatal errors caught during batch work.
// Catch returns true when processing should abort.
type ExceptionHandler interface {
	Catch(err error) bool
}

// Handler is a WaitingHandler that logs through slog and can be cancelled
// from another goroutine.
type Handler struct {
	logger *slog.Logger

	cancelled     atomic.Bool
	current       atomic.Int64
	max           atomic.Int64
	indeterminate atomic.Bool

	mu     sync.Mutex
	report []string
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// Cancel asks every poller to stop at its next check.
func (h *Handler) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		h.logger.Warn("cancellation requested")
	}
}

func (h *Handler) IsCancelled() bool {
	return h.cancelled.Load()
}

func (h *Handler) IncreaseProgress() {
	h.current.Add(1)
}

// SetMaxProgress resets the counter for a new unit of work.
func (h *Handler) SetMaxProgress(n int) {
	h.current.Store(0)
	h.max.Store(int64(n))
	h.indeterminate.Store(false)
}

func (h *Handler) SetIndeterminate(indeterminate bool) {
	h.indeterminate.Store(indeterminate)
}

// Progress returns the current and maximum progress values.
func (h *Handler) Progress() (int, int) {
	return int(h.current.Load()), int(h.max.Load())
}

func (h *Handler) AppendReport(text string) {
	h.mu.Lock()
	h.report = append(h.report, text)
	h.mu.Unlock()
	h.logger.Info(text)
}

// Report returns every line appended so far.
func (h *Handler) Report() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.report, "\n")
}

// Nop is a WaitingHandler that ignores everything and is never cancelled.
type Nop struct{}

func (Nop) IsCancelled() bool     { return false }
func (Nop) IncreaseProgress()     {}
func (Nop) SetMaxProgress(int)    {}
func (Nop) SetIndeterminate(bool) {}
func (Nop) AppendReport(string)   {}

// LogExceptions is an ExceptionHandler that logs every error and aborts
// after Limit errors. A zero Limit never aborts.
type LogExceptions struct {
	Logger *slog.Logger
	Limit  int

	mu     sync.Mutex
	errors []error
}

func (l *LogExceptions) Catch(err error) bool {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("match processing failed", "error", err)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, err)
	return l.Limit > 0 && len(l.errors) >= l.Limit
}

// Errors returns the errors caught so far.
func (l *LogExceptions) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errors))
	copy(out, l.errors)
	return out
}
