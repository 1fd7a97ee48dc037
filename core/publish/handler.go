package publish

import (
	"context"
	"sync"
)

// Result is the aggregated outcome of a fan-out.
type Result struct {
	Success bool
	// Message is the first error received, in arrival order.
	Message string
}

// CallbackHandler joins the completions of n asynchronous publishes. The
// consumer callback runs exactly once, after the n-th completion, with the
// first error that arrived. Completions beyond n are ignored.
type CallbackHandler struct {
	mu       sync.Mutex
	expected int
	count    int
	success  bool
	firstErr string
	cb       Callback

	done   chan struct{}
	result Result
}

// NewCallbackHandler creates a handler expecting n completions. When n is
// zero the callback fires immediately with a successful result.
func NewCallbackHandler(n int, cb Callback) *CallbackHandler {
	h := &CallbackHandler{
		expected: n,
		success:  true,
		cb:       cb,
		done:     make(chan struct{}),
	}
	if n <= 0 {
		h.finish()
	}
	return h
}

// Handle records one completion. It is safe for concurrent use and has the
// Callback signature so it can be handed to clients directly.
func (h *CallbackHandler) Handle(success bool, message string) {
	h.mu.Lock()
	if h.count >= h.expected {
		h.mu.Unlock()
		return
	}
	h.count++
	if !success && h.success {
		h.success = false
		h.firstErr = message
	}
	last := h.count == h.expected
	h.mu.Unlock()
	if last {
		h.finish()
	}
}

func (h *CallbackHandler) finish() {
	h.mu.Lock()
	h.result = Result{Success: h.success, Message: h.firstErr}
	cb := h.cb
	h.cb = nil
	h.firstErr = ""
	h.mu.Unlock()
	close(h.done)
	if cb != nil {
		cb(h.result.Success, h.result.Message)
	}
}

// Wait blocks until every completion arrived or ctx is done.
func (h *CallbackHandler) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
