package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns SIGINT/SIGTERM into context cancellation with a short notice.
type InterruptHandler struct {
	writer       io.Writer
	signals      chan os.Signal
	interrupted  bool
	showProgress bool
	mu           sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer:  writer,
		signals: make(chan os.Signal, 1),
	}
}

// HandleInterrupts returns a context that is cancelled on the first interrupt. When
// showProgress is set the notice explains that recorded decisions survive.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, showProgress bool) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.showProgress = showProgress

	signal.Notify(h.signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(h.signals)
		select {
		case <-h.signals:
			h.mu.Lock()
			if !h.interrupted {
				h.interrupted = true
				h.showInterruptMessage()
			}
			h.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Review interrupted!")

	if h.showProgress {
		msg += "\n" + FormatInfo("Decisions made so far are saved in the correction log.")
		msg += "\n" + FormatInfo("Resume with: bookkeeper classify")
	}

	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
