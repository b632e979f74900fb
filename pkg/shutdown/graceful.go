package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
)

// Handler turns interrupt signals into context cancellation and runs
// cleanup functions once the scan has stopped.
type Handler struct {
	shutdownFuncs []func() error
	signals       []os.Signal
	mu            sync.Mutex
	once          sync.Once
	done          chan struct{}
	err           error
	logger        *logger.Logger
}

// NewHandler creates a handler for SIGINT and SIGTERM, or for the given
// signals when any are passed.
func NewHandler(log *logger.Logger, signals ...os.Signal) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Handler{
		signals: signals,
		done:    make(chan struct{}),
		logger:  log.WithComponent("shutdown"),
	}
}

// RegisterShutdownFunc adds a cleanup step. Steps run last registered
// first, like deferred calls.
func (h *Handler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFuncs = append(h.shutdownFuncs, fn)
}

// Notify returns a context that is cancelled on the first signal. The
// returned stop function releases the signal handler and cancels the
// context.
func (h *Handler) Notify(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, h.signals...)

	go func() {
		select {
		case sig := <-sigChan:
			h.logger.Warnw("Received signal, cancelling scan", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// Shutdown runs the registered functions once and returns their joined
// errors. Later calls return the same result.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		h.mu.Lock()
		funcs := make([]func() error, len(h.shutdownFuncs))
		copy(funcs, h.shutdownFuncs)
		h.mu.Unlock()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				h.logger.Errorw("Error during shutdown", "error", err)
				errs = append(errs, err)
			}
		}
		h.err = errors.Join(errs...)
		close(h.done)
	})
	<-h.done
	return h.err
}

// Done is closed once every cleanup function has returned.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// ShutdownWithTimeout is Shutdown bounded by timeout. Cleanup keeps
// running in the background after a timeout.
func (h *Handler) ShutdownWithTimeout(timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		result <- h.Shutdown()
	}()

	select {
	case err := <-result:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
