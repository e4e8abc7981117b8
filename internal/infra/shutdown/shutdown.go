package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler waits for SIGINT, SIGTERM or context cancellation and then runs
// its hooks in reverse registration order under a shared deadline.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	hooks []hook
	done  chan struct{}
	once  sync.Once
}

// NewHandler creates a Handler. A nil logger means slog.Default().
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger.With("component", "shutdown"),
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a named hook.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Wait blocks until a termination signal arrives or ctx ends, then runs
// the hooks. The returned error joins every hook failure.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested")
	}
	return h.Shutdown()
}

// Shutdown runs the hooks once. Later calls return nil.
func (h *Handler) Shutdown() error {
	var err error
	h.once.Do(func() {
		defer close(h.done)

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := append([]hook(nil), h.hooks...)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			start := time.Now()
			if hookErr := hooks[i].fn(ctx); hookErr != nil {
				h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", hookErr)
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, hookErr))
				continue
			}
			h.logger.Debug("shutdown hook done", "hook", hooks[i].name, "elapsed", time.Since(start))
		}
		err = errors.Join(errs...)
	})
	return err
}

// Done is closed once the hooks have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
