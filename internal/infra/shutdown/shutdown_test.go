package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandler_RunsHooksInReverse(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		h.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestHandler_JoinsErrorsAndRunsOnce(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	boom := errors.New("boom")
	calls := 0
	h.OnShutdown("ok", func(context.Context) error { calls++; return nil })
	h.OnShutdown("bad", func(context.Context) error { return boom })

	err := h.Shutdown()
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bad") {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := h.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("hook ran %d times", calls)
	}
}

func TestHandler_HookDeadline(t *testing.T) {
	h := NewHandler(20*time.Millisecond, quiet())
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := h.Shutdown(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
}
