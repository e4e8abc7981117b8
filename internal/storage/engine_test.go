package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/storage/substrate"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
)

const testBundle = "demo.app"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, tr substrate.Transport) *Engine {
	t.Helper()
	e, err := New(Config{
		NewSubstrate: func() Substrate {
			cfg := substrate.DefaultConfig("")
			cfg.InMemory = true
			cfg.SyncInterval = 0
			cfg.Transport = tr
			cfg.Logger = discardLogger()
			return substrate.NewManager(cfg)
		},
		StatusSyncTimeout: 2 * time.Second,
		Metrics:           metric.NewRegistry(),
		Logger:            discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Open(testBundle); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// fieldRecorder is a FieldWatcher collecting notifications.
type fieldRecorder struct {
	ch chan []string
}

func newFieldRecorder() *fieldRecorder { return &fieldRecorder{ch: make(chan []string, 16)} }

func (r *fieldRecorder) OnFieldsChanged(_ string, fields []string) { r.ch <- fields }

func (r *fieldRecorder) next(t *testing.T) []string {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for field notification")
		return nil
	}
}

func (r *fieldRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected notification %v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNew_RequiresSubstrate(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("New() error = %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.Open(testBundle); err != nil {
		t.Errorf("re-Open error = %v", err)
	}
	if err := e.Open("other.app"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Open other bundle error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if e.IsOpen() {
		t.Error("IsOpen() after Close")
	}

	closedOps := map[string]error{
		"CreateTable": e.CreateTable("s1"),
		"UpdateItem":  e.UpdateItem("s1", "p_a", nil),
		"UpdateItems": e.UpdateItems("s1", map[string][]byte{"p_a": nil}),
		"DeleteTable": e.DeleteTable("s1"),
		"SyncAllData": e.SyncAllData(context.Background(), "s1", []string{"d"}, nil),
	}
	for name, err := range closedOps {
		if !errors.Is(err, domain.ErrNotInitialized) {
			t.Errorf("%s while closed error = %v, want ErrNotInitialized", name, err)
		}
	}
	if _, err := e.GetItems("s1"); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("GetItems while closed error = %v", err)
	}

	// Reopening after Close gets a fresh substrate.
	if err := e.Open(testBundle); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if err := e.CreateTable("s1"); err != nil {
		t.Errorf("CreateTable after reopen error = %v", err)
	}
}

func TestEngine_Tables(t *testing.T) {
	e := newTestEngine(t, nil)

	if err := e.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateTable("s1"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("re-create error = %v, want ErrAlreadyExists", err)
	}
	if !e.HasTable("s1") {
		t.Error("HasTable(s1) = false")
	}
	if err := e.CreateTable("s0"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"s0", "s1"}, e.Tables()); diff != "" {
		t.Errorf("Tables() mismatch (-want +got):\n%s", diff)
	}

	if err := e.DeleteTable("s1"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteTable("s1"); !errors.Is(err, domain.ErrNotExist) {
		t.Errorf("second delete error = %v, want ErrNotExist", err)
	}
	if err := e.CreateTable("s1"); err != nil {
		t.Errorf("create after delete error = %v", err)
	}
}

func TestEngine_Items(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}

	t.Run("unknown table", func(t *testing.T) {
		if err := e.UpdateItem("nope", "p_a", []byte("x")); !errors.Is(err, domain.ErrNotExist) {
			t.Errorf("error = %v, want ErrNotExist", err)
		}
	})

	t.Run("update and get", func(t *testing.T) {
		if err := e.UpdateItem("s1", "p_name", []byte("zhangsan")); err != nil {
			t.Fatal(err)
		}
		got, err := e.GetItem("s1", "p_name")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "zhangsan" {
			t.Errorf("GetItem() = %q", got)
		}
	})

	t.Run("missing item", func(t *testing.T) {
		if _, err := e.GetItem("s1", "p_missing"); !errors.Is(err, domain.ErrFieldNotFound) {
			t.Errorf("error = %v, want ErrFieldNotFound", err)
		}
	})

	t.Run("batch", func(t *testing.T) {
		err := e.UpdateItems("s1", map[string][]byte{
			"p_age":  {18},
			"p_city": []byte("beijing"),
		})
		if err != nil {
			t.Fatal(err)
		}
		items, err := e.GetItems("s1")
		if err != nil {
			t.Fatal(err)
		}
		want := map[string][]byte{
			"p_name": []byte("zhangsan"),
			"p_age":  {18},
			"p_city": []byte("beijing"),
		}
		if diff := cmp.Diff(want, items); diff != "" {
			t.Errorf("GetItems() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		err := e.UpdateItems("s1", map[string][]byte{})
		if !errors.Is(err, domain.ErrInvalidArgument) || !errors.Is(err, domain.ErrNotInitialized) {
			t.Errorf("error = %v, want InvalidArgument caused by NotInitialized", err)
		}
	})

	t.Run("delete item", func(t *testing.T) {
		if err := e.DeleteItem("s1", "p_city"); err != nil {
			t.Fatal(err)
		}
		if _, err := e.GetItem("s1", "p_city"); !errors.Is(err, domain.ErrFieldNotFound) {
			t.Errorf("GetItem after delete error = %v", err)
		}
	})
}

func TestEngine_Observer(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}

	if err := e.UnRegisterObserver("s1"); !errors.Is(err, domain.ErrNoObserver) {
		t.Errorf("unregister without observer error = %v, want ErrNoObserver", err)
	}

	rec := newFieldRecorder()
	if err := e.RegisterObserver("s1", rec); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterObserver("s1", newFieldRecorder()); err != nil {
		t.Errorf("second register error = %v, want nil", err)
	}

	if err := e.UpdateItems("s1", map[string][]byte{"p_b": {1}, "p_a": {2}, "internal": {3}}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, rec.next(t)); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	if err := e.UpdateItem("s1", "p_a", []byte{9}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, rec.next(t)); diff != "" {
		t.Errorf("update fields mismatch (-want +got):\n%s", diff)
	}

	// Unprefixed keys and deletions are not reported.
	if err := e.UpdateItem("s1", "internal", []byte{4}); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteItem("s1", "p_a"); err != nil {
		t.Fatal(err)
	}
	rec.none(t)

	if err := e.UnRegisterObserver("s1"); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateItem("s1", "p_c", []byte{1}); err != nil {
		t.Fatal(err)
	}
	rec.none(t)
}

func TestEngine_SyncAllData(t *testing.T) {
	network := substrate.NewLocalNetwork()
	ea := newTestEngine(t, network.Attach("devA"))
	eb := newTestEngine(t, network.Attach("devB"))

	if err := ea.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}
	if err := ea.UpdateItem("s1", "p_name", []byte("zhangsan")); err != nil {
		t.Fatal(err)
	}
	if err := eb.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}

	if err := eb.SyncAllData(context.Background(), "s1", nil, nil); !errors.Is(err, domain.ErrSingleDevice) {
		t.Errorf("empty devices error = %v, want ErrSingleDevice", err)
	}
	if err := eb.SyncAllData(context.Background(), "nope", []string{"devA"}, nil); !errors.Is(err, domain.ErrNotExist) {
		t.Errorf("unknown table error = %v, want ErrNotExist", err)
	}

	done := make(chan map[string]error, 1)
	if err := eb.SyncAllData(context.Background(), "s1", []string{"devA"}, func(r map[string]error) { done <- r }); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-done:
		if r["devA"] != nil {
			t.Fatalf("pull failed: %v", r["devA"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not complete")
	}

	got, err := eb.GetItem("s1", "p_name")
	if err != nil || string(got) != "zhangsan" {
		t.Errorf("GetItem after sync = %q, %v", got, err)
	}
}

func TestEngine_CreateTablePullsFromPeers(t *testing.T) {
	network := substrate.NewLocalNetwork()
	ea := newTestEngine(t, network.Attach("devA"))
	eb := newTestEngine(t, network.Attach("devB"))

	if err := ea.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}
	if err := ea.UpdateItem("s1", "p_k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	rec := newFieldRecorder()
	if err := eb.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}
	if err := eb.RegisterObserver("s1", rec); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, err := eb.GetItem("s1", "p_k"); err == nil && string(v) == "v" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("CreateTable did not pull existing data from devA")
}

type statusCall struct {
	session, device string
	status          domain.Status
}

type statusRecorder struct {
	mu    sync.Mutex
	calls []statusCall
}

func (r *statusRecorder) OnStatusChanged(sessionID, deviceID string, status domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, statusCall{sessionID, deviceID, status})
}

func (r *statusRecorder) snapshot() []statusCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]statusCall(nil), r.calls...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].session != out[j].session {
			return out[i].session < out[j].session
		}
		return out[i].status < out[j].status
	})
	return out
}

func TestEngine_StatusNotifier(t *testing.T) {
	network := substrate.NewLocalNetwork()
	ea := newTestEngine(t, network.Attach("devA"))
	eb := newTestEngine(t, network.Attach("devB"))

	if err := ea.CreateTable("s1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"s1", "s2"} {
		if err := eb.CreateTable(id); err != nil {
			t.Fatal(err)
		}
	}

	rec := &statusRecorder{}
	eb.SetStatusNotifier(rec)

	network.SetOnline("devA", false)
	network.SetOnline("devA", true)

	want := []statusCall{
		{"", "devA", domain.StatusOffline},
		{"", "devA", domain.StatusOnline},
		{"s1", "devA", domain.StatusOnline},
		// devA has no table s2, so the pull fails.
		{"s2", "devA", domain.StatusOffline},
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(rec.snapshot()) < len(want) {
		time.Sleep(10 * time.Millisecond)
	}
	if diff := cmp.Diff(want, rec.snapshot(), cmp.AllowUnexported(statusCall{})); diff != "" {
		t.Errorf("status calls mismatch (-want +got):\n%s", diff)
	}
}
