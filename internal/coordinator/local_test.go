package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
)

const bundle = "demo.app"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type saveResult struct {
	codes map[string]int32
	err   error
}

func save(t *testing.T, c *LocalClient, session, target string, snapshot map[string][]byte) saveResult {
	t.Helper()
	ch := make(chan saveResult, 1)
	err := c.ObjectStoreSave(context.Background(), bundle, session, target, snapshot,
		func(codes map[string]int32, err error) { ch <- saveResult{codes, err} })
	if err != nil {
		t.Fatalf("ObjectStoreSave() error = %v", err)
	}
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("save did not complete")
		return saveResult{}
	}
}

func retrieve(t *testing.T, c *LocalClient, session string) (map[string][]byte, error) {
	t.Helper()
	type result struct {
		snapshot map[string][]byte
		err      error
	}
	ch := make(chan result, 1)
	err := c.ObjectStoreRetrieve(context.Background(), bundle, session,
		func(s map[string][]byte, err error) { ch <- result{s, err} })
	if err != nil {
		t.Fatalf("ObjectStoreRetrieve() error = %v", err)
	}
	select {
	case r := <-ch:
		return r.snapshot, r.err
	case <-time.After(time.Second):
		t.Fatal("retrieve did not complete")
		return nil, nil
	}
}

func revoke(t *testing.T, c *LocalClient, session string) {
	t.Helper()
	ch := make(chan error, 1)
	if err := c.ObjectStoreRevokeSave(context.Background(), bundle, session,
		func(code int32, err error) {
			if code != 0 && err == nil {
				err = errors.New("non-zero code")
			}
			ch <- err
		}); err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err != nil {
		t.Fatalf("revoke error = %v", err)
	}
}

func TestLocal_SaveRetrieveRevoke(t *testing.T) {
	svc := NewLocalService(quietLogger())
	defer svc.Close()
	dev1, dev2, dev3 := svc.Client("dev1", nil), svc.Client("dev2", nil), svc.Client("dev3", nil)

	snapshot := map[string][]byte{"p_name": []byte("\x00zhangsan")}
	r := save(t, dev1, "s1", "dev2", snapshot)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if diff := cmp.Diff(map[string]int32{"dev2": 0}, r.codes); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}

	got, err := retrieve(t, dev2, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(snapshot, got); diff != "" {
		t.Errorf("target snapshot mismatch (-want +got):\n%s", diff)
	}

	// Other devices see nothing.
	if got, _ := retrieve(t, dev3, "s1"); len(got) != 0 {
		t.Errorf("non-target retrieve = %v, want empty", got)
	}
	// Retrieve does not consume the record.
	if got, _ := retrieve(t, dev2, "s1"); len(got) != 1 {
		t.Errorf("second retrieve = %v", got)
	}

	revoke(t, dev1, "s1")
	if got, _ := retrieve(t, dev2, "s1"); len(got) != 0 {
		t.Errorf("retrieve after revoke = %v, want empty", got)
	}
	if _, _, ok := svc.Snapshot(bundle, "s1"); ok {
		t.Error("record still stored after revoke")
	}

	// Revoking again is not an error.
	revoke(t, dev1, "s1")
}

func TestLocal_SaveValidation(t *testing.T) {
	svc := NewLocalService(quietLogger())
	c := svc.Client("dev1", nil)

	err := c.ObjectStoreSave(context.Background(), bundle, "s1", "", nil, func(map[string]int32, error) {})
	if !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("empty target error = %v, want ErrEmptyTarget", err)
	}

	svc.Close()
	err = c.ObjectStoreSave(context.Background(), bundle, "s1", "dev2", nil, func(map[string]int32, error) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("closed save error = %v, want ErrClosed", err)
	}
	err = c.RegisterDataObserver(context.Background(), bundle, "s1", func(map[string][]byte) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("closed subscribe error = %v, want ErrClosed", err)
	}
}

func TestLocal_DataObserver(t *testing.T) {
	svc := NewLocalService(quietLogger())
	defer svc.Close()
	dev1, dev2 := svc.Client("dev1", nil), svc.Client("dev2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got1 := make(chan map[string][]byte, 4)
	got2 := make(chan map[string][]byte, 4)
	if err := dev1.RegisterDataObserver(ctx, bundle, "s1", func(e map[string][]byte) { got1 <- e }); err != nil {
		t.Fatal(err)
	}
	if err := dev2.RegisterDataObserver(ctx, bundle, "s1", func(e map[string][]byte) { got2 <- e }); err != nil {
		t.Fatal(err)
	}

	entries := map[string][]byte{"p_a": []byte("1")}
	save(t, dev1, "s1", "dev2", entries)

	select {
	case e := <-got2:
		if diff := cmp.Diff(entries, e); diff != "" {
			t.Errorf("pushed entries mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("target did not receive the change")
	}

	// A save to oneself is not pushed, and the origin never hears its own save.
	save(t, dev1, "s1", "dev1", entries)
	select {
	case e := <-got1:
		t.Errorf("origin received %v", e)
	case <-time.After(50 * time.Millisecond):
	}

	if err := dev2.UnregisterDataChangeObserver(context.Background(), bundle, "s1"); err != nil {
		t.Fatal(err)
	}
	save(t, dev1, "s1", "dev2", entries)
	select {
	case e := <-got2:
		t.Errorf("unregistered observer received %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocal_DataObserverEndsWithContext(t *testing.T) {
	svc := NewLocalService(quietLogger())
	defer svc.Close()
	dev1, dev2 := svc.Client("dev1", nil), svc.Client("dev2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan map[string][]byte, 1)
	if err := dev2.RegisterDataObserver(ctx, bundle, "s1", func(e map[string][]byte) { got <- e }); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.subs)
		svc.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription outlived its context")
		}
		time.Sleep(5 * time.Millisecond)
	}

	save(t, dev1, "s1", "dev2", map[string][]byte{"p_a": []byte("1")})
	select {
	case e := <-got:
		t.Errorf("cancelled observer received %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocal_Sealing(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	sealer, err := adaptive.New(key)
	if err != nil {
		t.Fatal(err)
	}
	other, err := adaptive.New(bytes.Repeat([]byte{2}, 32))
	if err != nil {
		t.Fatal(err)
	}

	svc := NewLocalService(quietLogger())
	defer svc.Close()
	dev1 := svc.Client("dev1", sealer)

	snapshot := map[string][]byte{"p_name": []byte("\x00zhangsan")}
	save(t, dev1, "s1", "dev2", snapshot)

	_, stored, ok := svc.Snapshot(bundle, "s1")
	if !ok {
		t.Fatal("no record stored")
	}
	if bytes.Contains(stored["p_name"], []byte("zhangsan")) {
		t.Error("stored value is not sealed")
	}

	got, err := retrieve(t, svc.Client("dev2", sealer), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(snapshot, got); diff != "" {
		t.Errorf("unsealed snapshot mismatch (-want +got):\n%s", diff)
	}

	if _, err := retrieve(t, svc.Client("dev2", other), "s1"); err == nil {
		t.Error("retrieve with the wrong key succeeded")
	}
}
