package substrate

import (
	"context"
	"errors"
	"testing"
	"time"
)

type statusEvent struct {
	user, app, table, device string
	online                   bool
}

func syncAndWait(t *testing.T, d Delegate, devices []string) map[string]error {
	t.Helper()
	done := make(chan map[string]error, 1)
	if err := d.Sync(context.Background(), devices, PullOnly, func(r map[string]error) { done <- r }); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not complete")
		return nil
	}
}

func TestSync_PullFromPeer(t *testing.T) {
	network := NewLocalNetwork()
	ma := newTestManager(t, network.Attach("devA"))
	mb := newTestManager(t, network.Attach("devB"))

	da, err := ma.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := da.PutBatch([]Entry{
		{Key: []byte("p_name"), Value: []byte("zhangsan")},
		{Key: []byte("p_age"), Value: []byte{18}},
	}); err != nil {
		t.Fatal(err)
	}

	db, err := mb.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	if err := db.RegisterObserver(rec); err != nil {
		t.Fatal(err)
	}

	results := syncAndWait(t, db, []string{"devA"})
	if err := results["devA"]; err != nil {
		t.Fatalf("pull from devA failed: %v", err)
	}

	got, err := db.Get([]byte("p_name"))
	if err != nil || string(got) != "zhangsan" {
		t.Errorf("Get(p_name) = %q, %v", got, err)
	}

	batch := rec.next(t)
	if batch.Origin != "devA" || len(batch.Inserted) != 2 {
		t.Errorf("batch = %+v, want 2 inserts from devA", batch)
	}

	// A second pull of identical data applies nothing.
	syncAndWait(t, db, []string{"devA"})
	rec.none(t)
}

func TestSync_NewerStampWins(t *testing.T) {
	network := NewLocalNetwork()
	ma := newTestManager(t, network.Attach("devA"))
	mb := newTestManager(t, network.Attach("devB"))

	base := time.Unix(1700000000, 0)
	ma.now = func() time.Time { return base }
	mb.now = func() time.Time { return base.Add(time.Second) }

	da, _ := ma.CreateKvStore("s1", Options{CreateIfMissing: true})
	db, _ := mb.CreateKvStore("s1", Options{CreateIfMissing: true})

	if err := da.Put([]byte("p_k"), []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("p_k"), []byte("new")); err != nil {
		t.Fatal(err)
	}

	syncAndWait(t, db, []string{"devA"})
	if got, _ := db.Get([]byte("p_k")); string(got) != "new" {
		t.Errorf("older remote value overwrote local: %q", got)
	}

	syncAndWait(t, da, []string{"devB"})
	if got, _ := da.Get([]byte("p_k")); string(got) != "new" {
		t.Errorf("newer remote value not applied: %q", got)
	}
}

func TestSync_Validation(t *testing.T) {
	network := NewLocalNetwork()
	m := newTestManager(t, network.Attach("devA"))
	d, _ := m.CreateKvStore("s1", Options{CreateIfMissing: true})

	if err := d.Sync(context.Background(), nil, PullOnly, nil); !errors.Is(err, ErrNoDevices) {
		t.Errorf("no devices error = %v, want ErrNoDevices", err)
	}
	if err := d.Sync(context.Background(), []string{"devB"}, PushPull, nil); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("push_pull error = %v, want ErrUnsupportedMode", err)
	}

	bare := newTestManager(t, nil)
	bd, _ := bare.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err := bd.Sync(context.Background(), []string{"devB"}, PullOnly, nil); !errors.Is(err, ErrNoTransport) {
		t.Errorf("no transport error = %v, want ErrNoTransport", err)
	}
}

func TestSync_UnreachableDevice(t *testing.T) {
	network := NewLocalNetwork()
	m := newTestManager(t, network.Attach("devA"))
	d, _ := m.CreateKvStore("s1", Options{CreateIfMissing: true})

	results := syncAndWait(t, d, []string{"ghost"})
	if !errors.Is(results["ghost"], ErrDeviceOffline) {
		t.Errorf("result = %v, want ErrDeviceOffline", results["ghost"])
	}
}

func TestSync_MissingRemoteTable(t *testing.T) {
	network := NewLocalNetwork()
	newTestManager(t, network.Attach("devA"))
	mb := newTestManager(t, network.Attach("devB"))
	d, _ := mb.CreateKvStore("s1", Options{CreateIfMissing: true})

	results := syncAndWait(t, d, []string{"devA"})
	if !errors.Is(results["devA"], ErrTableNotFound) {
		t.Errorf("result = %v, want ErrTableNotFound", results["devA"])
	}
}

func TestManager_StatusNotifier(t *testing.T) {
	network := NewLocalNetwork()
	newTestManager(t, network.Attach("devA"))
	mb := newTestManager(t, network.Attach("devB"))

	events := make(chan statusEvent, 4)
	mb.SetStoreStatusNotifier(func(user, app, table, device string, online bool) {
		events <- statusEvent{user, app, table, device, online}
	})

	if got := network.Attach("devB").Devices("demo.app"); len(got) != 1 || got[0] != "devA" {
		t.Errorf("Devices() = %v, want [devA]", got)
	}

	network.SetOnline("devA", false)
	network.SetOnline("devA", true)

	want := []statusEvent{
		{"default", "demo.app", "", "devA", false},
		{"default", "demo.app", "", "devA", true},
	}
	for _, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event = %+v, want %+v", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %+v", w)
		}
	}
}

func TestManager_AutoSync(t *testing.T) {
	network := NewLocalNetwork()
	ma := newTestManager(t, network.Attach("devA"))

	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.SyncInterval = 20 * time.Millisecond
	cfg.Transport = network.Attach("devB")
	cfg.Logger = testLogger()
	mb := NewManager(cfg)
	if err := mb.Open("demo.app"); err != nil {
		t.Fatal(err)
	}
	defer mb.Close()

	da, _ := ma.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err := da.Put([]byte("p_k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	db, _ := mb.CreateKvStore("s1", Options{CreateIfMissing: true, AutoSync: true})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := db.Get([]byte("p_k")); err == nil && string(got) == "v" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("auto sync did not pull p_k")
}

func TestSync_MergeAfterDropWritesNothing(t *testing.T) {
	m := newTestManager(t, nil)
	d, err := m.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	tb := d.(*table)

	// Hold the manager lock so the merge passes its first check and then
	// waits for the transaction while the table is dropped.
	m.mu.Lock()
	merged := make(chan error, 1)
	go func() {
		_, err := tb.merge("dev2", []Entry{{Key: []byte("p_name"), Value: []byte("x"), Stamp: 1}})
		merged <- err
	}()
	time.Sleep(50 * time.Millisecond)
	err = m.deleteTableLocked("s1")
	m.mu.Unlock()
	if err != nil {
		t.Fatalf("deleteTableLocked() error = %v", err)
	}

	if err := <-merged; !errors.Is(err, ErrTableNotFound) {
		t.Errorf("merge error = %v, want ErrTableNotFound", err)
	}

	d2, err := m.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := d2.GetEntries(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("re-created table has %d orphan entries", len(entries))
	}
}

func TestTable_PutAfterDrop(t *testing.T) {
	m := newTestManager(t, nil)
	d, err := m.CreateKvStore("s1", Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	put := make(chan error, 1)
	go func() { put <- d.Put([]byte("p_name"), []byte("x")) }()
	time.Sleep(50 * time.Millisecond)
	err = m.deleteTableLocked("s1")
	m.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-put; !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Put() error = %v, want ErrTableNotFound", err)
	}
}
