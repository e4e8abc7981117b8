package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"golang.org/x/time/rate"
)

// Manager owns the badger database of one app and the tables inside it.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	// mu is held for reading during every database operation so that
	// Close waits for in-flight transactions.
	mu          sync.RWMutex
	db          *badger.DB
	app         string
	closed      bool
	tables      map[string]*table
	status      StatusFunc
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewManager creates a manager. Nothing is opened until Open.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 5 * time.Second
	}
	limit, burst := cfg.SyncRate, cfg.SyncBurst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "substrate"),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		tables:  make(map[string]*table),
	}
}

// Open opens the database for app. Opening the same app again is a no-op.
func (m *Manager) Open(app string) error {
	if app == "" {
		return fmt.Errorf("%w: app name", ErrEmptyKey)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.db != nil {
		defer m.mu.Unlock()
		if m.app == app {
			return nil
		}
		return fmt.Errorf("%w: open %q, requested %q", ErrAppMismatch, m.app, app)
	}

	db, err := badger.Open(m.badgerOptions(app))
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("substrate: open db: %w", err)
	}

	m.db = db
	m.app = app
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop()

	if tr := m.cfg.Transport; tr != nil {
		tr.Handle(app, m.servePull)
		cancel := tr.Subscribe(app, m.onDeviceStatus)
		m.mu.Lock()
		m.unsubscribe = cancel
		m.mu.Unlock()
	}

	m.logger.Info("substrate opened",
		"app", app,
		"in_memory", m.cfg.InMemory,
		"dir", m.cfg.Dir)
	return nil
}

func (m *Manager) badgerOptions(app string) badger.Options {
	var opts badger.Options
	if m.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(m.cfg.Dir, app))
	}
	opts.Logger = &badgerLogger{logger: m.logger}

	bc := m.cfg.Badger
	if bc.CacheSize > 0 {
		opts.BlockCacheSize = bc.CacheSize
	}
	if bc.ValueLogFileSize > 0 && !m.cfg.InMemory {
		opts.ValueLogFileSize = bc.ValueLogFileSize
	}
	if bc.NumMemtables > 0 {
		opts.NumMemtables = bc.NumMemtables
	}
	opts.SyncWrites = bc.SyncWrites && !m.cfg.InMemory
	return opts
}

// App returns the app the manager was opened for.
func (m *Manager) App() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.app
}

// Devices returns the reachable peers hosting the manager's app, or nil
// without a transport.
func (m *Manager) Devices() []string {
	tr := m.cfg.Transport
	if tr == nil {
		return nil
	}
	return tr.Devices(m.App())
}

// CreateKvStore opens a table, creating it when opts.CreateIfMissing is set.
// Opening a table twice returns the same delegate.
func (m *Manager) CreateKvStore(name string, opts Options) (Delegate, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: table name", ErrEmptyKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpenLocked(); err != nil {
		return nil, err
	}
	if t, ok := m.tables[name]; ok {
		return t, nil
	}

	exists, err := m.tableExistsLocked(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		err := m.db.Update(func(txn *badger.Txn) error {
			return txn.Set(metaKey(name), encodeValue(m.now().UnixNano(), nil))
		})
		if err != nil {
			return nil, fmt.Errorf("substrate: create table: %w", err)
		}
	}

	t := newTable(m, name, opts)
	m.tables[name] = t

	m.logger.Debug("table opened", "table", name, "created", !exists, "auto_sync", opts.AutoSync)
	return t, nil
}

// DeleteKvStore removes a table and all of its entries. Delegates of the
// table fail with ErrTableNotFound afterwards.
func (m *Manager) DeleteKvStore(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTableLocked(name)
}

func (m *Manager) deleteTableLocked(name string) error {
	if err := m.checkOpenLocked(); err != nil {
		return err
	}

	exists, err := m.tableExistsLocked(name)
	if err != nil {
		return err
	}
	t, open := m.tables[name]
	if !exists && !open {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	if err := m.dropPrefixLocked(tablePrefix(name)); err != nil {
		return err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return fmt.Errorf("substrate: delete table meta: %w", err)
	}

	if open {
		t.drop()
		delete(m.tables, name)
	}

	m.logger.Debug("table deleted", "table", name)
	return nil
}

// dropPrefixLocked deletes every key under prefix through a write batch,
// which splits large deletions across transactions.
func (m *Manager) dropPrefixLocked(prefix []byte) error {
	var keys [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("substrate: scan table: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := m.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("substrate: drop table: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("substrate: drop table: %w", err)
	}
	return nil
}

// SetStoreStatusNotifier installs the device status callback. A nil fn
// removes it.
func (m *Manager) SetStoreStatusNotifier(fn StatusFunc) {
	m.mu.Lock()
	m.status = fn
	m.mu.Unlock()
}

// Close stops background work and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	db, app := m.db, m.app
	unsubscribe := m.unsubscribe
	for name, t := range m.tables {
		t.drop()
		delete(m.tables, name)
	}
	m.db = nil
	m.mu.Unlock()

	if db == nil {
		return nil
	}

	m.cancel()
	<-m.doneCh

	if tr := m.cfg.Transport; tr != nil {
		tr.Handle(app, nil)
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("substrate: close db: %w", err)
	}
	m.logger.Info("substrate closed", "app", app)
	return nil
}

func (m *Manager) checkOpenLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.db == nil {
		return ErrNotOpen
	}
	return nil
}

func (m *Manager) tableExistsLocked(name string) (bool, error) {
	err := m.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("substrate: read table meta: %w", err)
	}
	return true, nil
}

// view runs fn in a read transaction while holding the manager open.
func (m *Manager) view(fn func(txn *badger.Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpenLocked(); err != nil {
		return err
	}
	return m.db.View(fn)
}

// update runs fn in a read-write transaction while holding the manager open.
func (m *Manager) update(fn func(txn *badger.Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpenLocked(); err != nil {
		return err
	}
	return m.db.Update(fn)
}

func (m *Manager) onDeviceStatus(deviceID string, online bool) {
	m.mu.RLock()
	fn, app, user := m.status, m.app, m.cfg.UserID
	m.mu.RUnlock()

	m.logger.Info("device status changed", "device_id", deviceID, "online", online)
	if fn != nil {
		fn(user, app, "", deviceID, online)
	}
}

// servePull answers a peer's pull of one table.
func (m *Manager) servePull(name string) ([]Entry, error) {
	var entries []Entry
	err := m.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrTableNotFound, name)
			}
			return err
		}
		var err error
		entries, err = scan(txn, tablePrefix(name), nil)
		return err
	})
	return entries, err
}

// scan returns the entries under tablePrefix+prefix with the table prefix
// removed from their keys.
func scan(txn *badger.Txn, tablePrefix, prefix []byte) ([]Entry, error) {
	full := append(append([]byte(nil), tablePrefix...), prefix...)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = full
	it := txn.NewIterator(opts)
	defer it.Close()

	var entries []Entry
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		stamp, value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Key:   append([]byte(nil), item.Key()[len(tablePrefix):]...),
			Value: value,
			Stamp: stamp,
		})
	}
	return entries, nil
}

// loop runs value log GC and auto sync until the manager closes.
func (m *Manager) loop() {
	defer close(m.doneCh)

	var gcC, syncC <-chan time.Time
	if iv := m.cfg.Badger.GCInterval; iv > 0 && !m.cfg.InMemory {
		t := time.NewTicker(iv)
		defer t.Stop()
		gcC = t.C
	}
	if iv := m.cfg.SyncInterval; iv > 0 && m.cfg.Transport != nil {
		t := time.NewTicker(iv)
		defer t.Stop()
		syncC = t.C
	}

	for {
		select {
		case <-gcC:
			m.runGC()
		case <-syncC:
			m.autoSync()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) runGC() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return
	}

	threshold := m.cfg.Badger.GCThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	rounds := 0
	for {
		err := m.db.RunValueLogGC(threshold)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				m.logger.Error("value log gc failed", "error", err)
			}
			break
		}
		rounds++
	}
	if rounds > 0 {
		m.logger.Debug("value log gc completed", "rounds", rounds)
	}
}

func (m *Manager) autoSync() {
	m.mu.RLock()
	var tables []*table
	for _, t := range m.tables {
		if t.opts.AutoSync {
			tables = append(tables, t)
		}
	}
	app := m.app
	m.mu.RUnlock()

	if len(tables) == 0 {
		return
	}
	devices := m.cfg.Transport.Devices(app)
	if len(devices) == 0 {
		return
	}

	for _, t := range tables {
		name := t.name
		err := t.Sync(m.ctx, devices, PullOnly, func(results map[string]error) {
			for device, err := range results {
				if err != nil {
					m.logger.Debug("auto sync pull failed", "table", name, "device_id", device, "error", err)
				}
			}
		})
		if err != nil {
			m.logger.Debug("auto sync skipped", "table", name, "error", err)
		}
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
