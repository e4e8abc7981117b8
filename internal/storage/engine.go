package storage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/storage/substrate"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
)

// Default configuration values.
const (
	DefaultStatusSyncTimeout = 10 * time.Second
)

// Substrate is the part of substrate.Manager the engine depends on.
type Substrate interface {
	Open(app string) error
	CreateKvStore(name string, opts substrate.Options) (substrate.Delegate, error)
	DeleteKvStore(name string) error
	SetStoreStatusNotifier(fn substrate.StatusFunc)
	Devices() []string
	Close() error
}

// Config configures the storage engine.
type Config struct {
	// NewSubstrate returns a fresh substrate for each Open.
	NewSubstrate func() Substrate

	// StatusSyncTimeout bounds the per-table pull issued when a device
	// comes online.
	StatusSyncTimeout time.Duration

	// Metrics is optional.
	Metrics *metric.Registry

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Engine manages one table per session on top of the substrate.
//
// All table mutation and registration operations are serialized behind a
// single mutex. Observer callbacks arrive from substrate goroutines and
// never run under it.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Registry

	mu        sync.Mutex
	sub       Substrate
	app       string
	tables    map[string]substrate.Delegate
	observers map[string]*tableObserver
	status    domain.StatusWatcher

	// ctx is cancelled on Close to stop status-triggered pulls.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a closed engine.
func New(cfg Config) (*Engine, error) {
	if cfg.NewSubstrate == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("storage: substrate factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StatusSyncTimeout <= 0 {
		cfg.StatusSyncTimeout = DefaultStatusSyncTimeout
	}

	return &Engine{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "storage"),
		metrics:   cfg.Metrics,
		tables:    make(map[string]substrate.Delegate),
		observers: make(map[string]*tableObserver),
	}, nil
}

// Open opens the engine for bundle. It is idempotent while open; opening
// a different bundle fails.
func (e *Engine) Open(bundle string) error {
	if bundle == "" {
		return domain.ErrInvalidArgument.WithDetails("empty bundle name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		if e.app == bundle {
			return nil
		}
		return domain.ErrInvalidArgument.WithDetails("engine already open for " + e.app)
	}

	sub := e.cfg.NewSubstrate()
	if sub == nil {
		return domain.ErrNullStore
	}
	if err := sub.Open(bundle); err != nil {
		return domain.ErrEngine.WithDetails("open substrate").WithCause(err)
	}
	sub.SetStoreStatusNotifier(e.onDeviceStatus)

	e.sub = sub
	e.app = bundle
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.logger.Info("storage engine opened", "bundle", bundle)
	return nil
}

// IsOpen reports whether the engine is open.
func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sub != nil
}

// Close closes the substrate and forgets all tables. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	sub := e.sub
	if sub == nil {
		e.mu.Unlock()
		return nil
	}
	app := e.app
	e.sub = nil
	e.cancel()
	clear(e.tables)
	clear(e.observers)
	e.mu.Unlock()

	e.logger.Info("shutting down storage engine", "bundle", app)
	if err := sub.Close(); err != nil {
		return domain.ErrEngine.WithDetails("close substrate").WithCause(err)
	}
	return nil
}

// ============================================================================
// Tables
// ============================================================================

// CreateTable creates the table of a session, enables background sync for
// it and starts a best-effort pull from every known device.
func (e *Engine) CreateTable(sessionID string) (err error) {
	defer func() { e.observe("create_table", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := e.tables[sessionID]; ok {
		return domain.ErrAlreadyExists.WithDetails("table " + sessionID)
	}

	d, err := e.sub.CreateKvStore(sessionID, substrate.Options{CreateIfMissing: true, AutoSync: true})
	if err != nil {
		return domain.ErrEngine.WithDetails("create table " + sessionID).WithCause(err)
	}
	e.tables[sessionID] = d

	if devices := e.sub.Devices(); len(devices) > 0 {
		logger := e.logger.With("session_id", sessionID)
		err := d.Sync(e.ctx, devices, substrate.PullOnly, func(results map[string]error) {
			for device, err := range results {
				if err != nil {
					logger.Debug("initial pull failed", "device_id", device, "error", err)
				}
			}
		})
		if err != nil {
			logger.Debug("initial pull not started", "error", err)
		}
	}

	return nil
}

// DeleteTable removes a session's table together with its observer.
func (e *Engine) DeleteTable(sessionID string) (err error) {
	defer func() { e.observe("delete_table", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}

	if obs, ok := e.observers[sessionID]; ok {
		if err := d.UnRegisterObserver(obs); err != nil {
			e.logger.Warn("unregister observer on delete failed", "session_id", sessionID, "error", err)
		}
		delete(e.observers, sessionID)
	}

	if err := e.sub.DeleteKvStore(sessionID); err != nil {
		return domain.ErrEngine.WithDetails("delete table " + sessionID).WithCause(err)
	}
	delete(e.tables, sessionID)
	return nil
}

// HasTable reports whether the session's table is known to the engine.
func (e *Engine) HasTable(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[sessionID]
	return ok
}

// Tables lists the open tables in sorted order.
func (e *Engine) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.tables))
	for id := range e.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ============================================================================
// Items
// ============================================================================

// UpdateItem writes one entry.
func (e *Engine) UpdateItem(sessionID, key string, value []byte) (err error) {
	defer func() { e.observe("update_item", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	if err := d.Put([]byte(key), value); err != nil {
		return domain.ErrEngine.WithDetails("put " + key).WithCause(err)
	}
	return nil
}

// UpdateItems writes all entries in one substrate batch. An empty map is
// rejected.
func (e *Engine) UpdateItems(sessionID string, items map[string][]byte) (err error) {
	defer func() { e.observe("update_items", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return domain.ErrInvalidArgument.WithDetails("empty batch").WithCause(domain.ErrNotInitialized)
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]substrate.Entry, 0, len(items))
	for _, k := range keys {
		entries = append(entries, substrate.Entry{Key: []byte(k), Value: items[k]})
	}
	if err := d.PutBatch(entries); err != nil {
		return domain.ErrEngine.WithDetails("put batch").WithCause(err)
	}
	return nil
}

// GetItem reads one entry. A missing key yields ErrFieldNotFound.
func (e *Engine) GetItem(sessionID, key string) (value []byte, err error) {
	defer func() { e.observe("get_item", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return nil, err
	}
	v, err := d.Get([]byte(key))
	if errors.Is(err, substrate.ErrKeyNotFound) {
		return nil, domain.ErrFieldNotFound.WithDetails(key)
	}
	if err != nil {
		return nil, domain.ErrEngine.WithDetails("get " + key).WithCause(err)
	}
	return v, nil
}

// GetItems returns a snapshot of the whole table.
func (e *Engine) GetItems(sessionID string) (items map[string][]byte, err error) {
	defer func() { e.observe("get_items", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := d.GetEntries(nil)
	if err != nil {
		return nil, domain.ErrEngine.WithDetails("scan table").WithCause(err)
	}

	items = make(map[string][]byte, len(entries))
	for _, entry := range entries {
		items[string(entry.Key)] = entry.Value
	}
	return items, nil
}

// DeleteItem removes one entry. Deleting a missing key succeeds.
func (e *Engine) DeleteItem(sessionID, key string) (err error) {
	defer func() { e.observe("delete_item", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	if err := d.Delete([]byte(key)); err != nil {
		return domain.ErrEngine.WithDetails("delete " + key).WithCause(err)
	}
	return nil
}

// ============================================================================
// Observers
// ============================================================================

// RegisterObserver installs the field observer of a session. A second
// registration for the same session is accepted and ignored.
func (e *Engine) RegisterObserver(sessionID string, w domain.FieldWatcher) error {
	if w == nil {
		return domain.ErrInvalidArgument.WithDetails("nil watcher")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	if _, ok := e.observers[sessionID]; ok {
		e.logger.Debug("already watching", "session_id", sessionID)
		return nil
	}

	obs := &tableObserver{sessionID: sessionID, watcher: w, logger: e.logger}
	if err := d.RegisterObserver(obs); err != nil {
		return domain.ErrEngine.WithDetails("register observer").WithCause(err)
	}
	e.observers[sessionID] = obs
	return nil
}

// UnRegisterObserver removes the field observer of a session.
func (e *Engine) UnRegisterObserver(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	obs, ok := e.observers[sessionID]
	if !ok {
		return domain.ErrNoObserver.WithDetails(sessionID)
	}
	delete(e.observers, sessionID)
	if err := d.UnRegisterObserver(obs); err != nil {
		return domain.ErrEngine.WithDetails("unregister observer").WithCause(err)
	}
	return nil
}

// SetStatusNotifier installs the process-wide status watcher. A nil
// watcher removes it.
func (e *Engine) SetStatusNotifier(w domain.StatusWatcher) {
	e.mu.Lock()
	e.status = w
	e.mu.Unlock()
}

// ============================================================================
// Sync
// ============================================================================

// SyncAllData pulls the session's table from the given devices. onComplete
// receives the per-device results and may be nil.
func (e *Engine) SyncAllData(ctx context.Context, sessionID string, deviceIDs []string, onComplete func(map[string]error)) (err error) {
	defer func() { e.observe("sync_all_data", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.tableLocked(sessionID)
	if err != nil {
		return err
	}
	if len(deviceIDs) == 0 {
		return domain.ErrSingleDevice.WithDetails(sessionID)
	}

	err = d.Sync(ctx, deviceIDs, substrate.PullOnly, func(results map[string]error) {
		e.observePulls(results)
		if onComplete != nil {
			onComplete(results)
		}
	})
	if err != nil {
		return domain.ErrEngine.WithDetails("sync " + sessionID).WithCause(err)
	}
	return nil
}

// onDeviceStatus receives substrate device transitions. The raw transition
// is reported with an empty session id; on a device coming online every
// open table is pulled from it and reported per session.
func (e *Engine) onDeviceStatus(_, _, _ string, deviceID string, online bool) {
	e.mu.Lock()
	w := e.status
	ctx := e.ctx
	tables := make(map[string]substrate.Delegate, len(e.tables))
	for id, d := range e.tables {
		tables[id] = d
	}
	open := e.sub != nil
	e.mu.Unlock()

	if !open {
		return
	}

	status := domain.StatusOffline
	if online {
		status = domain.StatusOnline
	}
	if w != nil {
		w.OnStatusChanged("", deviceID, status)
	}
	if !online || len(tables) == 0 {
		return
	}

	go e.pullTables(ctx, deviceID, tables, w)
}

func (e *Engine) pullTables(ctx context.Context, deviceID string, tables map[string]substrate.Delegate, w domain.StatusWatcher) {
	g, ctx := errgroup.WithContext(ctx)
	for sessionID, d := range tables {
		g.Go(func() error {
			err := e.pullTable(ctx, d, deviceID)
			status := domain.StatusOnline
			if err != nil {
				status = domain.StatusOffline
				e.logger.Debug("status pull failed",
					"session_id", sessionID,
					"device_id", deviceID,
					"error", err)
			}
			if w != nil {
				w.OnStatusChanged(sessionID, deviceID, status)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) pullTable(ctx context.Context, d substrate.Delegate, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StatusSyncTimeout)
	defer cancel()

	done := make(chan error, 1)
	err := d.Sync(ctx, []string{deviceID}, substrate.PullOnly, func(results map[string]error) {
		e.observePulls(results)
		done <- results[deviceID]
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (e *Engine) checkOpenLocked() error {
	if e.sub == nil {
		return domain.ErrNotInitialized
	}
	return nil
}

func (e *Engine) tableLocked(sessionID string) (substrate.Delegate, error) {
	if err := e.checkOpenLocked(); err != nil {
		return nil, err
	}
	d, ok := e.tables[sessionID]
	if !ok {
		return nil, domain.ErrNotExist.WithDetails("table " + sessionID)
	}
	return d, nil
}

func (e *Engine) observe(op string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveEngineOp(op, err)
	}
}

func (e *Engine) observePulls(results map[string]error) {
	if e.metrics == nil {
		return
	}
	for _, err := range results {
		if err != nil {
			e.metrics.SyncPulls.WithLabelValues(metric.ResultError).Inc()
		} else {
			e.metrics.SyncPulls.WithLabelValues(metric.ResultOK).Inc()
		}
	}
}

// tableObserver forwards inserted and updated user fields of one table to
// a FieldWatcher. Deletions are not reported.
type tableObserver struct {
	sessionID string
	watcher   domain.FieldWatcher
	logger    *slog.Logger
}

func (o *tableObserver) OnChange(b substrate.ChangeBatch) {
	seen := make(map[string]bool, len(b.Inserted)+len(b.Updated))
	var fields []string
	for _, list := range [][]substrate.Entry{b.Inserted, b.Updated} {
		for _, entry := range list {
			name, ok := domain.FieldName(string(entry.Key))
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return
	}

	o.logger.Debug("fields changed",
		"session_id", o.sessionID,
		"origin", b.Origin,
		"fields", len(fields))
	o.watcher.OnFieldsChanged(o.sessionID, fields)
}
