package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
	"github.com/yndnr/objmesh-go/pkg/cmap"
	"github.com/yndnr/objmesh-go/pkg/fieldcodec"
)

// ObjectEngine is the storage engine surface used by ObjectService.
//
// @design DS-0302
type ObjectEngine interface {
	Open(bundle string) error
	IsOpen() bool
	CreateTable(sessionID string) error
	DeleteTable(sessionID string) error
	HasTable(sessionID string) bool
	UpdateItem(sessionID, key string, value []byte) error
	UpdateItems(sessionID string, items map[string][]byte) error
	GetItem(sessionID, key string) ([]byte, error)
	GetItems(sessionID string) (map[string][]byte, error)
	DeleteItem(sessionID, key string) error
	RegisterObserver(sessionID string, w domain.FieldWatcher) error
	UnRegisterObserver(sessionID string) error
	SetStatusNotifier(w domain.StatusWatcher)
}

// CacheManager is the hand-off surface used by ObjectService.
//
// @design DS-0301
type CacheManager interface {
	Save(ctx context.Context, bundle, sessionID, deviceID string, snapshot map[string][]byte) error
	RevokeSave(ctx context.Context, bundle, sessionID string) error
	Resume(ctx context.Context, bundle, sessionID string, cb func(snapshot map[string][]byte)) error
	SubscribeDataChange(bundle, sessionID string, cb func(entries map[string][]byte)) error
	UnregisterDataChange(ctx context.Context, bundle, sessionID string) error
}

// ObjectConfig configures an ObjectService.
type ObjectConfig struct {
	Bundle string

	// DeviceID is reported as the network id of "restored" notifications.
	DeviceID string

	Engine ObjectEngine

	// Cache may be nil; hand-off is then unavailable.
	Cache CacheManager

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// ObjectService orchestrates session objects: their tables, typed field
// I/O, and hand-off between devices.
//
// Creating an object starts two background tasks bound to the object's
// lifetime: a resume that merges any snapshot saved for this device, and a
// subscription to fields pushed by other devices. Pushed fields already
// present locally are dropped before the rest is applied.
//
// @req RQ-0301
// @design DS-0302
type ObjectService struct {
	bundle   string
	deviceID string
	engine   ObjectEngine
	cache    CacheManager
	metrics  *metric.Registry
	logger   *slog.Logger

	// pending holds sessions whose resume merged a snapshot and whose
	// "restored" status has not been delivered yet.
	pending *cmap.Map[string, struct{}]

	mu      sync.Mutex
	tasks   map[string]*handoffTask
	locks   map[string]*sessionLock
	status  domain.StatusWatcher
	closed  bool
	running sync.WaitGroup
}

// handoffTask is the background resume and subscription of one object.
// done is closed once the task has returned, including any late
// unregister.
type handoffTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// sessionLock serializes CreateObject and Delete of one session.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewObjectService creates an ObjectService.
//
// @design DS-0302
func NewObjectService(cfg ObjectConfig) (*ObjectService, error) {
	if cfg.Bundle == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("empty bundle name")
	}
	if cfg.Engine == nil {
		return nil, domain.ErrNullStore
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ObjectService{
		bundle:   cfg.Bundle,
		deviceID: cfg.DeviceID,
		engine:   cfg.Engine,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "objects", "bundle", cfg.Bundle),
		pending:  cmap.New[string, struct{}](),
		tasks:    make(map[string]*handoffTask),
		locks:    make(map[string]*sessionLock),
	}, nil
}

// Bundle returns the application the service is bound to.
func (s *ObjectService) Bundle() string { return s.bundle }

// ============================================================================
// Object lifecycle
// ============================================================================

// CreateObject creates the table of a session and starts the background
// resume and subscription. It returns once the table exists.
func (s *ObjectService) CreateObject(sessionID string) error {
	if sessionID == "" {
		return domain.ErrInvalidArgument.WithDetails("empty session id")
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrNullStore
	}

	if !s.engine.IsOpen() {
		if err := s.engine.Open(s.bundle); err != nil {
			return err
		}
	}
	if err := s.engine.CreateTable(sessionID); err != nil {
		return err
	}

	if s.cache == nil {
		return nil
	}

	// A task left behind by a Delete that stopped waiting must finish
	// before the next subscription is made.
	s.mu.Lock()
	prev := s.tasks[sessionID]
	s.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &handoffTask{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.tasks[sessionID] = task
	s.running.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.running.Done()
		defer close(task.done)
		s.startHandoff(ctx, sessionID)
	}()
	return nil
}

// Delete removes the session's table and ends its background tasks and
// remote subscription. It waits for a running task so that the task's
// late unregister cannot reach a re-created object's subscription.
func (s *ObjectService) Delete(ctx context.Context, sessionID string) error {
	unlock := s.lockSession(sessionID)
	defer unlock()
	ctx = logger.WithSessionID(ctx, sessionID)

	if err := s.engine.DeleteTable(sessionID); err != nil {
		return err
	}
	s.pending.Delete(sessionID)

	s.mu.Lock()
	task := s.tasks[sessionID]
	s.mu.Unlock()
	if task != nil {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
			select {
			case <-task.done:
			default:
				// The task unregisters on its own once it returns; the next
				// CreateObject waits for it.
				s.logger.WarnContext(ctx, "delete stopped waiting for background task", "error", ctx.Err())
				return nil
			}
		}
		s.mu.Lock()
		if s.tasks[sessionID] == task {
			delete(s.tasks, sessionID)
		}
		s.mu.Unlock()
	}

	if s.cache != nil {
		if err := s.cache.UnregisterDataChange(ctx, s.bundle, sessionID); err != nil {
			s.logger.WarnContext(ctx, "unregister data change failed", "error", err)
		}
	}
	return nil
}

// lockSession takes the per-session lock and returns its release.
func (s *ObjectService) lockSession(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// Close stops every background task and waits for them. It does not close
// the engine.
func (s *ObjectService) Close() {
	s.mu.Lock()
	s.closed = true
	for id, task := range s.tasks {
		task.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.running.Wait()
}

// ============================================================================
// Fields
// ============================================================================

// Put encodes v and stores it under the field's table key.
func (s *ObjectService) Put(sessionID, field string, v fieldcodec.Value) error {
	if field == "" {
		return domain.ErrInvalidArgument.WithDetails("empty field name")
	}
	blob, err := fieldcodec.Encode(v)
	if err != nil {
		return domain.ErrInvalidArgument.WithDetails("encode " + field).WithCause(err)
	}
	return s.engine.UpdateItem(sessionID, domain.FieldKey(field), blob)
}

// Get reads a field and decodes it as the expected type.
func (s *ObjectService) Get(sessionID, field string, expected fieldcodec.Type) (fieldcodec.Value, error) {
	blob, err := s.engine.GetItem(sessionID, domain.FieldKey(field))
	if err != nil {
		return fieldcodec.Value{}, err
	}
	v, err := fieldcodec.Decode(blob, expected)
	if err != nil {
		return fieldcodec.Value{}, codecError(field, err)
	}
	return v, nil
}

// GetType returns the stored type of a field.
func (s *ObjectService) GetType(sessionID, field string) (fieldcodec.Type, error) {
	blob, err := s.engine.GetItem(sessionID, domain.FieldKey(field))
	if err != nil {
		return 0, err
	}
	t, err := fieldcodec.DecodeType(blob)
	if err != nil {
		return 0, codecError(field, err)
	}
	return t, nil
}

// Fields decodes every user field of a session.
func (s *ObjectService) Fields(sessionID string) (map[string]fieldcodec.Value, error) {
	items, err := s.engine.GetItems(sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fieldcodec.Value, len(items))
	for key, blob := range items {
		name, ok := domain.FieldName(key)
		if !ok {
			continue
		}
		v, err := fieldcodec.DecodeAny(blob)
		if err != nil {
			return nil, codecError(name, err)
		}
		out[name] = v
	}
	return out, nil
}

// DeleteField removes one field. Watchers are not notified.
func (s *ObjectService) DeleteField(sessionID, field string) error {
	return s.engine.DeleteItem(sessionID, domain.FieldKey(field))
}

func codecError(field string, err error) error {
	switch {
	case errors.Is(err, fieldcodec.ErrDataLen):
		return domain.ErrDataLen.WithDetails(field).WithCause(err)
	case errors.Is(err, fieldcodec.ErrTypeMismatch):
		return domain.ErrTypeMismatch.WithDetails(field).WithCause(err)
	default:
		return domain.ErrInvalidArgument.WithDetails(field).WithCause(err)
	}
}

// ============================================================================
// Watchers
// ============================================================================

// Watch installs the field watcher of a session.
func (s *ObjectService) Watch(sessionID string, w domain.FieldWatcher) error {
	return s.engine.RegisterObserver(sessionID, w)
}

// UnWatch removes the field watcher of a session.
func (s *ObjectService) UnWatch(sessionID string) error {
	return s.engine.UnRegisterObserver(sessionID)
}

// SetStatusNotifier installs the watcher for device transitions and
// "restored" notifications. The last call wins.
func (s *ObjectService) SetStatusNotifier(w domain.StatusWatcher) {
	s.mu.Lock()
	s.status = w
	s.mu.Unlock()
	s.engine.SetStatusNotifier(w)
}

// CheckRetrieveCache delivers a pending "restored" status for the session.
// It reports whether one was delivered; each merged resume is delivered
// once.
func (s *ObjectService) CheckRetrieveCache(sessionID string) bool {
	if _, ok := s.pending.Pop(sessionID); !ok {
		return false
	}
	s.notifyRestored(sessionID)
	return true
}

func (s *ObjectService) notifyRestored(sessionID string) {
	s.mu.Lock()
	w := s.status
	s.mu.Unlock()
	if w != nil {
		w.OnStatusChanged(sessionID, s.deviceID, domain.StatusRestored)
	}
}
