package objmesh

import (
	"context"
	"sort"
	"sync"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/core/service"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
)

// Status values delivered to a StatusWatcher.
const (
	StatusOnline   = domain.StatusOnline
	StatusOffline  = domain.StatusOffline
	StatusRestored = domain.StatusRestored
)

type (
	// Status is a device or session status.
	Status = domain.Status

	// FieldWatcher receives the names of changed fields of a session.
	FieldWatcher = domain.FieldWatcher

	// StatusWatcher receives device transitions and "restored" events.
	StatusWatcher = domain.StatusWatcher

	FieldWatcherFunc  = domain.FieldWatcherFunc
	StatusWatcherFunc = domain.StatusWatcherFunc
)

// Store is the object registry of one bundle. It is safe for concurrent
// use.
type Store struct {
	svc     *service.ObjectService
	metrics *metric.Registry

	mu       sync.RWMutex
	handles  map[string]*Handle
	watchers map[*Handle]*watcherProxy
}

func newStore(svc *service.ObjectService, metrics *metric.Registry) *Store {
	return &Store{
		svc:      svc,
		metrics:  metrics,
		handles:  make(map[string]*Handle),
		watchers: make(map[*Handle]*watcherProxy),
	}
}

// Bundle returns the store's application bundle.
func (s *Store) Bundle() string { return s.svc.Bundle() }

// CreateObject creates a session object. Creating a session already
// registered in this process fails with ErrAlreadyExists without touching
// the engine.
func (s *Store) CreateObject(sessionID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[sessionID]; ok {
		return nil, domain.ErrAlreadyExists.WithDetails("object " + sessionID)
	}
	if err := s.svc.CreateObject(sessionID); err != nil {
		return nil, err
	}

	h := &Handle{store: s, sessionID: sessionID}
	s.handles[sessionID] = h
	if s.metrics != nil {
		s.metrics.ObjectsActive.Inc()
	}
	return h, nil
}

// Get returns the handle of a registered session and delivers any pending
// "restored" status for it.
func (s *Store) Get(sessionID string) (*Handle, error) {
	s.mu.RLock()
	h, ok := s.handles[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrObjectNotFound.WithDetails(sessionID)
	}
	s.svc.CheckRetrieveCache(sessionID)
	return h, nil
}

// DeleteObject deletes the session's table and forgets its handle and
// watcher.
func (s *Store) DeleteObject(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.svc.Delete(ctx, sessionID); err != nil {
		return err
	}
	if h, ok := s.handles[sessionID]; ok {
		h.deleted.Store(true)
		delete(s.watchers, h)
		delete(s.handles, sessionID)
		if s.metrics != nil {
			s.metrics.ObjectsActive.Dec()
		}
	}
	return nil
}

// Watch installs w for the handle's session. A handle is watched at most
// once.
func (s *Store) Watch(h *Handle, w FieldWatcher) error {
	if h == nil || w == nil || h.deleted.Load() {
		return domain.ErrNullObject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[h]; ok {
		return domain.ErrAlreadyExists.WithDetails("watch " + h.sessionID)
	}
	proxy := &watcherProxy{sessionID: h.sessionID, watcher: w}
	if err := s.svc.Watch(h.sessionID, proxy); err != nil {
		return err
	}
	s.watchers[h] = proxy
	return nil
}

// UnWatch removes the handle's watcher. It fails with ErrNullObject when
// the handle is not watched.
func (s *Store) UnWatch(h *Handle) error {
	if h == nil {
		return domain.ErrNullObject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[h]; !ok {
		return domain.ErrNullObject.WithDetails("not watching " + h.sessionID)
	}
	if err := s.svc.UnWatch(h.sessionID); err != nil {
		return err
	}
	delete(s.watchers, h)
	return nil
}

// SetStatusNotifier installs the process-wide status watcher of the
// bundle. The last call wins; nil removes it.
func (s *Store) SetStatusNotifier(w StatusWatcher) {
	s.svc.SetStatusNotifier(w)
}

// NotifyCachedStatus delivers a pending "restored" status for the session
// and reports whether one was delivered.
func (s *Store) NotifyCachedStatus(sessionID string) bool {
	return s.svc.CheckRetrieveCache(sessionID)
}

// Sessions lists the registered sessions in sorted order.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops background work of the store's objects. Handles stay
// registered but their background hand-off tasks end.
func (s *Store) Close() error {
	s.svc.Close()
	return nil
}

// watcherProxy binds a caller's watcher to one session.
type watcherProxy struct {
	sessionID string
	watcher   FieldWatcher
}

func (p *watcherProxy) OnFieldsChanged(_ string, fields []string) {
	p.watcher.OnFieldsChanged(p.sessionID, fields)
}
