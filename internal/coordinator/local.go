package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
)

var (
	ErrClosed      = errors.New("coordinator: closed")
	ErrEmptyTarget = errors.New("coordinator: empty target device")
)

type sessionKey struct {
	bundle    string
	sessionID string
}

type handoff struct {
	target  string
	entries map[string][]byte
}

// LocalService is an in-process coordination service shared by the
// LocalClients of several devices.
type LocalService struct {
	logger *slog.Logger

	mu        sync.Mutex
	snapshots map[sessionKey]handoff
	subs      map[sessionKey]map[string]*localSubscription
	closed    bool
}

// NewLocalService returns an empty service. A nil logger means
// slog.Default().
func NewLocalService(logger *slog.Logger) *LocalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalService{
		logger:    logger.With("component", "coordinator", "mode", "local"),
		snapshots: make(map[sessionKey]handoff),
		subs:      make(map[sessionKey]map[string]*localSubscription),
	}
}

// Client returns a client acting for deviceID. sealer may be nil.
func (s *LocalService) Client(deviceID string, sealer *adaptive.Sealer) *LocalClient {
	return &LocalClient{svc: s, deviceID: deviceID, sealing: sealing{s: sealer}}
}

// Snapshot returns the stored hand-off record of a session, as stored
// (sealed values stay sealed).
func (s *LocalService) Snapshot(bundle, sessionID string) (target string, entries map[string][]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.snapshots[sessionKey{bundle, sessionID}]
	if !ok {
		return "", nil, false
	}
	return h.target, maps.Clone(h.entries), true
}

// HasSubscription reports whether deviceID observes the session.
func (s *LocalService) HasSubscription(bundle, sessionID, deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[sessionKey{bundle, sessionID}][deviceID]
	return ok
}

// Close ends every subscription. Requests issued afterwards fail with
// ErrClosed.
func (s *LocalService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var all []*localSubscription
	for _, bySession := range s.subs {
		for _, sub := range bySession {
			all = append(all, sub)
		}
	}
	s.subs = make(map[sessionKey]map[string]*localSubscription)
	s.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func (s *LocalService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publish hands sealed entries to the target's subscription unless the
// target is the origin.
func (s *LocalService) publish(key sessionKey, origin, target string, entries map[string][]byte) {
	if origin == target {
		return
	}
	s.mu.Lock()
	sub := s.subs[key][target]
	s.mu.Unlock()
	if sub != nil {
		sub.push(entries)
	}
}

func (s *LocalService) subscribe(key sessionKey, deviceID string, sub *localSubscription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	bySession := s.subs[key]
	if bySession == nil {
		bySession = make(map[string]*localSubscription)
		s.subs[key] = bySession
	}
	old := bySession[deviceID]
	bySession[deviceID] = sub
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
	return nil
}

// unsubscribe removes the device's subscription. When only is non-nil the
// subscription is removed only if it is still the registered one.
func (s *LocalService) unsubscribe(key sessionKey, deviceID string, only *localSubscription) {
	s.mu.Lock()
	sub := s.subs[key][deviceID]
	if sub == nil || (only != nil && sub != only) {
		s.mu.Unlock()
		return
	}
	delete(s.subs[key], deviceID)
	if len(s.subs[key]) == 0 {
		delete(s.subs, key)
	}
	s.mu.Unlock()

	sub.stop()
}

// ============================================================================
// Subscription
// ============================================================================

type localSubscription struct {
	queue    chan map[string][]byte
	done     chan struct{}
	stopOnce sync.Once
}

func newLocalSubscription() *localSubscription {
	return &localSubscription{
		queue: make(chan map[string][]byte, 16),
		done:  make(chan struct{}),
	}
}

func (sub *localSubscription) push(entries map[string][]byte) {
	select {
	case sub.queue <- entries:
	case <-sub.done:
	}
}

func (sub *localSubscription) stop() {
	sub.stopOnce.Do(func() { close(sub.done) })
}

// ============================================================================
// Client
// ============================================================================

// LocalClient is the view of a LocalService from one device. It
// implements cachemgr.Coordinator.
type LocalClient struct {
	svc      *LocalService
	deviceID string
	sealing  sealing
}

// DeviceID returns the device the client acts for.
func (c *LocalClient) DeviceID() string { return c.deviceID }

// ObjectStoreSave replaces the session's hand-off record.
func (c *LocalClient) ObjectStoreSave(_ context.Context, bundle, sessionID, deviceID string, snapshot map[string][]byte,
	done func(map[string]int32, error)) error {
	if deviceID == "" {
		return ErrEmptyTarget
	}
	if c.svc.isClosed() {
		return ErrClosed
	}
	sealed, err := c.sealing.seal(bundle, sessionID, snapshot)
	if err != nil {
		return err
	}

	key := sessionKey{bundle, sessionID}
	go func() {
		c.svc.mu.Lock()
		c.svc.snapshots[key] = handoff{target: deviceID, entries: sealed}
		c.svc.mu.Unlock()

		c.svc.publish(key, c.deviceID, deviceID, maps.Clone(sealed))
		done(map[string]int32{deviceID: 0}, nil)
	}()
	return nil
}

// ObjectStoreRevokeSave deletes the session's hand-off record. Revoking a
// missing record succeeds.
func (c *LocalClient) ObjectStoreRevokeSave(_ context.Context, bundle, sessionID string, done func(int32, error)) error {
	if c.svc.isClosed() {
		return ErrClosed
	}
	go func() {
		c.svc.mu.Lock()
		delete(c.svc.snapshots, sessionKey{bundle, sessionID})
		c.svc.mu.Unlock()
		done(0, nil)
	}()
	return nil
}

// ObjectStoreRetrieve returns the hand-off record addressed to this
// device, or an empty map.
func (c *LocalClient) ObjectStoreRetrieve(_ context.Context, bundle, sessionID string, done func(map[string][]byte, error)) error {
	if c.svc.isClosed() {
		return ErrClosed
	}
	go func() {
		target, entries, ok := c.svc.Snapshot(bundle, sessionID)
		if !ok || target != c.deviceID {
			done(map[string][]byte{}, nil)
			return
		}
		done(c.sealing.open(bundle, sessionID, entries))
	}()
	return nil
}

// RegisterDataObserver delivers entries saved to this device by other
// devices, in order, until ctx ends or the observer is unregistered. A new
// registration replaces the previous one.
func (c *LocalClient) RegisterDataObserver(ctx context.Context, bundle, sessionID string, onChange func(map[string][]byte)) error {
	key := sessionKey{bundle, sessionID}
	sub := newLocalSubscription()
	if err := c.svc.subscribe(key, c.deviceID, sub); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.svc.unsubscribe(key, c.deviceID, sub)
				return
			case <-sub.done:
				return
			case sealed := <-sub.queue:
				entries, err := c.sealing.open(bundle, sessionID, sealed)
				if err != nil {
					c.svc.logger.Warn("dropping data change", "session_id", sessionID,
						"device_id", c.deviceID, "error", err)
					continue
				}
				onChange(entries)
			}
		}
	}()
	return nil
}

// UnregisterDataChangeObserver ends the device's subscription, if any.
func (c *LocalClient) UnregisterDataChangeObserver(_ context.Context, bundle, sessionID string) error {
	c.svc.unsubscribe(sessionKey{bundle, sessionID}, c.deviceID, nil)
	return nil
}
