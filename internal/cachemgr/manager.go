package cachemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
	"github.com/yndnr/objmesh-go/pkg/cmap"
)

// DefaultTimeout is the bounded wait of a bridged call.
const DefaultTimeout = 5 * time.Second

// Coordinator is the asynchronous remote coordination service. Each
// request method returns once the request is issued; done is called at
// most once with the outcome, from any goroutine.
type Coordinator interface {
	// ObjectStoreSave stores a hand-off snapshot addressed to deviceID.
	// done receives a completion code per device; zero means success.
	ObjectStoreSave(ctx context.Context, bundle, sessionID, deviceID string, snapshot map[string][]byte,
		done func(codes map[string]int32, err error)) error

	// ObjectStoreRevokeSave deletes any hand-off snapshot of the session.
	ObjectStoreRevokeSave(ctx context.Context, bundle, sessionID string,
		done func(code int32, err error)) error

	// ObjectStoreRetrieve fetches the snapshot addressed to this device.
	// A missing snapshot is an empty map.
	ObjectStoreRetrieve(ctx context.Context, bundle, sessionID string,
		done func(snapshot map[string][]byte, err error)) error

	// RegisterDataObserver delivers remote field changes of a session
	// until ctx ends or the observer is unregistered.
	RegisterDataObserver(ctx context.Context, bundle, sessionID string,
		onChange func(entries map[string][]byte)) error

	// UnregisterDataChangeObserver cancels RegisterDataObserver.
	UnregisterDataChangeObserver(ctx context.Context, bundle, sessionID string) error
}

// Config configures a Manager.
type Config struct {
	// Coordinator may be nil, in which case every call fails with
	// ErrRemoteUnavailable.
	Coordinator Coordinator

	// Timeout bounds bridged calls. Defaults to DefaultTimeout.
	Timeout time.Duration

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Manager presents blocking Save and RevokeSave calls on top of the
// asynchronous coordinator, plus asynchronous Resume and change
// subscriptions.
//
// Bridged calls on one Manager are serialized. A call that does not
// complete within the timeout fails with ErrTimeout; its late completion
// is dropped.
type Manager struct {
	coord   Coordinator
	timeout time.Duration
	metrics *metric.Registry
	logger  *slog.Logger

	callMu  sync.Mutex
	waiters *cmap.Map[string, chan outcome]

	// ctx bounds every subscription; Close cancels it so that remote
	// subscriptions do not outlive the process's use of them.
	ctx    context.Context
	cancel context.CancelFunc
}

type outcome struct {
	value any
	err   error
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		coord:   cfg.Coordinator,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "cachemgr"),
		waiters: cmap.New[string, chan outcome](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels all subscriptions. Calls after Close fail with
// ErrRemoteUnavailable.
func (m *Manager) Close() {
	m.cancel()
}

// ============================================================================
// Bridged calls
// ============================================================================

// Save hands the full snapshot of a session to deviceID and waits for the
// device's completion code.
func (m *Manager) Save(ctx context.Context, bundle, sessionID, deviceID string, snapshot map[string][]byte) error {
	if deviceID == "" {
		return domain.ErrInvalidArgument.WithDetails("empty device id")
	}
	if err := m.available(); err != nil {
		return err
	}

	v, err := m.bridge(ctx, "save", func(done func(any, error)) error {
		return m.coord.ObjectStoreSave(ctx, bundle, sessionID, deviceID, maps.Clone(snapshot),
			func(codes map[string]int32, err error) { done(codes, err) })
	})
	if err != nil {
		return err
	}

	codes, _ := v.(map[string]int32)
	code, ok := codes[deviceID]
	if !ok {
		return domain.ErrGetFailed.WithDetails(deviceID)
	}
	if code != 0 {
		return domain.ErrProcessing.WithDetails(fmt.Sprintf("save to %s: code %d", deviceID, code))
	}
	return nil
}

// RevokeSave deletes any hand-off snapshot of the session and waits for
// the status code.
func (m *Manager) RevokeSave(ctx context.Context, bundle, sessionID string) error {
	if err := m.available(); err != nil {
		return err
	}

	v, err := m.bridge(ctx, "revoke_save", func(done func(any, error)) error {
		return m.coord.ObjectStoreRevokeSave(ctx, bundle, sessionID,
			func(code int32, err error) { done(code, err) })
	})
	if err != nil {
		return err
	}
	if code, _ := v.(int32); code != 0 {
		return domain.ErrProcessing.WithDetails(fmt.Sprintf("revoke: code %d", code))
	}
	return nil
}

// bridge issues one asynchronous request and blocks until it completes,
// ctx ends or the timeout elapses. Only the timeout or an expired ctx
// deadline is ErrTimeout; a cancelled ctx returns its error.
func (m *Manager) bridge(ctx context.Context, op string, issue func(done func(any, error)) error) (any, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	start := time.Now()
	id := ulid.Make().String()
	ch := make(chan outcome, 1)
	m.waiters.Set(id, ch)
	defer m.waiters.Delete(id)

	done := func(v any, err error) {
		w, ok := m.waiters.Pop(id)
		if !ok {
			m.logger.Debug("dropping late completion", "op", op, "call_id", id)
			return
		}
		w <- outcome{value: v, err: err}
	}

	if err := issue(done); err != nil {
		m.record(op, metric.ResultError, start)
		return nil, domain.ErrRemoteUnavailable.WithDetails(op).WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	select {
	case out := <-ch:
		if out.err != nil {
			m.record(op, metric.ResultError, start)
			return nil, domain.ErrProcessing.WithDetails(op).WithCause(out.err)
		}
		m.record(op, metric.ResultOK, start)
		return out.value, nil
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.record(op, metric.ResultError, start)
			return nil, ctx.Err()
		}
		m.record(op, metric.ResultTimeout, start)
		m.logger.WarnContext(ctx, "remote call timed out", "op", op, "call_id", id, "elapsed", time.Since(start))
		return nil, domain.ErrTimeout.WithDetails(op).WithCause(ctx.Err())
	}
}

// ============================================================================
// Asynchronous calls
// ============================================================================

// Resume requests the snapshot addressed to this device. cb runs once, from
// another goroutine, with the snapshot; it receives an empty map when the
// request fails after being issued.
func (m *Manager) Resume(ctx context.Context, bundle, sessionID string, cb func(snapshot map[string][]byte)) error {
	if err := m.available(); err != nil {
		return err
	}

	var once sync.Once
	deliver := func(snapshot map[string][]byte) {
		once.Do(func() {
			if snapshot == nil {
				snapshot = map[string][]byte{}
			}
			cb(snapshot)
		})
	}

	err := m.coord.ObjectStoreRetrieve(ctx, bundle, sessionID, func(snapshot map[string][]byte, err error) {
		if err != nil {
			m.logger.WarnContext(ctx, "resume failed", "error", err)
			snapshot = nil
		}
		deliver(snapshot)
	})
	if err != nil {
		return domain.ErrRemoteUnavailable.WithDetails("resume").WithCause(err)
	}
	return nil
}

// SubscribeDataChange registers cb for remote field changes of a session.
// The subscription ends with UnregisterDataChange or Close.
func (m *Manager) SubscribeDataChange(bundle, sessionID string, cb func(entries map[string][]byte)) error {
	if err := m.available(); err != nil {
		return err
	}
	if err := m.coord.RegisterDataObserver(m.ctx, bundle, sessionID, cb); err != nil {
		return domain.ErrRemoteUnavailable.WithDetails("subscribe").WithCause(err)
	}
	return nil
}

// UnregisterDataChange cancels SubscribeDataChange.
func (m *Manager) UnregisterDataChange(ctx context.Context, bundle, sessionID string) error {
	if err := m.available(); err != nil {
		return err
	}
	if err := m.coord.UnregisterDataChangeObserver(ctx, bundle, sessionID); err != nil {
		return domain.ErrProcessing.WithDetails("unsubscribe").WithCause(err)
	}
	return nil
}

func (m *Manager) available() error {
	if m.coord == nil {
		return domain.ErrRemoteUnavailable.WithDetails("no coordinator")
	}
	if m.ctx.Err() != nil {
		return domain.ErrRemoteUnavailable.WithDetails("cache manager closed")
	}
	return nil
}

func (m *Manager) record(op, result string, start time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveBridgeCall(op, result, time.Since(start))
	}
}

// IsTimeout reports whether err is a bridged call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, domain.ErrTimeout)
}
