package substrate

import (
	"log/slog"
	"slices"
	"sync"
)

// dispatcher delivers change batches of one table to its observers, one
// batch at a time and in publish order. The queue is unbounded so that
// writers never block on slow observers.
type dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	observers []Observer
	queue     []ChangeBatch

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) add(o Observer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slices.Contains(d.observers, o) {
		return ErrObserverExists
	}
	d.observers = append(d.observers, o)
	return nil
}

func (d *dispatcher) remove(o Observer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.Index(d.observers, o)
	if i < 0 {
		return ErrObserverNotFound
	}
	d.observers = slices.Delete(d.observers, i, i+1)
	return nil
}

func (d *dispatcher) publish(b ChangeBatch) {
	if b.Empty() {
		return
	}
	d.mu.Lock()
	if len(d.observers) == 0 {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, b)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops delivery. It does not wait for an in-flight callback, which
// may itself be waiting on a lock held by the caller.
func (d *dispatcher) close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			b := d.queue[0]
			d.queue[0] = ChangeBatch{}
			d.queue = d.queue[1:]
			observers := slices.Clone(d.observers)
			d.mu.Unlock()

			select {
			case <-d.stop:
				return
			default:
			}

			for _, o := range observers {
				d.deliver(o, b)
			}
		}
	}
}

func (d *dispatcher) deliver(o Observer, b ChangeBatch) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked", "panic", r)
		}
	}()
	o.OnChange(b)
}
