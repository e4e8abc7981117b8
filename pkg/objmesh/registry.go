package objmesh

import (
	"errors"
	"sort"
	"sync"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/core/service"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
)

// ServiceFactory builds the object service of a bundle.
type ServiceFactory func(bundle string) (*service.ObjectService, error)

// Registry owns the Stores of a process, one per bundle.
type Registry struct {
	newService ServiceFactory
	metrics    *metric.Registry

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewRegistry creates a Registry. metrics may be nil.
func NewRegistry(factory ServiceFactory, metrics *metric.Registry) *Registry {
	return &Registry{
		newService: factory,
		metrics:    metrics,
		stores:     make(map[string]*Store),
	}
}

// Open returns the Store of bundle, building it on first use.
func (r *Registry) Open(bundle string) (*Store, error) {
	if bundle == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("empty bundle name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, domain.ErrNullStore
	}
	if s, ok := r.stores[bundle]; ok {
		return s, nil
	}
	if r.newService == nil {
		return nil, domain.ErrNullStore.WithDetails("no service factory")
	}

	svc, err := r.newService(bundle)
	if err != nil {
		return nil, err
	}
	s := newStore(svc, r.metrics)
	r.stores[bundle] = s
	return s, nil
}

// Bundles lists the opened bundles in sorted order.
func (r *Registry) Bundles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for b := range r.stores {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Close closes every Store.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	var errs []error
	for _, s := range stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
