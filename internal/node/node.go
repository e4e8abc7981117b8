package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/objmesh-go/internal/cachemgr"
	"github.com/yndnr/objmesh-go/internal/config"
	"github.com/yndnr/objmesh-go/internal/coordinator"
	"github.com/yndnr/objmesh-go/internal/core/service"
	"github.com/yndnr/objmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/objmesh-go/internal/storage"
	"github.com/yndnr/objmesh-go/internal/storage/substrate"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
	"github.com/yndnr/objmesh-go/internal/transport/mesh"
	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
	"github.com/yndnr/objmesh-go/pkg/objmesh"
)

const leaveTimeout = 5 * time.Second

// Option configures a Node.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	coordinator cachemgr.Coordinator
}

// WithLogger sets the node logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCoordinator replaces the coordination client built from the
// configuration. The caller keeps ownership of it.
func WithCoordinator(c cachemgr.Coordinator) Option {
	return func(o *options) { o.coordinator = c }
}

// Node is one running device.
type Node struct {
	cfg     *config.NodeConfig
	logger  *slog.Logger
	metrics *metric.Registry

	mesh       *mesh.Transport
	coord      cachemgr.Coordinator
	closeCoord func() error
	cache      *cachemgr.Manager
	registry   *objmesh.Registry

	mu      sync.Mutex
	engines map[string]*storage.Engine
	admin   *http.Server
	adminLn net.Listener

	closeOnce sync.Once
	closeErr  error
}

// New builds a node. cfg must have passed config.Verify; an empty device
// id is resolved first.
func New(ctx context.Context, cfg *config.NodeConfig, opts ...Option) (*Node, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := config.ResolveDeviceID(cfg); err != nil {
		return nil, fmt.Errorf("resolve device id: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		logger:  o.logger.With("device_id", cfg.Node.DeviceID),
		metrics: metric.NewRegistry(),
		engines: make(map[string]*storage.Engine),
	}

	if cfg.Mesh.Enabled {
		tr, err := mesh.New(mesh.Config{
			DeviceID:      cfg.Node.DeviceID,
			BindAddr:      cfg.Mesh.BindAddr,
			BindPort:      cfg.Mesh.BindPort,
			AdvertiseAddr: cfg.Mesh.AdvertiseAddr,
			AdvertisePort: cfg.Mesh.AdvertisePort,
			Seeds:         cfg.Mesh.Seeds,
			Profile:       cfg.Mesh.Profile,
			Logger:        n.logger,
		})
		if err != nil {
			return nil, err
		}
		n.mesh = tr
	}

	if o.coordinator != nil {
		n.coord = o.coordinator
	} else if err := n.buildCoordinator(ctx); err != nil {
		n.shutdownMesh()
		return nil, err
	}

	if n.coord != nil {
		n.cache = cachemgr.New(cachemgr.Config{
			Coordinator: n.coord,
			Timeout:     cfg.Cache.WaitTimeout,
			Metrics:     n.metrics,
			Logger:      n.logger,
		})
	}
	n.registry = objmesh.NewRegistry(n.newService, n.metrics)

	n.logger.Info("node ready",
		"mesh", cfg.Mesh.Enabled,
		"coordinator", cfg.Coordinator.Mode,
		"in_memory", cfg.Node.InMemory)
	return n, nil
}

// buildCoordinator creates the coordination client named by the
// configured mode.
func (n *Node) buildCoordinator(ctx context.Context) error {
	c := n.cfg.Coordinator
	if c.Mode == config.CoordinatorNone {
		return nil
	}

	sealer, err := newSealer(c)
	if err != nil {
		return err
	}

	switch c.Mode {
	case config.CoordinatorRedis:
		var tlsCfg *tls.Config
		if tlsOpts := (tlsroots.ClientOptions{
			CAFile:   c.RedisCAFile,
			CertFile: c.RedisCertFile,
			KeyFile:  c.RedisKeyFile,
		}); !tlsOpts.Empty() {
			if tlsCfg, err = tlsroots.ClientConfig(tlsOpts); err != nil {
				return fmt.Errorf("redis tls: %w", err)
			}
		}
		client, err := coordinator.NewRedisClient(ctx, coordinator.RedisConfig{
			URL:        c.RedisURL,
			DeviceID:   n.cfg.Node.DeviceID,
			KeyPrefix:  c.KeyPrefix,
			HandoffTTL: c.HandoffTTL,
			TLS:        tlsCfg,
			Sealer:     sealer,
			Logger:     n.logger,
		})
		if err != nil {
			return err
		}
		n.coord = client
		n.closeCoord = client.Close
	default:
		svc := coordinator.NewLocalService(n.logger)
		n.coord = svc.Client(n.cfg.Node.DeviceID, sealer)
		n.closeCoord = func() error {
			svc.Close()
			return nil
		}
	}
	return nil
}

func newSealer(c config.CoordinatorSection) (*adaptive.Sealer, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	key, err := adaptive.ParseKey(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}
	kind, err := adaptive.ParseKind(c.SealAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("seal algorithm: %w", err)
	}
	return adaptive.NewWithKind(key, kind)
}

// newService builds the engine and object service of one bundle.
func (n *Node) newService(bundle string) (*service.ObjectService, error) {
	engine, err := storage.New(storage.Config{
		NewSubstrate: func() storage.Substrate {
			return substrate.NewManager(n.substrateConfig())
		},
		StatusSyncTimeout: n.cfg.Sync.StatusTimeout,
		Metrics:           n.metrics,
		Logger:            n.logger,
	})
	if err != nil {
		return nil, err
	}

	var cache service.CacheManager
	if n.cache != nil {
		cache = n.cache
	}
	svc, err := service.NewObjectService(service.ObjectConfig{
		Bundle:   bundle,
		DeviceID: n.cfg.Node.DeviceID,
		Engine:   engine,
		Cache:    cache,
		Metrics:  n.metrics,
		Logger:   n.logger,
	})
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.engines[bundle] = engine
	n.mu.Unlock()
	return svc, nil
}

func (n *Node) substrateConfig() substrate.Config {
	cfg := substrate.DefaultConfig(n.cfg.Node.DataDir)
	cfg.InMemory = n.cfg.Node.InMemory
	cfg.UserID = n.cfg.Node.User
	cfg.SyncInterval = n.cfg.Sync.Interval
	cfg.PullTimeout = n.cfg.Sync.PullTimeout
	cfg.SyncRate = rate.Limit(n.cfg.Sync.Rate)
	cfg.SyncBurst = n.cfg.Sync.Burst
	cfg.Badger.CacheSize = int64(n.cfg.Storage.CacheSizeMB) << 20
	cfg.Badger.SyncWrites = n.cfg.Storage.SyncWrites
	cfg.Badger.GCInterval = n.cfg.Storage.GCInterval
	cfg.Logger = n.logger
	if n.mesh != nil {
		cfg.Transport = n.mesh
	}
	return cfg
}

// DeviceID returns the id of this device.
func (n *Node) DeviceID() string { return n.cfg.Node.DeviceID }

// Metrics returns the node's metric registry.
func (n *Node) Metrics() *metric.Registry { return n.metrics }

// Open returns the object store of bundle.
func (n *Node) Open(bundle string) (*objmesh.Store, error) {
	return n.registry.Open(bundle)
}

// Bundles lists the opened bundles.
func (n *Node) Bundles() []string { return n.registry.Bundles() }

// Peers returns the number of reachable mesh members.
func (n *Node) Peers() int {
	if n.mesh == nil {
		return 0
	}
	return n.mesh.PeerCount()
}

// MeshAddr returns the gossip address, or "" with the mesh disabled.
func (n *Node) MeshAddr() string {
	if n.mesh == nil {
		return ""
	}
	return n.mesh.Addr()
}

// Close stops background work and releases every resource in reverse
// order of construction. It is idempotent.
func (n *Node) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		var errs []error
		if err := n.stopAdmin(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
		if err := n.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("registry: %w", err))
		}

		n.mu.Lock()
		engines := n.engines
		n.engines = make(map[string]*storage.Engine)
		n.mu.Unlock()
		for bundle, e := range engines {
			if err := e.Close(); err != nil {
				errs = append(errs, fmt.Errorf("engine %s: %w", bundle, err))
			}
		}

		if n.cache != nil {
			n.cache.Close()
		}
		if n.closeCoord != nil {
			if err := n.closeCoord(); err != nil {
				errs = append(errs, fmt.Errorf("coordinator: %w", err))
			}
		}
		if err := n.shutdownMesh(); err != nil {
			errs = append(errs, err)
		}
		n.closeErr = errors.Join(errs...)
		n.logger.Info("node closed")
	})
	return n.closeErr
}

func (n *Node) shutdownMesh() error {
	if n.mesh == nil {
		return nil
	}
	if n.mesh.PeerCount() > 0 {
		_ = n.mesh.Leave(leaveTimeout)
	}
	return n.mesh.Shutdown()
}
