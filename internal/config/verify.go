package config

import (
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
)

// Verify checks the configuration and reports every problem found.
func Verify(cfg *NodeConfig) error {
	var errs []error
	errs = append(errs, verifyNode(&cfg.Node)...)
	errs = append(errs, verifyMesh(&cfg.Mesh)...)
	errs = append(errs, verifyCoordinator(&cfg.Coordinator)...)
	errs = append(errs, verifyTimings(cfg)...)
	errs = append(errs, verifyLog(&cfg.Log)...)
	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}

func verifyNode(n *NodeSection) []error {
	var errs []error
	if !n.InMemory && n.DataDir == "" {
		errs = append(errs, errors.New("node.data_dir is required unless node.in_memory is set"))
	}
	if n.User == "" {
		errs = append(errs, errors.New("node.user must not be empty"))
	}
	return errs
}

func verifyMesh(m *MeshSection) []error {
	if !m.Enabled {
		return nil
	}
	var errs []error
	if m.BindPort < 0 || m.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("mesh.bind_port %d out of range", m.BindPort))
	}
	if !slices.Contains([]string{"lan", "wan", "local"}, m.Profile) {
		errs = append(errs, fmt.Errorf("mesh.profile %q must be lan, wan or local", m.Profile))
	}
	for _, seed := range m.Seeds {
		if _, _, err := net.SplitHostPort(seed); err != nil {
			errs = append(errs, fmt.Errorf("mesh.seeds %q: %w", seed, err))
		}
	}
	return errs
}

func verifyCoordinator(c *CoordinatorSection) []error {
	var errs []error
	switch c.Mode {
	case CoordinatorRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("coordinator.redis_url is required in redis mode"))
		}
		if (c.RedisCertFile == "") != (c.RedisKeyFile == "") {
			errs = append(errs, errors.New("coordinator.redis_cert_file and redis_key_file must be set together"))
		}
	case CoordinatorLocal, CoordinatorNone:
	default:
		errs = append(errs, fmt.Errorf("coordinator.mode %q must be redis, local or none", c.Mode))
	}
	if c.HandoffTTL < 0 {
		errs = append(errs, errors.New("coordinator.handoff_ttl must not be negative"))
	}
	if c.SealKey != "" {
		if _, err := adaptive.ParseKey(c.SealKey); err != nil {
			errs = append(errs, fmt.Errorf("coordinator.seal_key: %w", err))
		}
	}
	if _, err := adaptive.ParseKind(c.SealAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("coordinator.seal_algorithm: %w", err))
	}
	return errs
}

func verifyTimings(cfg *NodeConfig) []error {
	var errs []error
	if cfg.Cache.WaitTimeout <= 0 {
		errs = append(errs, errors.New("cache.wait_timeout must be positive"))
	}
	if cfg.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval must not be negative"))
	}
	if cfg.Sync.PullTimeout <= 0 {
		errs = append(errs, errors.New("sync.pull_timeout must be positive"))
	}
	if cfg.Sync.Rate < 0 || cfg.Sync.Burst < 0 {
		errs = append(errs, errors.New("sync.rate and sync.burst must not be negative"))
	}
	return errs
}

func verifyLog(l *LogSection) []error {
	var errs []error
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, l.Level) {
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", l.Level))
	}
	if l.Format != "json" && l.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", l.Format))
	}
	return errs
}
