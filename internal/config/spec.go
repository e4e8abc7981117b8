package config

import "time"

// NodeConfig is the root configuration of an objmesh node.
type NodeConfig struct {
	Node        NodeSection        `koanf:"node" yaml:"node"`
	Mesh        MeshSection        `koanf:"mesh" yaml:"mesh"`
	Coordinator CoordinatorSection `koanf:"coordinator" yaml:"coordinator"`
	Cache       CacheSection       `koanf:"cache" yaml:"cache"`
	Sync        SyncSection        `koanf:"sync" yaml:"sync"`
	Storage     StorageSection     `koanf:"storage" yaml:"storage"`
	Metrics     MetricsSection     `koanf:"metrics" yaml:"metrics"`
	Log         LogSection         `koanf:"log" yaml:"log"`
}

// NodeSection identifies the device.
type NodeSection struct {
	// DeviceID is generated and persisted under DataDir when empty.
	DeviceID string `koanf:"device_id" yaml:"device_id"`

	// User is reported to substrate status callbacks.
	User string `koanf:"user" yaml:"user"`

	// DataDir holds one badger directory per bundle.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// InMemory keeps all tables in memory.
	InMemory bool `koanf:"in_memory" yaml:"in_memory"`
}

// MeshSection configures the gossip transport.
type MeshSection struct {
	Enabled       bool     `koanf:"enabled" yaml:"enabled"`
	BindAddr      string   `koanf:"bind_addr" yaml:"bind_addr"`
	BindPort      int      `koanf:"bind_port" yaml:"bind_port"`
	AdvertiseAddr string   `koanf:"advertise_addr" yaml:"advertise_addr"`
	AdvertisePort int      `koanf:"advertise_port" yaml:"advertise_port"`
	Seeds         []string `koanf:"seeds" yaml:"seeds"`

	// Profile is lan, wan or local.
	Profile string `koanf:"profile" yaml:"profile"`
}

// Coordinator modes.
const (
	CoordinatorRedis = "redis"
	CoordinatorLocal = "local"
	CoordinatorNone  = "none"
)

// CoordinatorSection configures the remote coordination service.
type CoordinatorSection struct {
	// Mode is redis, local or none.
	Mode string `koanf:"mode" yaml:"mode"`

	RedisURL      string `koanf:"redis_url" yaml:"redis_url"`
	RedisCAFile   string `koanf:"redis_ca_file" yaml:"redis_ca_file"`
	RedisCertFile string `koanf:"redis_cert_file" yaml:"redis_cert_file"`
	RedisKeyFile  string `koanf:"redis_key_file" yaml:"redis_key_file"`

	KeyPrefix  string        `koanf:"key_prefix" yaml:"key_prefix"`
	HandoffTTL time.Duration `koanf:"handoff_ttl" yaml:"handoff_ttl"`

	// SealKey is a hex key enabling encryption of hand-off values.
	SealKey       string `koanf:"seal_key" yaml:"seal_key"`
	SealAlgorithm string `koanf:"seal_algorithm" yaml:"seal_algorithm"`
}

// CacheSection configures the cache manager.
type CacheSection struct {
	// WaitTimeout bounds blocking hand-off calls.
	WaitTimeout time.Duration `koanf:"wait_timeout" yaml:"wait_timeout"`
}

// SyncSection configures device-to-device pulls.
type SyncSection struct {
	// Interval of background pulls for auto-sync tables. Zero disables.
	Interval      time.Duration `koanf:"interval" yaml:"interval"`
	PullTimeout   time.Duration `koanf:"pull_timeout" yaml:"pull_timeout"`
	StatusTimeout time.Duration `koanf:"status_timeout" yaml:"status_timeout"`
	Rate          float64       `koanf:"rate" yaml:"rate"`
	Burst         int           `koanf:"burst" yaml:"burst"`
}

// StorageSection tunes badger.
type StorageSection struct {
	CacheSizeMB int           `koanf:"cache_size_mb" yaml:"cache_size_mb"`
	SyncWrites  bool          `koanf:"sync_writes" yaml:"sync_writes"`
	GCInterval  time.Duration `koanf:"gc_interval" yaml:"gc_interval"`
}

// MetricsSection configures the prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address of /metrics. Empty disables it.
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
