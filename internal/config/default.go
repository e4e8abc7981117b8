package config

import "time"

// Default configuration values.
const (
	DefaultUser    = "default"
	DefaultDataDir = "/var/lib/objmesh"

	DefaultMeshBindAddr = "0.0.0.0"
	DefaultMeshBindPort = 7946
	DefaultMeshProfile  = "lan"

	DefaultRedisURL   = "redis://127.0.0.1:6379/0"
	DefaultKeyPrefix  = "objmesh"
	DefaultHandoffTTL = 24 * time.Hour

	DefaultWaitTimeout   = 5 * time.Second
	DefaultSyncInterval  = 30 * time.Second
	DefaultPullTimeout   = 5 * time.Second
	DefaultStatusTimeout = 10 * time.Second
	DefaultSyncRate      = 20
	DefaultSyncBurst     = 10

	DefaultCacheSizeMB = 64
	DefaultGCInterval  = 10 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default node configuration.
func Default() *NodeConfig {
	return &NodeConfig{
		Node: NodeSection{
			User:    DefaultUser,
			DataDir: DefaultDataDir,
		},
		Mesh: MeshSection{
			BindAddr: DefaultMeshBindAddr,
			BindPort: DefaultMeshBindPort,
			Profile:  DefaultMeshProfile,
		},
		Coordinator: CoordinatorSection{
			Mode:       CoordinatorLocal,
			RedisURL:   DefaultRedisURL,
			KeyPrefix:  DefaultKeyPrefix,
			HandoffTTL: DefaultHandoffTTL,
		},
		Cache: CacheSection{
			WaitTimeout: DefaultWaitTimeout,
		},
		Sync: SyncSection{
			Interval:      DefaultSyncInterval,
			PullTimeout:   DefaultPullTimeout,
			StatusTimeout: DefaultStatusTimeout,
			Rate:          DefaultSyncRate,
			Burst:         DefaultSyncBurst,
		},
		Storage: StorageSection{
			CacheSizeMB: DefaultCacheSizeMB,
			SyncWrites:  true,
			GCInterval:  DefaultGCInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
