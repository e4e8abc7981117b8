package substrate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Errors returned by the substrate.
var (
	ErrClosed           = errors.New("substrate: manager closed")
	ErrNotOpen          = errors.New("substrate: manager not open")
	ErrAppMismatch      = errors.New("substrate: manager already open for another app")
	ErrTableNotFound    = errors.New("substrate: table not found")
	ErrKeyNotFound      = errors.New("substrate: key not found")
	ErrEmptyBatch       = errors.New("substrate: empty batch")
	ErrEmptyKey         = errors.New("substrate: empty key")
	ErrObserverExists   = errors.New("substrate: observer already registered")
	ErrObserverNotFound = errors.New("substrate: observer not registered")
	ErrNoDevices        = errors.New("substrate: no devices to sync with")
	ErrNoTransport      = errors.New("substrate: no transport configured")
	ErrUnsupportedMode  = errors.New("substrate: unsupported sync mode")
	ErrDeviceOffline    = errors.New("substrate: device unreachable")
)

// Entry is a single key/value pair of a table.
//
// Stamp is the write time in unix nanoseconds assigned by the device that
// wrote the entry. It is zero for entries supplied by callers.
type Entry struct {
	Key   []byte
	Value []byte
	Stamp int64
}

// ChangeBatch describes one committed write to a table.
//
// Origin is empty for local writes and holds the remote device id for
// entries applied by a pull.
type ChangeBatch struct {
	Origin   string
	Inserted []Entry
	Updated  []Entry
	Deleted  []Entry
}

// Empty reports whether the batch carries no changes.
func (b ChangeBatch) Empty() bool {
	return len(b.Inserted) == 0 && len(b.Updated) == 0 && len(b.Deleted) == 0
}

// Observer receives committed change batches of a table.
//
// Batches are delivered from a dedicated goroutine per table, in commit
// order. Implementations must be comparable (typically a pointer).
type Observer interface {
	OnChange(batch ChangeBatch)
}

// ObserverFunc adapts a function to Observer. Because functions are not
// comparable, wrap it in a pointer before registering it.
type ObserverFunc func(batch ChangeBatch)

// OnChange calls f(batch).
func (f *ObserverFunc) OnChange(batch ChangeBatch) { (*f)(batch) }

// SyncMode selects the direction of a table sync.
type SyncMode int

const (
	// PullOnly copies remote entries into the local table.
	PullOnly SyncMode = iota
	// PushOnly sends local entries to remote devices. Not supported.
	PushOnly
	// PushPull does both. Not supported.
	PushPull
)

func (m SyncMode) String() string {
	switch m {
	case PullOnly:
		return "pull_only"
	case PushOnly:
		return "push_only"
	case PushPull:
		return "push_pull"
	default:
		return "unknown"
	}
}

// Options control how a table is opened.
type Options struct {
	// CreateIfMissing creates the table when it does not exist yet.
	CreateIfMissing bool
	// AutoSync pulls the table from reachable devices on the manager's
	// sync interval.
	AutoSync bool
}

// StatusFunc receives device transitions for the manager's app. The table
// argument is empty for device-level transitions.
type StatusFunc func(userID, appID, table, deviceID string, online bool)

// Delegate is the handle to one table.
type Delegate interface {
	// Name returns the table name.
	Name() string

	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	// GetEntries returns every entry whose key starts with prefix, in key
	// order. A nil prefix returns the whole table.
	GetEntries(prefix []byte) ([]Entry, error)
	// PutBatch writes all entries in one transaction.
	PutBatch(entries []Entry) error
	Delete(key []byte) error

	RegisterObserver(o Observer) error
	UnRegisterObserver(o Observer) error

	// Sync starts a sync with the given devices and returns once the pulls
	// are scheduled. onComplete is called once with a per-device result.
	Sync(ctx context.Context, deviceIDs []string, mode SyncMode, onComplete func(map[string]error)) error
}

// PullHandler answers a pull for one table of an app.
type PullHandler func(table string) ([]Entry, error)

// Transport connects devices for pull sync and device status.
type Transport interface {
	// LocalDeviceID returns the id of this device.
	LocalDeviceID() string
	// Devices returns the reachable peer devices hosting app.
	Devices(app string) []string
	// Pull fetches a table of app from a peer device.
	Pull(ctx context.Context, deviceID, app, table string) ([]Entry, error)
	// Handle serves pulls for app. A nil handler removes it.
	Handle(app string, h PullHandler)
	// Subscribe registers fn for online/offline transitions of peers
	// hosting app. The returned function cancels the subscription.
	Subscribe(app string, fn func(deviceID string, online bool)) (cancel func())
}

// Config configures a Manager.
type Config struct {
	// Dir is the root data directory. Each app gets a subdirectory.
	Dir string
	// InMemory keeps all data in memory; Dir is ignored.
	InMemory bool
	// UserID is reported to the status notifier.
	UserID string
	// Transport is optional; without it Sync fails with ErrNoTransport.
	Transport Transport

	SyncInterval time.Duration
	PullTimeout  time.Duration
	// SyncRate limits pulls per second across all tables.
	SyncRate  rate.Limit
	SyncBurst int

	Badger BadgerConfig
	Logger *slog.Logger
}

// BadgerConfig holds the badger tuning knobs exposed to operators.
type BadgerConfig struct {
	CacheSize        int64
	ValueLogFileSize int64
	NumMemtables     int
	SyncWrites       bool
	GCInterval       time.Duration
	GCThreshold      float64
}

// DefaultConfig returns a config rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:          dir,
		UserID:       "default",
		SyncInterval: 30 * time.Second,
		PullTimeout:  5 * time.Second,
		SyncRate:     rate.Limit(20),
		SyncBurst:    10,
		Badger: BadgerConfig{
			CacheSize:        64 << 20,
			ValueLogFileSize: 64 << 20,
			NumMemtables:     3,
			SyncWrites:       true,
			GCInterval:       10 * time.Minute,
			GCThreshold:      0.5,
		},
	}
}
