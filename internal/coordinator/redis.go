package coordinator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
)

// DefaultKeyPrefix prefixes every redis key and channel.
const DefaultKeyPrefix = "objmesh"

const (
	fieldTarget = "target"
	fieldEntry  = "f:"
)

// RedisConfig configures a RedisClient.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL.
	URL string

	// DeviceID identifies the local device. Required.
	DeviceID string

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	// HandoffTTL expires hand-off records. Zero keeps them until revoked.
	HandoffTTL time.Duration

	// TLS replaces the TLS configuration derived from the URL.
	TLS *tls.Config

	// Sealer encrypts snapshot values when set.
	Sealer *adaptive.Sealer

	Logger *slog.Logger
}

// changeMessage is published on a session's change channel.
type changeMessage struct {
	Origin  string            `json:"origin"`
	Target  string            `json:"target"`
	Entries map[string][]byte `json:"entries"`
}

// RedisClient is a coordination service client backed by redis. It
// implements cachemgr.Coordinator.
type RedisClient struct {
	client   *redis.Client
	deviceID string
	prefix   string
	ttl      time.Duration
	sealing  sealing
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[sessionKey]*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("coordinator: device id is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return newRedisClient(client, cfg), nil
}

func newRedisClient(client *redis.Client, cfg RedisConfig) *RedisClient {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisClient{
		client:   client,
		deviceID: cfg.DeviceID,
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.HandoffTTL,
		sealing:  sealing{s: cfg.Sealer},
		logger:   cfg.Logger.With("component", "coordinator", "mode", "redis", "device_id", cfg.DeviceID),
		subs:     make(map[sessionKey]*redis.PubSub),
	}
}

// DeviceID returns the device the client acts for.
func (c *RedisClient) DeviceID() string { return c.deviceID }

func (c *RedisClient) handoffKey(bundle, sessionID string) string {
	return c.prefix + ":handoff:" + bundle + ":" + sessionID
}

func (c *RedisClient) changesChannel(bundle, sessionID string) string {
	return c.prefix + ":changes:" + bundle + ":" + sessionID
}

// ============================================================================
// Requests
// ============================================================================

// ObjectStoreSave replaces the session's hand-off record in one
// transaction and publishes the entries to the target device.
func (c *RedisClient) ObjectStoreSave(ctx context.Context, bundle, sessionID, deviceID string, snapshot map[string][]byte,
	done func(map[string]int32, error)) error {
	if deviceID == "" {
		return ErrEmptyTarget
	}
	if c.isClosed() {
		return ErrClosed
	}
	sealed, err := c.sealing.seal(bundle, sessionID, snapshot)
	if err != nil {
		return err
	}

	go func() {
		if err := c.save(ctx, bundle, sessionID, deviceID, sealed); err != nil {
			done(nil, err)
			return
		}
		done(map[string]int32{deviceID: 0}, nil)
	}()
	return nil
}

func (c *RedisClient) save(ctx context.Context, bundle, sessionID, target string, sealed map[string][]byte) error {
	key := c.handoffKey(bundle, sessionID)
	values := make(map[string]any, len(sealed)+1)
	values[fieldTarget] = target
	for k, v := range sealed {
		values[fieldEntry+k] = v
	}

	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, values)
		if c.ttl > 0 {
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store hand-off: %w", err)
	}

	if target == c.deviceID {
		return nil
	}
	payload, err := sonic.Marshal(changeMessage{Origin: c.deviceID, Target: target, Entries: sealed})
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := c.client.Publish(ctx, c.changesChannel(bundle, sessionID), payload).Err(); err != nil {
		// The record is stored; the target picks it up on its next resume.
		c.logger.Warn("publish change failed", "session_id", sessionID, "target", target, "error", err)
	}
	return nil
}

// ObjectStoreRevokeSave deletes the session's hand-off record. Revoking a
// missing record succeeds.
func (c *RedisClient) ObjectStoreRevokeSave(ctx context.Context, bundle, sessionID string, done func(int32, error)) error {
	if c.isClosed() {
		return ErrClosed
	}
	go func() {
		if err := c.client.Del(ctx, c.handoffKey(bundle, sessionID)).Err(); err != nil {
			done(0, fmt.Errorf("delete hand-off: %w", err))
			return
		}
		done(0, nil)
	}()
	return nil
}

// ObjectStoreRetrieve returns the hand-off record addressed to this
// device, or an empty map.
func (c *RedisClient) ObjectStoreRetrieve(ctx context.Context, bundle, sessionID string, done func(map[string][]byte, error)) error {
	if c.isClosed() {
		return ErrClosed
	}
	go func() {
		fields, err := c.client.HGetAll(ctx, c.handoffKey(bundle, sessionID)).Result()
		if err != nil {
			done(nil, fmt.Errorf("load hand-off: %w", err))
			return
		}
		done(c.sealing.open(bundle, sessionID, snapshotFor(fields, c.deviceID)))
	}()
	return nil
}

// snapshotFor extracts the entries of a hand-off hash when it targets
// deviceID.
func snapshotFor(fields map[string]string, deviceID string) map[string][]byte {
	out := make(map[string][]byte)
	if fields[fieldTarget] != deviceID {
		return out
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, fieldEntry); ok {
			out[name] = []byte(v)
		}
	}
	return out
}

// ============================================================================
// Data-change subscriptions
// ============================================================================

// RegisterDataObserver subscribes to the session's change channel and
// delivers entries saved to this device by other devices, until ctx ends,
// the observer is unregistered or the connection is lost. A new
// registration replaces the previous one.
func (c *RedisClient) RegisterDataObserver(ctx context.Context, bundle, sessionID string, onChange func(map[string][]byte)) error {
	ps := c.client.Subscribe(ctx, c.changesChannel(bundle, sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	key := sessionKey{bundle, sessionID}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ps.Close()
		return ErrClosed
	}
	old := c.subs[key]
	c.subs[key] = ps
	c.wg.Add(1)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go func() {
		defer c.wg.Done()
		c.receive(ctx, key, ps, onChange)
	}()
	return nil
}

func (c *RedisClient) receive(ctx context.Context, key sessionKey, ps *redis.PubSub, onChange func(map[string][]byte)) {
	defer c.release(key, ps)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sealed, ok, err := acceptChange(msg.Payload, c.deviceID)
			if err != nil {
				c.logger.Warn("malformed change message", "session_id", key.sessionID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			entries, err := c.sealing.open(key.bundle, key.sessionID, sealed)
			if err != nil {
				c.logger.Warn("dropping data change", "session_id", key.sessionID, "error", err)
				continue
			}
			onChange(entries)
		}
	}
}

// acceptChange decodes a change message and reports whether it is
// addressed to deviceID by another device.
func acceptChange(payload, deviceID string) (map[string][]byte, bool, error) {
	var msg changeMessage
	if err := sonic.UnmarshalString(payload, &msg); err != nil {
		return nil, false, err
	}
	if msg.Origin == deviceID || msg.Target != deviceID {
		return nil, false, nil
	}
	if msg.Entries == nil {
		msg.Entries = map[string][]byte{}
	}
	return msg.Entries, true, nil
}

// release closes ps and forgets it if it is still the registered
// subscription.
func (c *RedisClient) release(key sessionKey, ps *redis.PubSub) {
	c.mu.Lock()
	if c.subs[key] == ps {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	_ = ps.Close()
}

// UnregisterDataChangeObserver ends the session's subscription, if any.
func (c *RedisClient) UnregisterDataChangeObserver(_ context.Context, bundle, sessionID string) error {
	key := sessionKey{bundle, sessionID}
	c.mu.Lock()
	ps := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if ps != nil {
		return ps.Close()
	}
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (c *RedisClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends all subscriptions and closes the connection pool.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[sessionKey]*redis.PubSub)
	c.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	c.wg.Wait()
	return c.client.Close()
}
