package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/objmesh-go/internal/storage/substrate"
	"github.com/yndnr/objmesh-go/pkg/cmap"
)

// Config configures the mesh transport.
type Config struct {
	// DeviceID is the unique device identifier and memberlist node name.
	DeviceID string

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a
	// free port.
	BindAddr string
	BindPort int

	// AdvertiseAddr and AdvertisePort override the address peers dial.
	AdvertiseAddr string
	AdvertisePort int

	// Seeds are host:port addresses of existing members to join.
	Seeds []string

	// Profile selects the memberlist timing profile: lan, wan or local.
	Profile string

	// MetaUpdateTimeout bounds how long a metadata change waits for
	// propagation.
	MetaUpdateTimeout time.Duration

	Logger *slog.Logger
}

// Transport implements substrate.Transport over a memberlist gossip mesh.
// Peers advertise the apps they host in their node metadata; pulls are
// request/response frames over memberlist's reliable channel.
type Transport struct {
	cfg    Config
	logger *slog.Logger
	ml     *memberlist.Memberlist
	events chan memberlist.NodeEvent

	mu       sync.RWMutex
	handlers map[string]substrate.PullHandler
	peers    map[string]*peer
	subs     map[int]subscription
	nextSub  int
	shutdown bool

	pending *cmap.Map[string, chan pullResponse]

	wg     sync.WaitGroup
	stopCh chan struct{}
}

type peer struct {
	node memberlist.Node
	apps []string
}

type subscription struct {
	app string
	fn  func(deviceID string, online bool)
}

// nodeMeta is the JSON document carried in memberlist node metadata.
type nodeMeta struct {
	Apps []string `json:"apps"`
}

// New creates the memberlist, joins the seeds and starts event processing.
func New(cfg Config) (*Transport, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("mesh: device id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetaUpdateTimeout <= 0 {
		cfg.MetaUpdateTimeout = 5 * time.Second
	}

	t := &Transport{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "mesh", "device_id", cfg.DeviceID),
		events:   make(chan memberlist.NodeEvent, 256),
		handlers: make(map[string]substrate.PullHandler),
		peers:    make(map[string]*peer),
		subs:     make(map[int]subscription),
		pending:  cmap.New[string, chan pullResponse](),
		stopCh:   make(chan struct{}),
	}

	mlConfig := profileConfig(cfg.Profile)
	mlConfig.Name = cfg.DeviceID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	mlConfig.Delegate = &delegate{t: t}
	mlConfig.Events = &memberlist.ChannelEventDelegate{Ch: t.events}
	mlConfig.Logger = newHCLogger(t.logger, "memberlist").
		StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("mesh: create memberlist: %w", err)
	}
	t.ml = ml

	t.wg.Add(1)
	go t.eventLoop()

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			t.Shutdown()
			return nil, fmt.Errorf("mesh: join seeds: %w", err)
		}
		t.logger.Info("joined mesh", "seeds", cfg.Seeds, "joined_count", n)
	} else {
		t.logger.Info("started mesh (bootstrap mode)", "addr", t.Addr())
	}

	return t, nil
}

func profileConfig(profile string) *memberlist.Config {
	switch profile {
	case "wan":
		return memberlist.DefaultWANConfig()
	case "local":
		return memberlist.DefaultLocalConfig()
	default:
		return memberlist.DefaultLANConfig()
	}
}

// Addr returns the host:port peers use to join this device.
func (t *Transport) Addr() string {
	n := t.ml.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// LocalDeviceID implements substrate.Transport.
func (t *Transport) LocalDeviceID() string { return t.cfg.DeviceID }

// Devices implements substrate.Transport. The result is sorted.
func (t *Transport) Devices(app string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for id, p := range t.peers {
		if slices.Contains(p.apps, app) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// PeerCount returns the number of reachable peers.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Handle implements substrate.Transport. Hosted apps are re-advertised to
// the mesh.
func (t *Transport) Handle(app string, h substrate.PullHandler) {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	if h == nil {
		delete(t.handlers, app)
	} else {
		t.handlers[app] = h
	}
	t.mu.Unlock()

	if err := t.ml.UpdateNode(t.cfg.MetaUpdateTimeout); err != nil {
		t.logger.Warn("failed to advertise apps", "app", app, "error", err)
	}
}

// Subscribe implements substrate.Transport.
func (t *Transport) Subscribe(app string, fn func(deviceID string, online bool)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = subscription{app: app, fn: fn}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Pull implements substrate.Transport.
func (t *Transport) Pull(ctx context.Context, deviceID, app, table string) ([]substrate.Entry, error) {
	t.mu.RLock()
	p, ok := t.peers[deviceID]
	var node memberlist.Node
	if ok {
		node = p.node
		ok = slices.Contains(p.apps, app)
	}
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", substrate.ErrDeviceOffline, deviceID)
	}

	req := pullRequest{
		ID:    ulid.Make().String(),
		App:   app,
		Table: table,
		From:  t.cfg.DeviceID,
	}
	ch := make(chan pullResponse, 1)
	t.pending.Set(req.ID, ch)
	defer t.pending.Delete(req.ID)

	if err := t.ml.SendReliable(&node, req.marshal()); err != nil {
		return nil, fmt.Errorf("mesh: send pull to %s: %w", deviceID, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("mesh: pull from %s: %s", deviceID, resp.Error)
		}
		return resp.Entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopCh:
		return nil, errors.New("mesh: transport shut down")
	}
}

// Leave gracefully leaves the mesh.
func (t *Transport) Leave(timeout time.Duration) error {
	if err := t.ml.Leave(timeout); err != nil {
		t.logger.Error("failed to leave mesh", "error", err)
		return err
	}
	t.logger.Info("left mesh")
	return nil
}

// Shutdown stops the transport. It is idempotent.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return nil
	}
	t.shutdown = true
	t.mu.Unlock()

	err := t.ml.Shutdown()
	close(t.stopCh)
	t.wg.Wait()
	if err != nil {
		return fmt.Errorf("mesh: shutdown memberlist: %w", err)
	}
	t.logger.Info("mesh shutdown complete")
	return nil
}

// eventLoop applies membership events outside memberlist's locks and
// turns them into per-app status notifications.
func (t *Transport) eventLoop() {
	defer t.wg.Done()
	for {
		select {
		case ev := <-t.events:
			t.applyEvent(ev)
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) applyEvent(ev memberlist.NodeEvent) {
	node := ev.Node
	if node == nil || node.Name == t.cfg.DeviceID {
		return
	}

	var apps []string
	if ev.Event != memberlist.NodeLeave {
		apps = decodeMeta(node.Meta)
	}

	t.mu.Lock()
	var before []string
	if p, ok := t.peers[node.Name]; ok {
		before = p.apps
	}
	if ev.Event == memberlist.NodeLeave {
		delete(t.peers, node.Name)
	} else {
		t.peers[node.Name] = &peer{node: *node, apps: apps}
	}
	subs := make([]subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	t.logger.Info("peer membership changed",
		"peer", node.Name,
		"event", eventName(ev.Event),
		"apps", apps)

	for _, s := range subs {
		was, is := slices.Contains(before, s.app), slices.Contains(apps, s.app)
		if was != is {
			s.fn(node.Name, is)
		}
	}
}

func eventName(e memberlist.NodeEventType) string {
	switch e {
	case memberlist.NodeJoin:
		return "join"
	case memberlist.NodeLeave:
		return "leave"
	default:
		return "update"
	}
}

func decodeMeta(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var m nodeMeta
	if err := sonic.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m.Apps
}

// handleMessage serves a frame received from a peer. b is owned by the
// caller.
func (t *Transport) handleMessage(b []byte) {
	if len(b) == 0 {
		return
	}
	switch b[0] {
	case kindPullRequest:
		var req pullRequest
		if err := req.unmarshal(b[1:]); err != nil {
			t.logger.Warn("dropping pull request", "error", err)
			return
		}
		t.servePull(req)
	case kindPullResponse:
		var resp pullResponse
		if err := resp.unmarshal(b[1:]); err != nil {
			t.logger.Warn("dropping pull response", "error", err)
			return
		}
		if ch, ok := t.pending.Pop(resp.ID); ok {
			ch <- resp
		}
	default:
		t.logger.Debug("dropping unknown frame", "kind", b[0])
	}
}

func (t *Transport) servePull(req pullRequest) {
	t.mu.RLock()
	h := t.handlers[req.App]
	p, known := t.peers[req.From]
	t.mu.RUnlock()

	var node memberlist.Node
	if known {
		node = p.node
	} else if n := t.member(req.From); n != nil {
		// The join event may still be queued.
		node = *n
	} else {
		t.logger.Warn("pull from unknown peer", "peer", req.From)
		return
	}

	resp := pullResponse{ID: req.ID}
	if h == nil {
		resp.Error = "app not hosted: " + req.App
	} else if entries, err := h(req.Table); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Entries = entries
	}

	if err := t.ml.SendReliable(&node, resp.marshal()); err != nil {
		t.logger.Warn("failed to answer pull", "peer", req.From, "error", err)
	}
}

func (t *Transport) member(name string) *memberlist.Node {
	for _, n := range t.ml.Members() {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// delegate implements memberlist.Delegate.
type delegate struct {
	t *Transport
}

// NodeMeta advertises the hosted apps, dropping apps that do not fit.
func (d *delegate) NodeMeta(limit int) []byte {
	d.t.mu.RLock()
	apps := make([]string, 0, len(d.t.handlers))
	for app := range d.t.handlers {
		apps = append(apps, app)
	}
	d.t.mu.RUnlock()
	sort.Strings(apps)

	for {
		b, err := sonic.Marshal(nodeMeta{Apps: apps})
		if err == nil && len(b) <= limit {
			return b
		}
		if len(apps) == 0 {
			return nil
		}
		d.t.logger.Warn("node metadata over limit, dropping app", "app", apps[len(apps)-1])
		apps = apps[:len(apps)-1]
	}
}

// NotifyMsg must not block the receive loop and must copy b.
func (d *delegate) NotifyMsg(b []byte) {
	msg := append([]byte(nil), b...)
	go d.t.handleMessage(msg)
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *delegate) LocalState(join bool) []byte                { return nil }
func (d *delegate) MergeRemoteState(buf []byte, join bool)     {}

var _ substrate.Transport = (*Transport)(nil)
