package substrate

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// LocalNetwork connects LocalTransports inside one process. It is used by
// tests and by single-host deployments running several devices.
type LocalNetwork struct {
	mu    sync.Mutex
	nodes map[string]*LocalTransport
}

// NewLocalNetwork returns an empty network.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{nodes: make(map[string]*LocalTransport)}
}

// Attach adds an online device to the network, or returns the existing
// transport for deviceID.
func (n *LocalNetwork) Attach(deviceID string) *LocalTransport {
	n.mu.Lock()
	if tr, ok := n.nodes[deviceID]; ok {
		n.mu.Unlock()
		return tr
	}
	tr := &LocalTransport{
		net:      n,
		deviceID: deviceID,
		online:   true,
		handlers: make(map[string]PullHandler),
		subs:     make(map[int]localSub),
	}
	n.nodes[deviceID] = tr
	n.mu.Unlock()

	n.broadcast(tr, true)
	return tr
}

// SetOnline changes a device's reachability and notifies its peers.
func (n *LocalNetwork) SetOnline(deviceID string, online bool) {
	n.mu.Lock()
	tr, ok := n.nodes[deviceID]
	if !ok || tr.online == online {
		n.mu.Unlock()
		return
	}
	tr.online = online
	n.mu.Unlock()

	n.broadcast(tr, online)
}

type pendingEvent struct {
	fn     func(deviceID string, online bool)
	device string
}

// broadcast notifies every other device subscribed to an app that src
// serves. Callbacks run without the network lock held.
func (n *LocalNetwork) broadcast(src *LocalTransport, online bool) {
	n.mu.Lock()
	var events []pendingEvent
	for id, peer := range n.nodes {
		if id == src.deviceID {
			continue
		}
		for _, sub := range peer.subs {
			if _, serves := src.handlers[sub.app]; serves {
				events = append(events, pendingEvent{fn: sub.fn, device: src.deviceID})
			}
		}
	}
	n.mu.Unlock()

	for _, ev := range events {
		ev.fn(ev.device, online)
	}
}

// LocalTransport is one device's view of a LocalNetwork.
type LocalTransport struct {
	net      *LocalNetwork
	deviceID string

	// guarded by net.mu
	online   bool
	handlers map[string]PullHandler
	subs     map[int]localSub
	nextSub  int
}

type localSub struct {
	app string
	fn  func(deviceID string, online bool)
}

// LocalDeviceID implements Transport.
func (t *LocalTransport) LocalDeviceID() string { return t.deviceID }

// Devices implements Transport. The result is sorted.
func (t *LocalTransport) Devices(app string) []string {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	var out []string
	for id, peer := range t.net.nodes {
		if id == t.deviceID || !peer.online {
			continue
		}
		if _, ok := peer.handlers[app]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Pull implements Transport.
func (t *LocalTransport) Pull(ctx context.Context, deviceID, app, table string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.net.mu.Lock()
	peer, ok := t.net.nodes[deviceID]
	var h PullHandler
	if ok && peer.online && t.online {
		h = peer.handlers[app]
	}
	t.net.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, deviceID)
	}
	entries, err := h(table)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entries), nil
}

// Handle implements Transport.
func (t *LocalTransport) Handle(app string, h PullHandler) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if h == nil {
		delete(t.handlers, app)
		return
	}
	t.handlers[app] = h
}

// Subscribe implements Transport.
func (t *LocalTransport) Subscribe(app string, fn func(deviceID string, online bool)) func() {
	t.net.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = localSub{app: app, fn: fn}
	t.net.mu.Unlock()

	return func() {
		t.net.mu.Lock()
		delete(t.subs, id)
		t.net.mu.Unlock()
	}
}

var _ Transport = (*LocalTransport)(nil)
