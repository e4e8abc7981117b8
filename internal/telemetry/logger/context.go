package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	peerIDKey
)

// WithSessionID tags ctx with a session id. Records logged with ctx by a
// logger from New carry it as session_id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithPeerID tags ctx with a peer device id, logged as peer_id.
func WithPeerID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, peerIDKey, deviceID)
}

// SessionID returns the session id carried by ctx, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// PeerID returns the peer device id carried by ctx, if any.
func PeerID(ctx context.Context) string {
	id, _ := ctx.Value(peerIDKey).(string)
	return id
}

// contextHandler adds the ids carried by a record's context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := SessionID(ctx); id != "" {
		r.AddAttrs(slog.String("session_id", id))
	}
	if id := PeerID(ctx); id != "" {
		r.AddAttrs(slog.String("peer_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
