package domain

import "strings"

// Status is a device or session status delivered to a StatusWatcher.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusRestored Status = "restored"
)

// FieldPrefix marks user fields in a session table; field "f" is stored
// under key "p_f". Keys without the prefix are engine-internal.
const FieldPrefix = "p_"

// FieldKey returns the table key for a user field.
func FieldKey(field string) string {
	return FieldPrefix + field
}

// FieldName strips the field prefix from a table key. ok is false for keys
// that do not carry the prefix.
func FieldName(key string) (name string, ok bool) {
	if !strings.HasPrefix(key, FieldPrefix) {
		return "", false
	}
	return key[len(FieldPrefix):], true
}

// FieldWatcher observes field changes of one session.
type FieldWatcher interface {
	// OnFieldsChanged receives the names (without prefix) of inserted or
	// updated fields.
	OnFieldsChanged(sessionID string, fields []string)
}

// StatusWatcher observes device and session status transitions.
type StatusWatcher interface {
	OnStatusChanged(sessionID, networkID string, status Status)
}

// FieldWatcherFunc adapts a function to FieldWatcher.
type FieldWatcherFunc func(sessionID string, fields []string)

// OnFieldsChanged implements FieldWatcher.
func (f FieldWatcherFunc) OnFieldsChanged(sessionID string, fields []string) {
	f(sessionID, fields)
}

// StatusWatcherFunc adapts a function to StatusWatcher.
type StatusWatcherFunc func(sessionID, networkID string, status Status)

// OnStatusChanged implements StatusWatcher.
func (f StatusWatcherFunc) OnStatusChanged(sessionID, networkID string, status Status) {
	f(sessionID, networkID, status)
}
