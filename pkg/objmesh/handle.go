package objmesh

import (
	"context"
	"sync/atomic"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/pkg/fieldcodec"
)

// Field types.
const (
	TypeString  = fieldcodec.String
	TypeBoolean = fieldcodec.Boolean
	TypeDouble  = fieldcodec.Double
	TypeComplex = fieldcodec.Complex
)

type (
	// Type is the type of a field.
	Type = fieldcodec.Type

	// Value is a typed field value.
	Value = fieldcodec.Value
)

// String returns a string value.
func String(s string) Value { return fieldcodec.StringValue(s) }

// Bool returns a boolean value.
func Bool(b bool) Value { return fieldcodec.BoolValue(b) }

// Double returns a double value.
func Double(f float64) Value { return fieldcodec.DoubleValue(f) }

// Complex returns an opaque byte value.
func Complex(raw []byte) Value { return fieldcodec.ComplexValue(raw) }

// Handle addresses one session object. Every method fails with
// ErrNullObject once the object is deleted.
type Handle struct {
	store     *Store
	sessionID string
	deleted   atomic.Bool
}

// SessionID returns the session the handle addresses.
func (h *Handle) SessionID() string { return h.sessionID }

func (h *Handle) live() error {
	if h == nil || h.deleted.Load() {
		return domain.ErrNullObject
	}
	return nil
}

// Put writes a field.
func (h *Handle) Put(field string, v Value) error {
	if err := h.live(); err != nil {
		return err
	}
	return h.store.svc.Put(h.sessionID, field, v)
}

// Get reads a field as the expected type.
func (h *Handle) Get(field string, expected Type) (Value, error) {
	if err := h.live(); err != nil {
		return Value{}, err
	}
	return h.store.svc.Get(h.sessionID, field, expected)
}

// GetType returns the stored type of a field.
func (h *Handle) GetType(field string) (Type, error) {
	if err := h.live(); err != nil {
		return 0, err
	}
	return h.store.svc.GetType(h.sessionID, field)
}

// Fields returns every field of the object.
func (h *Handle) Fields() (map[string]Value, error) {
	if err := h.live(); err != nil {
		return nil, err
	}
	return h.store.svc.Fields(h.sessionID)
}

// Delete removes one field.
func (h *Handle) Delete(field string) error {
	if err := h.live(); err != nil {
		return err
	}
	return h.store.svc.DeleteField(h.sessionID, field)
}

// Save hands the object's current fields to deviceID. It blocks until
// the coordination service answers or the wait times out.
func (h *Handle) Save(ctx context.Context, deviceID string) error {
	if err := h.live(); err != nil {
		return err
	}
	return h.store.svc.Save(ctx, h.sessionID, deviceID)
}

// RevokeSave cancels any pending hand-off of the object.
func (h *Handle) RevokeSave(ctx context.Context) error {
	if err := h.live(); err != nil {
		return err
	}
	return h.store.svc.RevokeSave(ctx, h.sessionID)
}
