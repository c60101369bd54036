package foreman

import (
	"reflect"
	"unsafe"
)

// AccessibleComponent extends a component id with typed access patterns over
// the raw column bytes.
type AccessibleComponent[T any] struct {
	ID EntityID
}

// NewComponentFor registers a component sized after T and returns a typed
// accessor for it.
func NewComponentFor[T any](w *World, name string) AccessibleComponent[T] {
	size := uint32(reflect.TypeFor[T]().Size())
	return AccessibleComponent[T]{ID: w.NewComponent(name, size)}
}

// GetFromRows returns a typed pointer to the column value at a row, or nil
// for an absent optional column.
func (c AccessibleComponent[T]) GetFromRows(r *Rows, col, row int) *T {
	b := r.Column(col, row)
	if b == nil {
		return nil
	}
	return (*T)(unsafe.Pointer(&b[0]))
}

// GetFromHandle retrieves a typed pointer for the specified entity.
func (c AccessibleComponent[T]) GetFromHandle(h Handle, e EntityID) (*T, error) {
	b, err := h.Get(e, c.ID)
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(&b[0])), nil
}

// SetValue writes a typed value through the handle's stage.
func (c AccessibleComponent[T]) SetValue(h Handle, e EntityID, value T) error {
	size := int(reflect.TypeFor[T]().Size())
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(&value)), size)
	return h.Set(e, c.ID, bytes)
}

// Check determines if the entity owns the component in the handle's scope.
func (c AccessibleComponent[T]) Check(h Handle, e EntityID) bool {
	return h.Has(e, c.ID)
}
