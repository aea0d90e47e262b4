package expense

import (
	"bytes"
	"encoding/json"
)

// Optional holds a value that may be unset. The zero value is unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value if set, otherwise fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

// Or returns o if it is set, otherwise other.
func (o Optional[T]) Or(other Optional[T]) Optional[T] {
	if o.set {
		return o
	}
	return other
}

// MarshalJSON encodes an unset Optional as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON treats null as unset.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
