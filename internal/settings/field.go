package settings

import (
	"github.com/bytedance/sonic"
)

// Field is a typed accessor pair for one registered setting
type Field[T any] struct {
	name string
}

// NewField declares a setting named name holding a T
func NewField[T any](name string) Field[T] {
	return Field[T]{name: name}
}

// Name returns the setting name
func (f Field[T]) Name() string {
	return f.name
}

// Get reads the field from the working copy of s
func (f Field[T]) Get(s *Store) (T, bool) {
	var zero T
	raw, ok := s.GetSetting(f.name)
	if !ok {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	// Values held by the store are in their decoded JSON form; convert
	// through JSON for numbers, slices and structs.
	b, err := sonic.Marshal(raw)
	if err != nil {
		return zero, false
	}
	var v T
	if err := sonic.Unmarshal(b, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Set writes the field into the working copy of s
func (f Field[T]) Set(s *Store, value T) error {
	return s.SetSetting(f.name, value)
}

// Names collects the names of fields for a Definition
func Names(fields ...interface{ Name() string }) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name())
	}
	return names
}
