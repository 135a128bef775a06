package scalar

import (
	"fmt"
	"reflect"
)

// Serializable is implemented by any wallet element that can be flattened
// into, and rebuilt from, a sequence of scalars — the representation used
// for both secret shares and on-chain calldata.
type Serializable interface {
	ToScalars() ([]Scalar, error)
	FromScalars(it *Iterator) error
	NumScalars() int
}

// Iterator walks a flat scalar slice, handing out one element at a time to
// FromScalars implementations, including ones built via ToScalarsRecursive.
type Iterator struct {
	scalars []Scalar
	index   int
}

// NewIterator wraps a flat scalar slice for sequential consumption.
func NewIterator(scalars []Scalar) *Iterator {
	return &Iterator{scalars: scalars}
}

// Next returns the next scalar in the stream.
func (it *Iterator) Next() (Scalar, error) {
	if it.index >= len(it.scalars) {
		return Scalar{}, fmt.Errorf("scalar: iterator exhausted at index %d", it.index)
	}
	s := it.scalars[it.index]
	it.index++
	return s, nil
}

// Remaining returns the count of unconsumed scalars.
func (it *Iterator) Remaining() int {
	return len(it.scalars) - it.index
}

// ToScalars implements Serializable for a bare Scalar.
func (s Scalar) ToScalars() ([]Scalar, error) { return []Scalar{s}, nil }

// FromScalars implements Serializable for a bare Scalar.
func (s *Scalar) FromScalars(it *Iterator) error {
	v, err := it.Next()
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// NumScalars implements Serializable for a bare Scalar.
func (s Scalar) NumScalars() int { return 1 }

// skipTag marks a struct field as excluded from scalar (de)serialization
// (e.g. a locally-assigned id that never crosses the wire as a share).
const skipTag = "skip"

// ToScalarsRecursive flattens v (a struct, array, or slice of
// Serializable-shaped fields) into a single scalar sequence by walking its
// fields via reflection, recursing into nested structs/arrays/pointers and
// honoring `scalar:"skip"` struct tags.
func ToScalarsRecursive(v interface{}) ([]Scalar, error) {
	return toScalarsValue(reflect.ValueOf(v))
}

func toScalarsValue(rv reflect.Value) ([]Scalar, error) {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		return toScalarsValue(rv.Elem())
	}

	if s, ok := rv.Interface().(Serializable); ok {
		return s.ToScalars()
	}
	// Types such as Scalar implement FromScalars on the pointer receiver,
	// so a value is also checked through a pointer to a copy of it.
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	if s, ok := ptr.Interface().(Serializable); ok {
		return s.ToScalars()
	}

	switch rv.Kind() {
	case reflect.Struct:
		var out []Scalar
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if field.Tag.Get("scalar") == skipTag {
				continue
			}
			if !rv.Field(i).CanInterface() {
				continue
			}
			sub, err := toScalarsValue(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("scalar: field %s: %w", field.Name, err)
			}
			out = append(out, sub...)
		}
		return out, nil
	case reflect.Array, reflect.Slice:
		var out []Scalar
		for i := 0; i < rv.Len(); i++ {
			sub, err := toScalarsValue(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("scalar: index %d: %w", i, err)
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("scalar: type %s does not implement Serializable and is not a composite", rv.Type())
	}
}

// FromScalarsRecursive is the inverse of ToScalarsRecursive: it populates v
// (a pointer to a struct/array) in place from the iterator, in the same
// field order ToScalarsRecursive would visit.
func FromScalarsRecursive(v interface{}, it *Iterator) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("scalar: FromScalarsRecursive requires a non-nil pointer")
	}
	return fromScalarsValue(rv.Elem(), it)
}

func fromScalarsValue(rv reflect.Value, it *Iterator) error {
	if rv.CanAddr() {
		if s, ok := rv.Addr().Interface().(Serializable); ok {
			return s.FromScalars(it)
		}
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return fromScalarsValue(rv.Elem(), it)
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if field.Tag.Get("scalar") == skipTag {
				continue
			}
			if !rv.Field(i).CanSet() {
				continue
			}
			if err := fromScalarsValue(rv.Field(i), it); err != nil {
				return fmt.Errorf("scalar: field %s: %w", field.Name, err)
			}
		}
		return nil
	case reflect.Array, reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := fromScalarsValue(rv.Index(i), it); err != nil {
				return fmt.Errorf("scalar: index %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("scalar: type %s does not implement Serializable and is not a composite", rv.Type())
	}
}
