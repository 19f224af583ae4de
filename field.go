package recdb

import (
	"bytes"
	"fmt"
	"math"
)

// Record is a flat mapping of field names to values. Values are []byte,
// int64, bool, float64, string or nil.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

type Kind uint8

const (
	KindBinary Kind = iota + 1
	KindInteger
	KindBoolean
	KindNull
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// FieldType describes a field: its value kind, default value and constraints.
// Field types are values; the chainable modifiers return modified copies.
type FieldType struct {
	kind       Kind
	nullable   bool
	def        any
	unique     bool
	searchable bool
}

func Binary() FieldType  { return FieldType{kind: KindBinary, def: []byte{}} }
func Integer() FieldType { return FieldType{kind: KindInteger, def: int64(0)} }
func Boolean() FieldType { return FieldType{kind: KindBoolean, def: false} }
func Number() FieldType  { return FieldType{kind: KindNumber, def: float64(0)} }
func String() FieldType  { return FieldType{kind: KindString, def: ""} }

func (ft FieldType) Nullable() FieldType {
	ft.nullable = true
	ft.def = nil
	return ft
}

func (ft FieldType) Default(v any) FieldType {
	nv, err := ft.normalize(v)
	if err != nil {
		panic(fmt.Errorf("invalid default: %w", err))
	}
	ft.def = nv
	return ft
}

func (ft FieldType) Unique() FieldType {
	ft.unique = true
	return ft
}

func (ft FieldType) Searchable() FieldType {
	if ft.kind != KindString {
		panic(fmt.Errorf("only string fields can be searchable, got %v", ft.kind))
	}
	ft.searchable = true
	return ft
}

func (ft FieldType) Kind() Kind         { return ft.kind }
func (ft FieldType) IsNullable() bool   { return ft.nullable }
func (ft FieldType) IsUnique() bool     { return ft.unique }
func (ft FieldType) IsSearchable() bool { return ft.searchable }
func (ft FieldType) DefaultValue() any  { return ft.def }

func (ft FieldType) String() string {
	if ft.nullable {
		return "nullable " + ft.kind.String()
	}
	return ft.kind.String()
}

// Field is a named field of a store.
type Field struct {
	FieldType
	name string
	pos  int
}

func (f *Field) Name() string {
	return f.name
}

// normalize converts v into the canonical Go representation of the field's
// kind, or reports a mismatch.
func (ft FieldType) normalize(v any) (any, error) {
	if v == nil {
		if ft.nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: null is not a valid %v", ErrInvalidRecord, ft.kind)
	}
	switch ft.kind {
	case KindBinary:
		if b, ok := v.([]byte); ok {
			if b == nil {
				b = []byte{}
			}
			return b, nil
		}
	case KindInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindNumber:
		var n float64
		switch x := v.(type) {
		case float64:
			n = x
		case float32:
			n = float64(x)
		case int:
			n = float64(x)
		case int64:
			n = float64(x)
		default:
			return nil, fmt.Errorf("%w: %T is not a valid %v", ErrInvalidRecord, v, ft)
		}
		if math.IsNaN(n) {
			return nil, fmt.Errorf("%w: NaN is not a valid number", ErrInvalidRecord)
		}
		if n == 0 {
			n = 0 // drop negative zero
		}
		return n, nil
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a valid %v", ErrInvalidRecord, v, ft)
}

func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	return a == b
}
