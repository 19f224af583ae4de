package recdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	keyNull    byte = 0x00
	keyNonNull byte = 0x01

	keyEscape     byte = 0x00
	keyEscapedNul byte = 0xFF
	keyTerminator byte = 0x01
)

// appendKeyValue appends the order-preserving encoding of v, which must
// already be normalized for the field.
func appendKeyValue(buf []byte, ft FieldType, v any) []byte {
	if ft.nullable {
		if v == nil {
			return append(buf, keyNull)
		}
		buf = append(buf, keyNonNull)
	}
	switch ft.kind {
	case KindBinary:
		return appendEscaped(buf, v.([]byte), true)
	case KindInteger:
		return appendUint64(buf, uint64(v.(int64))^(1<<63))
	case KindBoolean:
		if v.(bool) {
			return append(buf, 1)
		}
		return append(buf, 0)
	case KindNumber:
		bits := math.Float64bits(v.(float64))
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return appendUint64(buf, bits)
	case KindString:
		return appendEscaped(buf, []byte(v.(string)), true)
	default:
		panic(fmt.Errorf("cannot encode %v", ft.kind))
	}
}

func appendEscaped(buf, raw []byte, terminate bool) []byte {
	for _, b := range raw {
		if b == keyEscape {
			buf = append(buf, keyEscape, keyEscapedNul)
		} else {
			buf = append(buf, b)
		}
	}
	if terminate {
		buf = append(buf, keyEscape, keyTerminator)
	}
	return buf
}

// decodeKeyValue decodes one value from the front of buf and returns the rest.
func decodeKeyValue(buf []byte, ft FieldType) (any, []byte, error) {
	orig := buf
	if ft.nullable {
		if len(buf) == 0 {
			return nil, nil, dataErrf(orig, 0, nil, "missing null marker")
		}
		marker := buf[0]
		buf = buf[1:]
		if marker == keyNull {
			return nil, buf, nil
		} else if marker != keyNonNull {
			return nil, nil, dataErrf(orig, 0, nil, "invalid null marker %x", marker)
		}
	}
	switch ft.kind {
	case KindBinary, KindString:
		raw, rest, err := decodeEscaped(buf)
		if err != nil {
			return nil, nil, dataErrf(orig, len(orig)-len(buf), err, "invalid %v", ft.kind)
		}
		if ft.kind == KindString {
			return string(raw), rest, nil
		}
		return raw, rest, nil
	case KindInteger:
		if len(buf) < 8 {
			return nil, nil, dataErrf(orig, len(orig)-len(buf), nil, "truncated integer")
		}
		return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63)), buf[8:], nil
	case KindBoolean:
		if len(buf) < 1 || buf[0] > 1 {
			return nil, nil, dataErrf(orig, len(orig)-len(buf), nil, "invalid boolean")
		}
		return buf[0] == 1, buf[1:], nil
	case KindNumber:
		if len(buf) < 8 {
			return nil, nil, dataErrf(orig, len(orig)-len(buf), nil, "truncated number")
		}
		bits := binary.BigEndian.Uint64(buf)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), buf[8:], nil
	default:
		panic(fmt.Errorf("cannot decode %v", ft.kind))
	}
}

func decodeEscaped(buf []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b != keyEscape {
			out = append(out, b)
			continue
		}
		if i+1 >= len(buf) {
			return nil, nil, fmt.Errorf("dangling escape")
		}
		switch buf[i+1] {
		case keyTerminator:
			return out, buf[i+2:], nil
		case keyEscapedNul:
			out = append(out, 0)
			i++
		default:
			return nil, nil, fmt.Errorf("invalid escape %x", buf[i+1])
		}
	}
	return nil, nil, fmt.Errorf("missing terminator")
}

// encodeKeys encodes the given fields of a normalized record, in order,
// as one composite key.
func encodeKeys(buf []byte, fields []*Field, rec Record) []byte {
	for _, f := range fields {
		buf = appendKeyValue(buf, f.FieldType, rec[f.name])
	}
	return buf
}

// decodeKeys is the inverse of encodeKeys; it returns the undecoded tail.
func decodeKeys(buf []byte, fields []*Field) (Record, []byte, error) {
	rec := make(Record, len(fields))
	for _, f := range fields {
		v, rest, err := decodeKeyValue(buf, f.FieldType)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", f.name, err)
		}
		rec[f.name] = v
		buf = rest
	}
	return rec, buf, nil
}

// invertBytes flips all bits, turning an ascending prefix-free encoding into
// a descending one.
func invertBytes(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
