package recdb

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// recordManager encodes whole records as a msgpack array of values, with
// fields sorted by name.
type recordManager struct {
	fields []*Field // sorted by name
}

func (rm recordManager) encode(buf []byte, rec Record) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&bb)
	ensure(enc.EncodeArrayLen(len(rm.fields)))
	for _, f := range rm.fields {
		ensure(encodeMsgpackValue(enc, f.kind, rec[f.name]))
	}
	return bb.Buf
}

func encodeMsgpackValue(enc *msgpack.Encoder, kind Kind, v any) error {
	if v == nil {
		return enc.EncodeNil()
	}
	switch kind {
	case KindBinary:
		return enc.EncodeBytes(v.([]byte))
	case KindInteger:
		return enc.EncodeInt(v.(int64))
	case KindBoolean:
		return enc.EncodeBool(v.(bool))
	case KindNumber:
		return enc.EncodeFloat64(v.(float64))
	case KindString:
		return enc.EncodeString(v.(string))
	default:
		return fmt.Errorf("cannot encode %v", kind)
	}
}

func (rm recordManager) decode(data []byte) (Record, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(&r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, dataErrf(data, 0, err, "invalid record header")
	}
	if n != len(rm.fields) {
		return nil, dataErrf(data, 0, nil, "record has %d fields, wanted %d", n, len(rm.fields))
	}
	rec := make(Record, n)
	for _, f := range rm.fields {
		v, err := decodeMsgpackValue(dec, f.kind)
		if err != nil {
			return nil, dataErrf(data, len(data)-r.Len(), err, "invalid value of %s", f.name)
		}
		rec[f.name] = v
	}
	return rec, nil
}

func decodeMsgpackValue(dec *msgpack.Decoder, kind Kind) (any, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if code == msgpcode.Nil {
		return nil, dec.DecodeNil()
	}
	switch kind {
	case KindBinary:
		b, err := dec.DecodeBytes()
		if b == nil && err == nil {
			b = []byte{}
		}
		return b, err
	case KindInteger:
		return dec.DecodeInt64()
	case KindBoolean:
		return dec.DecodeBool()
	case KindNumber:
		return dec.DecodeFloat64()
	case KindString:
		return dec.DecodeString()
	default:
		return nil, fmt.Errorf("cannot decode %v", kind)
	}
}

// normalize validates rec against the fields, fills defaults for missing
// fields and drops unknown ones.
func (rm recordManager) normalize(rec Record) (Record, error) {
	out := make(Record, len(rm.fields))
	for _, f := range rm.fields {
		v, found := rec[f.name]
		if !found {
			out[f.name] = f.def
			continue
		}
		nv, err := f.normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		out[f.name] = nv
	}
	return out, nil
}

func sortedFields(fields []*Field) []*Field {
	sorted := append([]*Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].name < sorted[j].name
	})
	return sorted
}
