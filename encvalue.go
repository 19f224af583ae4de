package recdb

import (
	"encoding/binary"
	"fmt"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize       = 6
	valueHeaderFields  = 6
	maxValueHeaderSize = binary.MaxVarintLen64 * valueHeaderFields
	maxSchemaVersion   = 32768 // just a sanity value, can be increased
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// value is a stored record: header, msgpack data and the index keys the
// record contributed.
type value struct {
	Flags     valueFlags
	SchemaVer uint64
	ModCount  uint64
	Seq       uint64
	Data      []byte
	Index     []byte
}

func reserveValueHeader(buf []byte) []byte {
	if len(buf) != 0 {
		panic("value must be written to an empty buffer")
	}
	_, buf = grow(buf, maxValueHeaderSize)
	return buf
}

func putValueHeader(buf []byte, flags valueFlags, schemaVer, modCount, seq uint64, indexOff int) []byte {
	if indexOff > len(buf) {
		panic(fmt.Errorf("invalid indexOff=%d", indexOff)) // sanity check
	}
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	dataSize := indexOff - maxValueHeaderSize
	indexSize := len(buf) - indexOff

	var hdr [maxValueHeaderSize]byte
	off := binary.PutUvarint(hdr[:], uint64(flags))
	off += binary.PutUvarint(hdr[off:], schemaVer)
	off += binary.PutUvarint(hdr[off:], modCount)
	off += binary.PutUvarint(hdr[off:], seq)
	off += binary.PutUvarint(hdr[off:], uint64(dataSize))
	off += binary.PutUvarint(hdr[off:], uint64(indexSize))

	// move the header closer to data
	start := maxValueHeaderSize - off
	copy(buf[start:maxValueHeaderSize], hdr[:off])
	return buf[start:]
}

func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	var hdr [valueHeaderFields]uint64
	for i := range hdr {
		v, n := binary.Uvarint(data)
		if n <= 0 {
			return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad header field %d", i)
		}
		hdr[i], data = v, data[n:]
	}

	if (hdr[0] & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, 0, nil, "invalid value: unsupported flags %x", hdr[0])
	}
	if hdr[1] > maxSchemaVersion {
		return dataErrf(orig, 0, nil, "invalid value: bad schema version %d", hdr[1])
	}
	vle.Flags = valueFlags(hdr[0])
	vle.SchemaVer = hdr[1]
	vle.ModCount = hdr[2]
	vle.Seq = hdr[3]
	dataSize, indexSize := hdr[4], hdr[5]

	if expected := dataSize + indexSize; uint64(len(data)) != expected {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: got %d bytes for data+index, expected %d bytes", len(data), expected)
	}
	vle.Data, vle.Index = data[:dataSize], data[dataSize:]
	return nil
}
