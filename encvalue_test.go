package recdb

import (
	"errors"
	"testing"
)

func TestValueFlags_Ver(t *testing.T) {
	deepEqual(t, (vfVer1 | vfVerBit2).ver(), vfVer1|vfVerBit2)
	deepEqual(t, valueFlags(1<<10|1).ver(), vfVer1)
}

func TestValue_RoundTrip(t *testing.T) {
	raw := reserveValueHeader(nil)
	raw = append(raw, 1, 2, 3)
	indexOff := len(raw)
	raw = append(raw, 9, 8)
	raw = putValueHeader(raw, vfDefault, 3, 4, 5, indexOff)

	var vle value
	ensure(vle.decode(raw))
	deepEqual(t, vle, value{
		Flags:     vfDefault,
		SchemaVer: 3,
		ModCount:  4,
		Seq:       5,
		Data:      []byte{1, 2, 3},
		Index:     []byte{9, 8},
	})
}

func TestValue_DecodeErrors(t *testing.T) {
	good := putValueHeader(append(reserveValueHeader(nil), 1, 2), vfDefault, 1, 1, 1, maxValueHeaderSize+2)
	tests := [][]byte{
		{1, 2, 3},
		good[:len(good)-1],
		append(append([]byte(nil), good...), 0),
		x("02 01 01 01 00 00"),
		x("01 FFFF03 01 01 00 00"),
	}
	for _, data := range tests {
		var vle value
		err := vle.decode(data)
		var de *DataError
		if !errors.As(err, &de) {
			t.Errorf("** decode(%x) err = %v, wanted *DataError", data, err)
		}
	}
}

func TestPutValueHeader_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("** putValueHeader with unsupported flags did not panic")
		}
	}()
	putValueHeader(reserveValueHeader(nil), vfVerBit3, 0, 0, 0, maxValueHeaderSize)
}
