package recdb

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func scanValues(t *testing.T, b storageBucket, r rawRange) []string {
	t.Helper()
	cur := r.newCursor(b.Cursor(), zaptest.NewLogger(t))
	var got []string
	for cur.Next() {
		got = append(got, string(cur.Value()))
	}
	return got
}

func TestRawRangeCursor(t *testing.T) {
	s := newMemStorage()
	defer s.Close()
	update(t, s, true, func(stx storageTx) {
		b := must(stx.CreateBucket("b", ""))
		ensure(b.Put([]byte{0x10, 0x01}, []byte("a")))
		ensure(b.Put([]byte{0x10, 0x02}, []byte("b")))
		ensure(b.Put([]byte{0x10, 0x03}, []byte("c")))
		ensure(b.Put([]byte{0x11, 0x01}, []byte("x")))
		ensure(b.Put([]byte{0x12}, []byte("y")))
	})

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	b := rtx.Bucket("b", "")

	tests := []struct {
		name string
		r    rawRange
		want []string
	}{
		{"all", rawRange{}, []string{"a", "b", "c", "x", "y"}},
		{"all reverse", rawRange{Reverse: true}, []string{"y", "x", "c", "b", "a"}},
		{"prefix", rawRange{Prefix: []byte{0x10}}, []string{"a", "b", "c"}},
		{"prefix reverse", rawRange{Prefix: []byte{0x10}, Reverse: true}, []string{"c", "b", "a"}},
		{"missing prefix", rawRange{Prefix: []byte{0x0F}}, nil},
		{"lower exclusive", rawRange{Lower: []byte{0x10, 0x01}}, []string{"b", "c", "x", "y"}},
		{"upper exclusive", rawRange{Upper: []byte{0x10, 0x03}}, []string{"a", "b"}},
		{"bound between keys", rawRange{Lower: []byte{0x10, 0x02, 0x00}}, []string{"c", "x", "y"}},
		{"bound between keys reverse", rawRange{Upper: []byte{0x10, 0x02, 0x00}, Reverse: true}, []string{"b", "a"}},
		{"upper exclusive reverse", rawRange{Upper: []byte{0x10, 0x03}, Reverse: true}, []string{"b", "a"}},
		{"lower exclusive reverse", rawRange{Lower: []byte{0x10, 0x02}, Reverse: true}, []string{"y", "x", "c"}},
		{"prefix and lower", rawRange{Prefix: []byte{0x10}, Lower: []byte{0x10, 0x01}}, []string{"b", "c"}},
		{"prefix and upper reverse", rawRange{Prefix: []byte{0x10}, Upper: []byte{0x10, 0x02}, Reverse: true}, []string{"a"}},
		{"both bounds", rawRange{Lower: []byte{0x10, 0x01}, Upper: []byte{0x12}}, []string{"b", "c", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deepEqual(t, scanValues(t, b, tt.r), tt.want)
		})
	}
}

func TestRawRangeCursor_PrefixMismatchPanics(t *testing.T) {
	s := newMemStorage()
	defer s.Close()
	update(t, s, true, func(stx storageTx) {
		ensure(must(stx.CreateBucket("b", "")).Put([]byte{0x10}, []byte("a")))
	})
	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	b := rtx.Bucket("b", "")

	for _, r := range []rawRange{
		{Prefix: []byte{0x10}, Lower: []byte{0x11}},
		{Prefix: []byte{0x10}, Upper: []byte{0x11}, Reverse: true},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("** %+v did not panic", r)
				}
			}()
			scanValues(t, b, r)
		}()
	}
}
