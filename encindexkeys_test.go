package recdb

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestIndexDiffing(t *testing.T) {
	tests := []struct {
		old     string
		new     string
		removed string
	}{
		{"", "", ""},
		{"", "1:a", ""},
		{"1:a", "", "1:a"},
		{"1:abc", "", "1:abc"},
		{"1:a 1:b", "1:a", "1:b"},
		{"1:a 1:b", "1:b", "1:a"},
		{"1:a 1:b", "1:a 1:b", ""},
		{"1:a 2:a 2:b", "", "1:a 2:a 2:b"},
		{"1:a 2:a 2:b", "1:a", "2:a 2:b"},
		{"1:a 2:a 2:b", "2:a", "1:a 2:b"},
		{"1:a 2:a 2:b", "2:b", "1:a 2:a"},
		{"1:a 2:a 2:b", "1:a 2:a", "2:b"},
		{"1:a 2:a 2:b", "2:a 2:b", "1:a"},
		{"1:a 2:a 2:b", "1:a 2:b", "2:a"},
		{"1:a 2:a 2:b", "1:a 2:a 2:b", ""},
		{"1:a 3:c", "2:b", "1:a 3:c"},
	}
	for _, tt := range tests {
		oldKeys := parseIndexKeys(tt.old)
		newKeys := parseIndexKeys(tt.new)
		oldKeysData := appendIndexKeys(nil, oldKeys)
		var removedKeys []string
		findRemovedIndexKeys(oldKeysData, newKeys, func(ord uint64, key []byte) {
			removedKeys = append(removedKeys, fmt.Sprintf("%d:%s", ord, key))
		})
		actual := strings.Join(removedKeys, " ")
		if actual != tt.removed {
			t.Errorf("** Removed(%s => %s) == %q, expected %q", tt.old, tt.new, actual, tt.removed)
		}
	}
}

func TestIndexRows_Finalize(t *testing.T) {
	rows := parseIndexKeys("2:b 1:z 2:a 2:b 1:a").finalize()
	var got []string
	for _, row := range rows {
		got = append(got, fmt.Sprintf("%d:%s", row.Ord, row.Key))
	}
	deepEqual(t, got, []string{"1:a", "1:z", "2:a", "2:b"})

	var decoded []string
	decodeIndexKeys(appendIndexKeys(nil, rows), func(ord uint64, key []byte) {
		decoded = append(decoded, fmt.Sprintf("%d:%s", ord, key))
	})
	deepEqual(t, decoded, got)
}

func parseIndexKeys(s string) indexRows {
	cc := strings.Fields(s)
	rows := make(indexRows, len(cc))
	for i, c := range cc {
		ordStr, keyStr, ok := strings.Cut(c, ":")
		if !ok {
			panic("invalid entry: " + c)
		}
		ord := must(strconv.ParseUint(ordStr, 10, 64))
		rows[i] = indexRow{Ord: ord, Key: []byte(keyStr)}
	}
	return rows
}
