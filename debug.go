package recdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpStoreHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every store for debugging.
func (tx *Tx) Dump(f DumpFlags) (string, error) {
	return exec(tx, func() (string, error) {
		var buf strings.Builder
		for _, st := range tx.db.schema.stores {
			tx.dumpStore(&buf, f, st)
		}
		return buf.String(), nil
	})
}

func (tx *Tx) dumpStore(w *strings.Builder, f DumpFlags, st *Store) {
	prefix := st.name
	s := tx.storeStats(st)
	ss := tx.state(st)

	if f.Contains(DumpStoreHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records, s%d)\n", prefix, s.Records, ss.SchemaVer)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexRows, s.DataSize, s.DataAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c := tx.dataBucket(st).Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			rec, vle, err := decodeStored(st, st.rm, k, v)
			if err != nil {
				fmt.Fprintf(w, "%s.%d = ** ERROR: %v\n", prefix, pos, err)
				continue
			}
			fmt.Fprintf(w, "%s.%d = (m%d s%d #%d) %s\n", prefix, pos, vle.ModCount, vle.SchemaVer, vle.Seq, loggableRecord(rec))
		}
	}

	if f.Contains(DumpIndices) {
		for _, idx := range st.indices {
			tx.dumpIndex(w, f, idx, ss)
		}
	}
}

func (tx *Tx) dumpIndex(w *strings.Builder, f DumpFlags, idx *Index, ss *storeState) {
	fmt.Fprintln(w, dumpSep2)
	prefix := idx.FullName()
	is := ss.indexStates[idx.pos]
	fmt.Fprintf(w, "%s (0x%x)%s\n", prefix, is.IndexOrdinal, map[bool]string{false: " PENDING", true: ""}[is.Built])

	if f.Contains(DumpIndexRows) {
		c := tx.indexBucket(idx).Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, indexKeyString(idx, k), keyString(idx.store.keys, v))
		}
	}
}

func indexKeyString(idx *Index, k []byte) string {
	switch idx.kind {
	case searchIndex:
		token, _, err := decodeEscaped(k)
		if err != nil {
			return "** " + hexstr(k)
		}
		return fmt.Sprintf("%q", token)
	case uniqueIndex:
		return keyString(idx.fields, k)
	default:
		return keyString(idx.columns, k)
	}
}

func keyString(fields []*Field, k []byte) string {
	rec, _, err := decodeKeys(k, fields)
	if err != nil {
		return "** " + hexstr(k)
	}
	var buf strings.Builder
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte('|')
		}
		fmt.Fprintf(&buf, "%v", rec[f.name])
	}
	return buf.String()
}

func loggableRecord(rec Record) string {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprint(map[string]any(rec))
	}
	return string(data)
}
