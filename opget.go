package recdb

import (
	"fmt"
)

func (tx *Tx) rootBucket(st *Store) storageBucket {
	b := tx.stx.Bucket(st.name, "")
	if b == nil {
		panic(fmt.Errorf("missing bucket for store %s", st.name))
	}
	return b
}

func (tx *Tx) dataBucket(st *Store) storageBucket {
	b := tx.stx.Bucket(st.name, dataBucketName)
	if b == nil {
		panic(fmt.Errorf("missing data bucket for store %s", st.name))
	}
	return b
}

func (tx *Tx) indexBucket(idx *Index) storageBucket {
	b := tx.stx.Bucket(idx.store.name, idx.name)
	if b == nil {
		panic(fmt.Errorf("missing bucket for index %s", idx.FullName()))
	}
	return b
}

func (tx *Tx) state(st *Store) *storeState {
	return tx.db.storeState(st)
}

// decodeStored decodes a raw stored value into a record.
func decodeStored(st *Store, rm recordManager, pk, raw []byte) (Record, value, error) {
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, vle, storeErrf(st, "", pk, err, "")
	}
	rec, err := rm.decode(vle.Data)
	if err != nil {
		return nil, vle, storeErrf(st, "", pk, err, "")
	}
	return rec, vle, nil
}

func (tx *Tx) loadRaw(st *Store, pk []byte) (Record, value, bool, error) {
	raw := tx.dataBucket(st).Get(pk)
	if raw == nil {
		return nil, value{}, false, nil
	}
	rec, vle, err := decodeStored(st, st.rm, pk, raw)
	if err != nil {
		return nil, vle, false, err
	}
	return rec, vle, true, nil
}

// lookupRecord finds a record by its key fields; other fields of keys are
// ignored.
func (tx *Tx) lookupRecord(st *Store, keys Record) (Record, bool, error) {
	kr, err := st.keyRecord(keys)
	if err != nil {
		return nil, false, err
	}
	rec, _, found, err := tx.loadRaw(st, st.encodePK(kr))
	return rec, found, err
}

type storedRecord struct {
	rec Record
	seq uint64
}

// scanStored visits all records of a store in key order.
func (tx *Tx) scanStored(st *Store, rm recordManager, f func(rec Record, vle *value) bool) error {
	c := tx.dataBucket(st).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rec, vle, err := decodeStored(st, rm, k, v)
		if err != nil {
			return err
		}
		if !f(rec, &vle) {
			break
		}
	}
	return nil
}

// collectStored loads all records of a store, so that the store can be
// rewritten without mutating the bucket under a live cursor.
func (tx *Tx) collectStored(st *Store, rm recordManager) []storedRecord {
	var items []storedRecord
	ensure(tx.scanStored(st, rm, func(rec Record, vle *value) bool {
		items = append(items, storedRecord{rec, vle.Seq})
		return true
	}))
	return items
}
