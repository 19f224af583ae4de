package recdb

import (
	"go.uber.org/zap"
)

// deleteRecord removes a record and its index entries. It does not cascade.
func (tx *Tx) deleteRecord(st *Store, keys Record) (Record, bool, error) {
	kr, err := st.keyRecord(keys)
	if err != nil {
		return nil, false, err
	}
	pk := st.encodePK(kr)
	ss := tx.state(st)
	dataB := tx.dataBucket(st)

	raw := dataB.Get(pk)
	if raw == nil {
		if tx.db.verbose {
			tx.db.logger.Debug("db: DELETE.NOOP", zap.String("store", st.name), hexField("key", pk))
		}
		return nil, false, nil
	}
	rec, vle, err := decodeStored(st, st.rm, pk, raw)
	if err != nil {
		return nil, false, err
	}

	decodeIndexKeys(vle.Index, func(ord uint64, key []byte) {
		if idx := ss.indexByOrdinal(ord); idx != nil {
			ensure(tx.indexBucket(idx).Delete(key))
		}
	})
	ensure(dataB.Delete(pk))
	tx.addCount(ss, -1)

	if tx.db.verbose {
		tx.db.logger.Debug("db: DELETE", zap.String("store", st.name), hexField("key", pk))
	}
	tx.recordChange(&Change{store: st, op: OpDelete, oldRecord: rec})
	return rec, true, nil
}

// vacateStore drops all records of a store at once by recreating its
// buckets. It does not cascade.
func (tx *Tx) vacateStore(st *Store) {
	ss := tx.state(st)
	names := []string{dataBucketName}
	for _, idx := range st.indices {
		names = append(names, idx.name)
	}
	for _, name := range names {
		if err := tx.stx.DeleteBucket(st.name, name); err != nil && err != ErrBucketNotFound {
			panic(err)
		}
		_ = must(tx.stx.CreateBucket(st.name, name))
	}
	n := ss.count
	ss.count = 0
	tx.saveCount(ss)

	if tx.db.verbose {
		tx.db.logger.Debug("db: VACATE", zap.String("store", st.name), zap.Int64("records", n))
	}
	tx.recordChange(&Change{store: st, op: OpVacate})
}
