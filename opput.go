package recdb

import (
	"bytes"

	"go.uber.org/zap"
)

type putOptions struct {
	seq   uint64 // insertion sequence to keep; zero allocates a new one
	force bool   // rewrite index entries even if nothing changed
}

// insert validates a record, checks that every parent it references exists,
// and stores it, replacing a record with the same key.
func (tx *Tx) insert(st *Store, rec Record) error {
	if _, err := st.keyRecord(rec); err != nil {
		return err
	}
	nrec, err := st.rm.normalize(rec)
	if err != nil {
		return storeErrf(st, "", nil, err, "")
	}
	for _, l := range st.childLinks {
		_, status, err := tx.linkParent(l, nrec)
		if err != nil {
			return err
		}
		if status == parentMissing {
			return storeErrf(st, "", st.encodePK(nrec), ErrConstraintViolation, "no parent record in %s via %s", l.parent.name, l.name)
		}
	}
	_, _, err = tx.putRecord(st, nrec, putOptions{})
	return err
}

// update merges the given fields into an existing record.
func (tx *Tx) update(st *Store, partial Record) error {
	old, found, err := tx.lookupRecord(st, partial)
	if err != nil {
		return err
	}
	if !found {
		kr, _ := st.keyRecord(partial)
		return storeErrf(st, "", st.encodePK(kr), ErrNotFound, "")
	}
	merged := old.Clone()
	for k, v := range partial {
		merged[k] = v
	}
	return tx.insert(st, merged)
}

// putRecord writes a normalized record with all its index entries. Index
// entries the previous version contributed but this one doesn't are
// retracted. It reports whether anything was written.
func (tx *Tx) putRecord(st *Store, rec Record, opt putOptions) (Record, bool, error) {
	ss := tx.state(st)
	pk := st.encodePK(rec)
	dataB := tx.dataBucket(st)

	var old value
	var oldRec Record
	oldRaw := dataB.Get(pk)
	exists := oldRaw != nil
	if exists {
		var err error
		oldRec, old, err = decodeStored(st, st.rm, pk, oldRaw)
		if err != nil {
			return nil, false, err
		}
	}

	ib := indexBuilder{ss: ss, pk: pk}
	for _, is := range ss.indexStates {
		ib.add(is.index, rec)
	}
	rows := ib.rows.finalize()

	for _, row := range rows {
		idx := ss.indexByOrdinal(row.Ord)
		if idx.kind != uniqueIndex {
			continue
		}
		if owner := tx.indexBucket(idx).Get(row.Key); owner != nil && !bytes.Equal(owner, pk) {
			return nil, false, storeErrf(st, idx.name, pk, ErrConstraintViolation, "duplicate value of unique field %s", idx.fields[0].name)
		}
	}

	buf := reserveValueHeader(nil)
	dataOff := len(buf)
	buf = st.rm.encode(buf, rec)
	indexOff := len(buf)
	buf = appendIndexKeys(buf, rows)

	isDataUnchanged := exists && bytes.Equal(buf[dataOff:indexOff], old.Data)
	isIndexUnchanged := exists && bytes.Equal(buf[indexOff:], old.Index)
	if isDataUnchanged && isIndexUnchanged && old.SchemaVer == ss.SchemaVer && !opt.force {
		if tx.db.verbose {
			tx.db.logger.Debug("db: PUT.NOOP", zap.String("store", st.name), hexField("key", pk), zap.Uint64("mod", old.ModCount))
		}
		return oldRec, false, nil
	}

	modCount, seq := old.ModCount, old.Seq
	if !isDataUnchanged {
		modCount++
	}
	if opt.seq != 0 {
		seq = opt.seq
	} else if !exists {
		seq = must(tx.rootBucket(st).NextSequence())
	}

	if exists && !isIndexUnchanged {
		findRemovedIndexKeys(old.Index, rows, func(ord uint64, key []byte) {
			if idx := ss.indexByOrdinal(ord); idx != nil {
				ensure(tx.indexBucket(idx).Delete(key))
			}
		})
	}
	for _, row := range rows {
		ensure(tx.indexBucket(ss.indexByOrdinal(row.Ord)).Put(row.Key, row.Value))
	}

	vle := putValueHeader(buf, vfDefault, ss.SchemaVer, modCount, seq, indexOff)
	ensure(dataB.Put(pk, vle))
	if !exists {
		tx.addCount(ss, 1)
	}

	if tx.db.verbose {
		tx.db.logger.Debug("db: PUT", zap.String("store", st.name), hexField("key", pk), zap.Uint64("mod", modCount), zap.Uint64("seq", seq), zap.Any("record", map[string]any(rec)))
	}
	tx.recordChange(&Change{store: st, op: OpPut, record: rec, oldRecord: oldRec})
	return oldRec, true, nil
}
