package recdb

import (
	"go.uber.org/zap"
)

type removalBatch struct {
	st   *Store
	keys []Record
}

// removeCascade removes records breadth-first along parent links: once
// a batch is removed, the children of the removed records form the next
// batch. It returns the number of removed records, including cascaded ones.
func (tx *Tx) removeCascade(st *Store, keys []Record) (int, error) {
	queue := []removalBatch{{st, keys}}
	var n, direct int
	for i := 0; len(queue) > 0; i++ {
		b := queue[0]
		queue = queue[1:]

		var removed []Record
		for _, k := range b.keys {
			rec, found, err := tx.deleteRecord(b.st, k)
			if err != nil {
				return n, err
			}
			if found {
				removed = append(removed, rec)
			}
		}
		n += len(removed)
		if i == 0 {
			direct = len(removed)
		}
		if len(removed) == 0 {
			continue
		}

		for _, l := range b.st.parentLinks {
			var children []Record
			for _, rec := range removed {
				kids, err := tx.linkFilter(l, rec, nil, 0)
				if err != nil {
					return n, err
				}
				children = append(children, kids...)
			}
			if len(children) > 0 {
				queue = append(queue, removalBatch{l.child, children})
			}
		}
	}
	if cascaded := n - direct; cascaded > 0 {
		tx.db.metrics.cascadeRemovals.Add(float64(cascaded))
	}
	return n, nil
}

// vacateCascade empties a store and every record below it in the link
// graph. Children whose link fields are null don't belong to any parent;
// they survive: they are set aside before the child store is vacated and
// put back afterwards.
func (tx *Tx) vacateCascade(st *Store) error {
	if tx.state(st).count == 0 {
		return nil
	}
	tx.vacateStore(st)

	for _, l := range st.parentLinks {
		orphans, err := tx.linkFilter(l, nil, nil, 0)
		if err != nil {
			return err
		}
		seqs := make([]uint64, len(orphans))
		for i, rec := range orphans {
			_, vle, _, err := tx.loadRaw(l.child, l.child.encodePK(rec))
			if err != nil {
				return err
			}
			seqs[i] = vle.Seq
		}

		if err := tx.vacateCascade(l.child); err != nil {
			return err
		}

		for i, rec := range orphans {
			if _, _, err := tx.putRecord(l.child, rec, putOptions{seq: seqs[i]}); err != nil {
				return err
			}
		}
	}
	return nil
}

// enforceLink removes, with cascade, every child record whose parent is
// missing.
func (tx *Tx) enforceLink(l *Link) (int, error) {
	var orphans []Record
	var lookupErr error
	err := tx.scanStored(l.child, l.child.rm, func(rec Record, vle *value) bool {
		_, status, err := tx.linkParent(l, rec)
		if err != nil {
			lookupErr = err
			return false
		}
		if status == parentMissing {
			orphans = append(orphans, rec)
		}
		return true
	})
	if err == nil {
		err = lookupErr
	}
	if err != nil || len(orphans) == 0 {
		return 0, err
	}
	tx.db.logger.Info("db: removing orphaned records", zap.String("link", l.name), zap.String("store", l.child.name), zap.Int("orphans", len(orphans)))
	return tx.removeCascade(l.child, orphans)
}

// enforceStore checks every link in which st is the child.
func (tx *Tx) enforceStore(st *Store) (int, error) {
	var total int
	for _, l := range st.childLinks {
		n, err := tx.enforceLink(l)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (tx *Tx) enforceConsistency() (int, error) {
	var total int
	for _, l := range tx.db.schema.links {
		n, err := tx.enforceLink(l)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
