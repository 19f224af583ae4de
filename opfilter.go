package recdb

import (
	"bytes"
	"sort"

	"go.uber.org/zap"
)

// maxScanEstimate caps the number of keys visited when estimating the size
// of an index prefix for plan selection.
const maxScanEstimate = 1000

// scanPlan is a candidate index for a filter: the primary key (idx == nil)
// or a composite index, with the leading columns pinned by equality filters.
type scanPlan struct {
	idx     *Index
	columns []*Field
	pinned  int
	prefix  []byte
	bucket  storageBucket
}

func (p *scanPlan) name() string {
	if p.idx == nil {
		return dataBucketName
	}
	return p.idx.name
}

func makeScanPlan(idx *Index, columns []*Field, bucket storageBucket, cfs []compiledFilter) scanPlan {
	p := scanPlan{idx: idx, columns: columns, bucket: bucket}
	for _, col := range columns {
		cf := equalityFilter(cfs, col)
		if cf == nil {
			break
		}
		p.prefix = append(p.prefix, cf.enc...)
		p.pinned++
	}
	return p
}

// planScan picks the candidate with the most pinned leading columns, breaking
// ties by the estimated number of keys under the pinned prefix.
func (tx *Tx) planScan(st *Store, cfs []compiledFilter) scanPlan {
	best := makeScanPlan(nil, st.keys, tx.dataBucket(st), cfs)
	bestEstimate := -1
	for _, idx := range st.indices {
		if idx.kind != compositeIndex {
			continue
		}
		p := makeScanPlan(idx, idx.columns, tx.indexBucket(idx), cfs)
		if p.pinned < best.pinned || p.pinned == 0 {
			continue
		}
		if p.pinned > best.pinned {
			best, bestEstimate = p, -1
			continue
		}
		if bestEstimate < 0 {
			bestEstimate = estimateScanSize(best.bucket, best.prefix, maxScanEstimate)
		}
		if est := estimateScanSize(p.bucket, p.prefix, maxScanEstimate); est < bestEstimate {
			best, bestEstimate = p, est
		}
	}
	if best.pinned == 0 {
		best.prefix = nil
	}
	return best
}

// streamDirection reports whether the plan's index order, past the pinned
// prefix, already is the requested total ordering, uniformly increasing or
// decreasing. If so, results can be streamed instead of sorted.
func (p *scanPlan) streamDirection(st *Store, ord ordering) (Direction, bool) {
	pinned := p.columns[:p.pinned]
	rest := p.columns[p.pinned:]
	keysLeft := 0
	for _, k := range st.keys {
		if !containsField(pinned, k) {
			keysLeft++
		}
	}
	if keysLeft == 0 {
		return Increasing, true
	}

	var dir Direction
	var i int
	for _, col := range ord {
		if containsField(pinned, col.field) {
			continue
		}
		if i >= len(rest) || rest[i] != col.field {
			return dir, false
		}
		if i == 0 {
			dir = col.dir
		} else if col.dir != dir {
			return dir, false
		}
		i++
		if st.isKey(col.field) {
			keysLeft--
			if keysLeft == 0 {
				return dir, true
			}
		}
	}
	return dir, false
}

type sortedRecord struct {
	rec Record
	key []byte
}

// filter runs a filter with automatic index selection. The result is the
// same for every plan; plans only differ in how many records they visit.
func (tx *Tx) filter(st *Store, opt FilterOptions) ([]Record, error) {
	return tx.runFilter(st, opt, false)
}

// runFilter optionally bypasses planning, scanning every record and
// sorting in memory.
func (tx *Tx) runFilter(st *Store, opt FilterOptions, fullScan bool) ([]Record, error) {
	cfs, empty, err := compileFilters(st, opt.Filters)
	if err != nil {
		return nil, err
	}
	ord, err := st.totalOrdering(opt.Orders)
	if err != nil {
		return nil, err
	}

	var anchor Record
	var anchorKey []byte
	if opt.Anchor != nil {
		var found bool
		anchor, found, err = tx.lookupRecord(st, opt.Anchor)
		if err != nil {
			return nil, err
		}
		if !found {
			kr, _ := st.keyRecord(opt.Anchor)
			return nil, storeErrf(st, "", st.encodePK(kr), ErrNotFound, "anchor record")
		}
		anchorKey = ord.sortKey(nil, anchor)
	}
	if empty {
		return nil, nil
	}

	var plan scanPlan
	var dir Direction
	var streaming bool
	if fullScan {
		plan = scanPlan{columns: st.keys, bucket: tx.dataBucket(st)}
	} else {
		plan = tx.planScan(st, cfs)
		dir, streaming = plan.streamDirection(st, ord)
	}
	rang := rawRange{Prefix: plan.prefix, Reverse: dir == Decreasing}
	if streaming && anchor != nil {
		if ak := encodeKeys(nil, plan.columns, anchor); hasPrefix(ak, plan.prefix) {
			if rang.Reverse {
				rang.Upper = ak
			} else {
				rang.Lower = ak
			}
		}
	}
	if tx.db.verbose {
		tx.db.logger.Debug("db: FILTER", zap.String("store", st.name), zap.String("index", plan.name()), zap.Int("pinned", plan.pinned), zap.Bool("streaming", streaming), zap.Stringer("dir", dir))
	}

	var dataB storageBucket
	if plan.idx != nil {
		dataB = tx.dataBucket(st)
	}
	var results []sortedRecord
	for c := rang.newCursor(plan.bucket.Cursor(), tx.db.logger); c.Next(); {
		pk, raw := c.Key(), c.Value()
		if dataB != nil {
			pk = raw
			raw = dataB.Get(pk)
			if raw == nil {
				return nil, storeErrf(st, plan.name(), c.Key(), nil, "index entry references a missing record")
			}
		}
		rec, _, err := decodeStored(st, st.rm, pk, raw)
		if err != nil {
			return nil, err
		}
		if !matchAll(cfs, rec) {
			continue
		}
		key := ord.sortKey(nil, rec)
		if anchorKey != nil && bytes.Compare(key, anchorKey) <= 0 {
			continue
		}
		results = append(results, sortedRecord{rec, key})
		if streaming && opt.Limit > 0 && len(results) >= opt.Limit {
			break
		}
	}

	if !streaming {
		sort.SliceStable(results, func(i, j int) bool {
			return bytes.Compare(results[i].key, results[j].key) < 0
		})
		if opt.Limit > 0 && len(results) > opt.Limit {
			results = results[:opt.Limit]
		}
	}

	if len(results) == 0 {
		return nil, nil
	}
	recs := make([]Record, len(results))
	for i, r := range results {
		recs[i] = r.rec
	}
	return recs, nil
}

// explainFilter reports the index a filter would scan and the number of
// leading columns it pins.
func (tx *Tx) explainFilter(st *Store, filters map[string]Filter) (string, int, error) {
	cfs, _, err := compileFilters(st, filters)
	if err != nil {
		return "", 0, err
	}
	p := tx.planScan(st, cfs)
	return p.name(), p.pinned, nil
}
