package recdb

type StoreStats struct {
	Records   int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (s *StoreStats) TotalSize() int64 {
	return s.DataSize + s.IndexSize
}

func (s *StoreStats) TotalAlloc() int64 {
	return s.DataAlloc + s.IndexAlloc
}

// StoreStats reports the storage used by a store and its indices. The
// in-memory storage reports raw key and value bytes as both size and alloc.
func (tx *Tx) StoreStats(st *Store) (StoreStats, error) {
	if err := tx.checkStore(st); err != nil {
		return StoreStats{}, err
	}
	return exec(tx, func() (StoreStats, error) {
		return tx.storeStats(st), nil
	})
}

func (tx *Tx) storeStats(st *Store) StoreStats {
	bs := tx.dataBucket(st).Stats()
	result := StoreStats{
		Records:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
	for _, idx := range st.indices {
		bs = tx.indexBucket(idx).Stats()
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result
}
