package recdb

import (
	"encoding/binary"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	dataBucketName = "data"
	storeStateKey  = "_state"
	storeCountKey  = "_count"
)

func (db *DB) storeState(st *Store) *storeState {
	return db.states[st.pos]
}

// storeState is the persisted meta document of a store.
type storeState struct {
	SchemaVer        uint64                 `msgpack:"s"`
	Fingerprint      uint64                 `msgpack:"fp"`
	Fields           []fieldMeta            `msgpack:"f"`
	Keys             []string               `msgpack:"k"`
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indices          map[string]*indexState `msgpack:"i"`
	LastSeen         time.Time              `msgpack:"t"`

	store            *Store                 `msgpack:"-"`
	indexStates      []*indexState          `msgpack:"-"`
	indexStatesByOrd map[uint64]*indexState `msgpack:"-"`
	count            int64                  `msgpack:"-"`

	// set when the fingerprint changed since the last open
	oldFields      []*Field `msgpack:"-"`
	versionChanged bool     `msgpack:"-"`
}

type indexState struct {
	index        *Index `msgpack:"-"`
	IndexOrdinal uint64 `msgpack:"o"`
	Built        bool   `msgpack:"f"`
}

func (ss *storeState) indexOrdinal(idx *Index) uint64 {
	return ss.indexStates[idx.pos].IndexOrdinal
}

func (ss *storeState) indexByOrdinal(ord uint64) *Index {
	is := ss.indexStatesByOrd[ord]
	if is == nil {
		return nil
	}
	return is.index
}

func (ss *storeState) hasPendingIndices() bool {
	for _, is := range ss.Indices {
		if !is.Built {
			return true
		}
	}
	return false
}

func (ss *storeState) needsMigration() bool {
	return ss.oldFields != nil
}

func prepareStore(tx *Tx, st *Store, now time.Time) *storeState {
	rootB := must(tx.stx.CreateBucket(st.name, ""))
	_ = must(tx.stx.CreateBucket(st.name, dataBucketName))

	ss := new(storeState)
	if raw := rootB.Get([]byte(storeStateKey)); raw != nil {
		if err := msgpack.Unmarshal(raw, ss); err != nil {
			panic(storeErrf(st, "", nil, dataErrf(raw, 0, err, "invalid msgpack"), "failed to decode store state"))
		}
	}
	ss.store = st
	if ss.Indices == nil {
		ss.Indices = make(map[string]*indexState)
	}

	fp := storeFingerprint(st)
	if ss.SchemaVer == 0 {
		ss.SchemaVer = 1
		ss.versionChanged = true
	} else if ss.Fingerprint != fp {
		oldFields, err := fieldsFromMeta(ss.Fields)
		if err != nil {
			panic(storeErrf(st, "", nil, err, "invalid store state"))
		}
		ss.oldFields = oldFields
		ss.SchemaVer++
		ss.versionChanged = true
	}
	ss.Fingerprint = fp
	ss.Fields = ss.Fields[:0]
	for _, f := range st.fields {
		ss.Fields = append(ss.Fields, makeFieldMeta(f))
	}
	ss.Keys = st.Keys()
	ss.LastSeen = now

	ss.indexStates = make([]*indexState, len(st.indices))
	ss.indexStatesByOrd = make(map[uint64]*indexState)
	for i, idx := range st.indices {
		is := ss.Indices[idx.name]
		if is == nil {
			ss.LastIndexOrdinal++
			is = &indexState{
				IndexOrdinal: ss.LastIndexOrdinal,
			}
			ss.Indices[idx.name] = is
		}
		is.index = idx
		ss.indexStates[i] = is
		ss.indexStatesByOrd[is.IndexOrdinal] = is
		_ = must(tx.stx.CreateBucket(st.name, idx.name))
	}
	for name, is := range ss.Indices {
		if is.index == nil {
			dropDeletedIndex(tx, st, name)
			delete(ss.Indices, name)
		}
	}

	ss.count = loadCount(rootB)
	return ss
}

// migrate brings the records up to date: re-encodes and re-keys them after
// a fingerprint change, or fills indices that have not been built yet.
func (ss *storeState) migrate(tx *Tx) {
	st := ss.store
	logger := tx.db.logger
	switch {
	case ss.needsMigration():
		logger.Info("db: migrating store", zap.String("store", st.name), zap.Uint64("schema_ver", ss.SchemaVer), zap.Int64("records", ss.count))
		start := time.Now()
		old := recordManager{sortedFields(ss.oldFields)}
		items := tx.collectStored(st, old)

		tx.vacateStore(st)
		var kept int
		for _, item := range items {
			rec, err := st.rm.normalize(convertRecord(item.rec, ss.oldFields, st))
			if err == nil {
				// the store was vacated, so an existing key came from an earlier item
				if pk := st.encodePK(rec); tx.dataBucket(st).Get(pk) != nil {
					err = storeErrf(st, "", pk, ErrConstraintViolation, "duplicate key after migration")
				}
			}
			if err == nil {
				_, _, err = tx.putRecord(st, rec, putOptions{seq: item.seq, force: true})
			}
			if err != nil {
				logger.Warn("db: dropping record during migration", zap.String("store", st.name), zap.Error(err))
				continue
			}
			kept++
		}
		ss.oldFields = nil
		logger.Info("db: migrated store", zap.String("store", st.name), zap.Int("records", kept), zap.Int("dropped", len(items)-kept), zap.Duration("elapsed", time.Since(start)))

	case ss.hasPendingIndices():
		logger.Info("db: re-indexing store", zap.String("store", st.name), zap.Int64("records", ss.count))
		start := time.Now()
		items := tx.collectStored(st, st.rm)
		for _, item := range items {
			if _, _, err := tx.putRecord(st, item.rec, putOptions{force: true}); err != nil {
				panic(storeErrf(st, "", nil, err, "re-indexing"))
			}
		}
		logger.Info("db: re-indexed store", zap.String("store", st.name), zap.Int("records", len(items)), zap.Duration("elapsed", time.Since(start)))
	}
	for _, is := range ss.Indices {
		is.Built = true
	}
}

func (ss *storeState) save(tx *Tx) {
	rootB := tx.rootBucket(ss.store)
	ensure(rootB.Put([]byte(storeStateKey), must(msgpack.Marshal(ss))))
}

// reload re-reads the in-memory parts of the state from storage after
// a transaction has been discarded.
func (ss *storeState) reload(stx storageTx) {
	rootB := stx.Bucket(ss.store.name, "")
	if rootB == nil {
		ss.count = 0
		return
	}
	ss.count = loadCount(rootB)
}

func loadCount(rootB storageBucket) int64 {
	raw := rootB.Get([]byte(storeCountKey))
	if len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw))
}

func (tx *Tx) addCount(ss *storeState, delta int64) {
	ss.count += delta
	tx.saveCount(ss)
}

func (tx *Tx) saveCount(ss *storeState) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ss.count))
	ensure(tx.rootBucket(ss.store).Put([]byte(storeCountKey), buf[:]))
}

func dropDeletedIndex(tx *Tx, st *Store, name string) {
	err := tx.stx.DeleteBucket(st.name, name)
	if err == ErrBucketNotFound {
		return
	}
	ensure(err)
	tx.db.logger.Info("db: deleted index", zap.String("store", st.name), zap.String("index", name))
}

// convertRecord carries values over from the old field set: a value is kept
// when its field still exists with the same kind, otherwise the field gets
// its default.
func convertRecord(old Record, oldFields []*Field, st *Store) Record {
	oldByName := make(map[string]*Field, len(oldFields))
	for _, f := range oldFields {
		oldByName[f.name] = f
	}
	rec := make(Record, len(st.fields))
	for _, f := range st.fields {
		of := oldByName[f.name]
		v := old[f.name]
		if of == nil || of.kind != f.kind || (v == nil && !f.nullable) {
			rec[f.name] = f.def
		} else {
			rec[f.name] = v
		}
	}
	return rec
}
