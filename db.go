package recdb

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const trackTxns = true

type DB struct {
	storage storage
	schema  *Schema
	logger  *zap.Logger
	verbose bool
	now     func() time.Time

	states  []*storeState
	gates   *gates
	metrics *metrics

	lastSize atomic.Int64
	closed   atomic.Bool

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	InMemory  bool
	MmapSize  int

	// Registerer receives the database metrics. Nil means a private
	// registry, available through DB.Gatherer.
	Registerer prometheus.Registerer

	Now func() time.Time
}

// Open opens or creates a database, bringing the stored data up to date
// with scm: new indices are built, removed ones dropped, stores whose fields
// or keys changed are migrated, and links affected by any of that are
// re-checked. The schema cannot be changed after Open.
func Open(path string, scm *Schema, opt Options) (*DB, error) {
	stor, err := openStorage(path, opt)
	if err != nil {
		return nil, err
	}
	db, err := openWith(stor, scm, opt)
	if err != nil {
		stor.Close()
		return nil, err
	}
	return db, nil
}

// OpenExisting opens a database using the schema saved by the last Open.
func OpenExisting(path string, opt Options) (*DB, error) {
	stor, err := openStorage(path, opt)
	if err != nil {
		return nil, err
	}
	scm, err := loadSchema(stor)
	if err == nil {
		var db *DB
		db, err = openWith(stor, scm, opt)
		if err == nil {
			return db, nil
		}
	}
	stor.Close()
	return nil, err
}

func loadSchema(stor storage) (*Schema, error) {
	stx, err := stor.BeginTx(false)
	if err != nil {
		return nil, fmt.Errorf("recdb: %w", err)
	}
	defer stx.Rollback()
	m, err := loadSchemaMeta(stx)
	if err != nil {
		return nil, fmt.Errorf("recdb: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("recdb: no schema saved in database: %w", ErrNotFound)
	}
	return m.build()
}

func openStorage(path string, opt Options) (storage, error) {
	if opt.InMemory {
		return newMemStorage(), nil
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("recdb: %w", err)
	}
	return newBoltStorage(bdb), nil
}

func openWith(stor storage, scm *Schema, opt Options) (*DB, error) {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	scm.sealed = true

	db := &DB{
		storage: stor,
		schema:  scm,
		logger:  logger,
		verbose: opt.Verbose,
		now:     now,
		states:  make([]*storeState, len(scm.stores)),
		gates:   newGates(),
		metrics: newMetrics(opt.Registerer),
	}

	err := db.run(true, db.prepare)
	if err != nil {
		return nil, fmt.Errorf("recdb: preparing schema: %w", err)
	}
	return db, nil
}

// prepare runs directly on the storage transaction, outside of the
// operation queue; nothing else can see the DB yet.
func (db *DB) prepare(tx *Tx) error {
	scm := db.schema
	prev, err := loadSchemaMeta(tx.stx)
	if err != nil {
		return err
	}

	now := db.now()
	for i, st := range scm.stores {
		db.states[i] = prepareStore(tx, st, now)
	}
	for _, ss := range db.states {
		ss.migrate(tx)
	}
	for _, ss := range db.states {
		ss.save(tx)
	}

	for _, l := range scm.links {
		var old *linkMeta
		if prev != nil {
			old = prev.link(l.name)
		}
		changed := old == nil || old.Fingerprint != linkFingerprint(l)
		if !changed && !db.storeState(l.parent).versionChanged && !db.storeState(l.child).versionChanged {
			continue
		}
		n, err := tx.enforceLink(l)
		if err != nil {
			return fmt.Errorf("link %s: %w", l.name, err)
		}
		if n > 0 {
			db.logger.Info("db: link re-checked", zap.String("link", l.name), zap.Int("removed", n))
		}
	}

	saveSchemaMeta(tx.stx, describeSchema(scm))
	return nil
}

// run executes a transaction once its gate has opened.
func (db *DB) run(writable bool, f func(tx *Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	stx, err := db.storage.BeginTx(writable)
	if err != nil {
		return fmt.Errorf("recdb: begin: %w", err)
	}

	tx := db.newTx(stx, writable)
	db.addTx(tx)
	db.metrics.txOpen.Inc()
	err = safelyCall(f, tx)
	tx.close()
	db.metrics.txOpen.Dec()
	db.removeTx(tx)

	if writable && err == nil {
		size := stx.Size()
		err = stx.Commit()
		if err == nil {
			db.lastSize.Store(size)
			db.metrics.sizeBytes.Set(float64(size))
		} else {
			err = fmt.Errorf("recdb: commit: %w", err)
		}
	}
	if rerr := stx.Rollback(); rerr != nil && !errors.Is(rerr, bbolt.ErrTxClosed) {
		db.logger.Error("db: rollback failed", zap.String("tx", tx.id.String()), zap.Error(rerr))
	}
	if writable && err != nil {
		db.reload()
		db.logger.Warn("db: write transaction discarded", zap.String("tx", tx.id.String()), zap.Error(err))
	}

	db.metrics.recordTx(writable, err, time.Since(start))
	return err
}

// reload rebuilds in-memory store state from the last committed data.
func (db *DB) reload() {
	stx, err := db.storage.BeginTx(false)
	if err != nil {
		db.logger.Error("db: reload failed", zap.Error(err))
		return
	}
	defer stx.Rollback()
	for _, ss := range db.states {
		if ss != nil {
			ss.reload(stx)
		}
	}
}

func (db *DB) Schema() *Schema {
	return db.schema
}

// Gatherer returns the registry holding the database metrics, if known.
func (db *DB) Gatherer() prometheus.Gatherer {
	return db.metrics.registry
}

// Size returns the size of the database file as of the last committed write.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

// Close waits for all queued transactions, then closes the storage.
func (db *DB) Close() error {
	wait, done := db.gates.enqueue(true)
	<-wait
	defer close(done)
	if db.closed.Swap(true) {
		return nil
	}
	if err := db.storage.Close(); err != nil {
		return fmt.Errorf("recdb: closing: %w", err)
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		kind := "read"
		if tx.writable {
			kind = "write"
		}
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms\n", kind, tx.id, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms:\n%s", kind, tx.id, ms, tx.stack)
		}
	}

	return buf.String()
}
