package recdb

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Tx is a transaction handle, valid only within the callback passed to
// DB.Read or DB.Write. Its methods may be called from several goroutines;
// operations run one at a time, in the order they are submitted. Once the
// callback returns, every method fails with ErrTxClosed.
type Tx struct {
	db        *DB
	stx       storageTx
	id        uuid.UUID
	writable  bool
	queue     *opQueue
	startTime time.Time
	stack     string

	changeHandler  func(chg *Change)
	pendingChanges []*Change
}

func (db *DB) newTx(stx storageTx, writable bool) *Tx {
	tx := &Tx{
		db:        db,
		stx:       stx,
		id:        uuid.New(),
		writable:  writable,
		queue:     newOpQueue(),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = string(debug.Stack())
	}
	return tx
}

func (tx *Tx) ID() uuid.UUID {
	return tx.id
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.db.schema
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// OnChange installs a handler that receives every mutation made through tx
// from now on, cascaded ones included. The handler runs after the operation
// that caused the change, so it may use tx itself.
func (tx *Tx) OnChange(f func(chg *Change)) error {
	return tx.queue.do(func() {
		tx.changeHandler = f
	})
}

// exec runs f on the operation queue and delivers the changes it made.
func exec[T any](tx *Tx, f func() (T, error)) (T, error) {
	var result T
	var err error
	var changes []*Change
	var handler func(chg *Change)
	qerr := tx.queue.do(func() {
		defer func() {
			changes, tx.pendingChanges = tx.pendingChanges, nil
			handler = tx.changeHandler
		}()
		result, err = f()
	})
	if qerr != nil {
		return result, qerr
	}
	for _, chg := range changes {
		handler(chg)
	}
	return result, err
}

func (tx *Tx) checkStore(st *Store) error {
	if st == nil || st.schema != tx.db.schema {
		return fmt.Errorf("store %v: %w in schema", st, ErrNotFound)
	}
	return nil
}

func (tx *Tx) checkWrite(st *Store) error {
	if err := tx.checkStore(st); err != nil {
		return err
	}
	if !tx.writable {
		return storeErrf(st, "", nil, ErrReadOnly, "")
	}
	return nil
}

func (tx *Tx) checkLink(l *Link) error {
	if l == nil || l.schema != tx.db.schema {
		return fmt.Errorf("link %v: %w in schema", l, ErrNotFound)
	}
	return nil
}

// Insert adds a record, replacing the one with the same key. Every parent
// the record links to must exist.
func (tx *Tx) Insert(st *Store, rec Record) error {
	if err := tx.checkWrite(st); err != nil {
		return err
	}
	_, err := exec(tx, func() (struct{}, error) {
		return struct{}{}, tx.insert(st, rec)
	})
	return err
}

// Update merges the fields of partial into the existing record with the
// same key. It fails with ErrNotFound if there is no such record.
func (tx *Tx) Update(st *Store, partial Record) error {
	if err := tx.checkWrite(st); err != nil {
		return err
	}
	_, err := exec(tx, func() (struct{}, error) {
		return struct{}{}, tx.update(st, partial)
	})
	return err
}

// Remove deletes the records with the given keys along with all records
// linking to them, transitively. Keys without a record are ignored. It
// returns the total number of removed records.
func (tx *Tx) Remove(st *Store, keys ...Record) (int, error) {
	if err := tx.checkWrite(st); err != nil {
		return 0, err
	}
	return exec(tx, func() (int, error) {
		for _, k := range keys {
			if _, err := st.keyRecord(k); err != nil {
				return 0, err
			}
		}
		return tx.removeCascade(st, keys)
	})
}

// Vacate deletes all records of a store, and all records below it in the
// link graph that reference a removed record.
func (tx *Tx) Vacate(st *Store) error {
	if err := tx.checkWrite(st); err != nil {
		return err
	}
	_, err := exec(tx, func() (struct{}, error) {
		return struct{}{}, tx.vacateCascade(st)
	})
	return err
}

// Lookup returns the record with the given key fields, or ErrNotFound.
func (tx *Tx) Lookup(st *Store, keys Record) (Record, error) {
	if err := tx.checkStore(st); err != nil {
		return nil, err
	}
	return exec(tx, func() (Record, error) {
		rec, found, err := tx.lookupRecord(st, keys)
		if err != nil {
			return nil, err
		}
		if !found {
			kr, _ := st.keyRecord(keys)
			return nil, storeErrf(st, "", st.encodePK(kr), ErrNotFound, "")
		}
		return rec, nil
	})
}

func (tx *Tx) Filter(st *Store, opt FilterOptions) ([]Record, error) {
	if err := tx.checkStore(st); err != nil {
		return nil, err
	}
	return exec(tx, func() ([]Record, error) {
		return tx.filter(st, opt)
	})
}

// Explain reports which index a filter would scan, and how many of the
// index's leading columns the filter pins.
func (tx *Tx) Explain(st *Store, filters map[string]Filter) (string, int, error) {
	if err := tx.checkStore(st); err != nil {
		return "", 0, err
	}
	type plan struct {
		index  string
		pinned int
	}
	p, err := exec(tx, func() (plan, error) {
		name, pinned, err := tx.explainFilter(st, filters)
		return plan{name, pinned}, err
	})
	return p.index, p.pinned, err
}

// Search runs a ranked prefix search over all searchable fields of a store.
func (tx *Tx) Search(st *Store, query string, anchor Record, limit int) ([]SearchHit, error) {
	if err := tx.checkStore(st); err != nil {
		return nil, err
	}
	indices := st.SearchIndices()
	if len(indices) == 0 {
		return nil, storeErrf(st, "", nil, ErrNotFound, "no searchable fields")
	}
	return exec(tx, func() ([]SearchHit, error) {
		return tx.search(st, indices, query, anchor, limit)
	})
}

// SearchField is like Search, limited to one searchable field.
func (tx *Tx) SearchField(st *Store, field string, query string, anchor Record, limit int) ([]SearchHit, error) {
	if err := tx.checkStore(st); err != nil {
		return nil, err
	}
	idx := st.searchIndexOf(field)
	if idx == nil {
		return nil, storeErrf(st, "", nil, ErrNotFound, "no searchable field %s", field)
	}
	return exec(tx, func() ([]SearchHit, error) {
		return tx.search(st, []*Index{idx}, query, anchor, limit)
	})
}

// Length returns the number of records in a store.
func (tx *Tx) Length(st *Store) (int, error) {
	if err := tx.checkStore(st); err != nil {
		return 0, err
	}
	return exec(tx, func() (int, error) {
		return int(tx.state(st).count), nil
	})
}

// LinkFilter returns the children of the parent with the given key fields,
// in the link's order. Key fields missing from parentKeys match children
// whose link field is null.
func (tx *Tx) LinkFilter(l *Link, parentKeys Record, anchor Record, limit int) ([]Record, error) {
	if err := tx.checkLink(l); err != nil {
		return nil, err
	}
	return exec(tx, func() ([]Record, error) {
		return tx.linkFilter(l, parentKeys, anchor, limit)
	})
}

// LinkLookup returns the parent of a child record. It returns false without
// an error when a link field of the child is null, and ErrNotFound when the
// parent does not exist.
func (tx *Tx) LinkLookup(l *Link, child Record) (Record, bool, error) {
	if err := tx.checkLink(l); err != nil {
		return nil, false, err
	}
	type result struct {
		parent Record
		found  bool
	}
	r, err := exec(tx, func() (result, error) {
		parent, status, err := tx.linkParent(l, child)
		if err != nil {
			return result{}, err
		}
		switch status {
		case parentFound:
			return result{parent, true}, nil
		case parentMissing:
			keys, _ := l.parentKeys(child)
			kr, _ := l.parent.keyRecord(keys)
			return result{}, storeErrf(l.parent, "", l.parent.encodePK(kr), ErrNotFound, "parent via %s", l.name)
		default:
			return result{}, nil
		}
	})
	return r.parent, r.found, err
}

// Query runs a named query. Every field the query filters on must have
// a value in params.
func (tx *Tx) Query(q *Query, params Record, anchor Record, limit int) ([]Record, error) {
	if q == nil || q.schema != tx.db.schema {
		return nil, fmt.Errorf("query %v: %w in schema", q, ErrNotFound)
	}
	return exec(tx, func() ([]Record, error) {
		return tx.query(q, params, anchor, limit)
	})
}

// EnforceConsistency removes, with cascade, every record whose parent is
// missing via any link. It returns the number of removed records.
func (tx *Tx) EnforceConsistency() (int, error) {
	if !tx.writable {
		return 0, ErrReadOnly
	}
	return exec(tx, tx.enforceConsistency)
}

// EnforceStoreConsistency is EnforceConsistency limited to the links in
// which st is the child.
func (tx *Tx) EnforceStoreConsistency(st *Store) (int, error) {
	if err := tx.checkWrite(st); err != nil {
		return 0, err
	}
	return exec(tx, func() (int, error) {
		return tx.enforceStore(st)
	})
}

// EnforceLinkConsistency is EnforceConsistency limited to one link.
func (tx *Tx) EnforceLinkConsistency(l *Link) (int, error) {
	if err := tx.checkLink(l); err != nil {
		return 0, err
	}
	if !tx.writable {
		return 0, ErrReadOnly
	}
	return exec(tx, func() (int, error) {
		return tx.enforceLink(l)
	})
}

// close ends the transaction; in-flight operations complete first.
func (tx *Tx) close() {
	tx.queue.close()
}

type panicked struct {
	reason any
	stack  string
}

func (p *panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p *panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if pp, ok := p.(*panicked); ok {
				err = pp
			} else {
				err = &panicked{p, string(debug.Stack())}
			}
		}
	}()
	return fn(tx)
}
