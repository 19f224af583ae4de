package recdb

import (
	"fmt"
)

type (
	// Change describes a single mutation, including cascaded ones.
	Change struct {
		store     *Store
		op        Op
		record    Record
		oldRecord Record
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
	OpVacate Op = 3
)

func (chg *Change) Store() *Store {
	return chg.store
}
func (chg *Change) Op() Op {
	return chg.op
}

// Record is the new record of a put; nil otherwise.
func (chg *Change) Record() Record {
	return chg.record
}

// OldRecord is the replaced or removed record, if any.
func (chg *Change) OldRecord() Record {
	return chg.oldRecord
}

// Keys returns the key fields of the affected record; nil for a vacate.
func (chg *Change) Keys() Record {
	rec := chg.record
	if rec == nil {
		rec = chg.oldRecord
	}
	if rec == nil {
		return nil
	}
	keys := make(Record, len(chg.store.keys))
	for _, f := range chg.store.keys {
		keys[f.name] = rec[f.name]
	}
	return keys
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpVacate:
		return "vacate"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (tx *Tx) recordChange(chg *Change) {
	if tx.changeHandler != nil {
		tx.pendingChanges = append(tx.pendingChanges, chg)
	}
}
