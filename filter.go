package recdb

import (
	"bytes"
	"fmt"
	"sort"
)

// Operator compares a field value against a filter value.
type Operator uint8

const (
	Equality Operator = iota + 1
	Greater
	GreaterOrEqual
	Less
	LessOrEqual
)

func (op Operator) String() string {
	switch op {
	case Equality:
		return "="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	default:
		return fmt.Sprintf("invalid operator %d", int(op))
	}
}

// Filter restricts a single field.
type Filter struct {
	Operator Operator
	Value    any
}

func Eq(v any) Filter  { return Filter{Equality, v} }
func Gt(v any) Filter  { return Filter{Greater, v} }
func Gte(v any) Filter { return Filter{GreaterOrEqual, v} }
func Lt(v any) Filter  { return Filter{Less, v} }
func Lte(v any) Filter { return Filter{LessOrEqual, v} }

type Direction uint8

const (
	Increasing Direction = iota
	Decreasing
)

func (d Direction) String() string {
	if d == Decreasing {
		return "desc"
	}
	return "asc"
}

// Order sorts results by a field.
type Order struct {
	Field     string
	Direction Direction
}

func Asc(field string) Order  { return Order{field, Increasing} }
func Desc(field string) Order { return Order{field, Decreasing} }

// FilterOptions describe a Filter call. Orders default to the store's
// default orders; trailing key fields are always appended in increasing
// order. Anchor, when set, is a record holding the key fields of a record
// to resume after. Zero Limit means no limit.
type FilterOptions struct {
	Filters map[string]Filter
	Orders  []Order
	Anchor  Record
	Limit   int
}

type compiledFilter struct {
	field *Field
	op    Operator
	enc   []byte
}

// compileFilters encodes filter values. It reports empty when some filter
// can never match, which is the case for an equality filter comparing
// a non-nullable field against null.
func compileFilters(st *Store, filters map[string]Filter) (cfs []compiledFilter, empty bool, err error) {
	for name, flt := range filters {
		f := st.fieldsByName[name]
		if f == nil {
			return nil, false, storeErrf(st, "", nil, ErrNotFound, "unknown filter field %q", name)
		}
		if flt.Operator < Equality || flt.Operator > LessOrEqual {
			return nil, false, storeErrf(st, "", nil, ErrInvalidRecord, "%s: %v", name, flt.Operator)
		}
		if flt.Value == nil && !f.nullable {
			if flt.Operator == Equality {
				empty = true
				continue
			}
			return nil, false, storeErrf(st, "", nil, ErrInvalidRecord, "%s: cannot compare non-nullable field with null", name)
		}
		v, err := f.normalize(flt.Value)
		if err != nil {
			return nil, false, storeErrf(st, "", nil, err, "filter %s", name)
		}
		cfs = append(cfs, compiledFilter{f, flt.Operator, appendKeyValue(nil, f.FieldType, v)})
	}
	sort.Slice(cfs, func(i, j int) bool {
		return cfs[i].field.name < cfs[j].field.name
	})
	return cfs, empty, nil
}

func (cf *compiledFilter) match(rec Record) bool {
	var buf [64]byte
	enc := appendKeyValue(buf[:0], cf.field.FieldType, rec[cf.field.name])
	c := bytes.Compare(enc, cf.enc)
	switch cf.op {
	case Equality:
		return c == 0
	case Greater:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	case Less:
		return c < 0
	case LessOrEqual:
		return c <= 0
	default:
		panic("unreachable")
	}
}

func matchAll(cfs []compiledFilter, rec Record) bool {
	for i := range cfs {
		if !cfs[i].match(rec) {
			return false
		}
	}
	return true
}

func equalityFilter(cfs []compiledFilter, f *Field) *compiledFilter {
	for i := range cfs {
		if cfs[i].field == f && cfs[i].op == Equality {
			return &cfs[i]
		}
	}
	return nil
}

type orderCol struct {
	field *Field
	dir   Direction
}

// ordering is a total order over a store's records: it always ends once
// every key field has been covered.
type ordering []orderCol

func (st *Store) totalOrdering(orders []Order) (ordering, error) {
	if orders == nil {
		orders = st.orders
	}
	var result ordering
	seen := make(map[*Field]bool)
	remainingKeys := len(st.keys)
	for _, o := range orders {
		f := st.fieldsByName[o.Field]
		if f == nil {
			return nil, storeErrf(st, "", nil, ErrNotFound, "unknown order field %q", o.Field)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		result = append(result, orderCol{f, o.Direction})
		if st.isKey(f) {
			remainingKeys--
			if remainingKeys == 0 {
				return result, nil
			}
		}
	}
	for _, f := range st.keys {
		if !seen[f] {
			result = append(result, orderCol{f, Increasing})
		}
	}
	return result, nil
}

func (o ordering) sortKey(buf []byte, rec Record) []byte {
	for _, col := range o {
		off := len(buf)
		buf = appendKeyValue(buf, col.field.FieldType, rec[col.field.name])
		if col.dir == Decreasing {
			invertBytes(buf[off:])
		}
	}
	return buf
}
