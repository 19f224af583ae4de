package recdb

import (
	"fmt"
	"sort"
)

// Query is a statically composed filter over a store. Each call supplies
// the compared values as parameters.
type Query struct {
	schema    *Schema
	name      string
	store     *Store
	operators map[string]Operator
	orders    []Order
	index     *Index
}

type QueryBuilder struct {
	q      *Query
	orders []Order
}

func (b *QueryBuilder) Operator(field string, op Operator) {
	if b.q.store.fieldsByName[field] == nil {
		panic(fmt.Errorf("%s: unknown field %s.%s", b.q.name, b.q.store.name, field))
	}
	if op < Equality || op > LessOrEqual {
		panic(fmt.Errorf("%s: %v", b.q.name, op))
	}
	b.q.operators[field] = op
}

func (b *QueryBuilder) Order(orders ...Order) {
	b.orders = append(b.orders, orders...)
}

func DefineQuery(scm *Schema, name string, st *Store, build func(b *QueryBuilder)) *Query {
	scm.ensureMutable("query " + name)
	validateName("query", name)
	if scm.queriesByName[name] != nil {
		panic(fmt.Errorf("duplicate query %q", name))
	}
	if st.schema != scm {
		panic(fmt.Errorf("%s: store belongs to a different schema", name))
	}

	q := &Query{
		schema:    scm,
		name:      name,
		store:     st,
		operators: make(map[string]Operator),
	}
	b := &QueryBuilder{q: q}
	build(b)
	if len(q.operators) == 0 {
		panic(fmt.Errorf("%s: no operators", name))
	}
	for _, o := range b.orders {
		st.mustFields("order", []string{o.Field})
	}
	q.orders = b.orders

	// equality fields pin the index prefix, so they go first
	var eqs, ranges []string
	for field, op := range q.operators {
		if op == Equality {
			eqs = append(eqs, field)
		} else {
			ranges = append(ranges, field)
		}
	}
	sort.Strings(eqs)
	sort.Strings(ranges)
	names := eqs
	for _, o := range q.orders {
		names = append(names, o.Field)
	}
	names = append(names, ranges...)
	names = append(names, st.Keys()...)
	q.index = st.addIndex(compositeIndex, st.mustFields("query", dedupStrings(names)), true)

	scm.queries = append(scm.queries, q)
	scm.queriesByName[name] = q
	return q
}

func (q *Query) Name() string   { return q.name }
func (q *Query) Store() *Store  { return q.store }
func (q *Query) Index() *Index  { return q.index }
func (q *Query) String() string { return q.name }

func (q *Query) Operators() map[string]Operator {
	m := make(map[string]Operator, len(q.operators))
	for k, v := range q.operators {
		m[k] = v
	}
	return m
}

func (tx *Tx) query(q *Query, params Record, anchor Record, limit int) ([]Record, error) {
	filters := make(map[string]Filter, len(q.operators))
	for field, op := range q.operators {
		v, found := params[field]
		if !found {
			return nil, storeErrf(q.store, "", nil, ErrInvalidRecord, "%s: missing parameter %s", q.name, field)
		}
		filters[field] = Filter{op, v}
	}
	return tx.filter(q.store, FilterOptions{
		Filters: filters,
		Orders:  q.orders,
		Anchor:  anchor,
		Limit:   limit,
	})
}
