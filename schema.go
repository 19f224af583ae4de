package recdb

import (
	"fmt"
	"strings"
)

// Schema is the set of stores, links and queries a database is opened with.
// Schemas are normally defined once, as package-level variables, and are
// immutable after the first Open.
type Schema struct {
	stores        []*Store
	storesByName  map[string]*Store
	links         []*Link
	linksByName   map[string]*Link
	queries       []*Query
	queriesByName map[string]*Query
	sealed        bool
}

func NewSchema() *Schema {
	return &Schema{
		storesByName:  make(map[string]*Store),
		linksByName:   make(map[string]*Link),
		queriesByName: make(map[string]*Query),
	}
}

func (scm *Schema) Stores() []*Store {
	return append([]*Store(nil), scm.stores...)
}

func (scm *Schema) StoreNamed(name string) *Store {
	return scm.storesByName[name]
}

func (scm *Schema) Links() []*Link {
	return append([]*Link(nil), scm.links...)
}

func (scm *Schema) LinkNamed(name string) *Link {
	return scm.linksByName[name]
}

func (scm *Schema) Queries() []*Query {
	return append([]*Query(nil), scm.queries...)
}

func (scm *Schema) QueryNamed(name string) *Query {
	return scm.queriesByName[name]
}

func (scm *Schema) ensureMutable(what string) {
	if scm.sealed {
		panic(fmt.Errorf("cannot define %s: schema is already in use", what))
	}
}

func validateName(kind, name string) {
	if name == "" || strings.HasPrefix(name, "_") || strings.ContainsAny(name, ",:\x00") {
		panic(fmt.Errorf("invalid %s name %q", kind, name))
	}
}

// Store is a typed collection of records with a composite primary key.
type Store struct {
	schema       *Schema
	name         string
	pos          int
	fields       []*Field // declaration order
	fieldsByName map[string]*Field
	rm           recordManager
	keys         []*Field
	orders       []Order
	indices      []*Index

	parentLinks []*Link
	childLinks  []*Link
}

type StoreBuilder struct {
	st      *Store
	keys    []string
	indices [][]string
	orders  []Order
}

func (b *StoreBuilder) Field(name string, ft FieldType) *Field {
	validateName("field", name)
	if b.st.fieldsByName[name] != nil {
		panic(fmt.Errorf("%s: duplicate field %q", b.st.name, name))
	}
	if ft.kind == 0 {
		panic(fmt.Errorf("%s.%s: missing field type", b.st.name, name))
	}
	f := &Field{FieldType: ft, name: name, pos: len(b.st.fields)}
	b.st.fields = append(b.st.fields, f)
	b.st.fieldsByName[name] = f
	return f
}

func (b *StoreBuilder) Key(names ...string) {
	b.keys = append(b.keys, names...)
}

func (b *StoreBuilder) Index(names ...string) {
	b.indices = append(b.indices, names)
}

func (b *StoreBuilder) Order(orders ...Order) {
	b.orders = append(b.orders, orders...)
}

func DefineStore(scm *Schema, name string, build func(b *StoreBuilder)) *Store {
	scm.ensureMutable("store " + name)
	validateName("store", name)
	if scm.storesByName[name] != nil {
		panic(fmt.Errorf("duplicate store %q", name))
	}

	st := &Store{
		schema:       scm,
		name:         name,
		pos:          len(scm.stores),
		fieldsByName: make(map[string]*Field),
	}
	b := &StoreBuilder{st: st}
	build(b)

	if len(b.keys) == 0 {
		panic(fmt.Errorf("%s: no key fields", name))
	}
	st.keys = st.mustFields("key", dedupStrings(b.keys))
	for _, k := range st.keys {
		if k.nullable {
			panic(fmt.Errorf("%s: key field %s cannot be nullable", name, k.name))
		}
	}
	for _, o := range b.orders {
		st.mustFields("order", []string{o.Field})
	}
	st.orders = b.orders

	st.rm = recordManager{sortedFields(st.fields)}

	for _, names := range b.indices {
		if len(names) == 0 {
			panic(fmt.Errorf("%s: empty index", name))
		}
		st.addIndex(compositeIndex, st.mustFields("index", names), false)
	}
	for _, f := range st.fields {
		if f.unique {
			st.addIndex(uniqueIndex, []*Field{f}, false)
		}
		if f.searchable {
			st.addIndex(searchIndex, []*Field{f}, false)
		}
	}

	scm.stores = append(scm.stores, st)
	scm.storesByName[name] = st
	return st
}

func (st *Store) mustFields(what string, names []string) []*Field {
	result := make([]*Field, len(names))
	for i, name := range names {
		f := st.fieldsByName[name]
		if f == nil {
			panic(fmt.Errorf("%s: unknown %s field %q", st.name, what, name))
		}
		result[i] = f
	}
	return result
}

// addIndex registers an index. A derived index reuses an existing index
// that scans the same columns. Declaring an index that scans the same
// columns as another one, or reorders its fields, is a mistake.
func (st *Store) addIndex(kind indexKind, fields []*Field, derived bool) *Index {
	idx := newIndex(st, kind, fields, derived)
	for _, other := range st.indices {
		if other.kind != kind {
			continue
		}
		if sameFields(other.scanFields(), idx.scanFields()) {
			if derived {
				return other
			}
			panic(fmt.Errorf("%s: index %s duplicates %s", st.name, idx.name, other.name))
		}
		if !derived && !other.derived && sameFieldSet(other.fields, fields) {
			panic(fmt.Errorf("%s: index %s reorders %s", st.name, idx.name, other.name))
		}
	}
	idx.pos = len(st.indices)
	st.indices = append(st.indices, idx)
	return idx
}

func (st *Store) Schema() *Schema { return st.schema }
func (st *Store) Name() string    { return st.name }
func (st *Store) String() string  { return st.name }

func (st *Store) Fields() []*Field {
	return append([]*Field(nil), st.fields...)
}

func (st *Store) Field(name string) *Field {
	return st.fieldsByName[name]
}

func (st *Store) Keys() []string {
	names := make([]string, len(st.keys))
	for i, f := range st.keys {
		names[i] = f.name
	}
	return names
}

func (st *Store) Orders() []Order {
	return append([]Order(nil), st.orders...)
}

func (st *Store) Indices() []*Index {
	return append([]*Index(nil), st.indices...)
}

func (st *Store) SearchIndices() []*Index {
	var result []*Index
	for _, idx := range st.indices {
		if idx.kind == searchIndex {
			result = append(result, idx)
		}
	}
	return result
}

// ParentLinks returns the links in which this store is the parent.
func (st *Store) ParentLinks() []*Link {
	return append([]*Link(nil), st.parentLinks...)
}

// ChildLinks returns the links in which this store is the child.
func (st *Store) ChildLinks() []*Link {
	return append([]*Link(nil), st.childLinks...)
}

func (st *Store) isKey(f *Field) bool {
	return containsField(st.keys, f)
}

// keyRecord projects the key fields out of a record, normalizing them.
func (st *Store) keyRecord(rec Record) (Record, error) {
	keys := make(Record, len(st.keys))
	for _, f := range st.keys {
		v, found := rec[f.name]
		if !found {
			return nil, storeErrf(st, "", nil, ErrInvalidRecord, "missing key field %s", f.name)
		}
		nv, err := f.normalize(v)
		if err != nil {
			return nil, storeErrf(st, "", nil, err, "key field %s", f.name)
		}
		keys[f.name] = nv
	}
	return keys, nil
}

func (st *Store) encodePK(rec Record) []byte {
	return encodeKeys(nil, st.keys, rec)
}
