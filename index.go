package recdb

import (
	"fmt"
	"strings"
)

type indexKind uint8

const (
	compositeIndex indexKind = iota
	uniqueIndex
	searchIndex
)

func (k indexKind) prefix() string {
	switch k {
	case compositeIndex:
		return "i:"
	case uniqueIndex:
		return "u:"
	case searchIndex:
		return "s:"
	default:
		panic(fmt.Errorf("invalid index kind %d", int(k)))
	}
}

// Index is a store index: a composite ordered index, the unique index of
// a Unique field, or the search index of a Searchable field.
type Index struct {
	store   *Store
	kind    indexKind
	pos     int // in store.indices, unstable across code changes
	name    string
	fields  []*Field
	columns []*Field // fields plus the key fields they lack; composite only
	derived bool
}

func newIndex(st *Store, kind indexKind, fields []*Field, derived bool) *Index {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	idx := &Index{
		store:   st,
		kind:    kind,
		name:    kind.prefix() + strings.Join(names, ","),
		fields:  fields,
		derived: derived,
	}
	if kind == compositeIndex {
		idx.columns = append([]*Field(nil), fields...)
		for _, k := range st.keys {
			if !containsField(idx.columns, k) {
				idx.columns = append(idx.columns, k)
			}
		}
	}
	return idx
}

func (idx *Index) Store() *Store { return idx.store }

// Name is unique within the store and doubles as the index bucket name.
func (idx *Index) Name() string { return idx.name }

func (idx *Index) FullName() string { return idx.store.name + "." + idx.name }

func (idx *Index) Fields() []string {
	names := make([]string, len(idx.fields))
	for i, f := range idx.fields {
		names[i] = f.name
	}
	return names
}

func (idx *Index) IsDerived() bool { return idx.derived }

func (idx *Index) String() string { return idx.FullName() }

// scanFields are the fields the index rows are ordered by.
func (idx *Index) scanFields() []*Field {
	if idx.kind == compositeIndex {
		return idx.columns
	}
	return idx.fields
}

func sameFieldSet(a, b []*Field) bool {
	if len(a) != len(b) {
		return false
	}
	for _, f := range a {
		if !containsField(b, f) {
			return false
		}
	}
	return true
}

func sameFields(a, b []*Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsField(list []*Field, f *Field) bool {
	for _, item := range list {
		if item == f {
			return true
		}
	}
	return false
}

// indexBuilder collects the index rows a normalized record contributes.
type indexBuilder struct {
	ss   *storeState
	pk   []byte
	rows indexRows
}

func (b *indexBuilder) add(idx *Index, rec Record) {
	ord := b.ss.indexOrdinal(idx)
	switch idx.kind {
	case compositeIndex:
		key := encodeKeys(nil, idx.columns, rec)
		b.rows = append(b.rows, indexRow{ord, key, b.pk})
	case uniqueIndex:
		f := idx.fields[0]
		v := rec[f.name]
		if v == nil {
			return // any number of nulls
		}
		b.rows = append(b.rows, indexRow{ord, appendKeyValue(nil, f.FieldType, v), b.pk})
	case searchIndex:
		s, _ := rec[idx.fields[0].name].(string)
		for _, token := range tokenize(s) {
			key := appendEscaped(nil, []byte(token), true)
			key = append(key, b.pk...)
			b.rows = append(b.rows, indexRow{ord, key, b.pk})
		}
	}
}
