package recdb

import (
	"fmt"
)

// Link is a foreign-key relationship: child records reference a parent
// record through the child fields mapped to the parent's key fields.
type Link struct {
	schema  *Schema
	name    string
	pos     int
	parent  *Store
	child   *Store
	mapping []linkMapping // declaration order
	orders  []Order
	index   *Index
}

type linkMapping struct {
	parentKey  *Field
	childField *Field
}

type LinkBuilder struct {
	l      *Link
	orders []Order
}

// Map declares that the child field childField references parentKey.
func (b *LinkBuilder) Map(parentKey, childField string) {
	pk := b.l.parent.fieldsByName[parentKey]
	if pk == nil || !b.l.parent.isKey(pk) {
		panic(fmt.Errorf("%s: %s is not a key field of %s", b.l.name, parentKey, b.l.parent.name))
	}
	cf := b.l.child.fieldsByName[childField]
	if cf == nil {
		panic(fmt.Errorf("%s: unknown field %s.%s", b.l.name, b.l.child.name, childField))
	}
	if cf.kind != pk.kind {
		panic(fmt.Errorf("%s: %s.%s is %v, but %s.%s is %v", b.l.name, b.l.child.name, childField, cf.kind, b.l.parent.name, parentKey, pk.kind))
	}
	for _, m := range b.l.mapping {
		if m.parentKey == pk {
			panic(fmt.Errorf("%s: %s mapped twice", b.l.name, parentKey))
		}
	}
	b.l.mapping = append(b.l.mapping, linkMapping{pk, cf})
}

// Order sets the order of child records returned by LinkFilter.
func (b *LinkBuilder) Order(orders ...Order) {
	b.orders = append(b.orders, orders...)
}

func DefineLink(scm *Schema, name string, parent, child *Store, build func(b *LinkBuilder)) *Link {
	scm.ensureMutable("link " + name)
	validateName("link", name)
	if scm.linksByName[name] != nil {
		panic(fmt.Errorf("duplicate link %q", name))
	}
	if parent.schema != scm || child.schema != scm {
		panic(fmt.Errorf("%s: stores belong to a different schema", name))
	}

	l := &Link{
		schema: scm,
		name:   name,
		pos:    len(scm.links),
		parent: parent,
		child:  child,
	}
	b := &LinkBuilder{l: l}
	build(b)

	if len(l.mapping) != len(parent.keys) {
		panic(fmt.Errorf("%s: must map all %d key fields of %s, got %d", name, len(parent.keys), parent.name, len(l.mapping)))
	}
	for _, o := range b.orders {
		child.mustFields("order", []string{o.Field})
	}
	l.orders = b.orders

	var fields []*Field
	for _, m := range l.mapping {
		if !containsField(fields, m.childField) {
			fields = append(fields, m.childField)
		}
	}
	for _, o := range l.orders {
		f := child.fieldsByName[o.Field]
		if !containsField(fields, f) {
			fields = append(fields, f)
		}
	}
	for _, k := range child.keys {
		if !containsField(fields, k) {
			fields = append(fields, k)
		}
	}
	l.index = child.addIndex(compositeIndex, fields, true)

	parent.parentLinks = append(parent.parentLinks, l)
	child.childLinks = append(child.childLinks, l)
	scm.links = append(scm.links, l)
	scm.linksByName[name] = l
	return l
}

func (l *Link) Name() string     { return l.name }
func (l *Link) Parent() *Store   { return l.parent }
func (l *Link) Child() *Store    { return l.child }
func (l *Link) Index() *Index    { return l.index }
func (l *Link) Orders() []Order  { return append([]Order(nil), l.orders...) }
func (l *Link) String() string   { return l.name }
func (l *Link) fullName() string { return l.parent.name + "->" + l.child.name }

// Mapping returns parent key field names mapped to child field names.
func (l *Link) Mapping() map[string]string {
	m := make(map[string]string, len(l.mapping))
	for _, lm := range l.mapping {
		m[lm.parentKey.name] = lm.childField.name
	}
	return m
}

// filters builds an equality filter per mapped child field. Keys missing
// from parentKeys compare against null, so nil parentKeys selects the
// children that reference no parent at all.
func (l *Link) filters(parentKeys Record) (map[string]Filter, bool) {
	filters := make(map[string]Filter, len(l.mapping))
	for _, m := range l.mapping {
		v := parentKeys[m.parentKey.name]
		if v != nil {
			nv, err := m.parentKey.normalize(v)
			if err == nil {
				v = nv
			}
		}
		if prev, found := filters[m.childField.name]; found && !valuesEqual(prev.Value, v) {
			return nil, false
		}
		filters[m.childField.name] = Eq(v)
	}
	return filters, true
}

// parentKeys projects a child record onto the parent's key. It returns
// false if any mapped field is null, in which case the child does not
// reference a parent.
func (l *Link) parentKeys(child Record) (Record, bool) {
	keys := make(Record, len(l.mapping))
	for _, m := range l.mapping {
		v := child[m.childField.name]
		if v == nil {
			return nil, false
		}
		keys[m.parentKey.name] = v
	}
	return keys, true
}

func (tx *Tx) linkFilter(l *Link, parentKeys Record, anchor Record, limit int) ([]Record, error) {
	filters, ok := l.filters(parentKeys)
	if !ok {
		return nil, nil
	}
	return tx.filter(l.child, FilterOptions{
		Filters: filters,
		Orders:  l.orders,
		Anchor:  anchor,
		Limit:   limit,
	})
}

type parentStatus uint8

const (
	parentNone parentStatus = iota // a mapped field is null
	parentFound
	parentMissing
)

// linkParent resolves the parent of a child record.
func (tx *Tx) linkParent(l *Link, child Record) (Record, parentStatus, error) {
	keys, ok := l.parentKeys(child)
	if !ok {
		return nil, parentNone, nil
	}
	parent, found, err := tx.lookupRecord(l.parent, keys)
	if err != nil {
		return nil, parentMissing, err
	}
	if !found {
		return nil, parentMissing, nil
	}
	return parent, parentFound, nil
}
