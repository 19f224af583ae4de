package recdb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	metaBucketName = "_meta"
	schemaMetaKey  = "schema"
)

// fieldMeta is the persisted description of a field. Defaults are stored
// key-encoded, so that they decode back into the canonical value types.
type fieldMeta struct {
	Name       string `msgpack:"n"`
	Kind       Kind   `msgpack:"k"`
	Nullable   bool   `msgpack:"nl,omitempty"`
	Default    []byte `msgpack:"d"`
	Unique     bool   `msgpack:"u,omitempty"`
	Searchable bool   `msgpack:"s,omitempty"`
}

func makeFieldMeta(f *Field) fieldMeta {
	return fieldMeta{
		Name:       f.name,
		Kind:       f.kind,
		Nullable:   f.nullable,
		Default:    appendKeyValue(nil, f.FieldType, f.def),
		Unique:     f.unique,
		Searchable: f.searchable,
	}
}

func (fm fieldMeta) fieldType() (FieldType, error) {
	if fm.Kind < KindBinary || fm.Kind > KindString || fm.Kind == KindNull {
		return FieldType{}, fmt.Errorf("field %s: invalid kind %d", fm.Name, fm.Kind)
	}
	ft := FieldType{kind: fm.Kind, nullable: fm.Nullable, unique: fm.Unique, searchable: fm.Searchable}
	def, rest, err := decodeKeyValue(fm.Default, ft)
	if err != nil {
		return FieldType{}, fmt.Errorf("field %s: default: %w", fm.Name, err)
	}
	if len(rest) != 0 {
		return FieldType{}, fmt.Errorf("field %s: default has %d trailing bytes", fm.Name, len(rest))
	}
	ft.def = def
	return ft, nil
}

func fieldsFromMeta(metas []fieldMeta) ([]*Field, error) {
	fields := make([]*Field, len(metas))
	for i, fm := range metas {
		ft, err := fm.fieldType()
		if err != nil {
			return nil, err
		}
		fields[i] = &Field{FieldType: ft, name: fm.Name, pos: i}
	}
	return fields, nil
}

type orderMeta struct {
	Field string `msgpack:"f"`
	Desc  bool   `msgpack:"d,omitempty"`
}

func makeOrderMetas(orders []Order) []orderMeta {
	var result []orderMeta
	for _, o := range orders {
		result = append(result, orderMeta{o.Field, o.Direction == Decreasing})
	}
	return result
}

func ordersFromMeta(metas []orderMeta) []Order {
	var result []Order
	for _, om := range metas {
		if om.Desc {
			result = append(result, Desc(om.Field))
		} else {
			result = append(result, Asc(om.Field))
		}
	}
	return result
}

type storeMeta struct {
	Name    string      `msgpack:"n"`
	Fields  []fieldMeta `msgpack:"f"`
	Keys    []string    `msgpack:"k"`
	Indices [][]string  `msgpack:"i,omitempty"`
	Orders  []orderMeta `msgpack:"o,omitempty"`
}

type linkMeta struct {
	Name        string      `msgpack:"n"`
	Parent      string      `msgpack:"p"`
	Child       string      `msgpack:"c"`
	Map         [][]string  `msgpack:"m"`
	Orders      []orderMeta `msgpack:"o,omitempty"`
	Fingerprint uint64      `msgpack:"fp"`
}

type queryMeta struct {
	Name      string              `msgpack:"n"`
	Store     string              `msgpack:"s"`
	Operators map[string]Operator `msgpack:"op"`
	Orders    []orderMeta         `msgpack:"o,omitempty"`
}

// schemaMeta describes a whole schema, so that a database can be reopened
// without its Go definitions.
type schemaMeta struct {
	Stores  []storeMeta `msgpack:"s"`
	Links   []linkMeta  `msgpack:"l"`
	Queries []queryMeta `msgpack:"q,omitempty"`
}

func describeSchema(scm *Schema) *schemaMeta {
	m := &schemaMeta{}
	for _, st := range scm.stores {
		sm := storeMeta{
			Name:   st.name,
			Keys:   st.Keys(),
			Orders: makeOrderMetas(st.orders),
		}
		for _, f := range st.fields {
			sm.Fields = append(sm.Fields, makeFieldMeta(f))
		}
		for _, idx := range st.indices {
			if idx.kind == compositeIndex && !idx.derived {
				sm.Indices = append(sm.Indices, idx.Fields())
			}
		}
		m.Stores = append(m.Stores, sm)
	}
	for _, l := range scm.links {
		lm := linkMeta{
			Name:        l.name,
			Parent:      l.parent.name,
			Child:       l.child.name,
			Orders:      makeOrderMetas(l.orders),
			Fingerprint: linkFingerprint(l),
		}
		for _, lmp := range l.mapping {
			lm.Map = append(lm.Map, []string{lmp.parentKey.name, lmp.childField.name})
		}
		m.Links = append(m.Links, lm)
	}
	for _, q := range scm.queries {
		m.Queries = append(m.Queries, queryMeta{
			Name:      q.name,
			Store:     q.store.name,
			Operators: q.Operators(),
			Orders:    makeOrderMetas(q.orders),
		})
	}
	return m
}

func (m *schemaMeta) link(name string) *linkMeta {
	for i := range m.Links {
		if m.Links[i].Name == name {
			return &m.Links[i]
		}
	}
	return nil
}

// build reconstructs the schema. Definition mistakes surface as panics
// from the Define functions, which we report as errors here.
func (m *schemaMeta) build() (scm *Schema, err error) {
	defer func() {
		if p := recover(); p != nil {
			scm, err = nil, fmt.Errorf("invalid schema metadata: %v", p)
		}
	}()

	scm = NewSchema()
	for _, sm := range m.Stores {
		fields, err := fieldsFromMeta(sm.Fields)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", sm.Name, err)
		}
		DefineStore(scm, sm.Name, func(b *StoreBuilder) {
			for _, f := range fields {
				b.Field(f.name, f.FieldType)
			}
			b.Key(sm.Keys...)
			for _, idx := range sm.Indices {
				b.Index(idx...)
			}
			b.Order(ordersFromMeta(sm.Orders)...)
		})
	}
	for _, lm := range m.Links {
		parent, child := scm.StoreNamed(lm.Parent), scm.StoreNamed(lm.Child)
		if parent == nil || child == nil {
			return nil, fmt.Errorf("link %s: unknown store", lm.Name)
		}
		DefineLink(scm, lm.Name, parent, child, func(b *LinkBuilder) {
			for _, pair := range lm.Map {
				if len(pair) != 2 {
					panic(fmt.Errorf("link %s: invalid mapping %v", lm.Name, pair))
				}
				b.Map(pair[0], pair[1])
			}
			b.Order(ordersFromMeta(lm.Orders)...)
		})
	}
	for _, qm := range m.Queries {
		st := scm.StoreNamed(qm.Store)
		if st == nil {
			return nil, fmt.Errorf("query %s: unknown store %s", qm.Name, qm.Store)
		}
		DefineQuery(scm, qm.Name, st, func(b *QueryBuilder) {
			for field, op := range qm.Operators {
				b.Operator(field, op)
			}
			b.Order(ordersFromMeta(qm.Orders)...)
		})
	}
	return scm, nil
}

func loadSchemaMeta(stx storageTx) (*schemaMeta, error) {
	b := stx.Bucket(metaBucketName, "")
	if b == nil {
		return nil, nil
	}
	raw := b.Get([]byte(schemaMetaKey))
	if raw == nil {
		return nil, nil
	}
	m := new(schemaMeta)
	if err := msgpack.Unmarshal(raw, m); err != nil {
		return nil, dataErrf(raw, 0, err, "failed to decode schema metadata")
	}
	return m, nil
}

func saveSchemaMeta(stx storageTx, m *schemaMeta) {
	b := must(stx.CreateBucket(metaBucketName, ""))
	ensure(b.Put([]byte(schemaMetaKey), must(msgpack.Marshal(m))))
}

// storeFingerprint covers everything that decides how records are encoded
// and keyed. Indices are tracked separately by the store state.
func storeFingerprint(st *Store) uint64 {
	d := xxhash.New()
	for _, f := range st.rm.fields {
		writeFingerprintField(d, f)
	}
	d.WriteString("|keys")
	for _, k := range st.keys {
		d.WriteString("|")
		d.WriteString(k.name)
	}
	return d.Sum64()
}

func writeFingerprintField(d *xxhash.Digest, f *Field) {
	d.WriteString("|")
	d.WriteString(f.name)
	d.WriteString(":")
	d.WriteString(f.kind.String())
	if f.nullable {
		d.WriteString("?")
	}
}

func linkFingerprint(l *Link) uint64 {
	d := xxhash.New()
	d.WriteString(l.parent.name)
	d.WriteString("->")
	d.WriteString(l.child.name)
	for _, m := range l.mapping {
		d.WriteString("|")
		d.WriteString(m.parentKey.name)
		d.WriteString("=")
		d.WriteString(m.childField.name)
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], storeFingerprint(l.parent))
	binary.BigEndian.PutUint64(buf[8:], storeFingerprint(l.child))
	d.Write(buf[:])
	return d.Sum64()
}
