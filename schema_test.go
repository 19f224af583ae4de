package recdb

import (
	"strings"
	"testing"
)

func definePanic(t *testing.T, want string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		e := recover()
		if e == nil {
			t.Errorf("** did not panic, wanted %q", want)
		} else if err, ok := e.(error); !ok || !strings.Contains(err.Error(), want) {
			t.Errorf("** panicked with %v, wanted %q", e, want)
		}
	}()
	f()
}

func TestAddIndex_Duplicates(t *testing.T) {
	fields := func(b *StoreBuilder) {
		b.Field("id", String())
		b.Field("a", String())
		b.Field("b", Integer())
		b.Key("id")
	}

	definePanic(t, "index i:a,id duplicates i:a", func() {
		DefineStore(NewSchema(), "s", func(b *StoreBuilder) {
			fields(b)
			b.Index("a")
			b.Index("a", "id")
		})
	})
	definePanic(t, "index i:b,a reorders i:a,b", func() {
		DefineStore(NewSchema(), "s", func(b *StoreBuilder) {
			fields(b)
			b.Index("a", "b")
			b.Index("b", "a")
		})
	})
	definePanic(t, "index i:a duplicates i:a", func() {
		DefineStore(NewSchema(), "s", func(b *StoreBuilder) {
			fields(b)
			b.Index("a")
			b.Index("a")
		})
	})

	scm := NewSchema()
	st := DefineStore(scm, "s", func(b *StoreBuilder) {
		fields(b)
		b.Index("a")
		b.Index("a", "b")
		b.Index("id", "a")
	})
	deepEqual(t, len(st.Indices()), 3)

	// derived indices reuse any index scanning the same columns
	q := DefineQuery(scm, "by_a", st, func(b *QueryBuilder) {
		b.Operator("a", Greater)
	})
	deepEqual(t, q.Index().Name(), "i:a")
	q = DefineQuery(scm, "by_a_b", st, func(b *QueryBuilder) {
		b.Operator("a", Equality)
		b.Operator("b", Less)
	})
	deepEqual(t, q.Index().Name(), "i:a,b")
	q = DefineQuery(scm, "by_b", st, func(b *QueryBuilder) {
		b.Operator("b", Equality)
	})
	deepEqual(t, q.Index().Name(), "i:b,id")
	deepEqual(t, q.Index().IsDerived(), true)
	q2 := DefineQuery(scm, "by_b_again", st, func(b *QueryBuilder) {
		b.Operator("b", Greater)
	})
	deepEqual(t, q2.Index(), q.Index())
	deepEqual(t, len(st.Indices()), 4)
}
