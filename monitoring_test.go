package recdb

import (
	"strings"
	"testing"
)

func TestStoreStats(t *testing.T) {
	db := setup(t, testSchema)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(usersStore, Record{"id": "u1", "name": "Foo Bar", "email": "a@x", "age": 30}))
		ensure(tx.Insert(usersStore, Record{"id": "u2", "name": "Baz"}))
	})
	read(t, db, func(tx *Tx) {
		s := must(tx.StoreStats(usersStore))
		deepEqual(t, s.Records, 2)
		// i:age 2, u:email 1, s:name 3
		deepEqual(t, s.IndexRows, 6)
		// small bolt buckets are stored inline and must still count
		if s.DataSize <= 0 || s.IndexSize <= 0 || s.DataAlloc < s.DataSize || s.TotalSize() != s.DataSize+s.IndexSize {
			t.Errorf("** sizes = %+v", s)
		}

		s = must(tx.StoreStats(postsStore))
		deepEqual(t, s.Records, 0)
		deepEqual(t, s.IndexRows, 0)
	})
}

func TestDump(t *testing.T) {
	db := setup(t, testSchema)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(usersStore, Record{"id": "u1", "name": "Foo Bar", "email": "a@x", "age": 30}))
		ensure(tx.Insert(usersStore, Record{"id": "u2", "name": "Baz"}))
	})
	read(t, db, func(tx *Tx) {
		s := must(tx.Dump(DumpAll))
		for _, want := range []string{
			"users (2 records, s1)",
			`{"age":30,"email":"a@x","id":"u1","name":"Foo Bar"}`,
			"posts (0 records, s1)",
			"users.stats: index_rows = 6,",
			`users.s:name.1: "bar" => u1`,
			`users.s:name.2: "baz" => u2`,
			`users.s:name.3: "foo" => u1`,
			"users.u:email.1: a@x => u1",
			"posts.i:post_user_id,rank,post_id (0x2)",
		} {
			if !strings.Contains(s, want) {
				t.Errorf("** dump does not contain %q:\n%s", want, s)
			}
		}
		if strings.Contains(s, "PENDING") {
			t.Errorf("** dump lists pending indices:\n%s", s)
		}

		s = must(tx.Dump(DumpStoreHeaders))
		if strings.Contains(s, "Foo Bar") || !strings.Contains(s, "metas (0 records, s1)") {
			t.Errorf("** headers-only dump:\n%s", s)
		}
	})
}
