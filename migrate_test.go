package recdb

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func thingsSchema(build func(b *StoreBuilder)) (*Schema, *Store) {
	scm := NewSchema()
	st := DefineStore(scm, "things", build)
	return scm, st
}

func TestMigrate_FieldChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a database file")
	}
	path := tempFile(t)

	scm1, things1 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("name", String())
		b.Field("size", Integer())
		b.Key("id")
	})
	db := open(t, path, scm1)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(things1, Record{"id": 2, "name": "Green Box", "size": 10}))
		ensure(tx.Insert(things1, Record{"id": 1, "name": "Red Box", "size": 20}))
		ensure(tx.Insert(things1, Record{"id": 3, "name": "Red Ball", "size": 30}))
	})
	db.Close()

	scm2, things2 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("name", String().Searchable())
		b.Field("size", String())
		b.Field("color", String().Nullable())
		b.Key("id")
		b.Index("color")
	})
	db = open(t, path, scm2)
	defer db.Close()
	read(t, db, func(tx *Tx) {
		deepEqual(t, must(tx.Length(things2)), 3)
		deepEqual(t, must(tx.Lookup(things2, Record{"id": 1})), Record{"id": int64(1), "name": "Red Box", "size": "", "color": nil})

		hits := must(tx.Search(things2, "red", nil, 0))
		deepEqual(t, len(hits), 2)
		// equal ranks keep insertion order across the migration
		deepEqual(t, hits[0].Record["id"], any(int64(1)))
		deepEqual(t, hits[1].Record["id"], any(int64(3)))

		index, pinned := must2(tx.Explain(things2, map[string]Filter{"color": Eq(nil)}))
		deepEqual(t, index, "i:color")
		deepEqual(t, pinned, 1)
		deepEqual(t, len(must(tx.Filter(things2, FilterOptions{Filters: map[string]Filter{"color": Eq(nil)}}))), 3)
	})

	ss := db.storeState(things2)
	deepEqual(t, ss.SchemaVer, uint64(2))
}

func TestMigrate_IndexChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a database file")
	}
	path := tempFile(t)

	scm1, things1 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("name", String())
		b.Field("size", Integer())
		b.Key("id")
		b.Index("size")
	})
	db := open(t, path, scm1)
	write(t, db, func(tx *Tx) {
		for i := 1; i <= 5; i++ {
			ensure(tx.Insert(things1, Record{"id": i, "name": string(rune('a' + i%2)), "size": i * 10}))
		}
	})
	db.Close()

	scm2, things2 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("name", String())
		b.Field("size", Integer())
		b.Key("id")
		b.Index("name")
	})
	db = open(t, path, scm2)
	defer db.Close()
	read(t, db, func(tx *Tx) {
		index, _ := must2(tx.Explain(things2, map[string]Filter{"name": Eq("a")}))
		deepEqual(t, index, "i:name")
		recs := must(tx.Filter(things2, FilterOptions{Filters: map[string]Filter{"name": Eq("a")}}))
		deepEqual(t, len(recs), 2)

		if tx.stx.Bucket("things", "i:size") != nil {
			t.Errorf("** dropped index bucket still exists")
		}
		stats := must(tx.StoreStats(things2))
		deepEqual(t, stats.Records, 5)
		deepEqual(t, stats.IndexRows, 5)
	})

	// an unchanged schema keeps the version
	deepEqual(t, db.storeState(things2).SchemaVer, uint64(1))
}

func TestMigrate_KeyCollisionsDropped(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a database file")
	}
	path := tempFile(t)

	scm1, things1 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("code", Integer())
		b.Key("id")
	})
	db := open(t, path, scm1)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(things1, Record{"id": 1, "code": 5}))
		ensure(tx.Insert(things1, Record{"id": 2, "code": 5}))
		ensure(tx.Insert(things1, Record{"id": 3, "code": 6}))
	})
	db.Close()

	scm2, things2 := thingsSchema(func(b *StoreBuilder) {
		b.Field("id", Integer())
		b.Field("code", Integer())
		b.Key("code")
	})
	core, logs := observer.New(zap.InfoLevel)
	db = must(Open(path, scm2, Options{IsTesting: true, Logger: zap.New(core)}))
	defer db.Close()

	read(t, db, func(tx *Tx) {
		deepEqual(t, must(tx.Length(things2)), 2)
		deepEqual(t, must(tx.Lookup(things2, Record{"code": 5}))["id"], any(int64(1)))
		deepEqual(t, must(tx.Lookup(things2, Record{"code": 6}))["id"], any(int64(3)))
	})

	deepEqual(t, logs.FilterMessage("db: dropping record during migration").Len(), 1)
	migrated := logs.FilterMessage("db: migrated store").All()
	deepEqual(t, len(migrated), 1)
	fields := migrated[0].ContextMap()
	deepEqual(t, fields["records"], any(int64(2)))
	deepEqual(t, fields["dropped"], any(int64(1)))
}

func TestMigrate_LinksRechecked(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a database file")
	}
	path := tempFile(t)

	define := func(slug FieldType) (*Schema, *Store, *Store) {
		scm := NewSchema()
		parents := DefineStore(scm, "parents", func(b *StoreBuilder) {
			b.Field("id", String())
			b.Field("slug", slug)
			b.Key("id")
		})
		kids := DefineStore(scm, "kids", func(b *StoreBuilder) {
			b.Field("id", String())
			b.Field("parent_id", String())
			b.Key("id")
		})
		DefineLink(scm, "parent_kids", parents, kids, func(b *LinkBuilder) {
			b.Map("id", "parent_id")
		})
		return scm, parents, kids
	}

	scm1, parents1, kids1 := define(String())
	db := open(t, path, scm1)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(parents1, Record{"id": "p1"}))
		ensure(tx.Insert(parents1, Record{"id": "p2"}))
		ensure(tx.Insert(kids1, Record{"id": "k1", "parent_id": "p1"}))
		ensure(tx.Insert(kids1, Record{"id": "k2", "parent_id": "p2"}))
	})
	db.Close()

	// a unique slug defaulting to "" fits only one of the parents
	scm2, parents2, kids2 := define(String().Nullable().Unique().Default(""))
	db = open(t, path, scm2)
	defer db.Close()
	read(t, db, func(tx *Tx) {
		deepEqual(t, ids(must(tx.Filter(parents2, FilterOptions{}))), []string{"p1"})
		deepEqual(t, ids(must(tx.Filter(kids2, FilterOptions{}))), []string{"k1"})
	})
}

func TestOpenExisting_RebuildsSchema(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a database file")
	}
	path := tempFile(t)
	db := open(t, path, testSchema)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(usersStore, Record{"id": "u1", "age": 30}))
		ensure(tx.Insert(postsStore, Record{"post_id": "p1", "post_user_id": "u1", "rank": 2}))
	})
	db.Close()

	db = must(OpenExisting(path, Options{IsTesting: true}))
	defer db.Close()
	scm := db.Schema()
	deepEqual(t, len(scm.Stores()), 4)
	deepEqual(t, len(scm.Links()), 3)
	users, posts := scm.StoreNamed("users"), scm.StoreNamed("posts")
	deepEqual(t, users.Field("email").IsUnique(), true)
	deepEqual(t, users.Field("name").IsSearchable(), true)
	deepEqual(t, scm.LinkNamed("user_posts").Orders(), []Order{Desc("rank")})

	read(t, db, func(tx *Tx) {
		q := scm.QueryNamed("users_older_than")
		deepEqual(t, ids(must(tx.Query(q, Record{"age": 20}, nil, 0))), []string{"u1"})
		deepEqual(t, ids(must(tx.LinkFilter(scm.LinkNamed("user_posts"), Record{"id": "u1"}, nil, 0))), []string{"p1"})
		deepEqual(t, must(tx.Length(posts)), 1)
	})
	deepEqual(t, db.storeState(users).SchemaVer, uint64(1))
}
