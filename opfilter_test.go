package recdb

import (
	"errors"
	"fmt"
	"testing"
)

var (
	filterSchema = NewSchema()
	itemsStore   = DefineStore(filterSchema, "items", func(b *StoreBuilder) {
		b.Field("shop", String())
		b.Field("sku", Integer())
		b.Field("color", String().Nullable())
		b.Field("price", Number())
		b.Field("stock", Integer())
		b.Key("shop", "sku")
		b.Index("color")
		b.Index("color", "price")
		b.Index("price")
	})
)

func fillItems(t testing.TB, db *DB) {
	colors := []any{nil, "red", "green", "blue"}
	write(t, db, func(tx *Tx) {
		for i := 0; i < 60; i++ {
			ensure(tx.Insert(itemsStore, Record{
				"shop":  string(rune('a' + i%3)),
				"sku":   i / 3,
				"color": colors[i%4],
				"price": float64((i * 7) % 13),
				"stock": i % 5,
			}))
		}
	})
}

func TestFilter_PlanEquivalence(t *testing.T) {
	db := setup(t, filterSchema)
	fillItems(t, db)

	filterCases := []map[string]Filter{
		nil,
		{"shop": Eq("a")},
		{"color": Eq("red")},
		{"color": Eq(nil)},
		{"color": Eq("red"), "price": Gte(5)},
		{"color": Eq("blue"), "price": Eq(3)},
		{"price": Lt(6)},
		{"shop": Eq("b"), "sku": Gt(5)},
		{"shop": Eq("c"), "sku": Lte(5), "color": Eq("green")},
		{"stock": Eq(2), "color": Eq("blue")},
	}
	orderCases := [][]Order{
		nil,
		{Asc("price")},
		{Desc("price")},
		{Asc("color"), Asc("price")},
		{Desc("color"), Desc("price")},
		{Desc("sku")},
		{Asc("shop"), Desc("sku")},
		{Desc("shop"), Desc("sku")},
	}

	read(t, db, func(tx *Tx) {
		for fi, filters := range filterCases {
			for oi, orders := range orderCases {
				name := fmt.Sprintf("f%d/o%d", fi, oi)
				full := must(tx.runFilter(itemsStore, FilterOptions{Filters: filters, Orders: orders}, true))
				planned := must(tx.runFilter(itemsStore, FilterOptions{Filters: filters, Orders: orders}, false))
				if !equalRecords(full, planned) {
					t.Errorf("** %s: planned %v, full scan %v", name, keysOf(planned), keysOf(full))
					continue
				}

				for _, limit := range []int{1, 3} {
					opt := FilterOptions{Filters: filters, Orders: orders, Limit: limit}
					planned := must(tx.runFilter(itemsStore, opt, false))
					if !equalRecords(planned, head(full, limit)) {
						t.Errorf("** %s limit %d: got %v, wanted %v", name, limit, keysOf(planned), keysOf(head(full, limit)))
					}
				}

				if len(full) == 0 {
					continue
				}
				mid := len(full) / 2
				anchor := Record{"shop": full[mid]["shop"], "sku": full[mid]["sku"]}
				for _, limit := range []int{0, 2} {
					opt := FilterOptions{Filters: filters, Orders: orders, Anchor: anchor, Limit: limit}
					want := head(full[mid+1:], limit)
					for _, fullScan := range []bool{true, false} {
						got := must(tx.runFilter(itemsStore, opt, fullScan))
						if !equalRecords(got, want) {
							t.Errorf("** %s anchor %v limit %d full %v: got %v, wanted %v", name, keysOf([]Record{anchor}), limit, fullScan, keysOf(got), keysOf(want))
						}
					}
				}
			}
		}
	})
}

func TestFilter_Ordering(t *testing.T) {
	db := setup(t, filterSchema)
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(itemsStore, Record{"shop": "a", "sku": 1, "color": "red", "price": 10}))
		ensure(tx.Insert(itemsStore, Record{"shop": "a", "sku": 2, "color": nil, "price": 5}))
		ensure(tx.Insert(itemsStore, Record{"shop": "b", "sku": 1, "color": "blue", "price": 5}))
		ensure(tx.Insert(itemsStore, Record{"shop": "a", "sku": 3, "color": "red", "price": -1.5}))
	})
	read(t, db, func(tx *Tx) {
		recs := must(tx.Filter(itemsStore, FilterOptions{}))
		deepEqual(t, keysOf(recs), []string{"a/1", "a/2", "a/3", "b/1"})

		recs = must(tx.Filter(itemsStore, FilterOptions{Orders: []Order{Asc("price")}}))
		deepEqual(t, keysOf(recs), []string{"a/3", "a/2", "b/1", "a/1"})

		recs = must(tx.Filter(itemsStore, FilterOptions{Orders: []Order{Desc("price"), Desc("shop")}}))
		deepEqual(t, keysOf(recs), []string{"a/1", "b/1", "a/2", "a/3"})

		// nulls sort first
		recs = must(tx.Filter(itemsStore, FilterOptions{Orders: []Order{Asc("color")}}))
		deepEqual(t, keysOf(recs), []string{"a/2", "b/1", "a/1", "a/3"})

		recs = must(tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"color": Eq(nil)}}))
		deepEqual(t, keysOf(recs), []string{"a/2"})

		recs = must(tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"price": Gt(0), "shop": Eq("a")}}))
		deepEqual(t, keysOf(recs), []string{"a/1", "a/2"})
	})
}

func TestFilter_Errors(t *testing.T) {
	db := setup(t, filterSchema)
	fillItems(t, db)

	read(t, db, func(tx *Tx) {
		// a non-nullable field is never null
		recs := must(tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"price": Eq(nil)}}))
		isempty(t, recs)

		_, err := tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"price": Gt(nil)}})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("** Gt(nil) err = %v, wanted ErrInvalidRecord", err)
		}
		_, err = tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"weight": Eq(1)}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("** unknown field err = %v, wanted ErrNotFound", err)
		}
		_, err = tx.Filter(itemsStore, FilterOptions{Orders: []Order{Asc("weight")}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("** unknown order field err = %v, wanted ErrNotFound", err)
		}
		_, err = tx.Filter(itemsStore, FilterOptions{Anchor: Record{"shop": "z", "sku": 1}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("** missing anchor err = %v, wanted ErrNotFound", err)
		}
	})
}

func TestFilter_Explain(t *testing.T) {
	db := setup(t, filterSchema)
	fillItems(t, db)

	tests := []struct {
		filters map[string]Filter
		index   string
		pinned  int
	}{
		{nil, "data", 0},
		{map[string]Filter{"price": Gt(3)}, "data", 0},
		{map[string]Filter{"shop": Eq("a")}, "data", 1},
		{map[string]Filter{"shop": Eq("a"), "sku": Eq(2)}, "data", 2},
		{map[string]Filter{"color": Eq("red")}, "i:color", 1},
		{map[string]Filter{"color": Eq("red"), "price": Eq(3)}, "i:color,price", 2},
		{map[string]Filter{"price": Eq(3)}, "i:price", 1},
	}
	read(t, db, func(tx *Tx) {
		for _, tt := range tests {
			index, pinned := must2(tx.Explain(itemsStore, tt.filters))
			if index != tt.index || pinned != tt.pinned {
				t.Errorf("** Explain(%v) = (%s, %d), wanted (%s, %d)", tt.filters, index, pinned, tt.index, tt.pinned)
			}
		}
	})
}

func TestFilter_PlanPinsKeyColumns(t *testing.T) {
	db := setup(t, filterSchema)
	write(t, db, func(tx *Tx) {
		for i := 0; i < 30; i++ {
			ensure(tx.Insert(itemsStore, Record{"shop": "a", "sku": i, "color": "red", "price": float64(i)}))
		}
	})
	read(t, db, func(tx *Tx) {
		// i:color is ordered by color, shop, sku
		index, pinned := must2(tx.Explain(itemsStore, map[string]Filter{"color": Eq("red"), "shop": Eq("a"), "price": Gt(100)}))
		deepEqual(t, index, "i:color")
		deepEqual(t, pinned, 2)

		index, pinned = must2(tx.Explain(itemsStore, map[string]Filter{"shop": Eq("a"), "price": Eq(7)}))
		deepEqual(t, index, "i:price")
		deepEqual(t, pinned, 2)

		recs := must(tx.Filter(itemsStore, FilterOptions{Filters: map[string]Filter{"shop": Eq("a"), "price": Eq(7)}}))
		deepEqual(t, len(recs), 1)
		deepEqual(t, recs[0]["sku"], any(int64(7)))
	})
}

func equalRecords(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprint(a[i]) != fmt.Sprint(b[i]) {
			return false
		}
	}
	return true
}

func head(recs []Record, limit int) []Record {
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if len(recs) == 0 {
		return nil
	}
	return recs
}

func keysOf(recs []Record) []string {
	var result []string
	for _, rec := range recs {
		result = append(result, fmt.Sprintf("%v/%v", rec["shop"], rec["sku"]))
	}
	return result
}

func must2[A, B any](a A, b B, err error) (A, B) {
	if err != nil {
		panic(err)
	}
	return a, b
}
