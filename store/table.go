package store

import (
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/internal/ckey"
	"github.com/jacentio/dynamock/internal/keyword"
)

// record is one stored item together with its decoded key.
type record struct {
	key  ckey.Key
	hash types.AttributeValue
	rng  types.AttributeValue
	item Item
}

// table is the state of one emulated table. Every field is guarded by mu.
type table struct {
	mu      sync.Mutex
	name    string
	schema  KeySchema
	items   map[ckey.Key]*record
	parts   map[string]map[ckey.Key]struct{}
	indexes *Registry
	allowed keyword.Set

	// stale holds the keys inside a simulated consistency window. reads
	// counts the stale or not-found answers served per key.
	stale map[ckey.Key]*staleState
	reads map[ckey.Key]int
}

func newTable(name string, schema KeySchema) *table {
	return &table{
		name:    name,
		schema:  schema,
		items:   make(map[ckey.Key]*record),
		parts:   make(map[string]map[ckey.Key]struct{}),
		indexes: NewRegistry(),
		allowed: keyword.NewSet(),
		stale:   make(map[ckey.Key]*staleState),
		reads:   make(map[ckey.Key]int),
	}
}

// keyOf extracts and validates the primary key of item.
func (t *table) keyOf(item Item) (*record, error) {
	hash, ok := item[t.schema.HashKey]
	if !ok {
		return nil, validationf("One of the required keys was not given a value: %s", t.schema.HashKey)
	}
	var rng types.AttributeValue
	if t.schema.RangeKey != "" {
		if rng, ok = item[t.schema.RangeKey]; !ok {
			return nil, validationf("One of the required keys was not given a value: %s", t.schema.RangeKey)
		}
	}
	key, err := ckey.Make(hash, rng)
	if err != nil {
		return nil, validationf("The provided key element does not match the schema: %v", err)
	}
	return &record{key: key, hash: hash, rng: rng}, nil
}

// lookup builds the record for a hash/range pair.
func (t *table) lookup(hash, rng types.AttributeValue) (*record, error) {
	key := Item{t.schema.HashKey: hash}
	if t.schema.RangeKey != "" {
		if rng != nil {
			key[t.schema.RangeKey] = rng
		}
	} else if rng != nil {
		return nil, validationf("The provided key element does not match the schema: table %s has no range key", t.name)
	}
	return t.keyOf(key)
}

// keyItem returns the key attributes of rec.
func (t *table) keyItem(rec *record) Item {
	key := Item{t.schema.HashKey: rec.hash}
	if t.schema.RangeKey != "" {
		key[t.schema.RangeKey] = rec.rng
	}
	return key
}

func (t *table) allows(global keyword.Set) func(string) bool {
	return func(name string) bool {
		return name == t.schema.HashKey || name == t.schema.RangeKey ||
			global.Has(name) || t.allowed.Has(name)
	}
}

func (t *table) put(rec *record) *record {
	old := t.items[rec.key]
	t.items[rec.key] = rec
	part, ok := t.parts[rec.key.Hash]
	if !ok {
		part = make(map[ckey.Key]struct{})
		t.parts[rec.key.Hash] = part
	}
	part[rec.key] = struct{}{}
	t.indexes.Track(rec.key, rec.item)
	return old
}

func (t *table) remove(key ckey.Key) *record {
	old, ok := t.items[key]
	if !ok {
		return nil
	}
	delete(t.items, key)
	if part := t.parts[key.Hash]; part != nil {
		delete(part, key)
		if len(part) == 0 {
			delete(t.parts, key.Hash)
		}
	}
	t.indexes.Track(key, nil)
	return old
}

// markStale opens a consistency window for key. prev is the record as it
// was before the write, nil for a new key.
func (t *table) markStale(rec *record, prev *record, notFound, delay int) {
	t.stale[rec.key] = &staleState{
		notFound: notFound,
		stale:    delay,
		snapshot: prev,
		hash:     rec.hash,
		rng:      rec.rng,
	}
}

// read serves a point read, consuming one read of any open window.
func (t *table) read(key ckey.Key) *record {
	cur := t.items[key]
	st, ok := t.stale[key]
	if !ok {
		return cur
	}
	out := st.answer(cur)
	if out != cur {
		t.reads[key]++
	}
	if st.consume() {
		delete(t.stale, key)
	}
	return out
}

// observe serves a listing read of key. Keys whose current and stale
// values are both irrelevant to the listing are left untouched.
func (t *table) observe(key ckey.Key, relevant func(Item) bool) *record {
	cur := t.items[key]
	st, ok := t.stale[key]
	if !ok {
		if cur != nil && relevant(cur.item) {
			return cur
		}
		return nil
	}
	hit := cur != nil && relevant(cur.item)
	if !hit && st.snapshot != nil {
		hit = relevant(st.snapshot.item)
	}
	if !hit {
		return nil
	}
	return t.read(key)
}

// keys returns the stored keys plus every key inside a consistency window,
// restricted by keep when it is not nil.
func (t *table) keys(from map[ckey.Key]struct{}, keep func(ckey.Key) bool) []*record {
	seen := make(map[ckey.Key]struct{})
	var out []*record
	add := func(rec *record) {
		if _, dup := seen[rec.key]; dup {
			return
		}
		if keep != nil && !keep(rec.key) {
			return
		}
		seen[rec.key] = struct{}{}
		out = append(out, rec)
	}
	if from == nil {
		for _, rec := range t.items {
			add(rec)
		}
	} else {
		for k := range from {
			if rec, ok := t.items[k]; ok {
				add(rec)
			}
		}
	}
	for k, st := range t.stale {
		add(&record{key: k, hash: st.hash, rng: st.rng})
	}
	sortRecords(out)
	return out
}

// sortRecords orders records by (hash, range) with typed comparison.
func sortRecords(recs []*record) {
	slices.SortFunc(recs, compareRecords)
}

func compareRecords(a, b *record) int {
	if c := ckey.Compare(a.hash, b.hash); c != 0 {
		return c
	}
	return ckey.Compare(a.rng, b.rng)
}
