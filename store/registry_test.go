package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/internal/ckey"
	"github.com/jacentio/dynamock/store"
)

func TestNewRegistry(t *testing.T) {
	r := store.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if len(r.Specs()) != 0 {
		t.Errorf("expected no indexes, got %d", len(r.Specs()))
	}
}

func TestRegistry_Register(t *testing.T) {
	r := store.NewRegistry()

	err := r.Register(store.IndexSpec{Name: "by-kind", ProjectionType: store.ProjectionAll, HashKey: "kind"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	spec, ok := r.Lookup("by-kind")
	if !ok {
		t.Fatal("expected by-kind to be registered")
	}
	if spec.HashKey != "kind" {
		t.Errorf("expected HashKey 'kind', got %q", spec.HashKey)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected missing index lookup to fail")
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec store.IndexSpec
	}{
		{"empty name", store.IndexSpec{ProjectionType: store.ProjectionAll, HashKey: "kind"}},
		{"empty hash key", store.IndexSpec{Name: "i", ProjectionType: store.ProjectionAll}},
		{"include without attributes", store.IndexSpec{Name: "i", ProjectionType: store.ProjectionInclude, HashKey: "kind"}},
		{"unknown projection", store.IndexSpec{Name: "i", ProjectionType: "SOME", HashKey: "kind"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.NewRegistry().Register(tt.spec)
			if !errors.Is(err, store.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegistry_ReplaceKeepsOrder(t *testing.T) {
	r := store.NewRegistry()
	r.Register(store.IndexSpec{Name: "first", ProjectionType: store.ProjectionAll, HashKey: "a"})
	r.Register(store.IndexSpec{Name: "second", ProjectionType: store.ProjectionAll, HashKey: "b"})
	r.Register(store.IndexSpec{Name: "first", ProjectionType: store.ProjectionKeysOnly, HashKey: "c"})

	specs := r.Specs()
	if len(specs) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(specs))
	}
	if specs[0].Name != "first" || specs[0].HashKey != "c" || specs[0].ProjectionType != store.ProjectionKeysOnly {
		t.Errorf("expected first to be replaced in place, got %+v", specs[0])
	}
	if specs[1].Name != "second" {
		t.Errorf("expected second to stay second, got %q", specs[1].Name)
	}
}

func TestRegistry_TrackIsSparse(t *testing.T) {
	r := store.NewRegistry()
	r.Register(store.IndexSpec{Name: "by-kind", ProjectionType: store.ProjectionAll, HashKey: "kind"})

	k1, _ := ckey.Make(s("p"), s("1"))
	k2, _ := ckey.Make(s("p"), s("2"))
	r.Track(k1, store.Item{"pk": s("p"), "sk": s("1"), "kind": s("x")})
	r.Track(k2, store.Item{"pk": s("p"), "sk": s("2")})

	entries := r.Entries("by-kind")
	if len(entries) != 1 || entries[0] != k1 {
		t.Errorf("expected only the item carrying kind, got %v", entries)
	}

	// Losing the attribute drops the entry.
	r.Track(k1, store.Item{"pk": s("p"), "sk": s("1")})
	if len(r.Entries("by-kind")) != 0 {
		t.Errorf("expected empty index, got %v", r.Entries("by-kind"))
	}

	r.Track(k2, store.Item{"pk": s("p"), "sk": s("2"), "kind": s("y")})
	r.Track(k2, nil)
	if len(r.Entries("by-kind")) != 0 {
		t.Error("expected nil item to remove the key")
	}
	if r.Entries("missing") != nil {
		t.Error("expected nil entries for unknown index")
	}
}

func TestIndexSpec_Project(t *testing.T) {
	item := store.Item{
		"pk":    s("p"),
		"sk":    s("1"),
		"kind":  s("x"),
		"score": n("9"),
		"title": s("t"),
		"price": n("3"),
	}
	base := []string{"pk", "sk"}

	tests := []struct {
		name     string
		spec     store.IndexSpec
		expected []string
	}{
		{"all", store.IndexSpec{ProjectionType: store.ProjectionAll, HashKey: "kind"},
			[]string{"pk", "sk", "kind", "score", "title", "price"}},
		{"keys only", store.IndexSpec{ProjectionType: store.ProjectionKeysOnly, HashKey: "kind", SortKey: "score"},
			[]string{"pk", "sk", "kind", "score"}},
		{"include", store.IndexSpec{ProjectionType: store.ProjectionInclude, HashKey: "kind", NonKeyAttributes: []string{"title", "missing"}},
			[]string{"pk", "sk", "kind", "title"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.Project(item, base)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for _, name := range tt.expected {
				if !attr.Equal(got[name], item[name]) {
					t.Errorf("expected %s to be projected, got %v", name, got[name])
				}
			}
		})
	}
}

func TestApplyProjection(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, store.DefaultConfig())

	err := st.AddIndex(ctx, "things", store.IndexSpec{
		Name:             "by-kind",
		ProjectionType:   store.ProjectionInclude,
		HashKey:          "kind",
		NonKeyAttributes: []string{"title"},
	})
	if err != nil {
		t.Fatalf("add index: %v", err)
	}

	item := store.Item{"pk": s("p"), "sk": s("1"), "kind": s("x"), "title": s("t"), "score": n("1")}
	got, err := st.ApplyProjection(ctx, "things", "by-kind", item, nil)
	if err != nil {
		t.Fatalf("apply projection: %v", err)
	}
	expected := store.Item{"pk": s("p"), "sk": s("1"), "kind": s("x"), "title": s("t")}
	if !attr.EqualItems(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}

	got, err = st.ApplyProjection(ctx, "things", "unknown", item, nil)
	if err != nil {
		t.Fatalf("expected unknown index to pass through, got %v", err)
	}
	if !attr.EqualItems(got, item) {
		t.Errorf("expected item unchanged, got %v", got)
	}
}

func TestApplyProjectionFallback(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, store.DefaultConfig())
	st.AddIndex(ctx, "things", store.IndexSpec{Name: "by-kind", ProjectionType: store.ProjectionKeysOnly, HashKey: "kind"})

	// An item the codec rejects comes back unfiltered.
	item := store.Item{"pk": s("p"), "sk": s("1"), "kind": s("x"), "tags": &types.AttributeValueMemberSS{}}
	got, err := st.ApplyProjection(ctx, "things", "by-kind", item, nil)
	if err != nil {
		t.Fatalf("apply projection: %v", err)
	}
	if _, ok := got["tags"]; !ok {
		t.Errorf("expected unfiltered item, got %v", got)
	}
}

func TestEnforceIndexes(t *testing.T) {
	ctx := context.Background()
	cfg := store.DefaultConfig()
	cfg.EnforceIndexes = true
	st := newStore(t, cfg)

	_, err := st.ApplyProjection(ctx, "things", "unknown", store.Item{}, nil)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	_, err = st.Query(ctx, store.QueryInput{
		TableName:                 "things",
		IndexName:                 "unknown",
		KeyConditionExpression:    "kind = :k",
		ExpressionAttributeValues: map[string]types.AttributeValue{":k": s("x")},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("expected ErrValidation from query, got %v", err)
	}
}

func TestIndexQuery(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, store.DefaultConfig())

	st.Put(ctx, "things", store.Item{"pk": s("p1"), "sk": s("a"), "kind": s("x"), "score": n("2"), "title": s("t1")})
	st.Put(ctx, "things", store.Item{"pk": s("p2"), "sk": s("b"), "kind": s("x"), "score": n("1"), "title": s("t2")})
	st.Put(ctx, "things", store.Item{"pk": s("p3"), "sk": s("c"), "title": s("unindexed")})

	// Items written before the index exist in it.
	err := st.AddIndex(ctx, "things", store.IndexSpec{
		Name: "by-kind", ProjectionType: store.ProjectionKeysOnly, HashKey: "kind", SortKey: "score",
	})
	if err != nil {
		t.Fatalf("add index: %v", err)
	}
	st.Put(ctx, "things", store.Item{"pk": s("p4"), "sk": s("d"), "kind": s("y"), "score": n("5")})

	page, err := st.Query(ctx, store.QueryInput{
		TableName:                 "things",
		IndexName:                 "by-kind",
		KeyConditionExpression:    "kind = :k",
		ExpressionAttributeValues: map[string]types.AttributeValue{":k": s("x")},
		Limit:                     1,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Count != 1 {
		t.Fatalf("expected 1 item, got %d", page.Count)
	}
	expected := store.Item{"pk": s("p1"), "sk": s("a"), "kind": s("x"), "score": n("2")}
	if !attr.EqualItems(page.Items[0], expected) {
		t.Errorf("expected keys-only item %v, got %v", expected, page.Items[0])
	}
	lek := page.LastEvaluatedKey
	if lek == nil || !attr.Equal(lek["kind"], s("x")) || !attr.Equal(lek["score"], n("2")) {
		t.Errorf("expected LastEvaluatedKey to carry index keys, got %v", lek)
	}

	scan, err := st.Scan(ctx, store.ScanInput{TableName: "things", IndexName: "by-kind"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scan.Count != 3 {
		t.Errorf("expected sparse index to hold 3 items, got %d", scan.Count)
	}
}

func TestIndexProjectionAppliedBeforeProjectionExpression(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, store.DefaultConfig())
	st.AddIndex(ctx, "things", store.IndexSpec{Name: "by-kind", ProjectionType: store.ProjectionKeysOnly, HashKey: "kind"})
	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("a"), "kind": s("x"), "title": s("t")})

	page, err := st.Query(ctx, store.QueryInput{
		TableName:                 "things",
		IndexName:                 "by-kind",
		KeyConditionExpression:    "kind = :k",
		ProjectionExpression:      "kind, title",
		ExpressionAttributeValues: map[string]types.AttributeValue{":k": s("x")},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	expected := store.Item{"kind": s("x")}
	if !attr.EqualItems(page.Items[0], expected) {
		t.Errorf("expected %v, got %v", expected, page.Items[0])
	}
}
