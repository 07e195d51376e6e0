package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/store"
)

func consistentStore(t *testing.T, rules ...store.Rule) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Consistency = store.ConsistencyConfig{
		Enabled:    true,
		DelayReads: 2,
		Rules:      rules,
	}
	return newStore(t, cfg)
}

func title(item store.Item) string {
	if item == nil {
		return "<nil>"
	}
	v, ok := item["title"].(*types.AttributeValueMemberS)
	if !ok {
		return "<none>"
	}
	return v.Value
}

// reads performs n point reads and returns the observed titles.
func reads(t *testing.T, st *store.Store, table string, hash, rng types.AttributeValue, n int) string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		item, err := st.Get(context.Background(), table, hash, rng)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		out = append(out, title(item))
	}
	return strings.Join(out, ",")
}

func TestConsistencyDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := store.DefaultConfig()
	cfg.Consistency.Rules = []store.Rule{{Table: "things"}}
	st := newStore(t, cfg)

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v1")})
	if got := reads(t, st, "things", s("a"), s("b"), 1); got != "v1" {
		t.Errorf("expected v1, got %s", got)
	}
}

func TestConsistencyDelayedReads(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", PK: "a"})

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v1")})
	if got := reads(t, st, "things", s("a"), s("b"), 3); got != "<nil>,<nil>,v1" {
		t.Errorf("expected new key to be invisible for two reads, got %s", got)
	}

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v2")})
	if got := reads(t, st, "things", s("a"), s("b"), 4); got != "v1,v1,v2,v2" {
		t.Errorf("expected previous value for two reads, got %s", got)
	}

	count, err := st.StaleReadCount(ctx, "things", s("a"), s("b"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 stale reads, got %d", count)
	}
}

func TestConsistencyNotFoundReads(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", NotFoundReads: 1, DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v1")})
	if got := reads(t, st, "things", s("a"), s("b"), 3); got != "<nil>,<nil>,v1" {
		t.Errorf("expected a new key to be absent for both windows, got %s", got)
	}

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v2")})
	if got := reads(t, st, "things", s("a"), s("b"), 3); got != "<nil>,v1,v2" {
		t.Errorf("expected not-found, then stale, then current, got %s", got)
	}
}

func TestConsistencyDelete(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v1")})
	reads(t, st, "things", s("a"), s("b"), 1)

	st.Delete(ctx, "things", s("a"), s("b"))
	if got := reads(t, st, "things", s("a"), s("b"), 2); got != "v1,<nil>" {
		t.Errorf("expected deleted item to linger for one read, got %s", got)
	}
}

func TestConsistencyRuleMatching(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t,
		store.Rule{Table: "things", PKPattern: `user#\d+`, DelayReads: 1},
		store.Rule{Table: "other", SK: "profile", DelayReads: 1},
	)

	tests := []struct {
		name     string
		table    string
		pk, sk   string
		expected string
	}{
		{"pattern match", "things", "user#12", "x", "<nil>,v1"},
		{"pattern anchored at start", "things", "xuser#12", "x", "v1,v1"},
		{"pattern mismatch", "things", "shop#1", "x", "v1,v1"},
		{"sort key match", "other", "any", "profile", "<nil>,v1"},
		{"sort key mismatch", "other", "any", "settings", "v1,v1"},
		{"unmatched table", "third", "user#1", "profile", "v1,v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st.Put(ctx, tt.table, store.Item{"pk": s(tt.pk), "sk": s(tt.sk), "title": s("v1")})
			if got := reads(t, st, tt.table, s(tt.pk), s(tt.sk), 2); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestConsistencyNumericKeyRule(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", PK: "42", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": n("42"), "sk": s("b"), "title": s("v1")})
	if got := reads(t, st, "things", n("42"), s("b"), 2); got != "<nil>,v1" {
		t.Errorf("expected numeric key to match rule, got %s", got)
	}
}

func TestConsistencyBadPattern(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Consistency = store.ConsistencyConfig{
		Enabled: true,
		Rules:   []store.Rule{{Table: "things", PKPattern: "user#("}},
	}
	if _, err := store.New(cfg); err == nil {
		t.Error("expected invalid pattern to fail")
	}
}

func TestConsistencyExistsConsumesNoReads(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "title": s("v1")})
	for i := 0; i < 3; i++ {
		ok, err := st.Exists(ctx, "things", s("a"), s("b"))
		if err != nil || !ok {
			t.Fatalf("expected item to exist, got %v (%v)", ok, err)
		}
	}
	if got := reads(t, st, "things", s("a"), s("b"), 2); got != "<nil>,v1" {
		t.Errorf("expected window to be intact after Exists, got %s", got)
	}
}

func TestConsistencyListings(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", PK: "p", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("a"), "title": s("v1")})
	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("b"), "title": s("v1")})

	list := func() string {
		items, err := st.GetPaginatedItemsByPK(ctx, "things", s("p"), 0, "")
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		var out []string
		for _, item := range items {
			out = append(out, item["sk"].(*types.AttributeValueMemberS).Value+"="+title(item))
		}
		return strings.Join(out, ",")
	}

	if got := list(); got != "" {
		t.Errorf("expected new items to be missing from the first listing, got %q", got)
	}
	if got := list(); got != "a=v1,b=v1" {
		t.Errorf("expected converged listing, got %q", got)
	}

	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("a"), "title": s("v2")})
	st.Delete(ctx, "things", s("p"), s("b"))
	if got := list(); got != "a=v1,b=v1" {
		t.Errorf("expected stale listing, got %q", got)
	}
	if got := list(); got != "a=v2" {
		t.Errorf("expected converged listing, got %q", got)
	}
}

func TestConsistencyListingSkipsIrrelevantKeys(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("order#1"), "title": s("v1")})
	st.Put(ctx, "things", store.Item{"pk": s("p"), "sk": s("invoice#1"), "title": s("v1")})

	_, err := st.Query(ctx, store.QueryInput{
		TableName:                 "things",
		KeyConditionExpression:    "pk = :p AND begins_with(sk, :o)",
		ExpressionAttributeValues: map[string]types.AttributeValue{":p": s("p"), ":o": s("order#")},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// The invoice key was outside the key condition and keeps its window.
	if got := reads(t, st, "things", s("p"), s("invoice#1"), 2); got != "<nil>,v1" {
		t.Errorf("expected untouched window, got %s", got)
	}
	if got := reads(t, st, "things", s("p"), s("order#1"), 1); got != "v1" {
		t.Errorf("expected consumed window, got %s", got)
	}
}

func TestConsistencyUpdateVersioned(t *testing.T) {
	ctx := context.Background()
	st := consistentStore(t, store.Rule{Table: "things", DelayReads: 1})

	st.Put(ctx, "things", store.Item{"pk": s("a"), "sk": s("b"), "version": n("0"), "title": s("v1")})
	reads(t, st, "things", s("a"), s("b"), 1)

	// Versioned updates check the stored item, not the simulated view.
	updated, err := st.UpdateVersioned(ctx, "things", s("a"), s("b"), store.Item{"title": s("v2")}, 0, "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !attr.Equal(updated["version"], n("1")) {
		t.Errorf("expected version 1, got %v", updated["version"])
	}
	if _, err := st.UpdateVersioned(ctx, "things", s("a"), s("b"), store.Item{"title": s("v3")}, 1, ""); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if got := reads(t, st, "things", s("a"), s("b"), 2); got != "v2,v3" {
		t.Errorf("expected value before the latest write, got %s", got)
	}
}
