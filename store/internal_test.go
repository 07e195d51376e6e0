package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/dynamock/expr"
)

// --- Config Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.validate()

	if cfg.HashKey != "pk" {
		t.Errorf("expected HashKey 'pk', got %q", cfg.HashKey)
	}
	if cfg.RangeKey != "sk" {
		t.Errorf("expected RangeKey 'sk', got %q", cfg.RangeKey)
	}
	if cfg.VersionAttribute != "version" {
		t.Errorf("expected VersionAttribute 'version', got %q", cfg.VersionAttribute)
	}
	if cfg.Logger == nil {
		t.Error("expected default logger")
	}
}

func TestConfigValidate_HashOnly(t *testing.T) {
	cfg := Config{RangeKey: "-"}
	cfg.validate()

	if cfg.RangeKey != "" {
		t.Errorf("expected empty RangeKey, got %q", cfg.RangeKey)
	}
}

func TestConfigValidate_NegativeReads(t *testing.T) {
	cfg := Config{Consistency: ConsistencyConfig{DelayReads: -1, NotFoundReads: -5}}
	cfg.validate()

	if cfg.Consistency.DelayReads != 0 || cfg.Consistency.NotFoundReads != 0 {
		t.Errorf("expected negative reads to clamp to 0, got %d/%d",
			cfg.Consistency.DelayReads, cfg.Consistency.NotFoundReads)
	}
}

func TestConfigValidate_PreservesCustomValues(t *testing.T) {
	cfg := Config{HashKey: "id", RangeKey: "created", VersionAttribute: "rev"}
	cfg.validate()

	if cfg.HashKey != "id" || cfg.RangeKey != "created" || cfg.VersionAttribute != "rev" {
		t.Errorf("expected custom values to be kept, got %+v", cfg)
	}
}

// --- Simulator Tests ---

func TestSimulatorWindow(t *testing.T) {
	sim, err := newSimulator(ConsistencyConfig{
		Enabled:       true,
		DelayReads:    2,
		NotFoundReads: 1,
		Rules: []Rule{
			{Table: "a", PK: "exact", DelayReads: 5},
			{Table: "a", PKPattern: "user#"},
			{Table: "b", NotFoundReads: 3},
		},
	})
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}

	tests := []struct {
		name             string
		table            string
		pk               string
		expectedOK       bool
		expectedNotFound int
		expectedDelay    int
	}{
		{"exact pk override", "a", "exact", true, 1, 5},
		{"pattern defaults", "a", "user#7", true, 1, 2},
		{"no match", "a", "shop#7", false, 0, 0},
		{"not found override", "b", "anything", true, 3, 2},
		{"other table", "c", "exact", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notFound, delay, ok := sim.window(tt.table, &types.AttributeValueMemberS{Value: tt.pk}, nil)
			if ok != tt.expectedOK || notFound != tt.expectedNotFound || delay != tt.expectedDelay {
				t.Errorf("expected (%d, %d, %v), got (%d, %d, %v)",
					tt.expectedNotFound, tt.expectedDelay, tt.expectedOK, notFound, delay, ok)
			}
		})
	}
}

func TestSimulatorDisabled(t *testing.T) {
	sim, _ := newSimulator(ConsistencyConfig{DelayReads: 1, Rules: []Rule{{}}})
	if _, _, ok := sim.window("t", &types.AttributeValueMemberS{Value: "x"}, nil); ok {
		t.Error("expected disabled simulator to open no window")
	}

	var nilSim *simulator
	if _, _, ok := nilSim.window("t", nil, nil); ok {
		t.Error("expected nil simulator to open no window")
	}
}

func TestSimulatorZeroWindow(t *testing.T) {
	sim, _ := newSimulator(ConsistencyConfig{Enabled: true, Rules: []Rule{{}}})
	if _, _, ok := sim.window("t", &types.AttributeValueMemberS{Value: "x"}, nil); ok {
		t.Error("expected a rule with no reads to open no window")
	}
}

func TestKeyText(t *testing.T) {
	tests := []struct {
		name     string
		av       types.AttributeValue
		expected string
	}{
		{"string", &types.AttributeValueMemberS{Value: "x"}, "x"},
		{"number", &types.AttributeValueMemberN{Value: "12"}, "12"},
		{"binary", &types.AttributeValueMemberB{Value: []byte("hi")}, "aGk="},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keyText(tt.av); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStaleStateSequence(t *testing.T) {
	cur := &record{item: Item{"title": &types.AttributeValueMemberS{Value: "new"}}}
	prev := &record{item: Item{"title": &types.AttributeValueMemberS{Value: "old"}}}
	st := &staleState{notFound: 1, stale: 2, snapshot: prev}

	expected := []*record{nil, prev, prev, cur}
	for i, want := range expected {
		got := st.answer(cur)
		if got != want {
			t.Errorf("read %d: expected %v, got %v", i, want, got)
		}
		done := st.consume()
		if done != (i >= 2) {
			t.Errorf("read %d: expected converged=%v, got %v", i, i >= 2, done)
		}
	}
}

// --- Chunk Tests ---

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		size     int
		expected []int
	}{
		{"empty", 0, 25, nil},
		{"single partial", 3, 25, []int{3}},
		{"exact", 50, 25, []int{25, 25}},
		{"remainder", 150, 100, []int{100, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.n)
			for i := range items {
				items[i] = i
			}
			chunks := Chunk(items, tt.size)
			if len(chunks) != len(tt.expected) {
				t.Fatalf("expected %d chunks, got %d", len(tt.expected), len(chunks))
			}
			next := 0
			for i, c := range chunks {
				if len(c) != tt.expected[i] {
					t.Errorf("chunk %d: expected %d items, got %d", i, tt.expected[i], len(c))
				}
				for _, v := range c {
					if v != next {
						t.Errorf("expected %d, got %d", next, v)
					}
					next++
				}
			}
		})
	}
}

func TestChunkDoesNotAlias(t *testing.T) {
	items := []int{1, 2, 3}
	chunks := Chunk(items, 2)
	chunks[0] = append(chunks[0], 99)
	if items[2] != 3 {
		t.Errorf("expected appending to a chunk to leave the input alone, got %v", items)
	}
}

// --- Versioned Update Tests ---

func TestRenderVersionedUpdate_Size(t *testing.T) {
	u, err := RenderVersionedUpdate(Item{"a": &types.AttributeValueMemberS{Value: "x"}}, 0, "version")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// SET #attr0 = :val0, #version = :newVersion | #version = :expectedVersion
	// names: #attr0 a, #version version
	// values: :expectedVersion {"N":"0"}, :newVersion {"N":"1"}, :val0 {"S":"x"}
	expected := len("SET #attr0 = :val0, #version = :newVersion") + len("#version = :expectedVersion") +
		len("#attr0") + len("a") + len("#version") + len("version") +
		len(":expectedVersion") + len(`{"N":"0"}`) +
		len(":newVersion") + len(`{"N":"1"}`) +
		len(":val0") + len(`{"S":"x"}`)
	if u.Size != expected {
		t.Errorf("expected size %d, got %d", expected, u.Size)
	}
}

func TestRenderVersionedUpdate_Boundary(t *testing.T) {
	small, err := RenderVersionedUpdate(Item{"a": &types.AttributeValueMemberS{Value: ""}}, 0, "version")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	pad := MaxExpressionSize - small.Size

	if _, err := RenderVersionedUpdate(Item{"a": &types.AttributeValueMemberS{Value: strings.Repeat("x", pad)}}, 0, "version"); err != nil {
		t.Errorf("expected exactly %d bytes to pass, got %v", MaxExpressionSize, err)
	}
	_, err = RenderVersionedUpdate(Item{"a": &types.AttributeValueMemberS{Value: strings.Repeat("x", pad+1)}}, 0, "version")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected one byte over to fail, got %v", err)
	}
}

func TestRenderVersionedUpdate_ParsesBack(t *testing.T) {
	u, err := RenderVersionedUpdate(Item{
		"b": &types.AttributeValueMemberS{Value: "2"},
		"a": &types.AttributeValueMemberN{Value: "1"},
	}, 3, "rev")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	upd, err := expr.ParseUpdate(u.UpdateExpression, expr.Options{
		Names:  u.ExpressionAttributeNames,
		Values: u.ExpressionAttributeValues,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := upd.Apply(Item{"rev": &types.AttributeValueMemberN{Value: "3"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v := out["rev"].(*types.AttributeValueMemberN).Value; v != "4" {
		t.Errorf("expected rev 4, got %s", v)
	}
	if _, ok := out["a"]; !ok {
		t.Error("expected a to be set")
	}
}

func TestCurrentVersion(t *testing.T) {
	tests := []struct {
		name     string
		item     Item
		expected int64
		wantErr  bool
	}{
		{"missing", Item{}, 0, false},
		{"number", Item{"version": &types.AttributeValueMemberN{Value: "42"}}, 42, false},
		{"string", Item{"version": &types.AttributeValueMemberS{Value: "42"}}, 0, true},
		{"fraction", Item{"version": &types.AttributeValueMemberN{Value: "4.2"}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CurrentVersion(tt.item, "version")
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

// --- Error Tests ---

func TestAsValidation(t *testing.T) {
	_, parseErr := expr.Parse(expr.Filter, "a = ", expr.Options{})
	err := asValidation(parseErr)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if !strings.HasPrefix(ve.Message, "Invalid FilterExpression") {
		t.Errorf("expected parser message, got %q", ve.Message)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorFault() != smithy.FaultClient {
		t.Errorf("expected client fault, got %v", err)
	}

	other := errors.New("boom")
	if asValidation(other) != other {
		t.Error("expected non-parser errors to pass through")
	}
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{Message: "The conditional request failed", Err: ErrVersionConflict}
	if !errors.Is(err, ErrVersionConflict) {
		t.Error("expected ConflictError to unwrap")
	}
	if err.ErrorCode() != CodeConditionalCheckFailed {
		t.Errorf("expected %s, got %s", CodeConditionalCheckFailed, err.ErrorCode())
	}
	if err.ErrorMessage() != "The conditional request failed" {
		t.Errorf("unexpected message %q", err.ErrorMessage())
	}
}
