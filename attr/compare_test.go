package attr_test

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

func TestCompare(t *testing.T) {
	s := func(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
	n := func(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }
	b := func(v string) types.AttributeValue { return &types.AttributeValueMemberB{Value: []byte(v)} }

	tests := []struct {
		name     string
		a, b     types.AttributeValue
		expected int
		ok       bool
	}{
		{"strings less", s("a"), s("b"), -1, true},
		{"strings equal", s("a"), s("a"), 0, true},
		{"numbers numeric", n("9"), n("10"), -1, true},
		{"numbers equal with scale", n("1.0"), n("1"), 0, true},
		{"binary", b("b"), b("a"), 1, true},
		{"string vs number", s("1"), n("1"), 0, false},
		{"string vs binary", s("a"), b("a"), 0, false},
		{"bool not ordered", &types.AttributeValueMemberBOOL{}, &types.AttributeValueMemberBOOL{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := attr.Compare(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestEqualSets(t *testing.T) {
	a := &types.AttributeValueMemberNS{Value: []string{"1", "2.0"}}
	b := &types.AttributeValueMemberNS{Value: []string{"2", "1"}}
	if !attr.Equal(a, b) {
		t.Error("expected number sets to be equal")
	}

	c := &types.AttributeValueMemberSS{Value: []string{"x"}}
	d := &types.AttributeValueMemberSS{Value: []string{"x", "y"}}
	if attr.Equal(c, d) {
		t.Error("expected string sets of different size to differ")
	}
}

func TestEqualNested(t *testing.T) {
	a := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberN{Value: "1"}}},
	}}
	b := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberN{Value: "1.00"}}},
	}}
	if !attr.Equal(a, b) {
		t.Error("expected nested maps to be equal")
	}
}
