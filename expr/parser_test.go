package expr

import (
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func TestLex(t *testing.T) {
	tokens := Lex("begins_with (#n, :v) AND x<>:y")
	expected := []TokenType{
		TokenBeginsWith, TokenLParen, TokenName, TokenComma, TokenValue, TokenRParen,
		TokenAND, TokenIdentifier, TokenNE, TokenValue, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(tokens), tokens)
	}
	for i, tok := range tokens {
		if tok.Type != expected[i] {
			t.Errorf("token %d: expected type %d, got %v", i, expected[i], tok)
		}
	}
}

func TestLexKeywordsCaseInsensitive(t *testing.T) {
	for _, in := range []string{"and", "AND", "And", "BEGINS_WITH", "Contains"} {
		tokens := Lex(in)
		if tokens[0].Type == TokenIdentifier {
			t.Errorf("expected %q to lex as a keyword", in)
		}
	}
}

func TestLexError(t *testing.T) {
	tokens := Lex("a = :v . b")
	if last := tokens[len(tokens)-1]; last.Type != TokenError {
		t.Errorf("expected trailing error token, got %v", last)
	}
}

func TestParseKeyCondition(t *testing.T) {
	opts := Options{Values: map[string]types.AttributeValue{":pk": s("a"), ":sk": s("b")}}

	cond, err := Parse(KeyCondition, "pk = :pk AND begins_with(sk, :sk)", opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cond.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(cond.Clauses))
	}
	cmp, ok := cond.Clauses[0].(*Compare)
	if !ok || cmp.Op != OpEqual || cmp.Left.(*Path).Name != "pk" {
		t.Errorf("unexpected first clause %v", cond.Clauses[0])
	}
	fn, ok := cond.Clauses[1].(*Func)
	if !ok || fn.Name != FuncBeginsWith || fn.Path.Name != "sk" {
		t.Errorf("unexpected second clause %v", cond.Clauses[1])
	}
}

func TestParseKeyConditionRejects(t *testing.T) {
	opts := Options{Values: map[string]types.AttributeValue{":a": s("a"), ":b": s("b"), ":c": s("c")}}
	tests := []struct {
		name string
		in   string
	}{
		{"three clauses", "pk = :a AND sk = :b AND x = :c"},
		{"not equal", "pk <> :a"},
		{"contains", "contains(pk, :a)"},
		{"or", "pk = :a OR pk = :b"},
		{"not", "NOT pk = :a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(KeyCondition, tt.in, opts)
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if pe.Kind != KeyCondition {
				t.Errorf("expected KeyCondition kind, got %v", pe.Kind)
			}
		})
	}
}

func TestParseFilterAllowsWiderGrammar(t *testing.T) {
	opts := Options{
		Names:  map[string]string{"#s": "status"},
		Values: map[string]types.AttributeValue{":a": s("a"), ":lo": n("1"), ":hi": n("9")},
	}
	in := "(contains(tags, :a)) and #s <> :a AND score BETWEEN :lo AND :hi and attribute_not_exists(deleted)"
	cond, err := Parse(Filter, in, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cond.Clauses) != 4 {
		t.Errorf("expected 4 clauses, got %d: %s", len(cond.Clauses), cond)
	}
}

func TestParseUndefinedAlias(t *testing.T) {
	_, err := Parse(Filter, "#missing = :v", Options{Values: map[string]types.AttributeValue{":v": s("x")}})
	if err == nil || !strings.Contains(err.Error(), "#missing") {
		t.Errorf("expected error naming #missing, got %v", err)
	}
}

func TestParseUndefinedValue(t *testing.T) {
	_, err := Parse(Filter, "a = :nope", Options{})
	if err == nil || !strings.Contains(err.Error(), ":nope") {
		t.Errorf("expected error naming :nope, got %v", err)
	}
}

func TestParseReservedKeyword(t *testing.T) {
	opts := Options{
		Names:  map[string]string{"#d": "data"},
		Values: map[string]types.AttributeValue{":v": s("x")},
	}

	if _, err := Parse(Filter, "#d = :v", opts); err != nil {
		t.Errorf("expected aliased reserved word to pass, got %v", err)
	}

	_, err := Parse(Filter, "#d = :v AND status = :v", opts)
	if err == nil || !strings.Contains(err.Error(), "reserved keyword: status") {
		t.Errorf("expected bare status to fail, got %v", err)
	}

	opts.AllowKeyword = func(name string) bool { return name == "status" }
	if _, err := Parse(Filter, "status = :v", opts); err != nil {
		t.Errorf("expected allowed keyword to pass, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(Filter, "   ", Options{}); err == nil {
		t.Error("expected empty expression to fail")
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	opts := Options{Values: map[string]types.AttributeValue{":v": s("x")}}
	for _, in := range []string{"a =", "a = :v)", "(a = :v", "a :v", "begins_with(a :v)", "attribute_exists(a, :v)", "a IN (:v)"} {
		if _, err := Parse(ConditionExpr, in, opts); err == nil {
			t.Errorf("expected %q to fail", in)
		}
	}
}

func TestParseBuilderOutput(t *testing.T) {
	keyCond := expression.Key("pk").Equal(expression.Value("user#1")).
		And(expression.Key("sk").BeginsWith("order#"))
	filt := expression.Name("status").Equal(expression.Value("open")).
		And(expression.Name("total").GreaterThan(expression.Value(10)))

	built, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filt).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	opts := Options{Names: built.Names(), Values: built.Values()}

	kc, err := Parse(KeyCondition, *built.KeyCondition(), opts)
	if err != nil {
		t.Fatalf("key condition %q: %v", *built.KeyCondition(), err)
	}
	f, err := Parse(Filter, *built.Filter(), opts)
	if err != nil {
		t.Fatalf("filter %q: %v", *built.Filter(), err)
	}

	item := map[string]types.AttributeValue{
		"pk":     s("user#1"),
		"sk":     s("order#7"),
		"status": s("open"),
		"total":  n("12"),
	}
	if !kc.Eval(item) || !f.Eval(item) {
		t.Errorf("expected item to match %s / %s", kc, f)
	}
}

func TestParseProjection(t *testing.T) {
	proj, err := ParseProjection("pk, #d,title", Options{Names: map[string]string{"#d": "data"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := proj.Names()
	if len(got) != 3 || got[0] != "pk" || got[1] != "data" || got[2] != "title" {
		t.Errorf("expected [pk data title], got %v", got)
	}

	item := map[string]types.AttributeValue{"pk": s("a"), "data": s("d"), "other": s("o")}
	out := proj.Apply(item)
	if len(out) != 2 {
		t.Errorf("expected 2 attributes, got %v", out)
	}
	if _, ok := out["other"]; ok {
		t.Error("expected other to be dropped")
	}
}

func TestParseProjectionErrors(t *testing.T) {
	for _, in := range []string{"data", "a, a", "a,", "#x"} {
		if _, err := ParseProjection(in, Options{}); err == nil {
			t.Errorf("expected %q to fail", in)
		}
	}
}
