package attr

import (
	"bytes"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Compare orders two scalar values of the same type. Strings and binaries
// compare byte-wise, numbers numerically. ok is false when the values are
// not comparable.
func Compare(a, b types.AttributeValue) (cmp int, ok bool) {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, isS := b.(*types.AttributeValueMemberS)
		if !isS {
			return 0, false
		}
		return compareStrings(x.Value, y.Value), true
	case *types.AttributeValueMemberN:
		y, isN := b.(*types.AttributeValueMemberN)
		if !isN {
			return 0, false
		}
		c, err := CompareNumbers(x.Value, y.Value)
		if err != nil {
			return 0, false
		}
		return c, true
	case *types.AttributeValueMemberB:
		y, isB := b.(*types.AttributeValueMemberB)
		if !isB {
			return 0, false
		}
		return bytes.Compare(x.Value, y.Value), true
	}
	return 0, false
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether two attribute values hold the same data. Numbers are
// equal when numerically equal and sets are compared as sets.
func Equal(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS, *types.AttributeValueMemberN, *types.AttributeValueMemberB:
		c, ok := Compare(a, b)
		return ok && c == 0
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberSS:
		y, ok := b.(*types.AttributeValueMemberSS)
		return ok && sameSet(x.Value, y.Value, func(p, q string) bool { return p == q })
	case *types.AttributeValueMemberNS:
		y, ok := b.(*types.AttributeValueMemberNS)
		return ok && sameSet(x.Value, y.Value, func(p, q string) bool {
			c, err := CompareNumbers(p, q)
			return err == nil && c == 0
		})
	case *types.AttributeValueMemberBS:
		y, ok := b.(*types.AttributeValueMemberBS)
		return ok && sameSet(x.Value, y.Value, bytes.Equal)
	case *types.AttributeValueMemberL:
		y, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for i := range x.Value {
			if !Equal(x.Value[i], y.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		y, ok := b.(*types.AttributeValueMemberM)
		return ok && EqualItems(x.Value, y.Value)
	}
	return false
}

// EqualItems reports whether two items hold the same attributes.
func EqualItems(a, b map[string]types.AttributeValue) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

func sameSet[T any](a, b []T, eq func(p, q T) bool) bool {
	return containsAll(a, b, eq) && containsAll(b, a, eq)
}

func containsAll[T any](set, members []T, eq func(p, q T) bool) bool {
	for _, m := range members {
		if !Contains(set, m, eq) {
			return false
		}
	}
	return true
}

// Contains reports whether v is an element of set under eq.
func Contains[T any](set []T, v T, eq func(p, q T) bool) bool {
	for _, s := range set {
		if eq(s, v) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of an attribute value.
func Clone(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: bytes.Clone(v.Value)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberBS:
		out := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			out[i] = bytes.Clone(b)
		}
		return &types.AttributeValueMemberBS{Value: out}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(v.Value))
		for i, e := range v.Value {
			out[i] = Clone(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: CloneItem(v.Value)}
	}
	return av
}

// CloneItem returns a deep copy of an item. A nil item stays nil.
func CloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = Clone(v)
	}
	return out
}
