package expr

import (
	"bytes"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// Eval reports whether item satisfies every clause. A clause that references
// an attribute the item does not carry is false, except attribute_not_exists.
// Type mismatches are false, never errors.
func (c *Condition) Eval(item map[string]types.AttributeValue) bool {
	for _, cl := range c.Clauses {
		if !evalClause(cl, item) {
			return false
		}
	}
	return true
}

// EvalClause evaluates a single clause against item.
func EvalClause(cl Clause, item map[string]types.AttributeValue) bool {
	return evalClause(cl, item)
}

func evalClause(cl Clause, item map[string]types.AttributeValue) bool {
	switch n := cl.(type) {
	case *Compare:
		left, ok := resolve(n.Left, item)
		if !ok {
			return false
		}
		right, ok := resolve(n.Right, item)
		if !ok {
			return false
		}
		return compare(left, n.Op, right)

	case *Between:
		v, ok := resolve(n.Operand, item)
		if !ok {
			return false
		}
		low, ok := resolve(n.Low, item)
		if !ok {
			return false
		}
		high, ok := resolve(n.High, item)
		if !ok {
			return false
		}
		return compare(v, OpGreaterThanOrEqual, low) && compare(v, OpLessThanOrEqual, high)

	case *Func:
		v, present := item[n.Path.Name]
		switch n.Name {
		case FuncAttributeExists:
			return present
		case FuncAttributeNotExists:
			return !present
		}
		if !present {
			return false
		}
		arg, ok := resolve(n.Arg, item)
		if !ok {
			return false
		}
		if n.Name == FuncBeginsWith {
			return beginsWith(v, arg)
		}
		return contains(v, arg)
	}
	return false
}

func resolve(o Operand, item map[string]types.AttributeValue) (types.AttributeValue, bool) {
	switch v := o.(type) {
	case *Placeholder:
		return v.Value, v.Value != nil
	case *Path:
		av, ok := item[v.Name]
		return av, ok
	}
	return nil, false
}

func compare(a types.AttributeValue, op Operator, b types.AttributeValue) bool {
	switch op {
	case OpEqual:
		return attr.Equal(a, b)
	case OpNotEqual:
		return !attr.Equal(a, b)
	}
	c, ok := attr.Compare(a, b)
	if !ok {
		return false
	}
	switch op {
	case OpLessThan:
		return c < 0
	case OpLessThanOrEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterThanOrEqual:
		return c >= 0
	}
	return false
}

func beginsWith(v, prefix types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		p, ok := prefix.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(x.Value, p.Value)
	case *types.AttributeValueMemberB:
		p, ok := prefix.(*types.AttributeValueMemberB)
		return ok && bytes.HasPrefix(x.Value, p.Value)
	}
	return false
}

func contains(v, member types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		s, ok := member.(*types.AttributeValueMemberS)
		return ok && strings.Contains(x.Value, s.Value)
	case *types.AttributeValueMemberB:
		b, ok := member.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(x.Value, b.Value)
	case *types.AttributeValueMemberSS:
		s, ok := member.(*types.AttributeValueMemberS)
		return ok && attr.Contains(x.Value, s.Value, func(p, q string) bool { return p == q })
	case *types.AttributeValueMemberNS:
		n, ok := member.(*types.AttributeValueMemberN)
		return ok && attr.Contains(x.Value, n.Value, func(p, q string) bool {
			c, err := attr.CompareNumbers(p, q)
			return err == nil && c == 0
		})
	case *types.AttributeValueMemberBS:
		b, ok := member.(*types.AttributeValueMemberB)
		return ok && attr.Contains(x.Value, b.Value, bytes.Equal)
	case *types.AttributeValueMemberL:
		return attr.Contains(x.Value, member, attr.Equal)
	}
	return false
}
