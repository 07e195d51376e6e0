package expr

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// Apply returns a copy of item with the SET and REMOVE actions applied. Every
// right-hand side is evaluated against the original item, so actions do not
// observe each other.
func (u *UpdateExpr) Apply(item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := attr.CloneItem(item)
	if out == nil {
		out = make(map[string]types.AttributeValue)
	}

	for _, a := range u.Sets {
		v, err := evalValue(a.Value, item)
		if err != nil {
			return nil, err
		}
		out[a.Path.Name] = attr.Clone(v)
	}
	for _, p := range u.Removes {
		delete(out, p.Name)
	}
	return out, nil
}

func evalValue(v Value, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	switch n := v.(type) {
	case *Placeholder:
		return n.Value, nil
	case *Path:
		av, ok := item[n.Name]
		if !ok {
			return nil, errorf(Update, "The provided expression refers to an attribute that does not exist in the item")
		}
		return av, nil
	case *IfNotExists:
		if av, ok := item[n.Path.Name]; ok {
			return av, nil
		}
		return evalValue(n.Default.(Value), item)
	case *Arith:
		left, err := evalValue(n.Left, item)
		if err != nil {
			return nil, err
		}
		right, err := evalValue(n.Right, item)
		if err != nil {
			return nil, err
		}
		return arith(left, right, n.Minus)
	}
	return nil, errorf(Update, "unsupported value %v", v)
}

func arith(left, right types.AttributeValue, minus bool) (types.AttributeValue, error) {
	op := "+"
	if minus {
		op = "-"
	}
	x, ok := left.(*types.AttributeValueMemberN)
	if !ok {
		return nil, errorf(Update, "Incorrect operand type for operator or function; operator: %s, operand type: %s", op, typeName(left))
	}
	y, ok := right.(*types.AttributeValueMemberN)
	if !ok {
		return nil, errorf(Update, "Incorrect operand type for operator or function; operator: %s, operand type: %s", op, typeName(right))
	}
	sum, err := attr.AddNumbers(x.Value, y.Value, minus)
	if err != nil {
		return nil, errorf(Update, "Number overflow. Attempting to store a number with magnitude larger than supported range: %v", err)
	}
	return &types.AttributeValueMemberN{Value: sum}, nil
}

// typeName returns the DynamoDB type descriptor of v.
func typeName(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	}
	return "unknown"
}
