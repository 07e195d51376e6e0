package expr

import "fmt"

// Kind names the expression parameter an error belongs to.
type Kind int

const (
	KeyCondition Kind = iota
	Filter
	ConditionExpr
	Projection
	Update
)

func (k Kind) String() string {
	switch k {
	case KeyCondition:
		return "KeyConditionExpression"
	case Filter:
		return "FilterExpression"
	case ConditionExpr:
		return "ConditionExpression"
	case Projection:
		return "ProjectionExpression"
	case Update:
		return "UpdateExpression"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a parse or evaluation failure. Callers surface it as a
// ValidationException.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Invalid %s: %s", e.Kind, e.Msg)
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
