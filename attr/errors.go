package attr

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType is wrapped by every TypeError.
var ErrUnsupportedType = errors.New("dynamock: unsupported attribute value")

// TypeError reports a value that cannot be represented as a DynamoDB attribute.
type TypeError struct {
	// Attribute is the top-level attribute name, empty when the value was
	// encoded on its own.
	Attribute string

	// Reason describes what is wrong with the value.
	Reason string
}

func (e *TypeError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("dynamock: unsupported attribute value: %s", e.Reason)
	}
	return fmt.Sprintf("dynamock: unsupported value for attribute %q: %s", e.Attribute, e.Reason)
}

func (e *TypeError) Unwrap() error {
	return ErrUnsupportedType
}

func typeErrorf(format string, args ...any) *TypeError {
	return &TypeError{Reason: fmt.Sprintf(format, args...)}
}

// withAttribute stamps the attribute name onto a TypeError produced while
// encoding one value of an item.
func withAttribute(err error, name string) error {
	var te *TypeError
	if errors.As(err, &te) && te.Attribute == "" {
		return &TypeError{Attribute: name, Reason: te.Reason}
	}
	return err
}
