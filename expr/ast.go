package expr

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEqual              Operator = "="
	OpNotEqual           Operator = "<>"
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
)

// FuncName is a condition function.
type FuncName string

const (
	FuncBeginsWith         FuncName = "begins_with"
	FuncContains           FuncName = "contains"
	FuncAttributeExists    FuncName = "attribute_exists"
	FuncAttributeNotExists FuncName = "attribute_not_exists"
)

// Operand is a *Path or a *Placeholder.
type Operand interface {
	fmt.Stringer
	operand()
}

// Path is a top-level attribute reference. Name is the resolved attribute
// name; Alias holds the #token it was written as, if any.
type Path struct {
	Name  string
	Alias string
}

func (*Path) operand() {}

func (p *Path) String() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Name
}

// Placeholder is a :value reference bound to its attribute value.
type Placeholder struct {
	Name  string
	Value types.AttributeValue
}

func (*Placeholder) operand() {}

func (p *Placeholder) String() string { return p.Name }

// Clause is one conjunct of a condition.
type Clause interface {
	fmt.Stringer
	clause()
}

// Compare is `left op right`.
type Compare struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (*Compare) clause() {}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// Between is `operand BETWEEN low AND high`.
type Between struct {
	Operand Operand
	Low     Operand
	High    Operand
}

func (*Between) clause() {}

func (b *Between) String() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.Operand, b.Low, b.High)
}

// Func is a function clause. Arg is nil for the existence functions.
type Func struct {
	Name FuncName
	Path *Path
	Arg  Operand
}

func (*Func) clause() {}

func (f *Func) String() string {
	if f.Arg == nil {
		return fmt.Sprintf("%s(%s)", f.Name, f.Path)
	}
	return fmt.Sprintf("%s(%s, %s)", f.Name, f.Path, f.Arg)
}

// Condition is a conjunction of clauses. Parenthesised groups are flattened
// because AND is the only connective.
type Condition struct {
	Clauses []Clause
}

func (c *Condition) String() string {
	parts := make([]string, len(c.Clauses))
	for i, cl := range c.Clauses {
		parts[i] = cl.String()
	}
	return strings.Join(parts, " AND ")
}

// Paths returns every attribute path referenced by the condition.
func (c *Condition) Paths() []*Path {
	var out []*Path
	add := func(o Operand) {
		if p, ok := o.(*Path); ok {
			out = append(out, p)
		}
	}
	for _, cl := range c.Clauses {
		switch v := cl.(type) {
		case *Compare:
			add(v.Left)
			add(v.Right)
		case *Between:
			add(v.Operand)
			add(v.Low)
			add(v.High)
		case *Func:
			out = append(out, v.Path)
			if v.Arg != nil {
				add(v.Arg)
			}
		}
	}
	return out
}
