package expr

import (
	"fmt"
	"strings"
)

// Value is the right-hand side of a SET action: a *Path, a *Placeholder,
// an *Arith or an *IfNotExists.
type Value interface {
	fmt.Stringer
	value()
}

func (*Path) value()        {}
func (*Placeholder) value() {}

// Arith is `left + right` or `left - right`.
type Arith struct {
	Left  Value
	Minus bool
	Right Value
}

func (*Arith) value() {}

func (a *Arith) String() string {
	op := "+"
	if a.Minus {
		op = "-"
	}
	return fmt.Sprintf("%s %s %s", a.Left, op, a.Right)
}

// IfNotExists is `if_not_exists(path, default)`.
type IfNotExists struct {
	Path    *Path
	Default Operand
}

func (*IfNotExists) value() {}

func (f *IfNotExists) String() string {
	return fmt.Sprintf("if_not_exists(%s, %s)", f.Path, f.Default)
}

// Assign is one SET action.
type Assign struct {
	Path  *Path
	Value Value
}

// UpdateExpr is a parsed update expression.
type UpdateExpr struct {
	Sets    []Assign
	Removes []*Path
}

func (u *UpdateExpr) String() string {
	var parts []string
	if len(u.Sets) > 0 {
		sets := make([]string, len(u.Sets))
		for i, a := range u.Sets {
			sets[i] = fmt.Sprintf("%s = %s", a.Path, a.Value)
		}
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(u.Removes) > 0 {
		rm := make([]string, len(u.Removes))
		for i, p := range u.Removes {
			rm[i] = p.String()
		}
		parts = append(parts, "REMOVE "+strings.Join(rm, ", "))
	}
	return strings.Join(parts, " ")
}

// Targets returns the attribute names the update writes or removes.
func (u *UpdateExpr) Targets() []string {
	out := make([]string, 0, len(u.Sets)+len(u.Removes))
	for _, a := range u.Sets {
		out = append(out, a.Path.Name)
	}
	for _, p := range u.Removes {
		out = append(out, p.Name)
	}
	return out
}

// ParseUpdate parses an update expression made of SET and REMOVE sections.
func ParseUpdate(input string, opts Options) (*UpdateExpr, error) {
	p, err := newParser(Update, input, opts)
	if err != nil {
		return nil, err
	}

	u := &UpdateExpr{}
	seen := map[TokenType]bool{}
	for !p.isAtEnd() {
		section := p.advance()
		if seen[section.Type] {
			return nil, p.errorf("The %q section can only be used once in an update expression;", strings.ToUpper(section.Literal))
		}
		seen[section.Type] = true

		switch section.Type {
		case TokenSET:
			err = p.parseList(func() error {
				a, err := p.parseAssign()
				if err == nil {
					u.Sets = append(u.Sets, a)
				}
				return err
			})
		case TokenREMOVE:
			err = p.parseList(func() error {
				path, err := p.parsePath()
				if err == nil {
					u.Removes = append(u.Removes, path)
				}
				return err
			})
		case TokenADD, TokenDELETE:
			return nil, p.errorf("%s is not supported", strings.ToUpper(section.Literal))
		default:
			p.pos--
			return nil, p.syntaxError()
		}
		if err != nil {
			return nil, err
		}
	}

	if err := checkOverlap(p.kind, u.Targets()); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Parser) parseList(item func() error) error {
	for {
		if err := item(); err != nil {
			return err
		}
		if !p.match(TokenComma) {
			return nil
		}
	}
}

func (p *Parser) parseAssign() (Assign, error) {
	path, err := p.parsePath()
	if err != nil {
		return Assign{}, err
	}
	if !p.match(TokenEq) {
		return Assign{}, p.syntaxError()
	}
	left, err := p.parseValueTerm()
	if err != nil {
		return Assign{}, err
	}
	if p.match(TokenPlus, TokenMinus) {
		minus := p.prev().Type == TokenMinus
		right, err := p.parseValueTerm()
		if err != nil {
			return Assign{}, err
		}
		return Assign{Path: path, Value: &Arith{Left: left, Minus: minus, Right: right}}, nil
	}
	return Assign{Path: path, Value: left}, nil
}

func (p *Parser) parseValueTerm() (Value, error) {
	if !p.match(TokenIfNotExists) {
		o, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return o.(Value), nil
	}
	if !p.match(TokenLParen) {
		return nil, p.syntaxError()
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if !p.match(TokenComma) {
		return nil, p.errorf("Incorrect number of operands for operator or function; operator or function: if_not_exists, number of operands: 1")
	}
	def, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if !p.match(TokenRParen) {
		return nil, p.syntaxError()
	}
	return &IfNotExists{Path: path, Default: def}, nil
}

func checkOverlap(kind Kind, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return errorf(kind, "Two document paths overlap with each other; must remove or rewrite one of these paths; path one: [%s], path two: [%s]", n, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}
