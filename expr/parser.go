package expr

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/internal/keyword"
)

// Options carries the expression attribute maps and the reserved-word policy
// shared by every expression of one request.
type Options struct {
	Names  map[string]string
	Values map[string]types.AttributeValue

	// AllowKeyword exempts bare attribute names from the reserved-word check.
	AllowKeyword func(name string) bool
}

type Parser struct {
	tokens []Token
	pos    int
	kind   Kind
	opts   Options
}

func newParser(kind Kind, input string, opts Options) (*Parser, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errorf(kind, "The expression can not be empty;")
	}
	tokens := Lex(input)
	if last := tokens[len(tokens)-1]; last.Type == TokenError {
		return nil, errorf(kind, "Syntax error; token: %q, near: %q", last.Literal, near(input, last.Pos))
	}
	return &Parser{tokens: tokens, kind: kind, opts: opts}, nil
}

// Parse parses a key-condition, filter or condition expression.
func Parse(kind Kind, input string, opts Options) (*Condition, error) {
	p, err := newParser(kind, input, opts)
	if err != nil {
		return nil, err
	}
	clauses, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	cond := &Condition{Clauses: clauses}
	if kind == KeyCondition {
		if err := validateKeyCondition(cond); err != nil {
			return nil, err
		}
	}
	return cond, nil
}

func (p *Parser) parseAnd() ([]Clause, error) {
	clauses, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		if p.check(TokenOR) {
			return nil, p.errorf("OR is not supported")
		}
		if !p.match(TokenAND) {
			return clauses, nil
		}
		more, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, more...)
	}
}

func (p *Parser) parseTerm() ([]Clause, error) {
	switch {
	case p.match(TokenLParen):
		clauses, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if !p.match(TokenRParen) {
			return nil, p.syntaxError()
		}
		return clauses, nil
	case p.check(TokenNOT):
		return nil, p.errorf("NOT is not supported")
	case p.check(TokenBeginsWith), p.check(TokenContains),
		p.check(TokenAttributeExists), p.check(TokenAttributeNotExists):
		f, err := p.parseFunc()
		if err != nil {
			return nil, err
		}
		return []Clause{f}, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.match(TokenEq, TokenNE, TokenLT, TokenLTE, TokenGT, TokenGTE) {
		op := Operator(p.prev().Literal)
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return []Clause{&Compare{Left: left, Op: op, Right: right}}, nil
	}

	if p.match(TokenBETWEEN) {
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.match(TokenAND) {
			return nil, p.syntaxError()
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return []Clause{&Between{Operand: left, Low: low, High: high}}, nil
	}

	if p.check(TokenIN) {
		return nil, p.errorf("IN is not supported")
	}
	return nil, p.syntaxError()
}

func (p *Parser) parseFunc() (*Func, error) {
	name := FuncName(strings.ToLower(p.advance().Literal))
	if !p.match(TokenLParen) {
		return nil, p.syntaxError()
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	f := &Func{Name: name, Path: path}

	switch name {
	case FuncBeginsWith, FuncContains:
		if !p.match(TokenComma) {
			return nil, p.errorf("Incorrect number of operands for operator or function; operator or function: %s, number of operands: 1", name)
		}
		if f.Arg, err = p.parseOperand(); err != nil {
			return nil, err
		}
	default:
		if p.check(TokenComma) {
			return nil, p.errorf("Incorrect number of operands for operator or function; operator or function: %s, number of operands: 2", name)
		}
	}

	if !p.match(TokenRParen) {
		return nil, p.syntaxError()
	}
	return f, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	if p.match(TokenValue) {
		name := p.prev().Literal
		v, ok := p.opts.Values[name]
		if !ok {
			return nil, p.errorf("An expression attribute value used in expression is not defined; attribute value: %s", name)
		}
		return &Placeholder{Name: name, Value: v}, nil
	}
	return p.parsePath()
}

func (p *Parser) parsePath() (*Path, error) {
	switch {
	case p.match(TokenName):
		alias := p.prev().Literal
		name, ok := p.opts.Names[alias]
		if !ok {
			return nil, p.errorf("An expression attribute name used in the document path is not defined; attribute name: %s", alias)
		}
		return &Path{Name: name, Alias: alias}, nil
	case p.match(TokenIdentifier):
		name := p.prev().Literal
		if keyword.IsReserved(name) && (p.opts.AllowKeyword == nil || !p.opts.AllowKeyword(name)) {
			return nil, p.errorf("Attribute name is a reserved keyword; reserved keyword: %s", name)
		}
		return &Path{Name: name}, nil
	}
	// keyword-shaped words such as "size" or "status" lex as identifiers;
	// anything else here is a grammar keyword used as a name
	if t := p.peek(); t.Type >= TokenAND && t.Type <= TokenDELETE {
		return nil, p.errorf("Attribute name is a reserved keyword; reserved keyword: %s", t.Literal)
	}
	return nil, p.syntaxError()
}

func validateKeyCondition(c *Condition) error {
	if len(c.Clauses) > 2 {
		return errorf(KeyCondition, "KeyConditionExpressions must only contain one or two conditions")
	}
	for _, cl := range c.Clauses {
		switch v := cl.(type) {
		case *Compare:
			if v.Op == OpNotEqual {
				return errorf(KeyCondition, "Unsupported operator in KeyConditionExpression: %s", v.Op)
			}
			if _, ok := v.Left.(*Path); !ok {
				return errorf(KeyCondition, "KeyConditionExpressions must reference a key attribute on the left: %s", v)
			}
			if _, ok := v.Right.(*Placeholder); !ok {
				return errorf(KeyCondition, "KeyConditionExpressions must compare against a value: %s", v)
			}
		case *Between:
			if _, ok := v.Operand.(*Path); !ok {
				return errorf(KeyCondition, "KeyConditionExpressions must reference a key attribute on the left: %s", v)
			}
		case *Func:
			if v.Name != FuncBeginsWith {
				return errorf(KeyCondition, "Invalid operator used in KeyConditionExpression: %s", v.Name)
			}
		}
	}
	return nil
}

func (p *Parser) expectEnd() error {
	if p.isAtEnd() {
		return nil
	}
	return p.syntaxError()
}

func (p *Parser) syntaxError() error {
	t := p.peek()
	if t.Type == TokenEOF {
		return p.errorf("Syntax error; token: <EOF>")
	}
	return p.errorf("Syntax error; token: %q", t.Literal)
}

func (p *Parser) errorf(format string, args ...any) error {
	return errorf(p.kind, format, args...)
}

func (p *Parser) match(types ...TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) check(t TokenType) bool {
	if p.isAtEnd() {
		return false
	}
	return p.peek().Type == t
}

func (p *Parser) advance() Token {
	if !p.isAtEnd() {
		p.pos++
	}
	return p.prev()
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) prev() Token {
	return p.tokens[p.pos-1]
}

func near(input string, pos int) string {
	end := pos + 16
	if end > len(input) {
		end = len(input)
	}
	return input[pos:end]
}
