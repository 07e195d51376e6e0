package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError

	TokenIdentifier // bare attribute name
	TokenName       // #alias
	TokenValue      // :placeholder

	TokenEq  // =
	TokenNE  // <>
	TokenLT  // <
	TokenLTE // <=
	TokenGT  // >
	TokenGTE // >=

	TokenAND
	TokenOR
	TokenNOT
	TokenBETWEEN
	TokenIN
	TokenBeginsWith
	TokenContains
	TokenAttributeExists
	TokenAttributeNotExists
	TokenIfNotExists
	TokenSET
	TokenREMOVE
	TokenADD
	TokenDELETE

	TokenLParen // (
	TokenRParen // )
	TokenComma  // ,
	TokenPlus   // +
	TokenMinus  // -
)

// Keywords and function names match case-insensitively.
var keywords = map[string]TokenType{
	"AND":                  TokenAND,
	"OR":                   TokenOR,
	"NOT":                  TokenNOT,
	"BETWEEN":              TokenBETWEEN,
	"IN":                   TokenIN,
	"BEGINS_WITH":          TokenBeginsWith,
	"CONTAINS":             TokenContains,
	"ATTRIBUTE_EXISTS":     TokenAttributeExists,
	"ATTRIBUTE_NOT_EXISTS": TokenAttributeNotExists,
	"IF_NOT_EXISTS":        TokenIfNotExists,
	"SET":                  TokenSET,
	"REMOVE":               TokenREMOVE,
	"ADD":                  TokenADD,
	"DELETE":               TokenDELETE,
}

type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%d, %q)", t.Type, t.Literal)
}

type Lexer struct {
	input  string
	start  int
	pos    int
	width  int
	tokens []Token
}

// Lex splits input into tokens. The last token is always TokenEOF or
// TokenError.
func Lex(input string) []Token {
	l := &Lexer{input: input}
	for state := lexText; state != nil; {
		state = state(l)
	}
	return l.tokens
}

func (l *Lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return 0
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

func (l *Lexer) backup() {
	l.pos -= l.width
}

func (l *Lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *Lexer) ignore() {
	l.start = l.pos
}

func (l *Lexer) emit(t TokenType) {
	l.tokens = append(l.tokens, Token{Type: t, Literal: l.input[l.start:l.pos], Pos: l.start})
	l.start = l.pos
}

type stateFn func(*Lexer) stateFn

func lexText(l *Lexer) stateFn {
	for {
		switch r := l.next(); {
		case r == 0 && l.width == 0:
			l.emit(TokenEOF)
			return nil
		case isSpace(r):
			l.ignore()
		case r == '=':
			l.emit(TokenEq)
		case r == '<':
			switch l.peek() {
			case '>':
				l.next()
				l.emit(TokenNE)
			case '=':
				l.next()
				l.emit(TokenLTE)
			default:
				l.emit(TokenLT)
			}
		case r == '>':
			if l.peek() == '=' {
				l.next()
				l.emit(TokenGTE)
			} else {
				l.emit(TokenGT)
			}
		case r == '(':
			l.emit(TokenLParen)
		case r == ')':
			l.emit(TokenRParen)
		case r == ',':
			l.emit(TokenComma)
		case r == '+':
			l.emit(TokenPlus)
		case r == '-':
			l.emit(TokenMinus)
		case r == ':':
			return lexPlaceholder(TokenValue)
		case r == '#':
			return lexPlaceholder(TokenName)
		case unicode.IsLetter(r) || r == '_':
			return lexIdentifier
		default:
			l.emit(TokenError)
			return nil
		}
	}
}

func lexPlaceholder(t TokenType) stateFn {
	return func(l *Lexer) stateFn {
		n := 0
		for {
			r := l.next()
			if !isNameChar(r) && r != '-' {
				l.backup()
				break
			}
			n++
		}
		if n == 0 {
			l.emit(TokenError)
			return nil
		}
		l.emit(t)
		return lexText
	}
}

func lexIdentifier(l *Lexer) stateFn {
	for isNameChar(l.next()) {
	}
	l.backup()

	word := l.input[l.start:l.pos]
	if tok, ok := keywords[strings.ToUpper(word)]; ok {
		l.emit(tok)
	} else {
		l.emit(TokenIdentifier)
	}
	return lexText
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}

func isNameChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
