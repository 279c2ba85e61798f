// Package literal parses the safe subset of Python literal syntax that
// vision models emit when asked for structured output: None, booleans,
// numbers, strings, lists, tuples, sets and dicts. Nothing is evaluated.
//
// Values decode to Go types as follows:
//
//	None          nil
//	True/False    bool
//	int           int64 (or *big.Int when it overflows)
//	float         float64
//	str/bytes     string
//	list/set      []any
//	tuple         Tuple
//	dict          map[any]any (big integer keys become BigKey)
package literal

import (
	"errors"
	"fmt"
	"math/big"
)

// Tuple is a parsed tuple literal.
type Tuple []any

// SyntaxError reports where the input stopped being a literal.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("literal: %s at offset %d", e.Msg, e.Offset)
}

// ErrUnhashableKey is returned when a dict key is a container.
var ErrUnhashableKey = errors.New("literal: unhashable dict key")

// maxDepth bounds container nesting.
const maxDepth = 64

// Parse parses src as exactly one literal expression. A bare comma
// separated list at the top level is a tuple, as in "{...}, {...}".
func Parse(src string) (any, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokComma {
		items := Tuple{v}
		for p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind == tokEOF {
				break
			}
			next, err := p.value(0)
			if err != nil {
				return nil, err
			}
			items = append(items, next)
		}
		v = items
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s after literal", p.tok.kind)
	}
	return v, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.tok.offset, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s, found %s", kind, p.tok.kind)
	}
	return p.advance()
}

func (p *parser) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, p.errorf("nesting too deep")
	}
	switch p.tok.kind {
	case tokString:
		// Adjacent string literals concatenate.
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.tok.kind == tokString {
			s += p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		return s, nil
	case tokInt, tokFloat:
		return p.number(false)
	case tokPlus, tokMinus:
		return p.signed(depth)
	case tokName:
		var v any
		switch p.tok.text {
		case "None":
			v = nil
		case "True":
			v = true
		case "False":
			v = false
		default:
			return nil, p.errorf("name %q is not a literal", p.tok.text)
		}
		return v, p.advance()
	case tokLBracket:
		items, err := p.sequence(tokRBracket, depth)
		if err != nil {
			return nil, err
		}
		return items, nil
	case tokLParen:
		return p.tuple(depth)
	case tokLBrace:
		return p.braced(depth)
	default:
		return nil, p.errorf("unexpected %s", p.tok.kind)
	}
}

// signed parses a single sign applied to a number literal, which may be
// wrapped in parentheses: "-1", "+2.5", "-(1)". Chained signs are rejected.
func (p *parser) signed(depth int) (any, error) {
	negate := p.tok.kind == tokMinus
	if err := p.advance(); err != nil {
		return nil, err
	}
	parens := 0
	for p.tok.kind == tokLParen {
		parens++
		if depth+parens > maxDepth {
			return nil, p.errorf("nesting too deep")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.tok.kind != tokInt && p.tok.kind != tokFloat {
		return nil, p.errorf("unary operator applied to %s", p.tok.kind)
	}
	v, err := p.number(negate)
	if err != nil {
		return nil, err
	}
	for ; parens > 0; parens-- {
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (p *parser) number(negate bool) (any, error) {
	tok := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if tok.kind == tokFloat {
		if negate {
			return -tok.float, nil
		}
		return tok.float, nil
	}
	n := new(big.Int).Set(tok.int)
	if negate {
		n.Neg(n)
	}
	if n.IsInt64() {
		return n.Int64(), nil
	}
	return n, nil
}

// sequence parses comma separated values up to the closing token. The
// opening token is the current token on entry.
func (p *parser) sequence(closing tokenKind, depth int) ([]any, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	items := []any{}
	for p.tok.kind != closing {
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(closing); err != nil {
		return nil, err
	}
	return items, nil
}

// tuple handles "()", "(x)" (a parenthesized value) and "(x,)" / "(x, y)".
func (p *parser) tuple(depth int) (any, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokRParen {
		return Tuple{}, p.advance()
	}
	first, err := p.value(depth + 1)
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokRParen {
		return first, p.advance()
	}
	items := Tuple{first}
	for p.tok.kind == tokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokRParen {
			break
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return items, nil
}

// braced parses a dict or a set.
func (p *parser) braced(depth int) (any, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokRBrace {
		return map[any]any{}, p.advance()
	}
	first, err := p.value(depth + 1)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokColon {
		return p.setRest(first, depth)
	}

	dict := map[any]any{}
	key := first
	for {
		if err := p.expect(tokColon); err != nil {
			return nil, err
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		if !hashable(key) {
			return nil, ErrUnhashableKey
		}
		dict[hashKey(key)] = v
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokRBrace {
			break
		}
		if key, err = p.value(depth + 1); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return dict, nil
}

func (p *parser) setRest(first any, depth int) (any, error) {
	if !hashable(first) {
		return nil, ErrUnhashableKey
	}
	items := []any{first}
	for p.tok.kind == tokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokRBrace {
			break
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		if !hashable(v) {
			return nil, ErrUnhashableKey
		}
		items = append(items, v)
	}
	if err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return items, nil
}

func hashable(v any) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string, *big.Int:
		return true
	default:
		return false
	}
}

// BigKey is the map key used for integer dict keys that overflow int64.
type BigKey string

func hashKey(v any) any {
	if n, ok := v.(*big.Int); ok {
		return BigKey(n.String())
	}
	return v
}
