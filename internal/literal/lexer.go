package literal

import (
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokInt
	tokFloat
	tokName
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokColon
	tokPlus
	tokMinus
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of input",
	tokString:   "string",
	tokInt:      "integer",
	tokFloat:    "float",
	tokName:     "name",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBrace:   "'{'",
	tokRBrace:   "'}'",
	tokComma:    "','",
	tokColon:    "':'",
	tokPlus:     "'+'",
	tokMinus:    "'-'",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind   tokenKind
	offset int
	text   string
	int    *big.Int
	float  float64
}

var punctuation = map[byte]tokenKind{
	'[': tokLBracket,
	']': tokRBracket,
	'(': tokLParen,
	')': tokRParen,
	'{': tokLBrace,
	'}': tokRBrace,
	',': tokComma,
	':': tokColon,
	'+': tokPlus,
	'-': tokMinus,
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) errorf(offset int, msg string) error {
	return &SyntaxError{Offset: offset, Msg: msg}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			l.pos++
		case c == '\\' && strings.HasPrefix(l.src[l.pos+1:], "\n"):
			l.pos += 2
		case c == '\\' && strings.HasPrefix(l.src[l.pos+1:], "\r\n"):
			l.pos += 3
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, offset: start}, nil
	}

	c := l.src[l.pos]
	if kind, ok := punctuation[c]; ok {
		l.pos++
		return token{kind: kind, offset: start}, nil
	}
	switch {
	case c == '\'' || c == '"':
		return l.str(start, false)
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number(start)
	}

	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	if r == '_' || unicode.IsLetter(r) {
		return l.name(start)
	}
	return token{}, l.errorf(start, "unexpected character "+strconv.QuoteRune(r))
}

func (l *lexer) name(start int) (token, error) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	word := l.src[start:l.pos]
	if l.pos < len(l.src) && (l.src[l.pos] == '\'' || l.src[l.pos] == '"') {
		switch strings.ToLower(word) {
		case "u", "b":
			return l.str(start, false)
		case "r", "rb", "br":
			return l.str(start, true)
		case "f", "fr", "rf":
			return token{}, l.errorf(start, "f-strings are not literals")
		}
	}
	return token{kind: tokName, offset: start, text: word}, nil
}

// str lexes a quoted string whose opening quote is at l.pos.
func (l *lexer) str(start int, raw bool) (token, error) {
	quote := l.src[l.pos]
	delim := string(quote)
	if strings.HasPrefix(l.src[l.pos:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	l.pos += len(delim)

	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		if strings.HasPrefix(l.src[l.pos:], delim) {
			l.pos += len(delim)
			return token{kind: tokString, offset: start, text: b.String()}, nil
		}
		c := l.src[l.pos]
		if c == '\n' && len(delim) == 1 {
			return token{}, l.errorf(start, "unterminated string")
		}
		if c != '\\' {
			b.WriteByte(c)
			l.pos++
			continue
		}
		if l.pos+1 >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		if raw {
			// A backslash still protects the following quote.
			b.WriteString(l.src[l.pos : l.pos+2])
			l.pos += 2
			continue
		}
		if err := l.escape(&b); err != nil {
			return token{}, err
		}
	}
}

func (l *lexer) escape(b *strings.Builder) error {
	at := l.pos
	c := l.src[l.pos+1]
	l.pos += 2
	switch c {
	case '\n':
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'a':
		b.WriteByte('\a')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case 'x':
		return l.codepoint(b, at, 2)
	case 'u':
		return l.codepoint(b, at, 4)
	case 'U':
		return l.codepoint(b, at, 8)
	case '0', '1', '2', '3', '4', '5', '6', '7':
		end := l.pos - 1
		for end < len(l.src) && end < l.pos+2 && l.src[end] >= '0' && l.src[end] <= '7' {
			end++
		}
		n, _ := strconv.ParseUint(l.src[l.pos-1:end], 8, 32)
		b.WriteRune(rune(n))
		l.pos = end
	default:
		// Unknown escapes are kept verbatim.
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (l *lexer) codepoint(b *strings.Builder, at, digits int) error {
	if l.pos+digits > len(l.src) {
		return l.errorf(at, "truncated escape")
	}
	n, err := strconv.ParseUint(l.src[l.pos:l.pos+digits], 16, 32)
	if err != nil || n > unicode.MaxRune {
		return l.errorf(at, "invalid escape")
	}
	b.WriteRune(rune(n))
	l.pos += digits
	return nil
}

func (l *lexer) number(start int) (token, error) {
	if l.src[l.pos] == '0' && l.pos+1 < len(l.src) {
		base := 0
		switch l.src[l.pos+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			l.pos += 2
			accept := func(c byte) bool { return isBaseDigit(c, base) }
			// A single underscore may follow the prefix: 0x_1f.
			if l.pos+1 < len(l.src) && l.src[l.pos] == '_' && accept(l.src[l.pos+1]) {
				l.pos++
			}
			digits := l.digits(accept)
			return l.integer(start, digits, base)
		}
	}

	intPart := l.digits(isDigit)
	isFloat := false
	text := intPart
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		isFloat = true
		l.pos++
		text += "." + l.digits(isDigit)
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		isFloat = true
		l.pos++
		text += "e"
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			text += string(l.src[l.pos])
			l.pos++
		}
		exp := l.digits(isDigit)
		if exp == "" {
			return token{}, l.errorf(start, "malformed exponent")
		}
		text += exp
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'j' || l.src[l.pos] == 'J') {
		return token{}, l.errorf(start, "complex numbers are not supported")
	}
	if l.pos < len(l.src) && (l.src[l.pos] == '_' || isIdentByte(l.src[l.pos])) {
		return token{}, l.errorf(start, "malformed number")
	}

	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, l.errorf(start, "malformed float")
		}
		return token{kind: tokFloat, offset: start, float: f}, nil
	}
	if len(intPart) > 1 && intPart[0] == '0' && strings.Trim(intPart, "0") != "" {
		return token{}, l.errorf(start, "leading zeros in decimal integer")
	}
	return l.integer(start, intPart, 10)
}

func (l *lexer) integer(start int, digits string, base int) (token, error) {
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return token{}, l.errorf(start, "malformed integer")
	}
	return token{kind: tokInt, offset: start, int: n}, nil
}

// digits consumes a run of digits with single underscores between them and
// returns it without the underscores.
func (l *lexer) digits(accept func(byte) bool) string {
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if accept(c) {
			b.WriteByte(c)
			l.pos++
			continue
		}
		if c == '_' && b.Len() > 0 && l.pos+1 < len(l.src) && accept(l.src[l.pos+1]) {
			l.pos++
			continue
		}
		break
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isBaseDigit(c byte, base int) bool {
	switch base {
	case 2:
		return c == '0' || c == '1'
	case 8:
		return c >= '0' && c <= '7'
	default:
		return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}
