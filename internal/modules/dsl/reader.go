package dsl

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type datumKind int

const (
	listDatum datumKind = iota
	vectorDatum
	mapDatum
	stringDatum
	numberDatum
	keywordDatum
	symbolDatum
)

// datum is one read form before it is interpreted as a node. text holds the
// unescaped string, the keyword without its colon, or the symbol name.
type datum struct {
	kind  datumKind
	text  string
	num   decimal.Decimal
	items []*datum
	pos   Pos
}

// describe names the datum for error messages.
func (d *datum) describe() string {
	switch d.kind {
	case listDatum:
		if head := d.head(); head != "" {
			return "(" + head + " ...)"
		}
		return "list"
	case vectorDatum:
		return "vector"
	case mapDatum:
		return "map"
	case stringDatum:
		return quote(d.text)
	case numberDatum:
		return d.num.String()
	case keywordDatum:
		return ":" + d.text
	default:
		return d.text
	}
}

// head returns the leading symbol of a list, or "".
func (d *datum) head() string {
	if d.kind != listDatum || len(d.items) == 0 || d.items[0].kind != symbolDatum {
		return ""
	}
	return d.items[0].text
}

var (
	numberPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

	openers = map[rune]datumKind{'(': listDatum, '[': vectorDatum, '{': mapDatum}
	closers = map[datumKind]rune{listDatum: ')', vectorDatum: ']', mapDatum: '}'}
)

type reader struct {
	src  []rune
	off  int
	line int
	col  int
}

// read tokenises src into top-level datums. Nesting is tracked on an
// explicit stack of open containers.
func read(src string) ([]*datum, error) {
	r := &reader{src: []rune(src), line: 1, col: 1}
	root := &datum{kind: vectorDatum}
	stack := []*datum{root}

	for {
		r.skipSpace()
		if r.eof() {
			break
		}
		pos := r.pos()
		top := stack[len(stack)-1]
		c := r.peek()

		switch c {
		case '(', '[', '{':
			r.advance()
			d := &datum{kind: openers[c], pos: pos}
			top.items = append(top.items, d)
			stack = append(stack, d)
		case ')', ']', '}':
			r.advance()
			if len(stack) == 1 || closers[top.kind] != c {
				return nil, errorf(pos, string(c), "unexpected closing delimiter")
			}
			if top.kind == mapDatum && len(top.items)%2 != 0 {
				return nil, errorf(top.pos, "map", "map literal needs an even number of forms")
			}
			stack = stack[:len(stack)-1]
		case '"':
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			top.items = append(top.items, &datum{kind: stringDatum, text: s, pos: pos})
		default:
			d, err := scalar(r.readToken(), pos)
			if err != nil {
				return nil, err
			}
			top.items = append(top.items, d)
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, errorf(open.pos, open.describe(), "unclosed %q", string(closers[open.kind]))
	}
	return root.items, nil
}

func scalar(tok string, pos Pos) (*datum, error) {
	if strings.HasPrefix(tok, ":") {
		if len(tok) == 1 {
			return nil, errorf(pos, tok, "empty keyword")
		}
		return &datum{kind: keywordDatum, text: tok[1:], pos: pos}, nil
	}
	if looksNumeric(tok) {
		if !numberPattern.MatchString(tok) {
			return nil, errorf(pos, tok, "malformed number")
		}
		num, err := decimal.NewFromString(strings.TrimPrefix(tok, "+"))
		if err != nil {
			return nil, errorf(pos, tok, "malformed number: %v", err)
		}
		return &datum{kind: numberDatum, text: tok, num: num, pos: pos}, nil
	}
	return &datum{kind: symbolDatum, text: tok, pos: pos}, nil
}

func looksNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	if tok[0] >= '0' && tok[0] <= '9' || tok[0] == '.' {
		return true
	}
	return (tok[0] == '-' || tok[0] == '+') && len(tok) > 1 && (tok[1] >= '0' && tok[1] <= '9' || tok[1] == '.')
}

func (r *reader) eof() bool {
	return r.off >= len(r.src)
}

func (r *reader) peek() rune {
	return r.src[r.off]
}

func (r *reader) pos() Pos {
	return Pos{Line: r.line, Col: r.col}
}

func (r *reader) advance() rune {
	c := r.src[r.off]
	r.off++
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

// skipSpace skips whitespace, commas and ; line comments.
func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.peek()
		switch {
		case c == ';':
			for !r.eof() && r.peek() != '\n' {
				r.advance()
			}
		case c == ',' || unicode.IsSpace(c):
			r.advance()
		default:
			return
		}
	}
}

func isDelimiter(c rune) bool {
	switch c {
	case '(', ')', '[', ']', '{', '}', '"', ';', ',':
		return true
	}
	return unicode.IsSpace(c)
}

func (r *reader) readToken() string {
	start := r.off
	for !r.eof() && !isDelimiter(r.peek()) {
		r.advance()
	}
	return string(r.src[start:r.off])
}

func (r *reader) readString() (string, error) {
	start := r.pos()
	r.advance()

	var b strings.Builder
	for {
		if r.eof() {
			return "", errorf(start, "string", "unterminated string literal")
		}
		c := r.advance()
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if r.eof() {
				return "", errorf(start, "string", "unterminated string literal")
			}
			esc := r.advance()
			switch esc {
			case '"', '\\':
				b.WriteRune(esc)
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			default:
				return "", errorf(start, "string", "unknown escape \\%c", esc)
			}
		default:
			b.WriteRune(c)
		}
	}
}

// quote renders s as a string literal the reader accepts.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
