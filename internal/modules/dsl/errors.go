package dsl

import "fmt"

// Pos is a 1-based line and column in the source text.
type Pos struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// ParseError reports malformed source. Construct names the offending form,
// indicator, literal or delimiter.
type ParseError struct {
	Pos       Pos    `json:"pos"`
	Construct string `json:"construct"`
	Msg       string `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Construct == "" {
		return fmt.Sprintf("parse error at %s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error at %s in %s: %s", e.Pos, e.Construct, e.Msg)
}

func errorf(pos Pos, construct, format string, args ...interface{}) *ParseError {
	return &ParseError{Pos: pos, Construct: construct, Msg: fmt.Sprintf(format, args...)}
}
