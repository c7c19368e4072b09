package expr

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// ParseTree decodes and validates a condition tree from rule JSON.
// Unknown predicate types surface as UnknownCondition; malformed JSON
// or missing parameters as ParseError.
func ParseTree(ruleJSON []byte) (*Tree, error) {
	var t Tree
	dec := json.NewDecoder(strings.NewReader(string(ruleJSON)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, &ParseError{Token: firstToken(ruleJSON), Reason: err.Error()}
	}
	for _, c := range t.Any {
		if err := validateCondition(c); err != nil {
			return nil, err
		}
	}
	for _, c := range t.All {
		if err := validateCondition(c); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func validateCondition(c Condition) error {
	if !condTypes[c.Type] {
		return &UnknownCondition{Type: c.Type}
	}
	switch c.Type {
	case CondContainsKeyword, CondEventTypeIs, CondSeverityAtLeast:
		if c.Value == "" {
			return &ParseError{Token: c.Type, Reason: "missing value"}
		}
	case CondEntityInWatchlist:
		if c.WatchlistID == "" {
			return &ParseError{Token: c.Type, Reason: "missing watchlist_id"}
		}
	}
	return nil
}

func firstToken(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 20 {
		s = s[:20]
	}
	return s
}

// ParseCall parses a feature expression of the form name(arg, ...).
// The function name must be a known feature function with the right
// arity; malformed input fails with a ParseError naming the offending
// token and its byte offset.
func ParseCall(src string) (*Call, error) {
	lx := &lexer{src: src}

	name := lx.ident()
	if name == "" {
		return nil, &ParseError{Token: lx.tokenText(), Offset: lx.pos, Reason: "expected function name"}
	}

	arity, ok := featureFns[name]
	if !ok {
		return nil, &UnknownFunction{Name: name}
	}

	if !lx.consume('(') {
		return nil, &ParseError{Token: lx.tokenText(), Offset: lx.pos, Reason: "expected '('"}
	}

	var args []float64
	for {
		if lx.consume(')') {
			break
		}
		if len(args) > 0 && !lx.consume(',') {
			return nil, &ParseError{Token: lx.tokenText(), Offset: lx.pos, Reason: "expected ',' or ')'"}
		}
		numTok, start := lx.number()
		if numTok == "" {
			return nil, &ParseError{Token: lx.tokenText(), Offset: lx.pos, Reason: "expected number"}
		}
		v, err := strconv.ParseFloat(numTok, 64)
		if err != nil {
			return nil, &ParseError{Token: numTok, Offset: start, Reason: "invalid number"}
		}
		args = append(args, v)
	}

	if rest := strings.TrimSpace(src[lx.pos:]); rest != "" {
		return nil, &ParseError{Token: rest, Offset: lx.pos, Reason: "trailing input"}
	}
	if len(args) != arity {
		return nil, &ParseError{Token: name, Reason: "wrong argument count"}
	}

	return &Call{Name: name, Args: args}, nil
}

// lexer is a minimal hand-rolled scanner over a feature expression.
type lexer struct {
	src string
	pos int
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
}

func (l *lexer) consume(ch byte) bool {
	l.skipSpace()
	if l.pos < len(l.src) && l.src[l.pos] == ch {
		l.pos++
		return true
	}
	return false
}

func (l *lexer) ident() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || (l.pos > start && '0' <= c && c <= '9') {
			l.pos++
			continue
		}
		break
	}
	return l.src[start:l.pos]
}

func (l *lexer) number() (string, int) {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '-' && l.pos == start {
			l.pos++
			continue
		}
		if ('0' <= c && c <= '9') || c == '.' {
			l.pos++
			continue
		}
		break
	}
	return l.src[start:l.pos], start
}

// tokenText returns the upcoming raw token for error reporting.
func (l *lexer) tokenText() string {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return "<eof>"
	}
	end := l.pos + 1
	for end < len(l.src) && !unicode.IsSpace(rune(l.src[end])) && end-l.pos < 12 {
		end++
	}
	return l.src[l.pos:end]
}
