// Package engine implements the SQL dialect the sandbox executes.
//
// What: A whitespace- and comment-aware tokenizer, a recursive-descent parser
// producing statement ASTs, and an executor evaluating those statements over a
// storage.DB with three-valued logic, joins, grouping, subqueries and compound
// selects.
// How: The lexer is a single-pass byte scanner that records byte offsets for
// every token, so the parser can report line/column positions and name
// unaliased result columns by their source text. Reserved words form a small
// allow-list; everything else (function names, type names, NULLS/FIRST/LAST)
// is a contextual identifier matched by the parser.
// Why: Keeping the reserved list short lets learners use ordinary words such
// as "name", "key" or "first" as column names without quoting.
package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tEOF tokenType = iota
	tIdent
	tQuotedIdent
	tNumber
	tString
	tSymbol
	tKeyword
	tError
)

type token struct {
	Typ tokenType
	Val string
	Pos int // byte offset of the first character
	End int // byte offset just past the token
}

type lexer struct {
	s   string
	pos int
}

func newLexer(s string) *lexer { return &lexer{s: s} }

func (lx *lexer) peek() byte {
	if lx.pos >= len(lx.s) {
		return 0
	}
	return lx.s[lx.pos]
}

func (lx *lexer) peekN(n int) byte {
	p := lx.pos + n
	if p >= len(lx.s) {
		return 0
	}
	return lx.s[p]
}

func (lx *lexer) skipWS() {
	for lx.pos < len(lx.s) {
		c := lx.s[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			lx.pos++
		case c == '-' && lx.peekN(1) == '-':
			lx.pos += 2
			for lx.pos < len(lx.s) && lx.s[lx.pos] != '\n' {
				lx.pos++
			}
		case c == '/' && lx.peekN(1) == '*':
			lx.pos += 2
			for lx.pos < len(lx.s) && !(lx.s[lx.pos] == '*' && lx.peekN(1) == '/') {
				lx.pos++
			}
			lx.pos = min(lx.pos+2, len(lx.s))
		default:
			return
		}
	}
}

func (lx *lexer) nextToken() token {
	lx.skipWS()
	start := lx.pos
	if start >= len(lx.s) {
		return token{Typ: tEOF, Pos: start, End: start}
	}
	c := lx.peek()
	switch {
	case c == '\'':
		return lx.tokenizeString(start)
	case c == '"':
		return lx.tokenizeQuotedIdent(start, '"')
	case c == '`':
		return lx.tokenizeQuotedIdent(start, '`')
	case c == '[':
		return lx.tokenizeQuotedIdent(start, ']')
	case isDigit(c), c == '.' && isDigit(lx.peekN(1)):
		return lx.tokenizeNumber(start)
	case c == '_' || isLetter(c):
		return lx.tokenizeIdentOrKeyword(start)
	case c >= utf8.RuneSelf:
		r, size := utf8.DecodeRuneInString(lx.s[start:])
		if unicode.IsLetter(r) {
			return lx.tokenizeIdentOrKeyword(start)
		}
		lx.pos += size
		return token{Typ: tError, Val: "unrecognized token: \"" + lx.s[start:lx.pos] + "\"", Pos: start, End: lx.pos}
	}
	return lx.tokenizeSymbol(start)
}

func (lx *lexer) tokenizeString(start int) token {
	lx.pos++ // opening quote
	var val strings.Builder
	for lx.pos < len(lx.s) {
		ch := lx.s[lx.pos]
		lx.pos++
		if ch == '\'' {
			if lx.peek() == '\'' {
				lx.pos++
				val.WriteByte('\'')
				continue
			}
			return token{Typ: tString, Val: val.String(), Pos: start, End: lx.pos}
		}
		val.WriteByte(ch)
	}
	return token{Typ: tError, Val: "unterminated string literal", Pos: start, End: lx.pos}
}

// tokenizeQuotedIdent handles "double", `backtick` and [bracket] quoted
// identifiers. The closing quote is escaped by doubling it.
func (lx *lexer) tokenizeQuotedIdent(start int, closer byte) token {
	lx.pos++
	var val strings.Builder
	for lx.pos < len(lx.s) {
		ch := lx.s[lx.pos]
		lx.pos++
		if ch == closer {
			if closer != ']' && lx.peek() == closer {
				lx.pos++
				val.WriteByte(ch)
				continue
			}
			return token{Typ: tQuotedIdent, Val: val.String(), Pos: start, End: lx.pos}
		}
		val.WriteByte(ch)
	}
	return token{Typ: tError, Val: "unterminated quoted identifier", Pos: start, End: lx.pos}
}

func (lx *lexer) tokenizeNumber(start int) token {
	for isDigit(lx.peek()) {
		lx.pos++
	}
	if lx.peek() == '.' {
		lx.pos++
		for isDigit(lx.peek()) {
			lx.pos++
		}
	}
	if c := lx.peek(); c == 'e' || c == 'E' {
		n := 1
		if s := lx.peekN(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(lx.peekN(n)) {
			lx.pos += n
			for isDigit(lx.peek()) {
				lx.pos++
			}
		}
	}
	if c := lx.peek(); isLetter(c) || c == '_' {
		for c := lx.peek(); isLetter(c) || isDigit(c) || c == '_'; c = lx.peek() {
			lx.pos++
		}
		return token{Typ: tError, Val: "unrecognized token: \"" + lx.s[start:lx.pos] + "\"", Pos: start, End: lx.pos}
	}
	return token{Typ: tNumber, Val: lx.s[start:lx.pos], Pos: start, End: lx.pos}
}

func (lx *lexer) tokenizeIdentOrKeyword(start int) token {
	for lx.pos < len(lx.s) {
		r, size := utf8.DecodeRuneInString(lx.s[lx.pos:])
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' {
			lx.pos += size
			continue
		}
		break
	}
	val := lx.s[start:lx.pos]
	if up := strings.ToUpper(val); isKeyword(up) {
		return token{Typ: tKeyword, Val: up, Pos: start, End: lx.pos}
	}
	return token{Typ: tIdent, Val: val, Pos: start, End: lx.pos}
}

func (lx *lexer) tokenizeSymbol(start int) token {
	a := lx.peek()
	lx.pos++
	two := func(v string) token {
		lx.pos++
		return token{Typ: tSymbol, Val: v, Pos: start, End: lx.pos}
	}
	b := lx.peek()
	switch a {
	case '(', ')', ',', '*', '+', '-', '/', '%', '.', ';':
		return token{Typ: tSymbol, Val: string(a), Pos: start, End: lx.pos}
	case '=':
		if b == '=' {
			return two("=")
		}
		return token{Typ: tSymbol, Val: "=", Pos: start, End: lx.pos}
	case '<':
		switch b {
		case '=':
			return two("<=")
		case '>':
			return two("<>")
		}
		return token{Typ: tSymbol, Val: "<", Pos: start, End: lx.pos}
	case '>':
		if b == '=' {
			return two(">=")
		}
		return token{Typ: tSymbol, Val: ">", Pos: start, End: lx.pos}
	case '!':
		if b == '=' {
			return two("<>")
		}
	case '|':
		if b == '|' {
			return two("||")
		}
	}
	return token{Typ: tError, Val: "unrecognized token: \"" + string(a) + "\"", Pos: start, End: lx.pos}
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isKeyword(up string) bool {
	switch up {
	case "SELECT", "DISTINCT", "ALL", "FROM", "WHERE", "GROUP", "BY", "HAVING",
		"ORDER", "ASC", "DESC", "LIMIT", "OFFSET",
		"CASE", "WHEN", "THEN", "ELSE", "END",
		"JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "ON", "USING", "AS",
		"UNION", "EXCEPT", "INTERSECT", "WITH",
		"CREATE", "TABLE", "DROP", "ALTER",
		"INSERT", "INTO", "VALUES", "UPDATE", "SET", "DELETE",
		"IF", "EXISTS", "PRIMARY", "UNIQUE", "CONSTRAINT",
		"AND", "OR", "NOT", "IS", "NULL", "TRUE", "FALSE", "IN", "LIKE", "BETWEEN", "CAST":
		return true
	}
	return false
}

// SplitStatements cuts a script into statement texts at top-level semicolons,
// honoring quotes and comments. Empty statements are dropped. A lexical error
// (such as an unterminated string) is reported as a *SyntaxError.
func SplitStatements(sql string) ([]string, error) {
	lx := newLexer(sql)
	var out []string
	start := -1
	for {
		tok := lx.nextToken()
		switch tok.Typ {
		case tError:
			return nil, newSyntaxError(sql, tok, tok.Val)
		case tEOF:
			if start >= 0 {
				out = append(out, strings.TrimSpace(sql[start:]))
			}
			return out, nil
		case tSymbol:
			if tok.Val == ";" {
				if start >= 0 {
					out = append(out, strings.TrimSpace(sql[start:tok.Pos]))
				}
				start = -1
				continue
			}
		}
		if start < 0 {
			start = tok.Pos
		}
	}
}
