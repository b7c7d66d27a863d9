package text2sql

import (
	"errors"
	"fmt"
	"strings"
)

// errEscapedLiteral marks literals whose text the database decodes before
// use: E'' escape strings, B'' and X'' bit strings, U&'' and U&"" Unicode
// escapes.
var errEscapedLiteral = errors.New("escaped literal")

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuoted
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (t token) punct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// name is the identifier as the database resolves it: unquoted names fold
// to lower case, quoted names keep their spelling.
func (t token) name() string {
	if t.kind == tokQuoted {
		return t.text
	}
	return strings.ToLower(t.text)
}

func (t token) identLike() bool {
	return t.kind == tokIdent || t.kind == tokQuoted
}

// lex splits a SQL statement into tokens. Comments and whitespace are
// dropped.
func lex(sql string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(sql)

	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++

		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at %d", i)
			}
			i += end + 4

		case c == '\'':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(sql[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: b.String(), pos: start})

		case c == '"' || c == '`':
			closer := c
			start := i
			end := strings.IndexByte(sql[i+1:], closer)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted identifier at %d", start)
			}
			tokens = append(tokens, token{kind: tokQuoted, text: sql[i+1 : i+1+end], pos: start})
			i += end + 2

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(sql[i]) {
				i++
			}
			if escapePrefix(sql[start:i], sql[i:]) {
				return nil, fmt.Errorf("%w at %d", errEscapedLiteral, start)
			}
			tokens = append(tokens, token{kind: tokIdent, text: sql[start:i], pos: start})

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(sql[i+1])):
			start := i
			for i < n && (isDigit(sql[i]) || sql[i] == '.' || sql[i] == 'e' || sql[i] == 'E' ||
				((sql[i] == '+' || sql[i] == '-') && (sql[i-1] == 'e' || sql[i-1] == 'E'))) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: sql[start:i], pos: start})

		case c == '$' && i+1 < n && isDigit(sql[i+1]):
			start := i
			i++
			for i < n && isDigit(sql[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokPunct, text: sql[start:i], pos: start})

		default:
			if i+1 < n {
				two := sql[i : i+2]
				switch two {
				case "::", "<=", ">=", "<>", "!=", "||":
					tokens = append(tokens, token{kind: tokPunct, text: two, pos: i})
					i += 2
					continue
				}
			}
			tokens = append(tokens, token{kind: tokPunct, text: string(c), pos: i})
			i++
		}
	}

	return tokens, nil
}

func escapePrefix(word, rest string) bool {
	switch strings.ToLower(word) {
	case "e", "b", "x":
		return strings.HasPrefix(rest, "'")
	case "u":
		return strings.HasPrefix(rest, "&'") || strings.HasPrefix(rest, "&\"")
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
