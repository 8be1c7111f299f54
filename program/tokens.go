package program

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

const (
	whitespaceCode = iota
	identifierCode
	numberCode
	stringCode
	colonCode
	commentCode
)

var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	identifierToken = parsly.NewToken(identifierCode, "Identifier", &identifierMatcher{})
	numberToken     = parsly.NewToken(numberCode, "Number", &numberMatcher{})
	stringToken     = parsly.NewToken(stringCode, "String", &stringMatcher{})
	colonToken      = parsly.NewToken(colonCode, ":", matcher.NewByte(':'))
	commentToken    = parsly.NewToken(commentCode, "Comment", &commentMatcher{})
)

type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	if pos >= size || !(isLetter(input[pos]) || input[pos] == '_') {
		return 0
	}
	matched := 1
	for i := pos + 1; i < size; i++ {
		if !(isLetter(input[i]) || isDigit(input[i]) || input[i] == '_') {
			break
		}
		matched++
	}
	return matched
}

// numberMatcher matches decimal and 0x prefixed hex integers with an optional
// minus sign.
type numberMatcher struct{}

func (m *numberMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	i := pos
	if i < size && input[i] == '-' {
		i++
	}
	if i >= size || !isDigit(input[i]) {
		return 0
	}
	if input[i] == '0' && i+1 < size && (input[i+1] == 'x' || input[i+1] == 'X') {
		i += 2
		start := i
		for i < size && isHex(input[i]) {
			i++
		}
		if i == start {
			return 0
		}
		return i - pos
	}
	for i < size && isDigit(input[i]) {
		i++
	}
	return i - pos
}

// stringMatcher matches a double quoted literal with backslash escapes.
type stringMatcher struct{}

func (m *stringMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	if pos >= size || input[pos] != '"' {
		return 0
	}
	for i := pos + 1; i < size; i++ {
		switch input[i] {
		case '\\':
			i++
		case '"':
			return i - pos + 1
		}
	}
	return 0
}

type commentMatcher struct{}

func (m *commentMatcher) Match(cursor *parsly.Cursor) int {
	if cursor.Pos >= cursor.InputSize || cursor.Input[cursor.Pos] != '#' {
		return 0
	}
	return cursor.InputSize - cursor.Pos
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
