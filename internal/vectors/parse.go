package vectors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/TobiSchelling/pegasus/internal/llm"
)

// ErrNoList is returned when a reply contains no bracketed list.
var ErrNoList = errors.New("no bracketed list in reply")

// ParseQueryList extracts a list of strings from an LLM reply. It takes
// the substring between the first '[' and the last ']' and accepts it
// either as a JSON array of strings or as a list of single- or
// double-quoted string literals. Any other element is rejected; nothing
// is evaluated.
func ParseQueryList(reply string) ([]string, error) {
	reply = llm.StripCodeFence(reply)
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, ErrNoList
	}
	body := reply[start : end+1]

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err == nil {
		return jsonStrings(raw)
	}
	return parseLiteralList(body)
}

// jsonStrings requires every element of a JSON array to be a string.
func jsonStrings(raw []json.RawMessage) ([]string, error) {
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		if len(r) == 0 || r[0] != '"' {
			return nil, fmt.Errorf("non-string element at index %d: %s", i, r)
		}
		var str string
		if err := json.Unmarshal(r, &str); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, str)
	}
	return out, nil
}

// parseLiteralList scans "[ 'a', "b", ]" style lists.
func parseLiteralList(body string) ([]string, error) {
	s := &scanner{src: []rune(body)}
	if !s.consume('[') {
		return nil, fmt.Errorf("expected '[' at offset %d", s.pos)
	}

	out := []string{}
	for {
		s.skipSpace()
		if s.consume(']') {
			break
		}
		str, err := s.stringLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, str)

		s.skipSpace()
		if s.consume(',') {
			continue
		}
		if s.consume(']') {
			break
		}
		return nil, fmt.Errorf("expected ',' or ']' at offset %d", s.pos)
	}

	s.skipSpace()
	if !s.done() {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", s.pos)
	}
	return out, nil
}

type scanner struct {
	src []rune
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) skipSpace() {
	for !s.done() && unicode.IsSpace(s.src[s.pos]) {
		s.pos++
	}
}

func (s *scanner) consume(r rune) bool {
	if !s.done() && s.src[s.pos] == r {
		s.pos++
		return true
	}
	return false
}

// stringLiteral reads one quoted literal with backslash escapes.
func (s *scanner) stringLiteral() (string, error) {
	if s.done() {
		return "", errors.New("unterminated list")
	}
	quote := s.src[s.pos]
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("non-string element at offset %d", s.pos)
	}
	s.pos++

	var b strings.Builder
	for !s.done() {
		r := s.src[s.pos]
		s.pos++
		switch {
		case r == quote:
			return b.String(), nil
		case r == '\n':
			return "", fmt.Errorf("newline inside string literal at offset %d", s.pos-1)
		case r == '\\':
			if s.done() {
				return "", errors.New("unterminated escape")
			}
			esc := s.src[s.pos]
			s.pos++
			b.WriteString(unescape(esc))
		default:
			b.WriteRune(r)
		}
	}
	return "", errors.New("unterminated string literal")
}

func unescape(r rune) string {
	switch r {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case '\\', '\'', '"':
		return string(r)
	default:
		return `\` + string(r)
	}
}
