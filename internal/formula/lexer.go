package formula

import (
	"fmt"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokTilde
	tokPlus
	tokMinus
	tokStar
	tokColon
	tokLParen
	tokRParen
	tokBar
	tokDoubleBar
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of formula"
	case tokIdent:
		return "name"
	case tokNumber:
		return "number"
	case tokTilde:
		return "'~'"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokColon:
		return "':'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokBar:
		return "'|'"
	case tokDoubleBar:
		return "'||'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '.'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// lex splits a formula into tokens. Names may contain letters, digits,
// underscores and dots, and may be quoted with backticks to include anything
// else.
func lex(src string) ([]token, error) {
	runes := []rune(src)
	var toks []token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '~':
			toks = append(toks, token{tokTilde, "~", i})
			i++
		case r == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case r == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case r == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case r == ':':
			toks = append(toks, token{tokColon, ":", i})
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				toks = append(toks, token{tokDoubleBar, "||", i})
				i += 2
			} else {
				toks = append(toks, token{tokBar, "|", i})
				i++
			}
		case r == '`':
			j := i + 1
			for j < len(runes) && runes[j] != '`' {
				j++
			}
			if j == len(runes) {
				return nil, fmt.Errorf("%w: unterminated quoted name at %d", ErrSyntax, i)
			}
			toks = append(toks, token{tokIdent, string(runes[i+1 : j]), i})
			i = j + 1
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j]), i})
			i = j
		case isIdentStart(r):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j]), i})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, r, i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(runes)})
	return toks, nil
}
