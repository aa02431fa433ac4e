package formula

import (
	"fmt"
	"sort"
)

// expr is the intermediate result of parsing a (sub)expression. An intercept
// is a Term with no variables.
type expr struct {
	terms  []Term
	zero   bool
	random []RandomTerm
}

func (e expr) hasIntercept() bool {
	for _, t := range e.terms {
		if len(t.Vars) == 0 {
			return true
		}
	}
	return false
}

func (e expr) withoutIntercept() []Term {
	out := make([]Term, 0, len(e.terms))
	for _, t := range e.terms {
		if len(t.Vars) > 0 {
			out = append(out, t)
		}
	}
	return out
}

type parser struct {
	toks []token
	pos  int
}

// Parse parses a formula of the form "response ~ terms".
func Parse(src string) (*Formula, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	resp, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokTilde); err != nil {
		return nil, err
	}
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEOF); err != nil {
		return nil, err
	}

	f := &Formula{
		Source:    src,
		Response:  resp.text,
		Intercept: !e.zero,
		Fixed:     sortByOrder(e.withoutIntercept()),
		Random:    e.random,
	}
	if !f.Intercept && len(f.Fixed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, src)
	}
	return f, nil
}

// MustParse is Parse for formulas known to be valid, such as built-in
// presets.
func MustParse(src string) *Formula {
	f, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return f
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", kind, describe(t))
	}
	return t, nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, t.pos, fmt.Sprintf(format, args...))
}

func describe(t token) string {
	if t.kind == tokIdent || t.kind == tokNumber {
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}

func (p *parser) parseSum() (expr, error) {
	var e expr
	if p.peek().kind != tokMinus {
		first, err := p.parseProduct()
		if err != nil {
			return e, err
		}
		e = first
	}
	for {
		switch p.peek().kind {
		case tokPlus:
			p.next()
			r, err := p.parseProduct()
			if err != nil {
				return e, err
			}
			e = merge(e, r)
		case tokMinus:
			p.next()
			if t := p.peek(); t.kind == tokNumber {
				p.next()
				switch t.text {
				case "1":
					e.zero = true
					e.terms = e.withoutIntercept()
				case "0":
					e.zero = false
				default:
					return e, p.errorf(t, "only 0 or 1 may be removed, found %q", t.text)
				}
				continue
			}
			r, err := p.parseProduct()
			if err != nil {
				return e, err
			}
			if len(r.random) > 0 {
				return e, p.errorf(p.peek(), "random terms cannot be removed")
			}
			e.terms = subtract(e.terms, r.terms)
		default:
			return e, nil
		}
	}
}

func (p *parser) parseProduct() (expr, error) {
	e, err := p.parseInteraction()
	if err != nil {
		return e, err
	}
	for p.peek().kind == tokStar {
		op := p.next()
		r, err := p.parseInteraction()
		if err != nil {
			return e, err
		}
		c, err := cross(e, r)
		if err != nil {
			return e, p.errorf(op, "%v", err)
		}
		e = merge(merge(e, r), c)
	}
	return e, nil
}

func (p *parser) parseInteraction() (expr, error) {
	e, err := p.parseAtom()
	if err != nil {
		return e, err
	}
	for p.peek().kind == tokColon {
		op := p.next()
		r, err := p.parseAtom()
		if err != nil {
			return e, err
		}
		e, err = cross(e, r)
		if err != nil {
			return e, p.errorf(op, "%v", err)
		}
	}
	return e, nil
}

func (p *parser) parseAtom() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return expr{terms: []Term{{Vars: []string{t.text}}}}, nil
	case tokNumber:
		switch t.text {
		case "1":
			return expr{terms: []Term{{}}}, nil
		case "0":
			return expr{zero: true}, nil
		}
		return expr{}, p.errorf(t, "numeric term %q (only 0 and 1 are allowed)", t.text)
	case tokLParen:
		inner, err := p.parseSum()
		if err != nil {
			return inner, err
		}
		switch p.peek().kind {
		case tokBar, tokDoubleBar:
			bar := p.next()
			if len(inner.random) > 0 {
				return inner, p.errorf(bar, "nested random terms")
			}
			g, err := p.expect(tokIdent)
			if err != nil {
				return inner, err
			}
			if _, err := p.expect(tokRParen); err != nil {
				return inner, err
			}
			rt := RandomTerm{
				Intercept:   !inner.zero,
				Terms:       sortByOrder(inner.withoutIntercept()),
				Group:       g.text,
				Independent: bar.kind == tokDoubleBar,
			}
			if !rt.Intercept && len(rt.Terms) == 0 {
				return inner, p.errorf(bar, "empty random term for %s", g.text)
			}
			return expr{random: []RandomTerm{rt}}, nil
		}
		if _, err := p.expect(tokRParen); err != nil {
			return inner, err
		}
		return inner, nil
	}
	return expr{}, p.errorf(t, "unexpected %s", describe(t))
}

func merge(a, b expr) expr {
	out := expr{zero: a.zero || b.zero}
	out.terms = appendUnique(append([]Term(nil), a.terms...), b.terms...)
	out.random = append(append([]RandomTerm(nil), a.random...), b.random...)
	return out
}

func cross(a, b expr) (expr, error) {
	if len(a.random) > 0 || len(b.random) > 0 {
		return expr{}, fmt.Errorf("random terms cannot be crossed")
	}
	out := expr{zero: a.zero || b.zero}
	for _, ta := range a.terms {
		for _, tb := range b.terms {
			vars := append([]string(nil), ta.Vars...)
			for _, v := range tb.Vars {
				if !contains(vars, v) {
					vars = append(vars, v)
				}
			}
			out.terms = appendUnique(out.terms, Term{Vars: vars})
		}
	}
	return out, nil
}

func appendUnique(terms []Term, more ...Term) []Term {
	for _, t := range more {
		dup := false
		for _, have := range terms {
			if have.key() == t.key() {
				dup = true
				break
			}
		}
		if !dup {
			terms = append(terms, t)
		}
	}
	return terms
}

func subtract(terms, remove []Term) []Term {
	out := make([]Term, 0, len(terms))
	for _, t := range terms {
		drop := false
		for _, r := range remove {
			if t.key() == r.key() {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, t)
		}
	}
	return out
}

func sortByOrder(terms []Term) []Term {
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].Order() < terms[j].Order() })
	return terms
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
