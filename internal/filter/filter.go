// Package filter implements the boolean predicate trees that queries use to
// select options and songs. Evaluation is pure: matching an entity never
// mutates it, and combinator evaluation order does not affect the outcome.
package filter

import "strings"

// Leaf predicate operations.
const (
	OpLiteral = "literal"
	OpMissing = "missing"
)

// Leaf compares one field against a query value.
type Leaf struct {
	Field string
	Op    string // OpLiteral or OpMissing

	// OpLiteral
	Query     string
	Substring bool
	CaseFold  bool

	// OpMissing: true matches entities where the field has no value,
	// false matches entities where it has one.
	WantMissing bool
}

// Expr is a predicate tree node. Exactly one of Leaf, All or Any is set;
// the zero value is the empty filter, which matches everything.
type Expr struct {
	Leaf *Leaf
	All  []Expr
	Any  []Expr
}

// Lookup resolves a field to its current value. The second return is false
// when the field has no value (missing and null are equivalent).
type Lookup func(field string) (string, bool)

// Matches reports whether the entity described by lookup satisfies e.
func Matches(e Expr, lookup Lookup) bool {
	switch {
	case e.Leaf != nil:
		return leafMatches(e.Leaf, lookup)
	case e.Any != nil:
		for _, sub := range e.Any {
			if Matches(sub, lookup) {
				return true
			}
		}
		return false
	default:
		// Conjunction; with no subexpressions this is the empty filter.
		for _, sub := range e.All {
			if !Matches(sub, lookup) {
				return false
			}
		}
		return true
	}
}

func leafMatches(l *Leaf, lookup Lookup) bool {
	v, ok := lookup(l.Field)
	if l.Op == OpMissing {
		return ok != l.WantMissing
	}
	if !ok {
		return false
	}
	q := l.Query
	if l.CaseFold {
		v = strings.ToLower(v)
		q = strings.ToLower(q)
	}
	if l.Substring {
		return strings.Contains(v, q)
	}
	return v == q
}
