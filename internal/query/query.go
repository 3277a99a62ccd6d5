// Package query implements the structured query language used to select
// assets and relations from the graph.
//
// A Query maps attribute names to matchers. Every key must match
// (conjunction). Matchers are literals (strict equality), slices (any
// element matches), *regexp.Regexp (matched against the stringified
// value), Not(m), IsDefined, IsUndefined, Func predicates and, for
// attributes holding another Subject, a nested Query.
package query

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

// ErrMalformed is returned when a query contains an unsupported matcher.
var ErrMalformed = errors.New("query: malformed")

// Subject is anything a query can be evaluated against.
type Subject interface {
	// Attr returns the value of the named attribute and whether it is set.
	Attr(name string) (any, bool)
}

// Query maps attribute names to matchers. A nil or empty Query matches everything.
type Query map[string]any

// Matcher is implemented by the non-literal matcher forms.
type Matcher interface {
	match(v any, ok bool) bool
}

type notMatcher struct{ inner any }

func (n notMatcher) match(v any, ok bool) bool { return !matchValue(n.inner, v, ok) }

// Not negates m.
func Not(m any) Matcher { return notMatcher{inner: m} }

type definedness bool

func (d definedness) match(v any, ok bool) bool {
	defined := ok && v != nil
	return defined == bool(d)
}

// Definedness sentinels.
var (
	IsDefined   Matcher = definedness(true)
	IsUndefined Matcher = definedness(false)
)

// Func is an arbitrary predicate over the attribute value. Absent values
// are passed as nil.
type Func func(v any) bool

func (f Func) match(v any, ok bool) bool {
	if !ok {
		v = nil
	}
	return f(v)
}

// Validate checks that every matcher in q has a supported form.
func Validate(q Query) error {
	for key, m := range q {
		if err := validateMatcher(m); err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrMalformed, key, err)
		}
	}
	return nil
}

func validateMatcher(m any) error {
	switch mv := m.(type) {
	case notMatcher:
		return validateMatcher(mv.inner)
	case nil, string, bool, int, int64, float64, *regexp.Regexp, Matcher, Subject:
		return nil
	case Query:
		return Validate(mv)
	case map[string]any:
		return Validate(Query(mv))
	case []any:
		for _, e := range mv {
			if err := validateMatcher(e); err != nil {
				return err
			}
		}
		return nil
	case []string:
		return nil
	}
	rv := reflect.ValueOf(m)
	if rv.Kind() == reflect.Func || rv.Kind() == reflect.Chan || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice {
		return fmt.Errorf("unsupported matcher of type %T", m)
	}
	if !rv.Type().Comparable() {
		return fmt.Errorf("matcher of type %T is not comparable", m)
	}
	return nil
}

// Match reports whether s satisfies every key of q.
func Match(q Query, s Subject) bool {
	if s == nil {
		return false
	}
	for key, m := range q {
		v, ok := s.Attr(key)
		if !matchValue(m, v, ok) {
			return false
		}
	}
	return true
}

func matchValue(m any, v any, ok bool) bool {
	switch mv := m.(type) {
	case Matcher:
		return mv.match(v, ok)
	case *regexp.Regexp:
		if !ok || v == nil {
			return false
		}
		return mv.MatchString(stringify(v))
	case Query:
		return matchNested(mv, v, ok)
	case map[string]any:
		return matchNested(Query(mv), v, ok)
	case []any:
		for _, e := range mv {
			if matchValue(e, v, ok) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range mv {
			if matchValue(e, v, ok) {
				return true
			}
		}
		return false
	case nil:
		return !ok || v == nil
	}
	if !ok {
		return false
	}
	return equal(m, v)
}

func matchNested(q Query, v any, ok bool) bool {
	if !ok {
		return false
	}
	sub, isSubject := v.(Subject)
	if !isSubject || isNilSubject(sub) {
		return false
	}
	return Match(q, sub)
}

func isNilSubject(s Subject) bool {
	rv := reflect.ValueOf(s)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func equal(a, b any) bool {
	if b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		// Named string types compare by their underlying text.
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		if va.Kind() == reflect.String && vb.Kind() == reflect.String {
			return va.String() == vb.String()
		}
		return false
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

func stringify(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

// Literals returns the literal strings of a matcher when it is a string or
// a slice made only of strings. The bool is false for any other form.
// Used by the graph to narrow candidates through its type index.
func Literals(m any) ([]string, bool) {
	switch mv := m.(type) {
	case string:
		return []string{mv}, true
	case []string:
		return mv, true
	case []any:
		out := make([]string, 0, len(mv))
		for _, e := range mv {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
