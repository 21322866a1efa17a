package store

import (
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpExists Op = "exists"
)

// Cond is one filter term. Field may be a dotted path into nested documents.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of terms. An empty filter matches everything.
type Filter []Cond

// Sort orders search results by one field. An empty Field keeps key order.
type Sort struct {
	Field string
	Desc  bool
}

func Eq(field string, v any) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Cond  { return Cond{Field: field, Op: OpNe, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }
func Lte(field string, v any) Cond { return Cond{Field: field, Op: OpLte, Value: v} }

// In matches when the field equals any of vals.
func In(field string, vals ...any) Cond { return Cond{Field: field, Op: OpIn, Value: vals} }

// Exists matches when the field is present and non-null (or absent, if present is false).
func Exists(field string, present bool) Cond {
	return Cond{Field: field, Op: OpExists, Value: present}
}

// NotDeleted is the implicit term of default (non-deleted) listings.
func NotDeleted() Cond { return Eq(FieldDeleted, false) }

// DateRange builds an inclusive range on field. Nil bounds are omitted, so
// two nil bounds yield an empty filter.
func DateRange(field string, start, end *time.Time) Filter {
	var f Filter
	if start != nil {
		f = append(f, Gte(field, *start))
	}
	if end != nil {
		f = append(f, Lte(field, *end))
	}
	return f
}

// Match reports whether doc satisfies every term.
func (f Filter) Match(doc Document) bool {
	for _, c := range f {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c Cond) match(doc Document) bool {
	v, ok := Lookup(doc, c.Field)
	switch c.Op {
	case OpExists:
		want, _ := c.Value.(bool)
		return (ok && v != nil) == want
	case OpEq:
		return equalValues(v, c.Value)
	case OpNe:
		return !equalValues(v, c.Value)
	case OpIn:
		vals, _ := c.Value.([]any)
		for _, cand := range vals {
			if equalValues(v, cand) {
				return true
			}
		}
		return false
	case OpGte:
		cmp, ok := compareValues(v, c.Value)
		return ok && cmp >= 0
	case OpLte:
		cmp, ok := compareValues(v, c.Value)
		return ok && cmp <= 0
	}
	return false
}

// Lookup resolves a dotted path in doc.
func Lookup(doc Document, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// normalize maps values to the forms they take after a trip through the
// store: numbers to float64 and times to Unix milliseconds.
func normalize(v any) any {
	switch n := v.(type) {
	case time.Time:
		return float64(n.UnixMilli())
	case *time.Time:
		if n == nil {
			return nil
		}
		return float64(n.UnixMilli())
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func equalValues(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64, string, bool:
		return av == b
	}
	return false
}

// compareValues orders two values of the same scalar kind. ok is false
// when the values are not comparable.
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// less orders documents for Sort. Missing or incomparable values sort first.
func less(a, b Document, field string) bool {
	av, _ := Lookup(a, field)
	bv, _ := Lookup(b, field)
	if av == nil || bv == nil {
		return av == nil && bv != nil
	}
	cmp, ok := compareValues(av, bv)
	return ok && cmp < 0
}
