// Package query implements the boolean filter/update expression language
// that the dispatch engine runs against a task's args and metadata
// documents: worker-side required_fields/extra_filter matching at fetch
// time, and admin-side ls/bulk-update filtering. The matcher is pure — it
// takes document.Value trees and returns booleans or new trees, nothing
// else.
package query

import (
	"fmt"

	"github.com/infinity086/labtasker/internal/document"
)

// Op identifies a comparison or existence test at a leaf of the filter tree.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpExists Op = "exists"
)

// Filter is a compiled, evaluable predicate over a document.Value.
type Filter interface {
	Match(doc document.Value) bool
}

// Compile parses a filter expression (itself a document.Value, built the
// same dotted-path-and-JSON-literal way as task args) into an evaluable
// Filter tree.
//
// Leaf form:   {"path": "args.lr", "op": "eq", "value": 0.1}
// Existence:   {"path": "args.batch", "op": "exists"}
// Logical:     {"and": [...]}  {"or": [...]}  {"not": {...}}
//
// An empty or null expression matches everything; this is the "no filter
// supplied" case used by fetch-next and ls when extra_filter is omitted.
func Compile(expr document.Value) (Filter, error) {
	if expr.IsNull() {
		return matchAll{}, nil
	}
	obj, ok := expr.AsObject()
	if !ok {
		return nil, fmt.Errorf("query: filter expression must be an object, got %s", expr.Kind())
	}

	if sub, ok := obj["and"]; ok {
		return compileLogical(sub, func(fs []Filter) Filter { return andFilter(fs) })
	}
	if sub, ok := obj["or"]; ok {
		return compileLogical(sub, func(fs []Filter) Filter { return orFilter(fs) })
	}
	if sub, ok := obj["not"]; ok {
		inner, err := Compile(sub)
		if err != nil {
			return nil, err
		}
		return notFilter{inner}, nil
	}

	pathVal, ok := obj["path"]
	if !ok {
		return nil, fmt.Errorf("query: leaf filter missing \"path\"")
	}
	path, ok := pathVal.AsString()
	if !ok {
		return nil, fmt.Errorf("query: \"path\" must be a string")
	}
	opVal, ok := obj["op"]
	if !ok {
		return nil, fmt.Errorf("query: leaf filter missing \"op\"")
	}
	opStr, ok := opVal.AsString()
	if !ok {
		return nil, fmt.Errorf("query: \"op\" must be a string")
	}
	op := Op(opStr)

	if op == OpExists {
		return existsFilter{path: path}, nil
	}

	value, hasValue := obj["value"]
	if op == OpIn {
		arr, ok := value.AsArray()
		if !ok {
			return nil, fmt.Errorf("query: op \"in\" requires an array \"value\"")
		}
		return inFilter{path: path, values: arr}, nil
	}
	if !hasValue {
		return nil, fmt.Errorf("query: op %q requires \"value\"", op)
	}
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return compareFilter{path: path, op: op, value: value}, nil
	default:
		return nil, fmt.Errorf("query: unknown op %q", op)
	}
}

func compileLogical(expr document.Value, build func([]Filter) Filter) (Filter, error) {
	arr, ok := expr.AsArray()
	if !ok {
		return nil, fmt.Errorf("query: \"and\"/\"or\" requires an array")
	}
	filters := make([]Filter, 0, len(arr))
	for _, e := range arr {
		f, err := Compile(e)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return build(filters), nil
}

type matchAll struct{}

func (matchAll) Match(document.Value) bool { return true }

type andFilter []Filter

func (fs andFilter) Match(doc document.Value) bool {
	for _, f := range fs {
		if !f.Match(doc) {
			return false
		}
	}
	return true
}

type orFilter []Filter

func (fs orFilter) Match(doc document.Value) bool {
	if len(fs) == 0 {
		return false
	}
	for _, f := range fs {
		if f.Match(doc) {
			return true
		}
	}
	return false
}

type notFilter struct{ inner Filter }

func (n notFilter) Match(doc document.Value) bool { return !n.inner.Match(doc) }

type existsFilter struct{ path string }

func (e existsFilter) Match(doc document.Value) bool { return doc.Has(e.path) }

// compareFilter handles eq/ne/gt/gte/lt/lte. Missing paths never match any
// comparison, including ne — per spec.md §4.1, "comparisons against
// missing paths are false".
type compareFilter struct {
	path  string
	op    Op
	value document.Value
}

func (c compareFilter) Match(doc document.Value) bool {
	got, ok := doc.Get(c.path)
	if !ok {
		return false
	}
	switch c.op {
	case OpEq:
		return document.Equal(got, c.value)
	case OpNe:
		return !document.Equal(got, c.value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(got, c.value, c.op)
	default:
		return false
	}
}

func compareOrdered(a, b document.Value, op Op) bool {
	if an, ok := a.AsNumber(); ok {
		if bn, ok := b.AsNumber(); ok {
			switch op {
			case OpGt:
				return an > bn
			case OpGte:
				return an >= bn
			case OpLt:
				return an < bn
			case OpLte:
				return an <= bn
			}
		}
		return false
	}
	if as, ok := a.AsString(); ok {
		if bs, ok := b.AsString(); ok {
			switch op {
			case OpGt:
				return as > bs
			case OpGte:
				return as >= bs
			case OpLt:
				return as < bs
			case OpLte:
				return as <= bs
			}
		}
		return false
	}
	return false
}

type inFilter struct {
	path   string
	values []document.Value
}

func (in inFilter) Match(doc document.Value) bool {
	got, ok := doc.Get(in.path)
	if !ok {
		return false
	}
	for _, v := range in.values {
		if document.Equal(got, v) {
			return true
		}
	}
	return false
}

// RequireFields reports whether every dotted path in fields resolves to a
// non-null value within doc. Used by fetch-next's required_fields check.
func RequireFields(doc document.Value, fields []string) bool {
	for _, f := range fields {
		if !doc.Has(f) {
			return false
		}
	}
	return true
}
