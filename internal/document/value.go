// Package document implements the tagged value tree used for task args and
// metadata: null, bool, number, string, array, and object, traversable by
// dotted field paths. args and metadata never flow through the engine as a
// bare map[string]interface{} — every access goes through Value so the
// query matcher (internal/query) can traverse and compare without type
// assertions scattered across the codebase.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which alternative of the tagged union a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable JSON-like value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Number wraps a float64. All JSON numbers are represented this way.
func Number(v float64) Value { return Value{kind: KindNumber, n: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Array wraps a slice of values. The slice is copied defensively.
func Array(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindArray, arr: cp}
}

// Object wraps a string-keyed map of values. The map is copied defensively.
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// Kind reports the value's alternative.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null (including the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload, if v is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload, if v is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsString returns the string payload, if v is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the element slice, if v is an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the field map, if v is an object.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Get traverses a dotted field path (e.g. "args.lr") through nested
// objects. It returns (Null, false) if any segment is missing or the
// traversal hits a non-object before the path is exhausted.
func (v Value) Get(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.AsObject()
		if !ok {
			return Null(), false
		}
		next, ok := obj[seg]
		if !ok {
			return Null(), false
		}
		cur = next
	}
	return cur, true
}

// Has reports whether the dotted path resolves to a non-null value.
func (v Value) Has(path string) bool {
	val, ok := v.Get(path)
	return ok && !val.IsNull()
}

// Set returns a new tree with the dotted path set to val, leaving sibling
// fields undisturbed. Intermediate objects are created as needed; if an
// intermediate segment exists but is not an object, it is replaced.
func (v Value) Set(path string, val Value) Value {
	if path == "" {
		return val
	}
	segs := strings.Split(path, ".")
	return setRec(v, segs, val)
}

func setRec(v Value, segs []string, val Value) Value {
	head, rest := segs[0], segs[1:]
	obj, ok := v.AsObject()
	if !ok {
		obj = map[string]Value{}
	}
	next := map[string]Value{}
	for k, vv := range obj {
		next[k] = vv
	}
	if len(rest) == 0 {
		next[head] = val
	} else {
		child := next[head]
		next[head] = setRec(child, rest, val)
	}
	return Object(next)
}

// Merge returns a new object with every dotted path in updates applied on
// top of v, without disturbing sibling fields. It is the primitive behind
// partial document updates (admin update-task, bulk update).
func Merge(v Value, updates map[string]Value) Value {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := v
	for _, k := range keys {
		out = out.Set(k, updates[k])
	}
	return out
}

// Equal reports deep structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromAny converts a decoded interface{} (as produced by encoding/json
// into `any`) into a Value tree.
func FromAny(in interface{}) Value {
	switch x := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case json.Number:
		f, _ := x.Float64()
		return Number(f)
	case string:
		return String(x)
	case []interface{}:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = FromAny(e)
		}
		return Array(vs...)
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Object(m)
	default:
		return Null()
	}
}

// ToAny converts a Value tree back into plain interface{} form, suitable
// for embedding in another JSON document.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("document: decode value: %w", err)
	}
	*v = FromAny(raw)
	return nil
}

// String renders the value as compact JSON, for logging.
func (v Value) String() string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<invalid document.Value>"
	}
	return string(b)
}
