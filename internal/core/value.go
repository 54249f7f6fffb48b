package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which member of the Value union is set.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "null"
	}
}

// ParseKind converts a kind name ("string", "number", ...) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text":
		return KindString, true
	case "number", "numeric":
		return KindNumber, true
	case "bool", "boolean":
		return KindBool, true
	case "time", "date", "datetime":
		return KindTime, true
	case "null":
		return KindNull, true
	}
	return KindNull, false
}

// Value is a single cell: a closed union of string, number, bool, time or null.
// The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// NumberValue wraps a float64.
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// TimeValue wraps a time.Time.
func TimeValue(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind returns the member of the union that is set.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v is null or a whitespace-only string.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.s) == ""
	}
	return false
}

// Str returns the string member and whether v is a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the number member and whether v is a number.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Bool returns the bool member and whether v is a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Time returns the time member and whether v is a time.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

// String returns the raw textual form of v. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Float coerces v to a finite number. Strings go through ParseNumber.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return 0, false
		}
		return v.n, true
	case KindString:
		n, _, ok := ParseNumber(v.s)
		return n, ok
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Instant coerces v to a calendar instant. Strings go through ParseDate.
func (v Value) Instant() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, !v.t.IsZero()
	case KindString:
		t, _, ok := ParseDate(v.s)
		return t, ok
	}
	return time.Time{}, false
}

// Coerce converts v to the requested kind. Values that cannot be converted
// are returned unchanged with ok=false; empty values become null.
func (v Value) Coerce(k Kind) (Value, bool) {
	if v.IsEmpty() {
		return Null(), true
	}
	if v.kind == k {
		return v, true
	}
	switch k {
	case KindString:
		return StringValue(v.String()), true
	case KindNumber:
		if n, ok := v.Float(); ok {
			return NumberValue(n), true
		}
	case KindBool:
		if s, isStr := v.Str(); isStr {
			if b, ok := ParseBool(s); ok {
				return BoolValue(b), true
			}
		}
	case KindTime:
		if t, ok := v.Instant(); ok {
			return TimeValue(t), true
		}
	}
	return v, false
}

// Equal reports whether a and b hold the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return true
}

// MarshalJSON encodes the natural JSON form: string, number, bool, RFC 3339
// string for times, and null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t.UTC().Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. RFC 3339 strings become times.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromAny converts a decoded Go scalar into a Value. RFC 3339 strings are
// treated as instants.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return TimeValue(ts), nil
		}
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return NumberValue(float64(t)), nil
	case int32:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return NumberValue(n), nil
	case bool:
		return BoolValue(t), nil
	case time.Time:
		return TimeValue(t), nil
	case Value:
		return t, nil
	}
	return Null(), fmt.Errorf("unsupported value type %T", x)
}

// Record is one row keyed by field name.
type Record map[string]Value

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the value for field, or null when absent.
func (r Record) Get(field string) Value {
	if v, ok := r[field]; ok {
		return v
	}
	return Null()
}

// Project returns a record holding only the named fields, in which absent
// fields are null. An empty field list returns a clone.
func (r Record) Project(fields []string) Record {
	if len(fields) == 0 {
		return r.Clone()
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		out[f] = r.Get(f)
	}
	return out
}

// ProjectWith is Project that also keeps every field attached for one of the
// included entity types.
func (r Record) ProjectWith(fields, include []string) Record {
	out := r.Project(fields)
	if len(fields) == 0 {
		return out
	}
	for k, v := range r {
		if IncludedField(k, include) {
			out[k] = v
		}
	}
	return out
}

// IncludedField reports whether field was attached for an included entity,
// which prefixes it with "<type>.".
func IncludedField(field string, include []string) bool {
	for _, typ := range include {
		if strings.HasPrefix(field, typ+".") {
			return true
		}
	}
	return false
}

// Row is a decoded data row with its human-facing row number: the 0-based
// data index plus 2, accounting for the header row and 1-based numbering.
type Row struct {
	Index  int    `json:"index"`
	Fields Record `json:"fields"`
}

// Float returns a pointer to f, for optional rule bounds.
func Float(f float64) *float64 { return &f }
