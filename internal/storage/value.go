package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindFloat:
		return "real"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a single SQL cell: NULL, a 64-bit integer, a float, or text.
// The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func Null() Value { return Value{} }
func Int(v int64) Value { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func Text(v string) Value { return Value{kind: KindText, s: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool encodes a predicate outcome the way SQL engines of the SQLite family
// do: 1 for true, 0 for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// IsNumeric reports whether v holds an integer or a float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Int64 returns the integer payload; floats are truncated (see FloatToInt),
// numeric text is parsed and anything else yields 0.
func (v Value) Int64() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return FloatToInt(v.f)
	case KindText:
		if n, ok := ParseNumber(v.s); ok {
			return n.Int64()
		}
	}
	return 0
}

// FloatToInt truncates f toward zero, saturating at the int64 range the way
// SQLite does. NaN converts to 0.
func FloatToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt64:
		return math.MinInt64
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

// Float64 returns the numeric payload as float64.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindFloat:
		return v.f
	case KindText:
		if n, ok := ParseNumber(v.s); ok {
			return n.Float64()
		}
	}
	return 0
}

// Str returns the text form of v without NULL decoration ("" for NULL).
func (v Value) Str() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	}
	return ""
}

// String renders v for display. NULL renders as "NULL".
func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return v.Str()
}

// Any converts v to a plain Go value (nil, int64, float64, string).
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	}
	return nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// MarshalJSON encodes NULL as null, numbers as JSON numbers and text as
// strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return json.Marshal(formatFloat(v.f))
		}
		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case KindText:
		return json.Marshal(v.s)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts null, numbers and strings. Numbers without a fraction
// or exponent decode as integers.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = Null()
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	if bytes.Equal(b, []byte("true")) || bytes.Equal(b, []byte("false")) {
		*v = Bool(b[0] == 't')
		return nil
	}
	n, ok := ParseNumber(string(b))
	if !ok {
		return fmt.Errorf("storage: cannot decode %s as a value", b)
	}
	*v = n
	return nil
}

// UnmarshalYAML lets lesson and fixture files spell values as plain YAML
// scalars.
func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	val, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromAny converts the plain Go values produced by decoders and database
// drivers into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t)), nil
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Text(string(t)), nil
	case fmt.Stringer:
		return Text(t.String()), nil
	}
	return Null(), fmt.Errorf("storage: unsupported value type %T", x)
}

// ParseNumber parses s as an integer or a float. Surrounding whitespace is
// ignored; anything else that is not a number fails.
func ParseNumber(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null(), false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "iInN") {
		return Float(f), true
	}
	return Null(), false
}

// Compare orders values: NULL first, then numbers (compared numerically across
// int and float), then text in byte order.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		if a.kind == KindInt && b.kind == KindInt {
			return cmpInt(a.i, b.i)
		}
		return cmpFloat(a.Float64(), b.Float64())
	}
	return strings.Compare(a.s, b.s)
}

// Equal reports whether a and b are the same value under Compare. NULL equals
// NULL here; SQL equality semantics live in the engine.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// Identical is stricter than Equal: the kinds must match too, so Int(1) and
// Float(1) differ.
func Identical(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	return Compare(a, b) == 0
}

func rank(v Value) int64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindInt, KindFloat:
		return 1
	}
	return 2
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Key returns a string that is equal for values that compare equal, suitable
// for hash-based grouping and DISTINCT.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "n"
	case KindInt:
		return "#" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<62 {
			return "#" + strconv.FormatInt(int64(v.f), 10)
		}
		return "#" + strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return "'" + v.s
}

// RowKey joins the keys of a tuple.
func RowKey(row []Value) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(v.Key())
	}
	return b.String()
}
