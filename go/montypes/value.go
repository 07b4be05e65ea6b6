/*
Copyright 2023 The Monetgo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package montypes

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// nullToken is the distinguished wire representation of NULL. It is sent
// bare, never quoted, so it cannot collide with the string "NULL".
const nullToken = "NULL"

// Value is a single typed field of a result set. It keeps the decoded wire
// bytes plus the column type and converts on demand, so that a NULL integer
// stays distinguishable from zero and a huge decimal survives untouched.
type Value struct {
	typ Type
	val []byte
}

// NULL is the null Value.
var NULL = Value{}

// MakeTrusted builds a Value without validation. The caller vouches that
// val is a correct representation for typ. NULL must be represented by
// typ == Null and a nil val.
func MakeTrusted(typ Type, val []byte) Value {
	if typ == Null {
		return NULL
	}
	return Value{typ: typ, val: val}
}

// NewInt64 builds an int64 Value.
func NewInt64(v int64) Value {
	return MakeTrusted(BigInt, strconv.AppendInt(nil, v, 10))
}

// NewFloat64 builds a float64 Value.
func NewFloat64(v float64) Value {
	return MakeTrusted(Double, strconv.AppendFloat(nil, v, 'g', -1, 64))
}

// NewBoolean builds a boolean Value.
func NewBoolean(v bool) Value {
	if v {
		return MakeTrusted(Boolean, []byte("true"))
	}
	return MakeTrusted(Boolean, []byte("false"))
}

// NewVarChar builds a varchar Value.
func NewVarChar(v string) Value {
	return MakeTrusted(Varchar, []byte(v))
}

// NewBlob builds a blob Value holding raw bytes.
func NewBlob(v []byte) Value {
	return MakeTrusted(Blob, v)
}

// NewTimestamp builds a timestamp Value in the wire text format.
func NewTimestamp(t time.Time) Value {
	return MakeTrusted(Timestamp, []byte(t.Format("2006-01-02 15:04:05.999999")))
}

// InterfaceToValue converts a native Go value into a Value. It supports the
// types a caller can reasonably bind as a query parameter.
func InterfaceToValue(goval any) (Value, error) {
	switch goval := goval.(type) {
	case nil:
		return NULL, nil
	case bool:
		return NewBoolean(goval), nil
	case int:
		return NewInt64(int64(goval)), nil
	case int32:
		return NewInt64(int64(goval)), nil
	case int64:
		return NewInt64(goval), nil
	case float32:
		return NewFloat64(float64(goval)), nil
	case float64:
		return NewFloat64(goval), nil
	case string:
		return NewVarChar(goval), nil
	case []byte:
		return NewBlob(goval), nil
	case time.Time:
		return NewTimestamp(goval), nil
	case Value:
		return goval, nil
	default:
		return NULL, fmt.Errorf("unexpected type %T: %v", goval, goval)
	}
}

// DecodeField converts the raw wire text of one result-set field into a
// Value according to the column type. The input is the field exactly as it
// appeared between the tuple separators, surrounding whitespace already
// trimmed by the caller.
func DecodeField(raw []byte, typ Type) (Value, error) {
	if string(raw) == nullToken {
		return NULL, nil
	}
	switch {
	case IsQuoted(typ):
		s, err := unescape(raw)
		if err != nil {
			return NULL, err
		}
		return MakeTrusted(typ, s), nil
	case typ == Blob:
		b, err := hex.DecodeString(string(raw))
		if err != nil {
			return NULL, fmt.Errorf("bad blob field %q: %v", raw, err)
		}
		return MakeTrusted(typ, b), nil
	default:
		// Numeric, boolean, temporal and unknown types travel bare;
		// conversion is deferred to the accessors.
		out := make([]byte, len(raw))
		copy(out, raw)
		return MakeTrusted(typ, out), nil
	}
}

// Type returns the column type of the value.
func (v Value) Type() Type {
	return v.typ
}

// IsNull reports whether the value is the distinguished null marker.
func (v Value) IsNull() bool {
	return v.typ == Null
}

// Raw returns the internal representation. Callers must not modify it.
func (v Value) Raw() []byte {
	return v.val
}

// ToString returns the value as a string. The null value returns "".
func (v Value) ToString() string {
	return string(v.val)
}

// ToBytes returns the raw bytes; for Blob values these are the decoded
// binary contents.
func (v Value) ToBytes() ([]byte, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("cannot convert NULL to bytes")
	}
	return v.val, nil
}

// ToInt64 converts the value to an int64.
func (v Value) ToInt64() (int64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("cannot convert NULL to int64")
	}
	return strconv.ParseInt(string(v.val), 10, 64)
}

// ToFloat64 converts the value to a float64. Decimal columns convert with
// the usual binary float caveats; use ToString to keep full precision.
func (v Value) ToFloat64() (float64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("cannot convert NULL to float64")
	}
	return strconv.ParseFloat(string(v.val), 64)
}

// ToBool converts the value to a bool.
func (v Value) ToBool() (bool, error) {
	if v.IsNull() {
		return false, fmt.Errorf("cannot convert NULL to bool")
	}
	switch string(v.val) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("bad boolean field %q", v.val)
}

// Temporal wire layouts. Fractional seconds are optional on the wire, which
// ".999999" matches.
var timeLayouts = map[Type][]string{
	Date:        {"2006-01-02"},
	Time:        {"15:04:05.999999"},
	TimeTz:      {"15:04:05.999999-07:00", "15:04:05.999999-0700"},
	Timestamp:   {"2006-01-02 15:04:05.999999"},
	TimestampTz: {"2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05.999999-0700"},
}

// ToTime converts a temporal value to a time.Time. Types without a zone are
// interpreted in UTC.
func (v Value) ToTime() (time.Time, error) {
	if v.IsNull() {
		return time.Time{}, fmt.Errorf("cannot convert NULL to time.Time")
	}
	layouts, ok := timeLayouts[v.typ]
	if !ok {
		return time.Time{}, fmt.Errorf("%v value %q is not temporal", v.typ, v.val)
	}
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, string(v.val))
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// String returns a printable version of the value for diagnostics.
func (v Value) String() string {
	if v.IsNull() {
		return nullToken
	}
	if IsQuoted(v.typ) || v.typ == Blob {
		return fmt.Sprintf("%v(%q)", v.typ, v.val)
	}
	return fmt.Sprintf("%v(%s)", v.typ, v.val)
}

// unescape decodes a double-quoted, backslash-escaped wire string.
func unescape(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return nil, fmt.Errorf("bad quoted field %q", raw)
	}
	raw = raw[1 : len(raw)-1]
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return nil, fmt.Errorf("trailing backslash in field %q", raw)
		}
		switch e := raw[i]; e {
		case '\\', '"', '\'':
			out = append(out, e)
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case 'f':
			out = append(out, '\f')
		case 'b':
			out = append(out, '\b')
		case 'x':
			if i+2 >= len(raw) {
				return nil, fmt.Errorf("short hex escape in field %q", raw)
			}
			b, err := strconv.ParseUint(string(raw[i+1:i+3]), 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad hex escape in field %q", raw)
			}
			out = append(out, byte(b))
			i += 2
		case '0', '1', '2', '3':
			// Up to three octal digits.
			if i+2 >= len(raw) {
				return nil, fmt.Errorf("short octal escape in field %q", raw)
			}
			b, err := strconv.ParseUint(string(raw[i:i+3]), 8, 8)
			if err != nil {
				return nil, fmt.Errorf("bad octal escape in field %q", raw)
			}
			out = append(out, byte(b))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c in field %q", e, raw)
		}
	}
	return out, nil
}
