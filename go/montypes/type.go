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

// Package montypes implements the typed values exchanged with a MonetDB
// server: the mapping from the server's declared column types to Go values,
// decoding of result-set fields, and serialization of bound parameters as
// SQL literals.
package montypes

import "fmt"

// Type is the MonetDB column type as declared in result-set metadata.
type Type int

const (
	// Null is the type of the NULL value.
	Null Type = iota

	Boolean

	TinyInt
	SmallInt
	Int
	BigInt
	HugeInt
	Serial
	OID

	Real
	Double
	Decimal

	Char
	Varchar
	Clob
	URL
	Inet
	JSON
	UUID

	Blob

	Date
	Time
	TimeTz
	Timestamp
	TimestampTz

	SecInterval
	MonthInterval

	// Unknown is used for declared types this library does not recognize.
	// Values decode as raw text.
	Unknown
)

// typeNames maps the type names the server sends in "% ... # type" metadata
// lines to Type values.
var typeNames = map[string]Type{
	"boolean":        Boolean,
	"tinyint":        TinyInt,
	"smallint":       SmallInt,
	"int":            Int,
	"bigint":         BigInt,
	"hugeint":        HugeInt,
	"serial":         Serial,
	"oid":            OID,
	"real":           Real,
	"double":         Double,
	"decimal":        Decimal,
	"char":           Char,
	"varchar":        Varchar,
	"clob":           Clob,
	"url":            URL,
	"inet":           Inet,
	"json":           JSON,
	"uuid":           UUID,
	"blob":           Blob,
	"date":           Date,
	"time":           Time,
	"timetz":         TimeTz,
	"timestamp":      Timestamp,
	"timestamptz":    TimestampTz,
	"sec_interval":   SecInterval,
	"month_interval": MonthInterval,
}

var typeToName = func() map[Type]string {
	m := make(map[Type]string, len(typeNames))
	for name, t := range typeNames {
		m[t] = name
	}
	m[Null] = "null"
	m[Unknown] = "unknown"
	return m
}()

// ParseTypeName returns the Type for a declared type name. Unrecognized
// names map to Unknown rather than failing: the server may grow types this
// library has not heard of, and raw text is always a usable fallback.
func ParseTypeName(name string) Type {
	if t, ok := typeNames[name]; ok {
		return t
	}
	return Unknown
}

func (t Type) String() string {
	if name, ok := typeToName[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsIntegral reports whether t is an integer type.
func IsIntegral(t Type) bool {
	switch t {
	case TinyInt, SmallInt, Int, BigInt, HugeInt, Serial, OID:
		return true
	}
	return false
}

// IsFloat reports whether t is a floating point type.
func IsFloat(t Type) bool {
	return t == Real || t == Double
}

// IsQuoted reports whether values of t arrive double-quoted and escaped on
// the wire.
func IsQuoted(t Type) bool {
	switch t {
	case Char, Varchar, Clob, URL, Inet, JSON, UUID:
		return true
	}
	return false
}

// IsTemporal reports whether t is a date, time or timestamp type.
func IsTemporal(t Type) bool {
	switch t {
	case Date, Time, TimeTz, Timestamp, TimestampTz:
		return true
	}
	return false
}
