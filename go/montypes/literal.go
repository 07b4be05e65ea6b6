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
	"strings"
)

// EncodeLiteral appends the SQL literal form of v to buf and returns the
// result. This is how bound parameters travel: the protocol has no binary
// bind format, EXEC statements carry literals.
func EncodeLiteral(buf []byte, v Value) []byte {
	switch {
	case v.IsNull():
		return append(buf, nullToken...)
	case v.typ == Boolean || IsIntegral(v.typ) || IsFloat(v.typ) || v.typ == Decimal:
		return append(buf, v.val...)
	case v.typ == Blob:
		buf = append(buf, "blob '"...)
		buf = append(buf, strings.ToUpper(hex.EncodeToString(v.val))...)
		return append(buf, '\'')
	case IsTemporal(v.typ):
		buf = append(buf, v.typ.String()...)
		buf = append(buf, " '"...)
		buf = append(buf, v.val...)
		return append(buf, '\'')
	default:
		return appendQuoted(buf, v.val)
	}
}

// appendQuoted appends a single-quoted string literal, escaping backslashes
// and quotes the way the server expects.
func appendQuoted(buf, val []byte) []byte {
	buf = append(buf, '\'')
	for _, c := range val {
		switch c {
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\'':
			buf = append(buf, '\\', '\'')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, '\'')
}
