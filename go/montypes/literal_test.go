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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeLiteral(t *testing.T) {
	testcases := []struct {
		in  Value
		out string
	}{{
		in:  NULL,
		out: "NULL",
	}, {
		in:  NewInt64(-42),
		out: "-42",
	}, {
		in:  NewFloat64(2.5),
		out: "2.5",
	}, {
		in:  NewBoolean(true),
		out: "true",
	}, {
		in:  NewVarChar("plain"),
		out: "'plain'",
	}, {
		in:  NewVarChar(`it's a \ path`),
		out: `'it\'s a \\ path'`,
	}, {
		in:  NewVarChar("line\nbreak\ttab"),
		out: `'line\nbreak\ttab'`,
	}, {
		in:  NewBlob([]byte{0x0a, 0xff}),
		out: "blob '0AFF'",
	}, {
		in:  MakeTrusted(Date, []byte("2015-02-14")),
		out: "date '2015-02-14'",
	}, {
		in:  MakeTrusted(Timestamp, []byte("2015-02-14 20:50:55")),
		out: "timestamp '2015-02-14 20:50:55'",
	}, {
		in:  MakeTrusted(Decimal, []byte("123.456")),
		out: "123.456",
	}}
	for _, tcase := range testcases {
		got := EncodeLiteral(nil, tcase.in)
		assert.Equal(t, tcase.out, string(got), "EncodeLiteral(%v)", tcase.in)
	}
}
