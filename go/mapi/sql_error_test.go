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

package mapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewServerErrorFromLine(t *testing.T) {
	tests := []struct {
		line     string
		code     string
		contains string
	}{{
		line:     "42S02!SELECT: no such table 'foo'",
		code:     "42S02",
		contains: "no such table",
	}, {
		line:     "40002!INSERT INTO: UNIQUE constraint violated",
		code:     "40002",
		contains: "UNIQUE constraint",
	}, {
		line:     "SQLException:sql.execute:42S02!SELECT: no such table 'foo'",
		code:     "42S02",
		contains: "no such table",
	}, {
		// No state code at all.
		line:     "syntax error in: \"selectt\"",
		code:     "",
		contains: "syntax error",
	}, {
		// Something that looks nothing like a code must not be eaten.
		line:     "oops!everything is broken",
		code:     "",
		contains: "oops!everything",
	}}
	for _, tc := range tests {
		se := newServerErrorFromLine(tc.line)
		assert.Equal(t, tc.code, se.Code, "line %q", tc.line)
		assert.Contains(t, se.Message, tc.contains, "line %q", tc.line)
	}
}

func TestServerErrorFromResponse(t *testing.T) {
	se := serverErrorFromResponse("!42S02!no such table 'a'\n!40000!FK violated\n")
	assert.Equal(t, "42S02", se.Code)
	assert.Contains(t, se.Message, "no such table")
	assert.Contains(t, se.Message, "FK violated")
}

func TestServerErrorString(t *testing.T) {
	se := NewServerError(codeNoSuchTable, "SELECT: no such table '%s'", "foo")
	assert.Equal(t, "SELECT: no such table 'foo' (code 42S02)", se.Error())

	se.Query = "SELECT * FROM foo"
	assert.Contains(t, se.Error(), "during query: SELECT * FROM foo")

	// Huge queries are truncated, not dumped.
	se.Query = strings.Repeat("x", 10000)
	assert.Less(t, len(se.Error()), 1000)
	assert.Contains(t, se.Error(), "[truncated]")
}

func TestIsIntegrity(t *testing.T) {
	assert.True(t, NewServerError(codeUniqueViolated, "dup").IsIntegrity())
	assert.True(t, NewServerError(codeFKViolated, "fk").IsIntegrity())
	assert.True(t, NewServerError(codeCommitFailed, "commit").IsIntegrity())
	assert.True(t, NewServerError(codeLegacyConstraint, "old").IsIntegrity())
	assert.False(t, NewServerError(codeNoSuchTable, "missing").IsIntegrity())
	assert.False(t, NewServerError("", "whatever").IsIntegrity())
}
