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
	"bytes"
	"fmt"
	"strings"
)

// ServerError is an error reported by the server in a '!' response line.
// It does not invalidate the connection: the next command may proceed.
type ServerError struct {
	// Code is the five-character state code prefixed to the error text,
	// or empty when the server sent none.
	Code    string
	Message string
	// Query is the command that triggered the error, when known.
	Query string
}

// NewServerError creates a new ServerError.
func NewServerError(code string, format string, args ...any) *ServerError {
	return &ServerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (se *ServerError) Error() string {
	buf := &bytes.Buffer{}
	buf.WriteString(se.Message)

	if se.Code != "" {
		fmt.Fprintf(buf, " (code %v)", se.Code)
	}

	if se.Query != "" {
		fmt.Fprintf(buf, " during query: %s", truncateForLog(se.Query))
	}

	return buf.String()
}

// State codes the server is known to use. Anything else is treated as a
// generic operational error.
const (
	codeNoSuchTable      = "42S02"
	codeUniqueViolated   = "40002"
	codeCommitFailed     = "2D000"
	codeFKViolated       = "40000"
	codeLegacyConstraint = "M0M29" // emitted before Jun2020 releases
)

var integrityCodes = map[string]bool{
	codeUniqueViolated:   true,
	codeCommitFailed:     true,
	codeFKViolated:       true,
	codeLegacyConstraint: true,
}

// IsIntegrity reports whether the error is a constraint or transaction
// integrity violation.
func (se *ServerError) IsIntegrity() bool {
	return integrityCodes[se.Code]
}

// newServerErrorFromLine parses the text after a '!' marker. The server
// usually prefixes a five-character state code terminated by another '!';
// some paths wrap the whole thing in a "SQLException:id:" envelope first.
func newServerErrorFromLine(line string) *ServerError {
	if rest, ok := strings.CutPrefix(line, "SQLException:"); ok {
		if idx := strings.IndexByte(rest, ':'); idx >= 0 {
			line = rest[idx+1:]
		}
	}
	if len(line) > 6 && line[5] == '!' && isStateCode(line[:5]) {
		return &ServerError{Code: line[:5], Message: line[6:]}
	}
	// Older servers put the code directly in front of the message.
	if len(line) > 5 && isStateCode(line[:5]) && (integrityCodes[line[:5]] || line[:5] == codeNoSuchTable) {
		return &ServerError{Code: line[:5], Message: line}
	}
	return &ServerError{Message: line}
}

func isStateCode(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return len(s) == 5
}

// truncateForLog keeps error strings readable when the offending query is
// large.
func truncateForLog(query string) string {
	const max = 256
	if len(query) <= max {
		return query
	}
	return query[:max] + " [truncated]"
}
