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
	"errors"
	"fmt"
)

// Sentinel errors for local validation failures. None of these involve any
// network I/O; they are rejected before a single byte is written.
var (
	// ErrConnClosed is returned when an operation is attempted on a Conn
	// that has been closed or has become broken.
	ErrConnClosed = errors.New("mapi: connection is closed")

	// ErrStaleResult is returned by FetchMore and Close on a result set
	// whose handle has been invalidated, either explicitly or by a newer
	// command on the same connection.
	ErrStaleResult = errors.New("mapi: stale result set handle")

	// ErrStatementReleased is returned when a released prepared statement
	// is executed or released again.
	ErrStatementReleased = errors.New("mapi: prepared statement already released")

	// ErrNoCommonHash is returned when the server's supported hash
	// algorithm list has no overlap with the client's preference order.
	// It is reported before any credential material is transmitted.
	ErrNoCommonHash = errors.New("mapi: no common password hash algorithm")

	// ErrAccessDenied is returned when the server rejects the login.
	ErrAccessDenied = errors.New("mapi: access denied")

	// ErrTooManyRedirects is returned when a login redirect chain exceeds
	// ConnParams.MaxRedirects.
	ErrTooManyRedirects = errors.New("mapi: too many redirects")
)

// ParamCountError reports a mismatch between a prepared statement's
// placeholder count and the number of bound values.
type ParamCountError struct {
	Want int
	Got  int
}

func (e *ParamCountError) Error() string {
	return fmt.Sprintf("mapi: statement expects %d parameters, got %d", e.Want, e.Got)
}

// ProtocolError reports malformed framing or response content. A
// ProtocolError is fatal to the connection that produced it.
type ProtocolError struct {
	Msg  string
	Line string // offending line or marker, when available
}

func (e *ProtocolError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("mapi: protocol error: %s (line %.80q)", e.Msg, e.Line)
	}
	return fmt.Sprintf("mapi: protocol error: %s", e.Msg)
}

func protocolErrorf(line string, format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Line: line}
}

// TransferError reports a failure of a caller-supplied file transfer source
// or sink. Whether the connection survives depends on where the failure
// happened; see Conn.IsClosed.
type TransferError struct {
	Filename string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("mapi: file transfer of %q failed: %v", e.Filename, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
