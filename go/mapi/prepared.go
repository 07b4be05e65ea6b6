/*
Copyright 2024 The Monetgo Authors.

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
	"fmt"
	"strconv"

	"monetgo.io/monetgo/go/montypes"
)

// PreparedStatement is a server-side statement handle. It stays valid on
// its connection until explicitly released or the connection closes;
// unlike result handles it survives other commands on the connection.
type PreparedStatement struct {
	conn  *Conn
	id    int
	query string

	// ResultFields describes the columns an execution will return,
	// empty for statements without a result set.
	ResultFields []*Field

	// Params describes every placeholder of the statement, in order.
	Params []*Field

	released bool
}

// ID returns the server-side statement identifier.
func (s *PreparedStatement) ID() int {
	return s.id
}

// Query returns the statement text as it was prepared.
func (s *PreparedStatement) Query() string {
	return s.query
}

// Prepare compiles a statement on the server and returns its handle. The
// server's description rows carry both the future result columns and the
// parameter placeholders; a placeholder row is recognized by its null
// column name.
func (c *Conn) Prepare(query string) (*PreparedStatement, error) {
	if c.state != stateReady {
		return nil, ErrConnClosed
	}
	c.invalidateResults()
	resp, err := c.cmd(c.frameQuery("PREPARE " + query))
	if err != nil {
		return nil, err
	}
	results, err := c.parseResponse(resp, nil)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 || results[0].Kind != KindPrepare {
		return nil, c.markBroken(protocolErrorf("", "prepare did not return a statement description"))
	}
	desc := results[0]
	stmt := &PreparedStatement{conn: c, id: desc.handle, query: query}
	for _, row := range desc.Rows {
		f, isParam, err := descriptionField(row)
		if err != nil {
			return nil, c.markBroken(err)
		}
		if isParam {
			stmt.Params = append(stmt.Params, f)
		} else {
			stmt.ResultFields = append(stmt.ResultFields, f)
		}
	}
	c.openStmts[stmt.id] = stmt
	return stmt, nil
}

// descriptionField decodes one row of a statement description:
// type, digits, scale, schema, table, column.
func descriptionField(row []montypes.Value) (*Field, bool, error) {
	if len(row) < 6 {
		return nil, false, protocolErrorf("", "statement description row with %d fields", len(row))
	}
	digits, err := row[1].ToInt64()
	if err != nil {
		return nil, false, protocolErrorf("", "bad digits in statement description: %v", err)
	}
	scale, err := row[2].ToInt64()
	if err != nil {
		return nil, false, protocolErrorf("", "bad scale in statement description: %v", err)
	}
	typeName := row[0].ToString()
	f := &Field{
		Name:     row[5].ToString(),
		Table:    row[4].ToString(),
		TypeName: typeName,
		Type:     montypes.ParseTypeName(typeName),
		Digits:   int(digits),
		Scale:    int(scale),
	}
	return f, row[5].IsNull(), nil
}

// Execute runs the prepared statement with the given parameter values.
// An arity mismatch fails locally with *ParamCountError before any bytes
// reach the server.
func (s *PreparedStatement) Execute(args ...montypes.Value) (*Result, error) {
	c := s.conn
	if c.state != stateReady {
		return nil, ErrConnClosed
	}
	if s.released {
		return nil, ErrStatementReleased
	}
	if len(args) != len(s.Params) {
		return nil, &ParamCountError{Want: len(s.Params), Got: len(args)}
	}
	buf := make([]byte, 0, 32+16*len(args))
	buf = append(buf, "EXEC "...)
	buf = strconv.AppendInt(buf, int64(s.id), 10)
	buf = append(buf, '(')
	for i, arg := range args {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = montypes.EncodeLiteral(buf, arg)
	}
	buf = append(buf, ')')
	return c.Execute(string(buf))
}

// Release frees the server-side handle. Further executions fail with
// ErrStatementReleased; releasing twice is a no-op.
func (s *PreparedStatement) Release() error {
	if s.released {
		return nil
	}
	c := s.conn
	s.released = true
	delete(c.openStmts, s.id)
	if c.state != stateReady {
		return ErrConnClosed
	}
	if _, err := c.exec(fmt.Sprintf("Xrelease %d", s.id)); err != nil {
		return err
	}
	return nil
}
