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
	"fmt"

	"monetgo.io/monetgo/go/montypes"
)

// QueryKind classifies what a result header announced.
type QueryKind int

const (
	// KindNone is a response with no result header (e.g. a bare OK).
	KindNone QueryKind = iota
	// KindTable is a row-returning result with a pageable handle.
	KindTable
	// KindUpdate is an update count.
	KindUpdate
	// KindSchema is a schema change with no payload.
	KindSchema
	// KindTransaction is a transaction status change.
	KindTransaction
	// KindPrepare describes a freshly prepared statement.
	KindPrepare
)

// Field describes one column of a result set, in declaration order.
type Field struct {
	Name  string
	Table string

	// TypeName is the type exactly as the server declared it; Type is
	// its decoded form, montypes.Unknown when unrecognized.
	TypeName string
	Type     montypes.Type

	// DisplaySize is the width hint from the metadata.
	DisplaySize int

	// Digits and Scale are populated from prepared statement
	// descriptions and zero elsewhere.
	Digits int
	Scale  int
}

// Result is the decoded output of one statement. Multi-statement commands
// produce several Results, in arrival order.
//
// A row-returning Result holds a server-side handle. The handle stays
// fetchable until the Result is closed or a newer command on the owning
// connection invalidates it.
type Result struct {
	conn *Conn

	Kind QueryKind

	// Fields holds the column descriptors, nil for results without rows.
	Fields []*Field

	// Rows is the first window of rows. When TotalRows exceeds
	// len(Rows), the remainder is fetched with Conn.FetchMore.
	Rows [][]montypes.Value

	// TotalRows is the declared total row count of the result.
	TotalRows int64

	// RowsAffected and LastInsertID are populated for KindUpdate.
	RowsAffected int64
	LastInsertID int64

	// Info carries uninterpreted header payload, e.g. the transaction
	// status flag.
	Info string

	handle int
	stale  bool
	closed bool
}

// Handle returns the server-side result identifier, or -1 when the result
// has none.
func (r *Result) Handle() int {
	return r.handle
}

// Complete reports whether all declared rows are present in Rows.
func (r *Result) Complete() bool {
	return int64(len(r.Rows)) >= r.TotalRows
}

// current reports whether the handle is still valid on its connection.
func (r *Result) current() bool {
	if r.conn == nil || r.stale || r.closed || r.handle < 0 {
		return false
	}
	return r.conn.openResults[r.handle] == r
}

// FetchMore retrieves a window of rows from a row-returning result whose
// handle is still open. Windows may be requested repeatedly and out of
// order. A stale or closed result fails locally with ErrStaleResult before
// any network I/O.
func (c *Conn) FetchMore(r *Result, offset, amount int64) ([][]montypes.Value, error) {
	if c.state != stateReady {
		return nil, ErrConnClosed
	}
	if !r.current() {
		return nil, ErrStaleResult
	}
	resp, err := c.cmd(fmt.Sprintf("Xexport %d %d %d", r.handle, offset, amount))
	if err != nil {
		return nil, err
	}
	window := &Result{conn: c, Kind: KindTable, handle: r.handle, Fields: r.Fields}
	if _, err := c.parseResponse(resp, window); err != nil {
		return nil, err
	}
	return window.Rows, nil
}

// Close releases the server-side handle. Closing a result that was already
// invalidated by a newer command is a no-op: its server side is gone from
// this client's point of view.
func (r *Result) Close() error {
	if !r.current() {
		return nil
	}
	c := r.conn
	if c.state != stateReady {
		return ErrConnClosed
	}
	r.closed = true
	r.stale = true
	delete(c.openResults, r.handle)
	if _, err := c.exec(fmt.Sprintf("Xclose %d", r.handle)); err != nil {
		return err
	}
	return nil
}
