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
	"strconv"
	"strings"

	"monetgo.io/monetgo/go/log"
	"monetgo.io/monetgo/go/montypes"
)

// Execute runs one statement and returns its single result. A statement
// that produces several results (or none) is an error; use ExecuteMulti
// for those.
func (c *Conn) Execute(query string) (*Result, error) {
	results, err := c.ExecuteMulti(query)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, protocolErrorf("", "statement produced no result")
	case 1:
		return results[0], nil
	}
	return nil, protocolErrorf("", "statement produced %d results, expected one", len(results))
}

// ExecuteMulti runs a command that may contain several statements and
// returns every result in arrival order. Issuing a new command invalidates
// the handles of all result sets still open on this connection.
//
// A server-reported statement failure is returned as a *ServerError and
// leaves the connection usable.
func (c *Conn) ExecuteMulti(query string) ([]*Result, error) {
	if c.state != stateReady {
		return nil, ErrConnClosed
	}
	c.invalidateResults()
	resp, err := c.cmd(c.frameQuery(query))
	if err != nil {
		return nil, err
	}
	return c.parseResponse(resp, nil)
}

// frameQuery wraps a statement for the session language. SQL statements
// are sent in 's' frames and terminated for the server-side reader.
func (c *Conn) frameQuery(query string) string {
	if c.params.Language == LanguageSQL {
		return "s" + query + "\n;"
	}
	return query
}

// invalidateResults marks every open result set stale. Prepared statement
// handles survive: the server keeps them until an explicit release.
func (c *Conn) invalidateResults() {
	for id, res := range c.openResults {
		res.stale = true
		delete(c.openResults, id)
	}
}

// exec runs an engine command (X commands, control requests) and returns
// the response payload with the status framing stripped. A '!' response
// becomes a *ServerError.
func (c *Conn) exec(operation string) (string, error) {
	resp, err := c.cmd(operation)
	if err != nil {
		return "", err
	}
	switch {
	case resp == "":
		return "", nil
	case strings.HasPrefix(resp, promptOK):
		return strings.TrimSpace(resp[len(promptOK):]), nil
	case resp[0] == markError:
		return "", serverErrorFromResponse(resp)
	case resp[0] == markInfo:
		log.V(1).Infof("mapi: server: %s", strings.TrimSpace(resp[1:]))
		return "", nil
	}
	return resp, nil
}

// cmd sends one command message and reads the full response, answering
// continuation prompts along the way. On a control session the exchange is
// a single unframed request read to EOF instead.
func (c *Conn) cmd(operation string) (string, error) {
	if c.state != stateReady {
		return "", ErrConnClosed
	}
	if c.isControl {
		return c.controlCmd(operation)
	}
	if err := c.writeMessage([]byte(operation)); err != nil {
		return "", err
	}
	for {
		resp, err := c.readResponse()
		if err != nil {
			return resp, err
		}
		// The server asks for more input when a statement is left
		// unterminated. There is none: an empty message ends it.
		if resp == promptMore {
			if err := c.writeMessage(nil); err != nil {
				return "", err
			}
			continue
		}
		return resp, nil
	}
}

func (c *Conn) controlCmd(operation string) (string, error) {
	if err := c.writeRawAndShutdown([]byte(operation)); err != nil {
		return "", err
	}
	raw, err := c.readToEOF()
	if err != nil {
		return "", err
	}
	resp := strings.TrimSpace(string(raw))
	if strings.HasPrefix(resp, "OK") {
		return strings.TrimSpace(resp[2:]), nil
	}
	return resp, nil
}

// readResponse accumulates messages until one arrives without a trailing
// file transfer request. Transfer requests are stripped from the payload
// and served inline; a transfer that failed without breaking the
// connection is reported alongside the (still valid) response.
func (c *Conn) readResponse() (string, error) {
	var buf []byte
	var transferErr error
	for {
		msg, err := c.readMessage()
		if err != nil {
			return "", err
		}
		buf = append(buf, msg...)
		cmdline, rest, ok := cutTransferRequest(buf)
		if !ok {
			break
		}
		buf = rest
		if err := c.handleTransfer(cmdline); err != nil {
			if c.IsClosed() {
				return "", err
			}
			if transferErr == nil {
				transferErr = err
			}
		}
	}
	return string(buf), transferErr
}

// cutTransferRequest detects a file transfer request at the end of the
// buffered response. The request is the last line, preceded by its prompt
// marker; everything before the marker is regular response payload.
func cutTransferRequest(buf []byte) (cmdline string, rest []byte, ok bool) {
	if len(buf) < 5 || buf[len(buf)-1] != '\n' {
		return "", buf, false
	}
	i := bytes.LastIndexByte(buf[:len(buf)-1], '\n')
	if i < 2 || buf[i-2] != 0x01 || buf[i-1] != 0x03 {
		return "", buf, false
	}
	return string(buf[i+1 : len(buf)-1]), buf[:i-2], true
}

// serverErrorFromResponse folds the '!' lines of a response into a single
// *ServerError. The state code of the first error line wins.
func serverErrorFromResponse(resp string) *ServerError {
	var first *ServerError
	var extra []string
	for _, line := range strings.Split(resp, "\n") {
		if line == "" || line[0] != markError {
			continue
		}
		e := newServerErrorFromLine(line[1:])
		if first == nil {
			first = e
		} else {
			extra = append(extra, e.Message)
		}
	}
	if first == nil {
		return newServerErrorFromLine(strings.TrimSpace(resp))
	}
	if len(extra) > 0 {
		first.Message += "\n" + strings.Join(extra, "\n")
	}
	return first
}

// parseResponse decodes a response body into results. fetchInto, when set,
// receives the rows of continuation blocks for the result it describes;
// top-level responses pass nil.
//
// Metadata always precedes tuples, so rows are decoded against complete
// field descriptors. A malformed line is a protocol error and closes the
// connection; a well-formed '!' line is a server error and does not.
func (c *Conn) parseResponse(resp string, fetchInto *Result) ([]*Result, error) {
	var results []*Result
	var current *Result
	var srvErr *ServerError
	for _, line := range strings.Split(resp, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case markQuery:
			res, err := c.parseQueryHeader(line, fetchInto)
			if err != nil {
				return nil, c.markBroken(err)
			}
			current = res
			if res != fetchInto {
				results = append(results, res)
			}
		case markHeader:
			if current == nil {
				return nil, c.markBroken(protocolErrorf(line, "column metadata outside a result"))
			}
			if err := parseColumnHeader(line, current.Fields); err != nil {
				return nil, c.markBroken(err)
			}
		case markTuple:
			if current == nil || len(current.Fields) == 0 {
				return nil, c.markBroken(protocolErrorf(line, "tuple outside a result"))
			}
			row, err := decodeRow(line, current.Fields)
			if err != nil {
				return nil, c.markBroken(err)
			}
			current.Rows = append(current.Rows, row)
		case markTupleNoSlice:
			// Unsliced single-column value, also the shape of a bare
			// "=OK" acknowledgement between statements.
			if current == nil {
				if strings.HasPrefix(line, promptOK) {
					continue
				}
				return nil, c.markBroken(protocolErrorf(line, "value outside a result"))
			}
			current.Rows = append(current.Rows, []montypes.Value{
				montypes.MakeTrusted(montypes.Unknown, []byte(line[1:])),
			})
		case markError:
			e := newServerErrorFromLine(line[1:])
			if srvErr == nil {
				srvErr = e
			} else {
				srvErr.Message += "\n" + e.Message
			}
		case markInfo:
			log.V(1).Infof("mapi: server: %s", strings.TrimSpace(line[1:]))
		default:
			return nil, c.markBroken(protocolErrorf(line, "unexpected response line"))
		}
	}
	if srvErr != nil {
		return results, srvErr
	}
	return results, nil
}

// parseQueryHeader decodes one '&' line and allocates the result it opens.
func (c *Conn) parseQueryHeader(line string, fetchInto *Result) (*Result, error) {
	if len(line) < 2 {
		return nil, protocolErrorf(line, "truncated result header")
	}
	kind := line[1]
	args := strings.Fields(line[2:])
	switch kind {
	case queryTable, queryPrepare:
		if len(args) < 3 {
			return nil, protocolErrorf(line, "short result header")
		}
		id, err1 := strconv.Atoi(args[0])
		total, err2 := strconv.ParseInt(args[1], 10, 64)
		ncol, err3 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil || err3 != nil || ncol < 0 {
			return nil, protocolErrorf(line, "malformed result header")
		}
		res := &Result{conn: c, handle: id, TotalRows: total, Fields: make([]*Field, ncol)}
		for i := range res.Fields {
			res.Fields[i] = &Field{Type: montypes.Unknown}
		}
		if kind == queryPrepare {
			res.Kind = KindPrepare
		} else {
			res.Kind = KindTable
			if id >= 0 {
				c.openResults[id] = res
			}
		}
		return res, nil
	case queryUpdate:
		if len(args) < 2 {
			return nil, protocolErrorf(line, "short update header")
		}
		affected, err1 := strconv.ParseInt(args[0], 10, 64)
		lastID, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, protocolErrorf(line, "malformed update header")
		}
		return &Result{conn: c, Kind: KindUpdate, handle: -1, RowsAffected: affected, LastInsertID: lastID}, nil
	case querySchema:
		return &Result{conn: c, Kind: KindSchema, handle: -1}, nil
	case queryTransaction:
		return &Result{conn: c, Kind: KindTransaction, handle: -1, Info: strings.TrimSpace(line[2:])}, nil
	case queryBlock:
		if fetchInto == nil {
			return nil, protocolErrorf(line, "unexpected continuation block")
		}
		if len(args) > 0 {
			id, err := strconv.Atoi(args[0])
			if err != nil || id != fetchInto.handle {
				return nil, protocolErrorf(line, "continuation block for wrong result")
			}
		}
		return fetchInto, nil
	}
	return nil, protocolErrorf(line, "unknown result header kind %q", kind)
}

// parseColumnHeader decodes one '%' metadata line into the field slice.
// The trailing "# tag" names which attribute the line carries.
func parseColumnHeader(line string, fields []*Field) error {
	idx := strings.LastIndex(line, " # ")
	if idx < 0 {
		return protocolErrorf(line, "metadata line without tag")
	}
	tag := strings.TrimSpace(line[idx+3:])
	values := strings.Split(line[1:idx], fieldSeparator)
	if len(values) != len(fields) {
		return protocolErrorf(line, "metadata for %d columns, result has %d", len(values), len(fields))
	}
	for i, v := range values {
		v = strings.TrimSpace(v)
		switch tag {
		case "table_name":
			fields[i].Table = v
		case "name":
			fields[i].Name = v
		case "type":
			fields[i].TypeName = v
			fields[i].Type = montypes.ParseTypeName(v)
		case "length":
			n, err := strconv.Atoi(v)
			if err != nil {
				return protocolErrorf(line, "bad length %q", v)
			}
			fields[i].DisplaySize = n
		default:
			// Unknown metadata tags are carried by newer servers and
			// skipped without complaint.
		}
	}
	return nil
}

// decodeRow splits one '[' tuple line into typed values. Separators are
// literal, never escaped text: a tab inside a string value arrives as
// backslash-t and cannot collide with the field separator.
func decodeRow(line string, fields []*Field) ([]montypes.Value, error) {
	body := strings.TrimSuffix(line[1:], "]")
	body = strings.TrimSuffix(body, "\t")
	raw := strings.Split(body, fieldSeparator)
	if len(raw) != len(fields) {
		return nil, protocolErrorf(line, "tuple with %d fields, result has %d", len(raw), len(fields))
	}
	row := make([]montypes.Value, len(raw))
	for i, f := range raw {
		v, err := montypes.DecodeField([]byte(strings.TrimSpace(f)), fields[i].Type)
		if err != nil {
			return nil, protocolErrorf(line, "decoding column %d: %v", i, err)
		}
		row[i] = v
	}
	return row, nil
}
