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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"monetgo.io/monetgo/go/bucketpool"
	"monetgo.io/monetgo/go/log"
)

// blockPool recycles block payload buffers across all connections.
var blockPool = bucketpool.New(1024, MaxBlockPayload)

type connState int

const (
	stateInit connState = iota
	stateReady
	stateClosed
)

// Conn is one connection to a server. It owns the socket, the framing
// buffers, and the arena of server-side handles (open result sets and
// prepared statements) scoped to this connection.
type Conn struct {
	conn   net.Conn
	params *ConnParams

	bufferedReader *bufio.Reader
	bufferedWriter *messageWriter

	// serverType is the server identity string from the login challenge,
	// e.g. "monetdb" or "merovingian".
	serverType string

	// isControl marks a raw daemon-control session: no block framing,
	// one request, read to EOF.
	isControl bool

	// clientInfoOK records whether the server advertised support for
	// client metadata during the handshake.
	clientInfoOK bool

	// binaryLevel is the binary result-set protocol level the server
	// advertised, 0 when unsupported.
	binaryLevel int

	state connState
	fatal error

	// Server-side handles are tracked by id, not by live reference, so
	// staleness is an explicit lookup.
	openResults map[int]*Result
	openStmts   map[int]*PreparedStatement

	uploader   Uploader
	downloader Downloader

	hdr [blockHeaderLen]byte
}

func newConn(conn net.Conn, params *ConnParams) *Conn {
	return &Conn{
		conn:           conn,
		params:         params,
		bufferedReader: bufio.NewReaderSize(conn, connBufferSize),
		bufferedWriter: newMessageWriter(conn),
		openResults:    make(map[int]*Result),
		openStmts:      make(map[int]*PreparedStatement),
	}
}

// Server returns the server identity string announced in the challenge.
func (c *Conn) Server() string {
	return c.serverType
}

// BinaryExportLevel reports the binary result-set protocol level the server
// advertised at login, 0 when the server has none. Result pages are fetched
// in the text protocol either way.
func (c *Conn) BinaryExportLevel() int {
	return c.binaryLevel
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsClosed reports whether the connection has been closed or broken.
func (c *Conn) IsClosed() bool {
	return c.state == stateClosed
}

// Close tears down the connection. Open result sets and statement handles
// are invalidated; the server releases its side on disconnect.
func (c *Conn) Close() {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	c.dropHandles()
	c.conn.Close()
}

func (c *Conn) dropHandles() {
	for id, res := range c.openResults {
		res.stale = true
		delete(c.openResults, id)
	}
	for id, stmt := range c.openStmts {
		stmt.released = true
		delete(c.openStmts, id)
	}
}

// markBroken records the first fatal error, closes the socket, and returns
// an error describing what went wrong. Everything after a fatal error fails
// with ErrConnClosed.
func (c *Conn) markBroken(err error) error {
	if c.state == stateClosed {
		return ErrConnClosed
	}
	c.fatal = err
	c.Close()
	return err
}

func (c *Conn) fatalf(cause error, what string) error {
	if cause == io.EOF || cause == io.ErrUnexpectedEOF {
		return c.markBroken(fmt.Errorf("mapi: server closed connection while %s", what))
	}
	return c.markBroken(fmt.Errorf("mapi: %s: %w", what, cause))
}

func (c *Conn) startReadDeadline() {
	if c.params.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
	}
}

func (c *Conn) startWriteDeadline() {
	if c.params.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout))
	}
}

// readMessage reads blocks until one carries the final flag and returns the
// reassembled payload. Message boundaries are detected only via that flag,
// never by content. Any socket error or short read breaks the connection;
// no partial message is ever returned.
func (c *Conn) readMessage() ([]byte, error) {
	if c.state == stateClosed {
		return nil, ErrConnClosed
	}
	var out []byte
	for {
		c.startReadDeadline()
		if _, err := io.ReadFull(c.bufferedReader, c.hdr[:]); err != nil {
			return nil, c.fatalf(err, "reading block header")
		}
		raw := binary.LittleEndian.Uint16(c.hdr[:])
		length := int(raw >> 1)
		final := raw&1 == 1
		if length > MaxBlockPayload {
			return nil, c.markBroken(protocolErrorf("", "block length %d exceeds maximum %d", length, MaxBlockPayload))
		}
		if length > 0 {
			buf := blockPool.Get(length)
			if _, err := io.ReadFull(c.bufferedReader, *buf); err != nil {
				blockPool.Put(buf)
				return nil, c.fatalf(err, "reading block payload")
			}
			out = append(out, *buf...)
			blockPool.Put(buf)
		}
		if final {
			if log.V(2) {
				log.Infof("mapi: read message of %d bytes", len(out))
			}
			return out, nil
		}
	}
}

// writeMessage frames data into blocks of at most MaxBlockPayload bytes and
// writes them, flushing once at the end. A block is final exactly when it is
// shorter than the maximum, so messages whose length is a multiple of the
// maximum end with an empty final block.
func (c *Conn) writeMessage(data []byte) error {
	if c.state == stateClosed {
		return ErrConnClosed
	}
	pos := 0
	for {
		c.startWriteDeadline()
		length := len(data) - pos
		if length > MaxBlockPayload {
			length = MaxBlockPayload
		}
		final := length < MaxBlockPayload
		raw := uint16(length) << 1
		if final {
			raw |= 1
		}
		binary.LittleEndian.PutUint16(c.hdr[:], raw)
		if _, err := c.bufferedWriter.Write(c.hdr[:]); err != nil {
			return c.fatalf(err, "writing block header")
		}
		if _, err := c.bufferedWriter.Write(data[pos : pos+length]); err != nil {
			return c.fatalf(err, "writing block payload")
		}
		pos += length
		if final {
			break
		}
	}
	if err := c.bufferedWriter.Flush(); err != nil {
		return c.fatalf(err, "flushing message")
	}
	if log.V(2) {
		log.Infof("mapi: wrote message of %d bytes", len(data))
	}
	return nil
}

// writeRawAndShutdown sends data without framing and half-closes the write
// side. Control sessions use this: the daemon reads until EOF.
func (c *Conn) writeRawAndShutdown(data []byte) error {
	if c.state == stateClosed {
		return ErrConnClosed
	}
	c.startWriteDeadline()
	if _, err := c.conn.Write(data); err != nil {
		return c.fatalf(err, "writing control request")
	}
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.conn.(closeWriter); ok {
		cw.CloseWrite()
	}
	return nil
}

// readToEOF reads until the server closes the connection. Control sessions
// do not use the block protocol.
func (c *Conn) readToEOF() ([]byte, error) {
	if c.state == stateClosed {
		return nil, ErrConnClosed
	}
	c.startReadDeadline()
	out, err := io.ReadAll(c.bufferedReader)
	if err != nil {
		return nil, c.fatalf(err, "reading control response")
	}
	return out, nil
}

// sabotage kills the connection in a way the server is certain to recognize
// as a client error: an oversized non-final block header followed by junk,
// then a hangup. Used when a transfer source fails after streaming started
// and no clean in-band abort exists.
func (c *Conn) sabotage() {
	if c.state == stateClosed {
		return
	}
	var bad [2]byte
	// Larger than the maximum, and not final.
	binary.LittleEndian.PutUint16(bad[:], 2*(MaxBlockPayload+3))
	payload := append(bad[:], "ERROR\x80ERROR"...)
	c.conn.Write(payload)
	c.Close()
}
