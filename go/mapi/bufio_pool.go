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
	"io"
	"sync"
)

// MAPI traffic is strictly half-duplex: a connection buffers the blocks of
// one outgoing message, flushes them in a single write, then sits idle while
// the server responds. A messageWriter therefore borrows its *bufio.Writer
// from a shared pool only between the first block of a message and the
// Flush that ends it, so idle connections hold no write buffer at all.
type messageWriter struct {
	dst io.Writer
	buf *bufio.Writer
}

var writeBufPool = sync.Pool{
	New: func() any { return bufio.NewWriterSize(nil, connBufferSize) },
}

func newMessageWriter(dst io.Writer) *messageWriter {
	return &messageWriter{dst: dst}
}

// Write borrows a buffer on the first block of a message and appends to it
// until the message is flushed.
func (mw *messageWriter) Write(p []byte) (int, error) {
	if mw.buf == nil {
		mw.buf = writeBufPool.Get().(*bufio.Writer)
		mw.buf.Reset(mw.dst)
	}
	return mw.buf.Write(p)
}

// Flush ends the current message and returns the buffer to the pool. On an
// idle writer it is a no-op.
func (mw *messageWriter) Flush() error {
	if mw.buf == nil {
		return nil
	}
	err := mw.buf.Flush()
	mw.release()
	return err
}

func (mw *messageWriter) release() {
	// Drop the destination so a pooled buffer cannot pin a closed
	// connection.
	mw.buf.Reset(nil)
	writeBufPool.Put(mw.buf)
	mw.buf = nil
}
