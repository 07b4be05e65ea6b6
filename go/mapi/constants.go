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

// Package mapi implements the client side of the MAPI wire protocol: block
// framing over a stream socket, the challenge/response login handshake with
// redirect support, command execution with typed result decoding, prepared
// statement handles, and the server-driven file transfer sub-protocol.
//
// A Conn is owned by a single goroutine at a time. The protocol is strictly
// half-duplex: one command, one response. The package holds no internal
// lock; concurrent use of one Conn is the caller's bug to prevent.
package mapi

// Version is the client library version, announced to servers that accept
// client metadata.
const Version = "1.0.0"

// Block framing. Every message is split into blocks of at most
// MaxBlockPayload bytes. Each block starts with a 2-byte little-endian
// header: payloadLength<<1 | isFinalBlock.
const (
	blockHeaderLen = 2

	// MaxBlockPayload is the largest payload one block can carry.
	MaxBlockPayload = 8192 - blockHeaderLen
)

// connBufferSize is the size of the buffered reader and writer on a Conn.
const connBufferSize = 16 * 1024

// Response line markers. The first byte of each line in a response message
// states what the line is.
const (
	markInfo         = '#' // informational text / notice
	markError        = '!' // server-reported error
	markQuery        = '&' // result header, sub-kind in the next byte
	markHeader       = '%' // column metadata for the current result
	markTuple        = '[' // one data row, sliced into fields
	markTupleNoSlice = '=' // one data row, single unsliced field
	markRedirect     = '^' // login redirect
)

// Result header sub-kinds (the byte after '&').
const (
	queryTable       = '1' // rows returned, handle + counts follow
	queryUpdate      = '2' // update count
	querySchema      = '3' // schema change, no payload
	queryTransaction = '4' // transaction status change
	queryPrepare     = '5' // prepared statement description
	queryBlock       = '6' // continuation rows for a paged fetch
)

// fieldSeparator joins the fields of a sliced tuple line. Field content is
// escaped, so the separator never appears inside a value.
const fieldSeparator = ",\t"

// In-band prompts. These arrive as complete lines, not marker-prefixed
// content.
const (
	promptOK           = "=OK"
	promptMore         = "\x01\x02\n" // server wants more input
	promptFileTransfer = "\x01\x03\n" // server requests a file transfer
)

// Languages a connection can speak.
const (
	LanguageSQL     = "sql"
	LanguageControl = "control"
)

// protocolVersion is the only MAPI handshake version this library speaks.
const protocolVersion = "9"

// Defaults applied by ConnParams.
const (
	DefaultPort         = 50000
	DefaultUser         = "monetdb"
	DefaultReplySize    = 100
	DefaultMaxRedirects = 10
)
