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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Uploader provides file content when the server asks the client to send a
// file, e.g. for COPY INTO FROM ... ON CLIENT. seekTo is the 1-based line
// the server wants to start at for text transfers, 0 for the whole file.
type Uploader interface {
	Open(filename string, textMode bool, seekTo int64) (io.ReadCloser, error)
}

// Downloader receives file content when the server sends a file to the
// client, e.g. for COPY ... INTO <file> ON CLIENT.
type Downloader interface {
	Create(filename string, textMode bool) (io.WriteCloser, error)
}

// SetUploader registers the handler for server-initiated uploads. With no
// uploader registered every upload request is declined.
func (c *Conn) SetUploader(u Uploader) {
	c.uploader = u
}

// SetDownloader registers the handler for server-initiated downloads. With
// no downloader registered every download request is declined.
func (c *Conn) SetDownloader(d Downloader) {
	c.downloader = d
}

// handleTransfer serves one transfer request line. Request verbs are 'r'
// (text upload, preceded by a line offset), "rb" (binary upload), 'w'
// (text download) and "wb" (binary download).
//
// Declines and handler failures before acceptance keep the connection
// usable; the server reports the aborted statement itself. Failures after
// acceptance are connection-fatal.
func (c *Conn) handleTransfer(cmdline string) error {
	verb, rest, _ := strings.Cut(cmdline, " ")
	switch verb {
	case "r":
		offStr, name, ok := strings.Cut(rest, " ")
		if !ok {
			return c.decline("malformed upload request")
		}
		off, err := strconv.ParseInt(offStr, 10, 64)
		if err != nil || off < 0 {
			return c.decline("malformed upload offset")
		}
		return c.upload(name, true, off)
	case "rb":
		return c.upload(rest, false, 0)
	case "w":
		skip, name := cutDownloadOffset(rest)
		return c.download(name, true, skip)
	case "wb":
		skip, name := cutDownloadOffset(rest)
		return c.download(name, false, skip)
	}
	return c.decline("unknown transfer request")
}

// cutDownloadOffset splits an optional byte offset off a download request.
// The server restarts a resumed transfer from the beginning; the offset
// tells the client how much of the stream it already holds.
func cutDownloadOffset(rest string) (int64, string) {
	first, name, ok := strings.Cut(rest, " ")
	if !ok {
		return 0, rest
	}
	off, err := strconv.ParseInt(first, 10, 64)
	if err != nil || off < 0 {
		return 0, rest
	}
	return off, name
}

// decline refuses the current transfer request with a single error-line
// message. The server folds the reason into the statement's error.
func (c *Conn) decline(reason string) error {
	// One line only: a newline in the reason would start forging
	// protocol messages.
	reason = strings.ReplaceAll(reason, "\n", " ")
	return c.writeMessage([]byte("!" + reason + "\n"))
}

func (c *Conn) upload(filename string, textMode bool, seekTo int64) error {
	if c.uploader == nil {
		return c.decline("no upload handler registered")
	}
	src, err := c.uploader.Open(filename, textMode, seekTo)
	if err != nil {
		return c.decline(err.Error())
	}
	defer src.Close()

	// Empty acknowledgement accepts the transfer. From here on the
	// server expects raw content and an error can no longer be reported
	// in-band.
	if err := c.writeMessage(nil); err != nil {
		return err
	}
	buf := make([]byte, MaxBlockPayload)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if werr := c.writeMessage(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			c.sabotage()
			return &TransferError{Filename: filename, Err: rerr}
		}
	}
	// Empty completion message ends the stream.
	return c.writeMessage(nil)
}

func (c *Conn) download(filename string, textMode bool, skip int64) error {
	accept := c.downloader != nil
	var dst io.WriteCloser
	var err error
	if accept {
		dst, err = c.downloader.Create(filename, textMode)
		if err != nil {
			accept = false
		}
	}
	if !accept {
		reason := "no download handler registered"
		if err != nil {
			reason = err.Error()
		}
		return c.decline(reason)
	}
	if werr := c.writeMessage(nil); werr != nil {
		dst.Close()
		return werr
	}
	// The content arrives as one message. A sink failure must not
	// desynchronize the stream, so the message is always read in full
	// before the failure is reported; the connection stays usable.
	content, rerr := c.readMessage()
	if rerr != nil {
		dst.Close()
		return rerr
	}
	if skip > 0 {
		if skip >= int64(len(content)) {
			content = nil
		} else {
			content = content[skip:]
		}
	}
	var sinkErr error
	if _, werr := dst.Write(content); werr != nil {
		sinkErr = &TransferError{Filename: filename, Err: werr}
	}
	if cerr := dst.Close(); cerr != nil && sinkErr == nil {
		sinkErr = &TransferError{Filename: filename, Err: cerr}
	}
	return sinkErr
}

// DirectoryHandler serves uploads and downloads from a single local
// directory, rejecting any request that would escape it. It implements
// both Uploader and Downloader.
type DirectoryHandler struct {
	root string
}

// NewDirectoryHandler returns a handler rooted at dir.
func NewDirectoryHandler(dir string) *DirectoryHandler {
	return &DirectoryHandler{root: dir}
}

// resolve maps a server-supplied name onto the root, refusing absolute
// paths and parent traversal.
func (h *DirectoryHandler) resolve(filename string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(filename))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing path outside transfer directory: %s", filename)
	}
	return filepath.Join(h.root, clean), nil
}

// Open implements Uploader. Text mode offsets skip whole lines before
// handing the stream to the connection.
func (h *DirectoryHandler) Open(filename string, textMode bool, seekTo int64) (io.ReadCloser, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if textMode && seekTo > 1 {
		if err := skipLines(f, seekTo-1); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Create implements Downloader. Existing files are refused so a server
// cannot overwrite local data.
func (h *DirectoryHandler) Create(filename string, textMode bool) (io.WriteCloser, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

func skipLines(r io.Reader, n int64) error {
	buf := make([]byte, 4096)
	for n > 0 {
		m, err := r.Read(buf)
		for i := 0; i < m && n > 0; i++ {
			if buf[i] == '\n' {
				n--
				if n == 0 {
					// Push nothing back: the reader consumed past the
					// boundary inside this buffer.
					rest := buf[i+1 : m]
					if len(rest) > 0 {
						return rewind(r, rest)
					}
					return nil
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// rewind repositions a seekable reader to just after the skipped lines.
func rewind(r io.Reader, unread []byte) error {
	s, ok := r.(io.Seeker)
	if !ok {
		return fmt.Errorf("cannot reposition non-seekable source")
	}
	_, err := s.Seek(-int64(len(unread)), io.SeekCurrent)
	return err
}
