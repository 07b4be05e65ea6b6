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
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUploader struct {
	content string
	openErr error
	readErr error

	gotName string
	gotText bool
	gotSeek int64
}

func (u *memUploader) Open(filename string, textMode bool, seekTo int64) (io.ReadCloser, error) {
	u.gotName = filename
	u.gotText = textMode
	u.gotSeek = seekTo
	if u.openErr != nil {
		return nil, u.openErr
	}
	var r io.Reader = strings.NewReader(u.content)
	if u.readErr != nil {
		r = io.MultiReader(r, &errReader{err: u.readErr})
	}
	return io.NopCloser(r), nil
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

type memDownloader struct {
	buf      bytes.Buffer
	writeErr error

	gotName string
	gotText bool
}

func (d *memDownloader) Create(filename string, textMode bool) (io.WriteCloser, error) {
	d.gotName = filename
	d.gotText = textMode
	return &memSink{d: d}, nil
}

type memSink struct{ d *memDownloader }

func (s *memSink) Write(p []byte) (int, error) {
	if s.d.writeErr != nil {
		return 0, s.d.writeErr
	}
	return s.d.buf.Write(p)
}

func (s *memSink) Close() error { return nil }

// readUpload consumes the client side of an accepted upload: the empty
// acknowledgement, then content until the empty completion message.
func readUpload(t *testing.T, s *Conn) []byte {
	t.Helper()
	accept, err := s.readMessage()
	require.NoError(t, err)
	require.Empty(t, accept, "acceptance must be an empty message")
	var data []byte
	for {
		msg, err := s.readMessage()
		require.NoError(t, err)
		if len(msg) == 0 {
			return data
		}
		data = append(data, msg...)
	}
}

func TestUploadDeclinedWithoutHandler(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.Equal(t, "sCOPY INTO t FROM 'data.csv' ON CLIENT\n;", string(cmd))
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"r 1 data.csv\n")))

		decline, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.True(t, bytes.HasPrefix(decline, []byte("!")), "got %q", decline)

		// The server reports the aborted statement and moves on.
		assert.NoError(t, sConn.writeMessage([]byte("&2 0 -1\n")))
	}()

	res, err := cConn.Execute("COPY INTO t FROM 'data.csv' ON CLIENT")
	require.NoError(t, err)
	<-done

	assert.Equal(t, KindUpdate, res.Kind)
	assert.False(t, cConn.IsClosed(), "a declined transfer is the statement's problem, not the connection's")
}

func TestUpload(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	content := strings.Repeat("1|one\n2|two\n", 2000) // spans several blocks
	up := &memUploader{content: content}
	cConn.SetUploader(up)

	var received []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"rb data.bin\n")))
		received = readUpload(t, sConn)
		assert.NoError(t, sConn.writeMessage([]byte("&2 4000 -1\n")))
	}()

	res, err := cConn.Execute("COPY BINARY INTO t FROM 'data.bin' ON CLIENT")
	require.NoError(t, err)
	<-done

	assert.Equal(t, int64(4000), res.RowsAffected)
	assert.Equal(t, content, string(received))
	assert.Equal(t, "data.bin", up.gotName)
	assert.False(t, up.gotText)
	assert.Zero(t, up.gotSeek)
}

func TestUploadTextOffset(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	up := &memUploader{content: "l3\n"}
	cConn.SetUploader(up)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"r 3 data.csv\n")))
		data := readUpload(t, sConn)
		assert.Equal(t, "l3\n", string(data))
		assert.NoError(t, sConn.writeMessage([]byte("&2 1 -1\n")))
	}()

	_, err := cConn.Execute("COPY OFFSET 3 INTO t FROM 'data.csv' ON CLIENT")
	require.NoError(t, err)
	<-done

	// The line offset is the handler's to honor.
	assert.Equal(t, "data.csv", up.gotName)
	assert.True(t, up.gotText)
	assert.Equal(t, int64(3), up.gotSeek)
}

func TestUploadOpenFailureDeclines(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	cConn.SetUploader(&memUploader{openErr: errors.New("no such file")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"rb data.bin\n")))
		decline, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.Equal(t, "!no such file\n", string(decline))
		assert.NoError(t, sConn.writeMessage([]byte("!42000!COPY INTO: client error\n")))
	}()

	_, err := cConn.Execute("COPY BINARY INTO t FROM 'data.bin' ON CLIENT")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	<-done
	assert.False(t, cConn.IsClosed())
}

func TestUploadMidStreamFailureIsFatal(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	cConn.SetUploader(&memUploader{content: "partial data\n", readErr: errors.New("disk pulled")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"rb data.bin\n")))
		// Accept, then some data, then a stream the server is certain
		// to reject.
		for {
			if _, err := sConn.readMessage(); err != nil {
				return
			}
		}
	}()

	_, err := cConn.Execute("COPY BINARY INTO t FROM 'data.bin' ON CLIENT")
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "data.bin", terr.Filename)
	assert.True(t, cConn.IsClosed(), "a failure after acceptance cannot be reported in-band")
	<-done
}

func TestDownload(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	down := &memDownloader{}
	cConn.SetDownloader(down)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"w out.csv\n")))
		accept, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.Empty(t, accept)
		assert.NoError(t, sConn.writeMessage([]byte("a,b\n1,2\n")))
		assert.NoError(t, sConn.writeMessage([]byte("&2 2 -1\n")))
	}()

	res, err := cConn.Execute("COPY SELECT * FROM t INTO 'out.csv' ON CLIENT")
	require.NoError(t, err)
	<-done

	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Equal(t, "a,b\n1,2\n", down.buf.String())
	assert.Equal(t, "out.csv", down.gotName)
	assert.True(t, down.gotText)
}

func TestDownloadResumeSkipsDeliveredBytes(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	down := &memDownloader{}
	cConn.SetDownloader(down)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		// A resumed transfer restarts from the beginning; the offset
		// tells the client how much it already holds.
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"w 4 out.csv\n")))
		accept, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.Empty(t, accept)
		assert.NoError(t, sConn.writeMessage([]byte("a,b\n1,2\n")))
		assert.NoError(t, sConn.writeMessage([]byte("&2 2 -1\n")))
	}()

	_, err := cConn.Execute("COPY SELECT * FROM t INTO 'out.csv' ON CLIENT")
	require.NoError(t, err)
	<-done

	assert.Equal(t, "1,2\n", down.buf.String())
	assert.Equal(t, "out.csv", down.gotName)
}

func TestDownloadSinkFailureKeepsConnUsable(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	cConn.SetDownloader(&memDownloader{writeErr: errors.New("quota exceeded")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.NoError(t, sConn.writeMessage([]byte(promptFileTransfer+"w out.csv\n")))
		if _, err := sConn.readMessage(); err != nil {
			return
		}
		assert.NoError(t, sConn.writeMessage([]byte("a,b\n1,2\n")))
		assert.NoError(t, sConn.writeMessage([]byte("&2 2 -1\n")))

		// Connection survives: the next command round-trips.
		cmd, err := sConn.readMessage()
		assert.NoError(t, err)
		assert.Equal(t, "sSELECT 1\n;", string(cmd))
		assert.NoError(t, sConn.writeMessage([]byte("&3\n")))
	}()

	_, err := cConn.Execute("COPY SELECT * FROM t INTO 'out.csv' ON CLIENT")
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Error(), "quota exceeded")
	require.False(t, cConn.IsClosed())

	_, err = cConn.Execute("SELECT 1")
	require.NoError(t, err)
	<-done
}

func TestDirectoryHandlerRefusesEscapes(t *testing.T) {
	h := NewDirectoryHandler(t.TempDir())

	for _, name := range []string{"../secret", "/etc/passwd", "..", "a/../../b"} {
		_, err := h.Open(name, false, 0)
		assert.Error(t, err, "name %q", name)
		_, err = h.Create(name, false)
		assert.Error(t, err, "name %q", name)
	}
}

func TestDirectoryHandlerUploadOffset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("l1\nl2\nl3\nl4\n"), 0o644))

	h := NewDirectoryHandler(dir)
	src, err := h.Open("data.csv", true, 3)
	require.NoError(t, err)
	defer src.Close()

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "l3\nl4\n", string(data))
}

func TestDirectoryHandlerCreateRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.csv"), []byte("old"), 0o644))

	h := NewDirectoryHandler(dir)
	_, err := h.Create("out.csv", true)
	assert.Error(t, err)

	w, err := h.Create("fresh.csv", true)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "fresh.csv"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
}
