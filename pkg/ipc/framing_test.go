package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Type: TypeRequest, ID: 7, Method: "listTools"}

	require.NoError(t, WriteFrame(&buf, msg))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestReadFrameHandlesSequenceAcrossChunkBoundaries(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		{Type: TypeRequest, ID: 1, Method: "ping"},
		{Type: TypeResponse, ID: 1, Result: []byte(`{"ok":true}`)},
		{Type: TypeNotification, NotificationMethod: "resources/updated"},
	}
	for _, m := range msgs {
		require.NoError(t, WriteFrame(&buf, m))
	}

	// Split the accumulated bytes into arbitrary small chunks to prove
	// framing doesn't depend on a message arriving in one read.
	all := buf.Bytes()
	r := &chunkedReader{data: all, chunk: 3}

	var decoded []Message
	for {
		m, err := ReadFrame(r)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		decoded = append(decoded, m)
	}
	assert.Equal(t, msgs, decoded)
}

func TestReadFrameReturnsEOFOnCleanClose(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxBodySize+1)
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

// chunkedReader serves data in fixed-size chunks regardless of the
// caller's buffer size, to exercise ReadFrame against partial reads.
type chunkedReader struct {
	data  []byte
	chunk int
	pos   int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}
