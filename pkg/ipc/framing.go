package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// MaxBodySize caps a single frame's JSON body to guard against a
// corrupt or hostile length prefix forcing a runaway allocation.
const MaxBodySize = 16 * 1024 * 1024 // 16 MiB

// WriteFrame writes msg as a 4-byte big-endian length prefix followed by
// its JSON encoding. A single Write-sized buffer is used so concurrent
// WriteFrame calls on the same connection from different goroutines
// must be serialized by the caller (Conn does this).
func WriteFrame(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return mcpcerr.WrapTransport("encoding IPC frame", err)
	}
	if len(body) > MaxBodySize {
		return mcpcerr.NewTransport(fmt.Sprintf("IPC frame of %d bytes exceeds %d byte cap", len(body), MaxBodySize))
	}

	header := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	copy(header[4:], body)

	if _, err := w.Write(header); err != nil {
		return mcpcerr.WrapTransport("writing IPC frame", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes its body
// into a Message. Returns io.EOF (unwrapped) when the connection closed
// cleanly between frames, and a TransportError for any other failure,
// including an oversized length prefix.
func ReadFrame(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, mcpcerr.WrapTransport("reading IPC frame length", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxBodySize {
		return Message{}, mcpcerr.NewTransport(fmt.Sprintf("IPC frame length %d exceeds %d byte cap", n, MaxBodySize))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, mcpcerr.WrapTransport("reading IPC frame body", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, mcpcerr.WrapTransport("decoding IPC frame body", err)
	}
	return msg, nil
}
