package ipc

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
)

// Conn wraps one IPC stream (Unix socket or named pipe) with request/id
// correlation and notification fan-out. Safe for concurrent Call/Send
// from multiple goroutines; reads are owned by a single background
// goroutine started by Serve.
type Conn struct {
	rw     io.ReadWriteCloser
	writeW *bufio.Writer
	writeM sync.Mutex

	nextID atomic.Uint64

	pendingM sync.Mutex
	pending  map[uint64]chan Message

	onNotification func(method string, params []byte)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps rw. onNotification, if non-nil, is invoked from the
// Serve goroutine for every inbound notification message; it must not
// block.
func NewConn(rw io.ReadWriteCloser, onNotification func(method string, params []byte)) *Conn {
	return &Conn{
		rw:             rw,
		writeW:         bufio.NewWriter(rw),
		pending:        make(map[uint64]chan Message),
		onNotification: onNotification,
		closed:         make(chan struct{}),
	}
}

// NextID returns the next monotonically increasing request id.
func (c *Conn) NextID() uint64 {
	return c.nextID.Add(1)
}

// Send writes msg without waiting for a response; used for
// notifications, shutdown, and set-auth-credentials pushes.
func (c *Conn) Send(msg Message) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	if err := WriteFrame(c.writeW, msg); err != nil {
		return err
	}
	if err := c.writeW.Flush(); err != nil {
		return mcpcerr.WrapTransport("flushing IPC frame", err)
	}
	return nil
}

// Call writes a request and blocks until its matching response arrives,
// the connection closes, or ctxDone fires. ctxDone may be nil to wait
// indefinitely (Serve's own close still unblocks it).
func (c *Conn) Call(msg Message, ctxDone <-chan struct{}) (Message, error) {
	ch := make(chan Message, 1)
	c.pendingM.Lock()
	c.pending[msg.ID] = ch
	c.pendingM.Unlock()

	defer func() {
		c.pendingM.Lock()
		delete(c.pending, msg.ID)
		c.pendingM.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.closed:
		return Message{}, mcpcerr.NewTransport("IPC connection closed while awaiting response")
	case <-ctxDone:
		return Message{}, mcpcerr.NewTransport("IPC request cancelled")
	}
}

// Serve runs the read loop until the connection closes or a read fails;
// dispatchRequest is invoked from this goroutine for every inbound
// message that is neither a response nor a notification (request,
// shutdown, set-auth-credentials; server side only; nil on the client
// side, which only ever receives responses and notifications).
func (c *Conn) Serve(dispatchRequest func(Message)) error {
	defer c.closeInternal()

	for {
		msg, err := ReadFrame(c.rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch msg.Type {
		case TypeResponse:
			c.pendingM.Lock()
			ch, ok := c.pending[msg.ID]
			c.pendingM.Unlock()
			if ok {
				ch <- msg
			}
		case TypeNotification:
			if c.onNotification != nil {
				c.onNotification(msg.NotificationMethod, msg.NotificationParams)
			}
		default:
			if dispatchRequest != nil {
				dispatchRequest(msg)
			}
		}
	}
}

// Close closes the underlying stream and unblocks every pending Call
// with a transport error. Idempotent.
func (c *Conn) Close() error {
	return c.closeInternal()
}

func (c *Conn) closeInternal() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	return err
}
