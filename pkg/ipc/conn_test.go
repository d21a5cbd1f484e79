package ipc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn adapts net.Conn (already a ReadWriteCloser) directly; net.Pipe
// gives us an in-memory duplex stream without touching the filesystem.
func newConnPair() (client *Conn, server *Conn) {
	a, b := net.Pipe()
	client = NewConn(a, nil)
	server = NewConn(b, nil)
	return client, server
}

func TestConnCallReceivesMatchingResponse(t *testing.T) {
	client, server := newConnPair()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = server.Serve(func(msg Message) {
			if msg.Type == TypeRequest && msg.Method == "ping" {
				resp, _ := NewResult(msg.ID, map[string]bool{"ok": true})
				_ = server.Send(resp)
			}
		})
	}()
	go func() { _ = client.Serve(nil) }()

	req, err := NewRequest(client.NextID(), "ping", nil)
	require.NoError(t, err)

	resp, err := client.Call(req, nil)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Contains(t, string(resp.Result), "true")
}

func TestConnDispatchesNotificationsToCallback(t *testing.T) {
	received := make(chan string, 1)

	a, b := net.Pipe()
	cl := NewConn(a, func(method string, params []byte) {
		received <- method
	})
	srv := NewConn(b, nil)
	defer cl.Close()
	defer srv.Close()

	go func() { _ = cl.Serve(nil) }()

	note, err := NewNotification("tools/listChanged", nil)
	require.NoError(t, err)
	require.NoError(t, srv.Send(note))

	select {
	case method := <-received:
		assert.Equal(t, "tools/listChanged", method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification dispatch")
	}
}

func TestConnCloseUnblocksPendingCall(t *testing.T) {
	client, server := newConnPair()
	defer server.Close()

	go func() { _ = client.Serve(nil) }()

	done := make(chan error, 1)
	go func() {
		req, _ := NewRequest(client.NextID(), "neverAnswered", nil)
		_, err := client.Call(req, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock a pending Call")
	}
}

func TestConnServeReturnsNilOnCleanPeerClose(t *testing.T) {
	client, server := newConnPair()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(nil) }()

	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after peer closed")
	}
}
