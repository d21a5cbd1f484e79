package bridge

import (
	"context"
	"net"
	"time"

	"github.com/mcpc-dev/mcpc/pkg/ipc"
)

// dialProbe reports whether a connection to sockPath can be established
// within timeout — used by startBridge's "a live bridge already owns
// the socket" reuse check, which the spec defines as a bare connect
// probe rather than a full ping round trip.
func dialProbe(sockPath string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// pingProbe dials sockPath and issues a ping request, returning true
// only if a response (success or MCP-level error — anything but a
// transport failure) arrives within timeout.
func pingProbe(ctx context.Context, sockPath string, timeout time.Duration) bool {
	netConn, err := net.DialTimeout("unix", sockPath, timeout)
	if err != nil {
		return false
	}
	defer netConn.Close()

	conn := ipc.NewConn(netConn, nil)
	go func() { _ = conn.Serve(nil) }()
	defer conn.Close()

	id := conn.NextID()
	req, err := ipc.NewRequest(id, "ping", nil)
	if err != nil {
		return false
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = conn.Call(req, deadlineCtx.Done())
	return err == nil
}
