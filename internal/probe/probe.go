// Package probe implements TCP readiness checks for supervised sidecars.
// A sidecar is considered ready once a loopback TCP connection to its port
// succeeds.
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// dialTimeout bounds a single connect attempt.
	dialTimeout = 300 * time.Millisecond

	// retryInterval is the pause between failed attempts.
	retryInterval = 150 * time.Millisecond
)

// WaitForPort blocks until a TCP connection to 127.0.0.1:port succeeds or the
// timeout elapses. It returns true on success. The context cancels the wait
// early (treated as not ready).
func WaitForPort(ctx context.Context, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	for time.Now().Before(deadline) {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryInterval):
		}
	}
	return false
}
