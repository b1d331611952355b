package bridge

import (
	"net"
	"sync"
	"sync/atomic"
)

// remoteContext is the shared slot holding the currently connected TCP
// client, plus the connection-established signal the outbound pump
// subscribes to so it can interrupt a blocked pipe read and re-evaluate
// whether to flush the ring. T1 (accept loop) is the sole writer; T3
// (outbound pump) is the sole reader of the established signal.
type remoteContext struct {
	conn atomic.Pointer[net.Conn] // nil element (not nil pointer) means disconnected

	mu        sync.Mutex
	established chan struct{} // closed+replaced each time a client binds
}

func newRemoteContext() *remoteContext {
	rc := &remoteContext{established: make(chan struct{})}
	var none net.Conn
	rc.conn.Store(&none)
	return rc
}

// Bind installs the given connection as the current remote and fires the
// connection-established signal.
func (rc *remoteContext) Bind(c net.Conn) {
	conn := c
	rc.conn.Store(&conn)

	rc.mu.Lock()
	close(rc.established)
	rc.established = make(chan struct{})
	rc.mu.Unlock()
}

// Unbind clears the current remote. It does not signal established; only
// a new Bind does.
func (rc *remoteContext) Unbind() {
	var none net.Conn
	rc.conn.Store(&none)
}

// Current returns the currently bound connection, or nil if disconnected.
func (rc *remoteContext) Current() net.Conn {
	return *rc.conn.Load()
}

// Established returns the channel that closes the next time a client
// binds. Callers must re-fetch it after it fires to observe the next one.
func (rc *remoteContext) Established() <-chan struct{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.established
}
