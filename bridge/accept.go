package bridge

import (
	"context"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// inboundReadSize is the scratch buffer size used by the inbound pump's
// socket reads, matching kcptun's typical stream copy buffer.
const inboundReadSize = 32 * 1024

// inboundDrainGrace is how long the accept loop waits, after it has
// itself stopped, before cancelling the outbound pump — giving a peer's
// final bytes time to land in the inbound pump on the way out.
const inboundDrainGrace = 500 * time.Millisecond

// runAcceptLoop is T1: it owns the listener for the bridge's lifetime,
// accepting at most one client at a time: the listener is closed as soon as
// one client is accepted, so a second dialer is refused rather than queued
// until the next accept cycle reopens it. Each accepted
// connection is bound into remoteContext, pumped by T2 until it ends, then
// unbound before the loop cools down for AcceptInterval and tries again.
// On exit it owns shutting down the outbound pump (T3): it waits out
// inboundDrainGrace, then cancels cancelOutbound and awaits outboundDone,
// before its own acceptDone closes — T3 otherwise outlives T1 by design
// and nothing else would ever stop it.
func (b *Bridge) runAcceptLoop(cancelOutbound context.CancelFunc) {
	defer close(b.acceptDone)
	defer func() {
		time.Sleep(inboundDrainGrace)
		cancelOutbound()
		<-b.outboundDone
	}()

	for {
		if b.ctx.Err() != nil {
			return
		}

		ln, err := net.Listen("tcp", b.endpoint)
		if err != nil {
			log.Printf("bridge: listen %s: %v", b.endpoint, err)
			b.lastSocketError.Store(socketErrorCode(err))
			if !b.cooldown() {
				return
			}
			continue
		}

		conn, err := b.acceptOne(ln)
		ln.Close()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			log.Printf("bridge: accept %s: %v", b.endpoint, err)
			b.lastSocketError.Store(socketErrorCode(err))
			if !b.cooldown() {
				return
			}
			continue
		}

		b.lastSocketError.Store(0)
		b.applySocketOptions(conn)

		b.remote.Bind(conn)
		b.runInboundPump(conn)
		b.remote.Unbind()
		conn.Close()

		if b.ctx.Err() != nil {
			return
		}
		if !b.cooldown() {
			return
		}
	}
}

// acceptOne blocks on ln.Accept in a background goroutine so that bridge
// cancellation can interrupt it by closing the listener, without requiring
// a net.Listener that natively understands context.Context.
func (b *Bridge) acceptOne(ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-b.ctx.Done():
		ln.Close()
		<-ch
		return nil, b.ctx.Err()
	}
}

// cooldown waits AcceptInterval (re-read fresh, so a running bridge can be
// retuned) before the next accept attempt, or returns false immediately if
// the bridge is disposed meanwhile.
func (b *Bridge) cooldown() bool {
	d := b.AcceptInterval()
	if d <= 0 {
		return b.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// applySocketOptions installs the configured send/receive buffer sizes on
// a freshly accepted TCP connection, logging rather than failing the
// bridge if the platform rejects them — mirrored on the teacher's
// SetReadBuffer/SetWriteBuffer handling around its listeners.
func (b *Bridge) applySocketOptions(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if b.opts.RecvBufferBytes != nil {
		if err := tc.SetReadBuffer(*b.opts.RecvBufferBytes); err != nil {
			log.Println("bridge: SetReadBuffer:", err)
		}
	}
	if b.opts.SendBufferBytes != nil {
		if err := tc.SetWriteBuffer(*b.opts.SendBufferBytes); err != nil {
			log.Println("bridge: SetWriteBuffer:", err)
		}
	}
}

// runInboundPump is T2: it lives for exactly one connection's lifetime,
// copying socket reads into the inbound pipe. Each commit is followed by a
// bridge-timeout-bounded Flush; per spec, a stalled Incoming consumer must
// not permanently block this loop — on a flush timeout the already-
// committed bytes stay queued and the pump simply proceeds to the next
// read, rather than tearing the connection down. A blocked conn.Read is
// itself interrupted by bridge disposal: a watcher goroutine closes conn
// when b.ctx is cancelled, the same technique acceptOne uses to unblock
// Accept, since net.Conn has no context-aware Read either.
func (b *Bridge) runInboundPump(conn net.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-b.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		buf := b.inboundPipe.Reserve(inboundReadSize)
		n, readErr := conn.Read(buf)
		if n > 0 {
			if err := b.inboundPipe.Commit(buf[:n]); err != nil {
				return
			}

			flushCtx, cancel := context.WithTimeout(b.ctx, b.BridgeTimeout())
			err := b.inboundPipe.Flush(flushCtx)
			cancel()
			if err != nil {
				if b.ctx.Err() != nil {
					return
				}
				// The flush's own per-call deadline fired, not bridge
				// disposal: swallow it and loop back to the next read.
				continue
			}
		}
		if readErr != nil {
			return
		}
	}
}

// socketErrorCode extracts the platform errno underlying a net.OpError, or
// -1 if the error did not originate from the socket layer.
func socketErrorCode(err error) int32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return -1
}

// LastSocketErrorString renders LastSocketError for a log line: "none",
// "non-socket error", or the platform errno's description.
func (b *Bridge) LastSocketErrorString() string {
	switch code := b.LastSocketError(); {
	case code == 0:
		return "none"
	case code < 0:
		return "non-socket error"
	default:
		return syscall.Errno(code).Error()
	}
}
