package bridge

import (
	"context"
	"io"
	"log"
	"net"
	"time"
)

// outboundChunkMax bounds a single ReadChunk/socket-write cycle of the
// outbound pump.
const outboundChunkMax = 32 * 1024

// runOutboundPump is T3: unlike the inbound pump, it runs for the entire
// bridge lifetime, not just one connection's. While no client is
// connected, bytes written to Outgoing accumulate in the ring cache;
// once a client is bound, the ring is drained to the socket before any
// newly read chunk, preserving write order across a reconnect. It is
// cancelled via its own ctx, owned and cancelled by the accept loop after
// its inbound-drain grace period — not by bridge disposal directly.
func (b *Bridge) runOutboundPump(ctx context.Context) {
	var lastFailedConn net.Conn

	for {
		conn := b.remote.Current()
		if conn != nil && conn != lastFailedConn && b.ringLen() > 0 {
			if err := b.flushRing(conn); err != nil {
				log.Printf("bridge: outbound ring flush: %v", err)
				lastFailedConn = conn
				if !b.awaitRetry(ctx) {
					return
				}
				continue
			}
		}

		chunk, err := b.readNextChunk(ctx)
		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Interrupted by a newly established connection: nothing was
			// consumed, loop back so the ring-flush check above runs
			// against the new client before we block on more data.
			continue
		}

		conn = b.remote.Current()
		switch {
		case conn == nil:
			b.ringAccumulate(chunk)
		case conn == lastFailedConn:
			// Same dead connection as before; cache and wait for the
			// accept loop to notice (via a failed read) and cycle.
			b.ringAccumulate(chunk)
		default:
			if b.ringLen() > 0 {
				// The client bound after the top-of-loop check: drain the
				// cached bytes first so they still precede this chunk.
				if err := b.flushRing(conn); err != nil {
					log.Printf("bridge: outbound ring flush: %v", err)
					lastFailedConn = conn
					b.ringAccumulate(chunk)
					continue
				}
			}
			if err := b.deliverToSocket(conn, chunk); err != nil {
				log.Printf("bridge: outbound send: %v", err)
				lastFailedConn = conn
			}
		}
	}
}

// readNextChunk reads the next outbound chunk, interruptible by ctx or by
// a new connection becoming established — the latter so a pump blocked
// waiting for data doesn't delay flushing the ring to a client that just
// reconnected.
func (b *Bridge) readNextChunk(ctx context.Context) ([]byte, error) {
	established := b.remote.Established()
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-established:
			cancelWait()
		case <-stop:
		}
	}()

	return b.outboundPipe.ReadChunk(waitCtx, outboundChunkMax)
}

// awaitRetry pauses briefly after a failed send to the same still-bound
// connection, rather than busy-looping until the accept loop notices the
// connection is dead and unbinds it.
func (b *Bridge) awaitRetry(ctx context.Context) bool {
	t := time.NewTimer(50 * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// flushRing drains as much of the ring as the socket accepts within one
// bridge-timeout window, consuming only the bytes actually written so a
// partial failure leaves the remainder cached for the next attempt. The
// ring lock is held for the duration, including the socket write, which
// is bounded by the same deadline — Snapshot/DumpRing callers see at most
// one bridge-timeout of latency behind this.
func (b *Bridge) flushRing(conn net.Conn) error {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if b.ring.Len() == 0 {
		return nil
	}

	deadline := time.Now().Add(b.BridgeTimeout())
	conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	first, second := b.ring.Spans()
	consumed := 0

	rem, err := writeFullStrict(conn, first)
	consumed += len(first) - len(rem)
	if err != nil {
		b.ring.Consume(consumed)
		return err
	}

	rem, err = writeFullStrict(conn, second)
	consumed += len(second) - len(rem)
	if err != nil {
		b.ring.Consume(consumed)
		return err
	}

	b.ring.Consume(consumed)
	return nil
}

// deliverToSocket sends one freshly read chunk within one bridge-timeout
// window. Any unsent remainder — from a partial write or one that never
// started — is pushed into the ring so it isn't lost.
func (b *Bridge) deliverToSocket(conn net.Conn, chunk []byte) error {
	deadline := time.Now().Add(b.BridgeTimeout())
	conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	rem, err := writeFullStrict(conn, chunk)
	if err != nil {
		b.ringAccumulate(rem)
		return err
	}
	return nil
}

// ringLen and ringAccumulate serialize ring access against Snapshot/DumpRing.
func (b *Bridge) ringLen() int {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	return b.ring.Len()
}

func (b *Bridge) ringAccumulate(data []byte) {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	b.ring.Accumulate(data)
}

// writeFullStrict writes data to conn until exhausted or a write fails,
// returning whatever was not yet sent. The partial-write check is a
// strict less-than: n == len(data) ends the loop, n < len(data) retries
// with the remainder — conflating the two (a "<=" check) would spin
// forever retrying a zero-length write once every byte had already gone
// out.
func writeFullStrict(conn net.Conn, data []byte) (remaining []byte, err error) {
	for len(data) > 0 {
		n, werr := conn.Write(data)
		if n > 0 {
			data = data[n:]
		}
		if werr != nil {
			return data, werr
		}
	}
	return nil, nil
}
