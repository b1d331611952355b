// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package bridge implements a persistent TCP-to-stream bridge: two local
// byte streams, Incoming and Outgoing, stay valid for the lifetime of a
// Bridge while the single-client TCP listener underneath may connect,
// disconnect, and reconnect transparently.
package bridge

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge connects a local byte-stream pair to a transient TCP client. Only
// one remote peer is bridged at a time; reconnects are handled
// transparently and bytes written/read on Incoming/Outgoing are never
// interrupted by connection churn.
type Bridge struct {
	endpoint string
	opts     Options

	acceptInterval atomic.Int64 // nanoseconds, mutable at runtime
	bridgeTimeout  atomic.Int64 // nanoseconds, mutable at runtime

	inboundPipe  *pipe
	outboundPipe *pipe
	ringMu       sync.Mutex // guards ring; it is touched by the outbound pump and by Snapshot/DumpRing
	ring         *RingBuffer
	remote       *remoteContext

	lastSocketError atomic.Int32

	ctx          context.Context
	cancel       context.CancelFunc
	acceptDone   chan struct{}
	outboundDone chan struct{}

	disposeOnce sync.Once
	disposed    chan struct{}
}

// New constructs a Bridge listening at endpoint (an "IP:port" address).
// Options fields are clamped to their published minimums; omitted fields
// take the documented defaults. The accept loop and outbound pump start
// immediately in the background.
func New(endpoint string, opts Options) (*Bridge, error) {
	if _, err := parseEndpoint(endpoint); err != nil {
		return nil, err
	}
	opts = opts.normalized()

	ring, err := NewRingBuffer(opts.OutgoingCacheBytes)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		endpoint:     endpoint,
		opts:         opts,
		inboundPipe:  newPipe(opts.pauseWriterThreshold()),
		outboundPipe: newPipe(opts.pauseWriterThreshold()),
		ring:         ring,
		remote:       newRemoteContext(),
		ctx:          ctx,
		cancel:       cancel,
		acceptDone:   make(chan struct{}),
		outboundDone: make(chan struct{}),
		disposed:     make(chan struct{}),
	}
	b.acceptInterval.Store(int64(opts.AcceptInterval))
	b.bridgeTimeout.Store(int64(opts.BridgeTimeout))
	b.lastSocketError.Store(0)

	// The outbound pump (T3) outlives every individual connection and must
	// keep running for a grace period after the accept loop (T1) itself
	// stops, so it is cancelled on its own context — one the accept loop
	// owns and cancels only after that grace period, not b.ctx directly.
	outboundCtx, cancelOutbound := context.WithCancel(context.Background())
	go b.runAcceptLoop(cancelOutbound)
	go func() {
		defer close(b.outboundDone)
		b.runOutboundPump(outboundCtx)
	}()

	return b, nil
}

// AcceptInterval returns the current cooldown between accept attempts.
func (b *Bridge) AcceptInterval() time.Duration {
	return time.Duration(b.acceptInterval.Load())
}

// SetAcceptInterval updates the cooldown; the new value is picked up by
// the accept loop's next iteration.
func (b *Bridge) SetAcceptInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.acceptInterval.Store(int64(d))
}

// BridgeTimeout returns the current per-operation flush/send deadline.
func (b *Bridge) BridgeTimeout() time.Duration {
	return time.Duration(b.bridgeTimeout.Load())
}

// SetBridgeTimeout updates the deadline; it is read fresh by the next
// flush or send, never affecting one already in flight.
func (b *Bridge) SetBridgeTimeout(d time.Duration) {
	if d < MinBridgeTimeout {
		d = MinBridgeTimeout
	}
	b.bridgeTimeout.Store(int64(d))
}

// Incoming is the read-only stream delivering bytes received from
// whichever TCP client is or was connected, in order.
func (b *Bridge) Incoming() io.Reader { return b.inboundPipe }

// Outgoing is the write-only stream accepting bytes to ship to whichever
// TCP client is currently connected, or to buffer in the ring otherwise.
func (b *Bridge) Outgoing() io.Writer { return b.outboundPipe }

// LastSocketError returns the last non-success error code observed on the
// accept/listen path: 0 for none, -1 for a non-socket error, and a
// positive platform error code otherwise.
func (b *Bridge) LastSocketError() int32 { return b.lastSocketError.Load() }

// DisposeAsync idempotently shuts the bridge down: it cancels the bridge
// token and waits for the accept loop to terminate — which itself waits
// out the inbound-drain grace period and then cancels and awaits the
// outbound pump — before completing both pipe endpoints. The returned
// channel closes once shutdown has fully completed. Calling DisposeAsync
// more than once is safe; only the first call does any work, and every
// call's returned channel closes when that work is done.
func (b *Bridge) DisposeAsync() <-chan struct{} {
	b.disposeOnce.Do(func() {
		go func() {
			b.cancel()
			<-b.acceptDone
			b.inboundPipe.CloseWrite()
			b.inboundPipe.CloseRead()
			b.outboundPipe.CloseWrite()
			b.outboundPipe.CloseRead()
			close(b.disposed)
		}()
	})
	return b.disposed
}
