package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrPipeClosed is returned by Commit/Write once the write side of a pipe
// has been closed.
var ErrPipeClosed = errors.New("bridge: pipe closed")

// pipe is a single-producer, single-consumer bounded byte queue with a
// pause_writer_threshold high-water mark, used for both the inbound and
// outbound pipes described by the bridge's data model.
//
// It follows the GetMemory/Advance/FlushAsync shape of a buffered pipe
// writer: producers Reserve a scratch buffer, fill it, Commit the bytes
// actually produced, then Flush (cancellable) until the consumer has
// drained enough to fall back under the threshold. There is no
// general-purpose bounded byte-pipe library among the retrieved examples;
// the closest analog (bufpipe's sync.Cond ring) blocks unconditionally and
// cannot be cancelled mid-wait, which the bridge's timeout/cancellation
// discipline requires, so this is built directly on stdlib sync primitives
// with a broadcast-channel wakeup instead of sync.Cond.
type pipe struct {
	mu        sync.Mutex
	buf       []byte
	threshold int // 0 means unbounded (no backpressure)

	writeClosed bool
	readClosed  bool

	dataCh  chan struct{} // replaced+closed whenever new bytes become readable
	drainCh chan struct{} // replaced+closed whenever the queue shrinks or closes
}

func newPipe(pauseWriterThreshold int) *pipe {
	return &pipe{
		threshold: pauseWriterThreshold,
		dataCh:    make(chan struct{}),
		drainCh:   make(chan struct{}),
	}
}

func (p *pipe) wakeReaders() {
	close(p.dataCh)
	p.dataCh = make(chan struct{})
}

func (p *pipe) wakeWriters() {
	close(p.drainCh)
	p.drainCh = make(chan struct{})
}

// Pending returns the number of bytes currently queued and not yet read.
func (p *pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Reserve returns a fresh scratch buffer of length n for a producer (e.g.
// the inbound pump's socket read) to fill before calling Commit.
func (p *pipe) Reserve(n int) []byte {
	return make([]byte, n)
}

// Commit appends data to the tail of the queue, waking any blocked reader.
// It does not itself apply backpressure; pair it with Flush for that.
func (p *pipe) Commit(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeClosed {
		return ErrPipeClosed
	}
	if len(data) == 0 {
		return nil
	}
	p.buf = append(p.buf, data...)
	p.wakeReaders()
	return nil
}

// Flush blocks until the queue has drained to at or below the
// pause_writer_threshold, the read side closes, or ctx is done. A
// threshold of 0 never blocks.
func (p *pipe) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.threshold <= 0 || len(p.buf) <= p.threshold || p.readClosed {
			p.mu.Unlock()
			return nil
		}
		ch := p.drainCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Write commits data and flushes uncancellably; it is the plain io.Writer
// view of the pipe used to expose the Outgoing stream to the producer.
func (p *pipe) Write(data []byte) (int, error) {
	if err := p.Commit(data); err != nil {
		return 0, err
	}
	if err := p.Flush(context.Background()); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read implements io.Reader, draining the queue FIFO. It blocks until
// bytes are available or the write side is closed (returning io.EOF once
// the queue is empty and will never receive more).
func (p *pipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			n := copy(b, p.buf)
			p.buf = p.buf[n:]
			p.wakeWriters()
			p.mu.Unlock()
			return n, nil
		}
		if p.writeClosed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		ch := p.dataCh
		p.mu.Unlock()
		<-ch
	}
}

// ReadChunk returns the next available chunk (up to max bytes), blocking
// until data arrives, the write side closes (io.EOF), or ctx is cancelled.
// It is used by the outbound pump, whose pipe read must be interruptible
// by the connection-established signal as well as by bridge disposal.
func (p *pipe) ReadChunk(ctx context.Context, max int) ([]byte, error) {
	for {
		p.mu.Lock()
		if len(p.buf) > 0 {
			n := len(p.buf)
			if n > max {
				n = max
			}
			chunk := make([]byte, n)
			copy(chunk, p.buf[:n])
			p.buf = p.buf[n:]
			p.wakeWriters()
			p.mu.Unlock()
			return chunk, nil
		}
		if p.writeClosed {
			p.mu.Unlock()
			return nil, io.EOF
		}
		ch := p.dataCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CloseWrite marks the write side complete: pending reads drain the
// remaining queue then observe io.EOF, and Commit/Write return
// ErrPipeClosed from then on.
func (p *pipe) CloseWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeClosed {
		return
	}
	p.writeClosed = true
	p.wakeReaders()
}

// CloseRead marks the read side complete, releasing any writer blocked in
// Flush waiting for backpressure to clear.
func (p *pipe) CloseRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readClosed {
		return
	}
	p.readClosed = true
	p.wakeWriters()
}
