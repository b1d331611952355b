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

package bridge

import "github.com/pkg/errors"

// maxRingCapacity guards against a configuration value that could silently
// overflow the int arithmetic below on 32-bit platforms.
const maxRingCapacity = 1<<31 - 1

// RingBuffer is a fixed-capacity byte FIFO used as the bridge's outgoing
// cache. Unlike kcp-go's generic RingBuffer[T] (which grows on overflow),
// this ring never reallocates: once full, Accumulate evicts the oldest
// bytes to make room for the newest ones.
type RingBuffer struct {
	buf      []byte
	capacity int
	offset   int // read cursor
	length   int // bytes currently held
}

// NewRingBuffer creates a ring of the given capacity. A capacity of 0 is
// legal: every Accumulate becomes a no-op and every read yields nothing.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity < 0 || capacity > maxRingCapacity {
		return nil, errors.Errorf("invalid ring capacity: %d", capacity)
	}
	return &RingBuffer{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}, nil
}

// Len returns the number of bytes currently held.
func (r *RingBuffer) Len() int { return r.length }

// Cap returns the ring's fixed capacity.
func (r *RingBuffer) Cap() int { return r.capacity }

// Accumulate appends data to the ring, evicting the oldest bytes first if
// necessary (newest-wins). It returns the number of pre-existing bytes that
// were dropped to make room.
func (r *RingBuffer) Accumulate(data []byte) (dropped int) {
	if r.capacity == 0 || len(data) == 0 {
		return 0
	}

	if len(data) >= r.capacity {
		dropped = r.length
		r.offset = 0
		r.length = r.capacity
		copy(r.buf, data[len(data)-r.capacity:])
		return dropped
	}

	free := r.capacity - r.length
	if need := len(data) - free; need > 0 {
		dropped = r.Consume(need)
	}

	writeAt := (r.offset + r.length) % r.capacity
	n := copy(r.buf[writeAt:], data)
	if n < len(data) {
		copy(r.buf, data[n:])
	}
	r.length += len(data)
	return dropped
}

// Consume removes up to n bytes from the head of the ring and returns the
// number of bytes actually removed. n <= 0 is a no-op.
func (r *RingBuffer) Consume(n int) int {
	if n <= 0 {
		return 0
	}
	if n >= r.length {
		removed := r.length
		r.offset = 0
		r.length = 0
		return removed
	}
	r.offset = (r.offset + n) % r.capacity
	r.length -= n
	return n
}

// Clear empties the ring.
func (r *RingBuffer) Clear() { r.Consume(r.capacity) }

// Spans returns the (at most two) contiguous byte slices that make up the
// ring's current content, in logical order: first ⧺ second. Callers must
// not retain these slices across a subsequent Accumulate/Consume/Clear, as
// the backing array is shared and reused in place.
func (r *RingBuffer) Spans() (first, second []byte) {
	if r.length == 0 {
		return nil, nil
	}
	behind := r.capacity - r.offset
	firstLen := r.length
	if firstLen > behind {
		firstLen = behind
	}
	first = r.buf[r.offset : r.offset+firstLen]
	if firstLen < r.length {
		second = r.buf[:r.length-firstLen]
	}
	return first, second
}
