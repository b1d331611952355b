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

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
)

// Stats is a point-in-time snapshot of a Bridge's internal queues, the
// bridge analog of kcptun's kcp.Snmp counters.
type Stats struct {
	Connected       bool
	InboundPending  int
	OutboundPending int
	RingLen         int
	RingCap         int
	LastSocketError int32
}

// Snapshot captures the bridge's current diagnostic counters. Safe to call
// from any goroutine; it shares the ring lock with the outbound pump.
func (b *Bridge) Snapshot() Stats {
	b.ringMu.Lock()
	ringLen, ringCap := b.ring.Len(), b.ring.Cap()
	b.ringMu.Unlock()

	return Stats{
		Connected:       b.remote.Current() != nil,
		InboundPending:  b.inboundPipe.Pending(),
		OutboundPending: b.outboundPipe.Pending(),
		RingLen:         ringLen,
		RingCap:         ringCap,
		LastSocketError: b.LastSocketError(),
	}
}

// Header names Stats' CSV columns, in ToSlice order.
func (Stats) Header() []string {
	return []string{"Connected", "InboundPending", "OutboundPending", "RingLen", "RingCap", "LastSocketError"}
}

// ToSlice renders the snapshot as CSV fields, in Header order.
func (s Stats) ToSlice() []string {
	connected := "0"
	if s.Connected {
		connected = "1"
	}
	return []string{
		connected,
		fmt.Sprint(s.InboundPending),
		fmt.Sprint(s.OutboundPending),
		fmt.Sprint(s.RingLen),
		fmt.Sprint(s.RingCap),
		fmt.Sprint(s.LastSocketError),
	}
}

// StatsLogger periodically appends a Stats snapshot of b to a CSV file at
// path, the same "strftime-in-the-filename, append forever" scheme as the
// teacher's SnmpLogger. It returns once done is closed; path == "" or
// interval <= 0 disables logging entirely.
//
// Grounded on std/snmp.go's SnmpLogger: that function is wired to
// kcp.DefaultSnmp, a package-level counter bag with no bridge analog here,
// so this reimplements the same periodic-CSV-append shape against Stats.
func StatsLogger(done <-chan struct{}, b *Bridge, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			logDir, logFile := filepath.Split(path)
			f, err := os.OpenFile(logDir+time.Now().Format(logFile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				log.Println(err)
				return
			}

			w := csv.NewWriter(f)
			if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
				if err := w.Write(append([]string{"Unix"}, Stats{}.Header()...)); err != nil {
					log.Println(err)
				}
			}
			snap := b.Snapshot()
			if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, snap.ToSlice()...)); err != nil {
				log.Println(err)
			}
			w.Flush()
			f.Close()
		}
	}
}

// DumpRing writes a DEFLATE-compressed copy of the outgoing ring's current
// contents to w, for operator-triggered diagnostics (e.g. on SIGUSR1) when
// a client has been disconnected long enough that the cache is suspected
// to be the bottleneck. Unlike kcptun, which has no cache to inspect, this
// is new surface the bridge's ring buffer motivates.
func (b *Bridge) DumpRing(w io.Writer) (int64, error) {
	zw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		return 0, err
	}

	b.ringMu.Lock()
	first, second := b.ring.Spans()
	defer b.ringMu.Unlock()

	var written int64
	for _, span := range [][]byte{first, second} {
		if len(span) == 0 {
			continue
		}
		n, err := zw.Write(span)
		written += int64(n)
		if err != nil {
			zw.Close()
			return written, err
		}
	}
	if err := zw.Close(); err != nil {
		return written, err
	}
	return written, nil
}
