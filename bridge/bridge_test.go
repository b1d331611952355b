package bridge

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeTCPPort: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestBridge(t *testing.T, opts Options) (*Bridge, string) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freeTCPPort(t))
	br, err := New(addr, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { <-br.DisposeAsync() })
	return br, addr
}

// dialRetry tolerates the brief window between New returning and its
// accept loop's listener actually being up.
func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			return c
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dialRetry %s: %v", addr, lastErr)
	return nil
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("readExactly(%d): %v", n, err)
	}
	return buf
}

func TestScenarioInboundSingleConnection(t *testing.T) {
	br, addr := newTestBridge(t, Options{AcceptInterval: 50 * time.Millisecond})

	c1 := dialRetry(t, addr)
	c1.Write([]byte("abcdef"))
	c1.Write([]byte("ABCDEF"))
	time.Sleep(500 * time.Millisecond)

	buf := make([]byte, 64)
	n, err := br.Incoming().Read(buf)
	if err != nil {
		t.Fatalf("Incoming().Read: %v", err)
	}
	if got := string(buf[:n]); got != "abcdefABCDEF" {
		t.Fatalf("first session: got %q, want %q", got, "abcdefABCDEF")
	}
	c1.Close()

	time.Sleep(200 * time.Millisecond)
	c2 := dialRetry(t, addr)
	defer c2.Close()
	c2.Write([]byte("vwxyz"))
	c2.Write([]byte("VWXYZ"))
	time.Sleep(300 * time.Millisecond)

	n, err = br.Incoming().Read(buf)
	if err != nil {
		t.Fatalf("Incoming().Read (second session): %v", err)
	}
	if got := string(buf[:n]); got != "vwxyzVWXYZ" {
		t.Fatalf("second session: got %q, want %q", got, "vwxyzVWXYZ")
	}
}

func TestScenarioInboundBytesOutliveDisconnect(t *testing.T) {
	br, addr := newTestBridge(t, Options{AcceptInterval: 50 * time.Millisecond})

	c1 := dialRetry(t, addr)
	c1.Write([]byte("abcdef"))
	c1.Write([]byte("ABCDEF"))
	time.Sleep(200 * time.Millisecond)
	c1.Close()

	time.Sleep(200 * time.Millisecond)
	c2 := dialRetry(t, addr)
	c2.Write([]byte("vwxyz"))
	c2.Write([]byte("VWXYZ"))
	time.Sleep(200 * time.Millisecond)
	c2.Close()

	time.Sleep(100 * time.Millisecond)
	buf := make([]byte, 64)
	n, err := br.Incoming().Read(buf)
	if err != nil {
		t.Fatalf("Incoming().Read: %v", err)
	}
	want := "abcdefABCDEFvwxyzVWXYZ"
	if got := string(buf[:n]); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestScenarioInboundBackpressuredBulk(t *testing.T) {
	const blobSize = 64 * 1024
	const blobCount = 10
	threshold := blobSize

	br, addr := newTestBridge(t, Options{
		AcceptInterval:            50 * time.Millisecond,
		BridgeTimeout:             500 * time.Millisecond,
		PauseWriterThresholdBytes: &threshold,
	})

	total := make([]byte, blobSize*blobCount)
	rand.New(rand.NewSource(1)).Read(total)

	readDone := make(chan []byte, 1)
	go func() {
		got := make([]byte, len(total))
		io.ReadFull(br.Incoming(), got)
		readDone <- got
	}()

	conn := dialRetry(t, addr)
	defer conn.Close()
	for i := 0; i < blobCount; i++ {
		if _, err := conn.Write(total[i*blobSize : (i+1)*blobSize]); err != nil {
			t.Fatalf("Write blob %d: %v", i, err)
		}
	}

	select {
	case got := <-readDone:
		if !bytes.Equal(got, total) {
			t.Fatalf("delivered bytes do not match the concatenated blobs")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for all inbound bytes to be delivered")
	}
}

func TestScenarioOutboundSameSession(t *testing.T) {
	br, addr := newTestBridge(t, Options{AcceptInterval: 50 * time.Millisecond})

	c1 := dialRetry(t, addr)
	time.Sleep(500 * time.Millisecond)
	br.Outgoing().Write([]byte("abcdef"))
	br.Outgoing().Write([]byte("ABCDEF"))

	if got := string(readExactly(t, c1, 12)); got != "abcdefABCDEF" {
		t.Fatalf("first session: got %q", got)
	}
	c1.Close()

	time.Sleep(200 * time.Millisecond)
	c2 := dialRetry(t, addr)
	defer c2.Close()
	time.Sleep(500 * time.Millisecond)
	br.Outgoing().Write([]byte("vwxyz"))
	br.Outgoing().Write([]byte("VWXYZ"))

	if got := string(readExactly(t, c2, 10)); got != "vwxyzVWXYZ" {
		t.Fatalf("second session: got %q", got)
	}
}

func TestScenarioOutboundBufferedWhileDisconnected(t *testing.T) {
	br, addr := newTestBridge(t, Options{AcceptInterval: 50 * time.Millisecond})

	br.Outgoing().Write([]byte("abcdef"))
	br.Outgoing().Write([]byte("ABCDEF"))
	time.Sleep(500 * time.Millisecond)
	br.Outgoing().Write([]byte("vwxyz"))
	br.Outgoing().Write([]byte("VWXYZ"))
	time.Sleep(500 * time.Millisecond)

	conn := dialRetry(t, addr)
	defer conn.Close()
	time.Sleep(500 * time.Millisecond)

	want := "abcdefABCDEFvwxyzVWXYZ"
	if got := string(readExactly(t, conn, len(want))); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestScenarioOutboundRingEviction(t *testing.T) {
	const blobSize = 1024
	const blobCount = 10

	br, addr := newTestBridge(t, Options{
		AcceptInterval:     50 * time.Millisecond,
		OutgoingCacheBytes: blobSize,
	})

	blobs := make([][]byte, blobCount)
	for i := range blobs {
		blobs[i] = bytes.Repeat([]byte{byte('0' + i)}, blobSize)
		br.Outgoing().Write(blobs[i])
	}
	time.Sleep(200 * time.Millisecond)

	conn := dialRetry(t, addr)
	defer conn.Close()
	time.Sleep(300 * time.Millisecond)

	got := readExactly(t, conn, blobSize)
	if !bytes.Equal(got, blobs[blobCount-1]) {
		t.Fatalf("expected only the last %d-byte blob to survive ring eviction", blobSize)
	}
}

func TestInboundFlushTimeoutDoesNotTerminateConnection(t *testing.T) {
	threshold := MinPauseWriterThresholdBytes
	br, addr := newTestBridge(t, Options{
		AcceptInterval:            50 * time.Millisecond,
		BridgeTimeout:             100 * time.Millisecond,
		PauseWriterThresholdBytes: &threshold,
	})

	conn := dialRetry(t, addr)
	defer conn.Close()

	first := bytes.Repeat([]byte{'a'}, threshold*4)
	if _, err := conn.Write(first); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Nobody drains Incoming yet, so the pump's Flush blocks past the
	// pause-writer threshold until its own bridge-timeout deadline fires.
	// Give several such deadlines time to fire and be swallowed.
	time.Sleep(500 * time.Millisecond)

	// The connection must still be alive: a stalled flush must not have
	// torn it down, so further bytes are still accepted and delivered once
	// Incoming starts draining.
	if _, err := conn.Write([]byte("tail")); err != nil {
		t.Fatalf("connection was torn down by a swallowed flush timeout: %v", err)
	}

	want := append(append([]byte{}, first...), []byte("tail")...)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(br.Incoming(), got); err != nil {
		t.Fatalf("Incoming().Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("delivered bytes do not match what was sent")
	}
}

func TestBridgeDisposeTerminatesWithOpenConnection(t *testing.T) {
	br, addr := newTestBridge(t, Options{AcceptInterval: 20 * time.Millisecond})

	conn := dialRetry(t, addr)
	defer conn.Close()
	time.Sleep(100 * time.Millisecond) // let the accept loop bind conn first

	select {
	case <-br.DisposeAsync():
	case <-time.After(2 * time.Second):
		t.Fatalf("DisposeAsync did not resolve with an open, idle connection")
	}
}

func TestBridgeDisposeIsIdempotentAndTerminal(t *testing.T) {
	br, _ := newTestBridge(t, Options{AcceptInterval: 20 * time.Millisecond})

	done1 := br.DisposeAsync()
	done2 := br.DisposeAsync()
	<-done1
	<-done2

	if err := br.outboundPipe.Commit([]byte("x")); err != ErrPipeClosed {
		t.Fatalf("expected writes to be rejected after disposal, got %v", err)
	}
	if _, err := br.Incoming().Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected io.EOF from Incoming after disposal, got %v", err)
	}
}
