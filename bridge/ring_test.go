package bridge

import "testing"

func spansToBytes(first, second []byte) []byte {
	out := make([]byte, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second...)
	return out
}

func TestRingBufferZeroCapacity(t *testing.T) {
	r, err := NewRingBuffer(0)
	if err != nil {
		t.Fatalf("NewRingBuffer: %v", err)
	}
	if dropped := r.Accumulate([]byte("abcdef")); dropped != 0 {
		t.Fatalf("expected drop=0 for zero-capacity ring, got %d", dropped)
	}
	if r.Len() != 0 {
		t.Fatalf("expected length 0, got %d", r.Len())
	}
}

func TestRingBufferAccumulateWithinCapacity(t *testing.T) {
	r, _ := NewRingBuffer(16)
	if dropped := r.Accumulate([]byte("abcdef")); dropped != 0 {
		t.Fatalf("expected drop=0, got %d", dropped)
	}
	if dropped := r.Accumulate([]byte("ABCDEF")); dropped != 0 {
		t.Fatalf("expected drop=0, got %d", dropped)
	}
	first, second := r.Spans()
	if got := string(spansToBytes(first, second)); got != "abcdefABCDEF" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRingBufferEvictionOnOverflow(t *testing.T) {
	r, _ := NewRingBuffer(10)
	r.Accumulate([]byte("0123456789"))
	dropped := r.Accumulate([]byte("abcde"))
	if dropped != 5 {
		t.Fatalf("expected drop=5, got %d", dropped)
	}
	first, second := r.Spans()
	if got := string(spansToBytes(first, second)); got != "56789abcde" {
		t.Fatalf("unexpected content after eviction: %q", got)
	}
}

func TestRingBufferAccumulateLargerThanCapacity(t *testing.T) {
	r, _ := NewRingBuffer(4)
	r.Accumulate([]byte("ab"))
	dropped := r.Accumulate([]byte("0123456789"))
	if dropped != 2 {
		t.Fatalf("expected drop=previous length (2), got %d", dropped)
	}
	first, second := r.Spans()
	if got := string(spansToBytes(first, second)); got != "6789" {
		t.Fatalf("expected last 4 bytes of input, got %q", got)
	}
}

func TestRingBufferConsumeIdentities(t *testing.T) {
	r, _ := NewRingBuffer(8)
	r.Accumulate([]byte("abcd"))
	if n := r.Consume(0); n != 0 {
		t.Fatalf("Consume(0) should be identity, removed %d", n)
	}
	if n := r.Consume(-5); n != 0 {
		t.Fatalf("Consume(negative) should be identity, removed %d", n)
	}
	if r.Len() != 4 {
		t.Fatalf("expected length unchanged at 4, got %d", r.Len())
	}
}

func TestRingBufferConsumeWrapAndClear(t *testing.T) {
	r, _ := NewRingBuffer(6)
	r.Accumulate([]byte("abcdef"))
	r.Consume(4) // offset now at 4, length 2 ("ef")
	r.Accumulate([]byte("XYZZ")) // wraps: free=4, "ef" stays at [4:6], XYZZ is written at [0:4]
	first, second := r.Spans()
	if got := string(spansToBytes(first, second)); got != "efXYZZ" {
		t.Fatalf("unexpected content after wrap: %q", got)
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after Clear, got length %d", r.Len())
	}
	first, second = r.Spans()
	if len(first) != 0 || len(second) != 0 {
		t.Fatalf("expected empty spans after Clear")
	}
}

func TestRingBufferInvariantAcrossRandomOps(t *testing.T) {
	r, _ := NewRingBuffer(32)
	var model []byte

	apply := func(data []byte) {
		dropped := r.Accumulate(data)
		model = append(model, data...)
		if dropped > 0 {
			model = model[dropped:]
		}
		if len(model) > 32 {
			model = model[len(model)-32:]
		}
	}

	apply([]byte("0123456789"))
	r.Consume(3)
	model = model[3:]
	apply([]byte("abcdefghijklmnopqrstuvwxyz"))
	r.Consume(5)
	model = model[5:]

	if r.Len() != len(model) {
		t.Fatalf("length mismatch: ring=%d model=%d", r.Len(), len(model))
	}
	first, second := r.Spans()
	if got := string(spansToBytes(first, second)); got != string(model) {
		t.Fatalf("content mismatch:\n got=%q\nwant=%q", got, model)
	}
	if r.Len() > r.Cap() {
		t.Fatalf("invariant violated: length %d > capacity %d", r.Len(), r.Cap())
	}
}

func TestNewRingBufferRejectsOversizedCapacity(t *testing.T) {
	if _, err := NewRingBuffer(-1); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
	if _, err := NewRingBuffer(maxRingCapacity + 1); err == nil {
		t.Fatalf("expected error for oversized capacity")
	}
}
