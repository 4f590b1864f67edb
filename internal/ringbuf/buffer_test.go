package ringbuf

import (
	"bytes"
	"testing"
)

func TestAppendRoundTrip(t *testing.T) {
	b := New(4)
	b.Append([]byte("hello"))
	if got := b.ReadableBytes(); got != 5 {
		t.Fatalf("ReadableBytes() = %d, want 5", got)
	}
	if !bytes.Equal(b.Peek(), []byte("hello")) {
		t.Fatalf("Peek() = %q, want %q", b.Peek(), "hello")
	}
}

func TestGrowBeyondCapacity(t *testing.T) {
	b := New(2)
	payload := bytes.Repeat([]byte("x"), 1000)
	b.Append(payload)
	if !bytes.Equal(b.Peek(), payload) {
		t.Fatalf("payload mismatch after grow")
	}
}

func TestCompactionReusesPrependableSpace(t *testing.T) {
	b := New(16)
	b.Append([]byte("0123456789"))
	b.Retrieve(8) // readPos=8, writePos=10, prependable=8, writable=6
	b.Append([]byte("abcdefgh")) // needs 8; writable(6)+prependable(8)=14 >= 8, compacts
	if !bytes.Equal(b.Peek(), []byte("89abcdefgh")) {
		t.Fatalf("Peek() = %q, want %q", b.Peek(), "89abcdefgh")
	}
}

func TestRetrieveAllEmptiesBuffer(t *testing.T) {
	b := New(8)
	b.Append([]byte("abcd"))
	b.Retrieve(2)
	b.RetrieveAll()
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d, want 0", b.ReadableBytes())
	}
}

func TestRetrieveOverrunPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on over-retrieve")
		}
	}()
	b := New(8)
	b.Append([]byte("ab"))
	b.Retrieve(5)
}

func TestInvariantReadPosLEWritePosLECap(t *testing.T) {
	b := New(4)
	ops := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, op := range ops {
		b.Append(op)
		b.Retrieve(1)
		if b.readPos > b.writePos || b.writePos > cap(b.buf) {
			t.Fatalf("invariant violated: readPos=%d writePos=%d cap=%d", b.readPos, b.writePos, cap(b.buf))
		}
	}
}
