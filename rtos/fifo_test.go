package rtos

import "testing"

func TestFifoWriteReadRoundTrip(t *testing.T) {
	f := NewFifo(8)
	if n, err := f.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("read: n=%d err=%v buf=%q", n, err, buf)
	}
	if f.Len() != 0 {
		t.Fatalf("expected empty fifo, len=%d", f.Len())
	}
}

func TestFifoOverrunReturnsNoSpace(t *testing.T) {
	f := NewFifo(4)
	if _, err := f.Write([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("e")); err == nil {
		t.Fatal("expected overrun error")
	}
}

func TestFifoWraparound(t *testing.T) {
	f := NewFifo(4)
	_, _ = f.Write([]byte("ab"))
	buf := make([]byte, 2)
	_, _ = f.Read(buf)
	_, _ = f.Write([]byte("cdef"))
	out := make([]byte, 4)
	n, _ := f.Read(out)
	if n != 4 || string(out) != "cdef" {
		t.Fatalf("wraparound read mismatch: %q", out[:n])
	}
}
