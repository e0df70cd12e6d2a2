package fifo

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(16)
	n, err := f.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	buf := make([]byte, 5)
	n, _ = f.Read(buf)
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("Read = %q", buf[:n])
	}
	if f.Len() != 0 {
		t.Fatalf("expected empty fifo after full read, got len %d", f.Len())
	}
}

func TestWriteRejectsOverCapacity(t *testing.T) {
	f := New(4)
	if _, err := f.Write([]byte("too long")); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestBytesDoesNotConsume(t *testing.T) {
	f := New(8)
	f.Write([]byte("abc"))
	if string(f.Bytes()) != "abc" {
		t.Fatalf("Bytes = %q", f.Bytes())
	}
	if f.Len() != 3 {
		t.Fatalf("Bytes should not consume, len = %d", f.Len())
	}
}

func TestResetClears(t *testing.T) {
	f := New(8)
	f.Write([]byte("abc"))
	f.Reset()
	if f.Len() != 0 {
		t.Fatalf("expected 0 after reset, got %d", f.Len())
	}
}
