package client

import (
	"testing"
	"time"
)

func TestPreRollBufferEvictsOldestBytesPastCapacity(t *testing.T) {
	// 1 sample/sec * 1 second * 4 bytes/sample = 4 byte capacity.
	p := NewPreRollBuffer(1, 1.0)

	p.Write([]byte{1, 2})
	p.Write([]byte{3, 4})
	p.Write([]byte{5, 6})

	got := p.Snapshot()
	want := []byte{3, 4, 5, 6}
	if string(got) != string(want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestPreRollBufferWaitReturnsOnceFilled(t *testing.T) {
	p := NewPreRollBuffer(1, 1.0)

	go func() {
		p.Write([]byte{1, 2, 3, 4})
	}()

	start := time.Now()
	p.Wait(2 * time.Second)
	if time.Since(start) >= 2*time.Second {
		t.Error("Wait should have returned promptly once the buffer filled, not timed out")
	}
}

func TestPreRollBufferWaitTimesOutWhenNeverFilled(t *testing.T) {
	p := NewPreRollBuffer(1, 10.0)

	start := time.Now()
	p.Wait(30 * time.Millisecond)
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Wait should have blocked for the full timeout when never filled")
	}
}
