package audio

import (
	"bytes"
	"sync"
	"testing"
)

func TestRecordingBufferTracks(t *testing.T) {
	t.Parallel()
	rb := NewRecordingBuffer(0)
	rb.Append(TrackInbound, []byte{1, 2, 3})
	rb.Append(TrackOutbound, []byte{9})
	rb.Append(TrackInbound, []byte{4})

	if got := rb.Len(TrackInbound); got != 4 {
		t.Errorf("inbound len = %d, want 4", got)
	}
	in, out := rb.Drain()
	if !bytes.Equal(in, []byte{1, 2, 3, 4}) {
		t.Errorf("inbound = %v", in)
	}
	if !bytes.Equal(out, []byte{9}) {
		t.Errorf("outbound = %v", out)
	}
	if rb.Len(TrackInbound) != 0 || rb.Len(TrackOutbound) != 0 {
		t.Error("drain did not reset tracks")
	}
}

func TestRecordingBufferDropsOldest(t *testing.T) {
	t.Parallel()
	rb := NewRecordingBuffer(4)
	rb.Append(TrackInbound, []byte{1, 2, 3})
	rb.Append(TrackInbound, []byte{4, 5, 6})

	in, _ := rb.Drain()
	if !bytes.Equal(in, []byte{3, 4, 5, 6}) {
		t.Fatalf("inbound = %v, want oldest dropped", in)
	}
}

func TestRecordingBufferDroppedCount(t *testing.T) {
	t.Parallel()
	rb := NewRecordingBuffer(2)
	rb.Append(TrackOutbound, []byte{1, 2, 3, 4, 5})
	if got := rb.Dropped(TrackOutbound); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	rb.Drain()
	if got := rb.Dropped(TrackOutbound); got != 0 {
		t.Errorf("dropped after drain = %d, want 0", got)
	}
}

func TestRecordingBufferConcurrentAppend(t *testing.T) {
	t.Parallel()
	rb := NewRecordingBuffer(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Append(TrackInbound, []byte{0xFF})
			}
		}()
	}
	wg.Wait()
	if got := rb.Len(TrackInbound); got != 800 {
		t.Fatalf("len = %d, want 800", got)
	}
}
