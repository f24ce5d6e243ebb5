package blockcache_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/blockcache"
)

type countingSource struct {
	mu    sync.Mutex
	calls map[uint32]int
	delay time.Duration
}

func newCountingSource() *countingSource {
	return &countingSource{calls: make(map[uint32]int)}
}

func (s *countingSource) ReadBlock(physicalNo uint32) (dwarfs.CompressionID, []byte, int, error) {
	s.mu.Lock()
	s.calls[physicalNo]++
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	data := []byte(fmt.Sprintf("block-%d", physicalNo))
	return dwarfs.CompressionNone, data, len(data), nil
}

func (s *countingSource) callCount(physicalNo uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[physicalNo]
}

func TestGetReturnsDecompressedBlock(t *testing.T) {
	src := newCountingSource()
	c := blockcache.New(src)

	data, err := c.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "block-3" {
		t.Fatalf("Get(3) = %q, want %q", data, "block-3")
	}
}

func TestConcurrentGetsForSameBlockCoalesce(t *testing.T) {
	src := newCountingSource()
	src.delay = 50 * time.Millisecond
	c := blockcache.New(src)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(7); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.callCount(7); got != 1 {
		t.Fatalf("ReadBlock(7) called %d times, want 1 (coalesced)", got)
	}
}

func TestGetAsyncReturnsAFuture(t *testing.T) {
	src := newCountingSource()
	c := blockcache.New(src)

	fut := c.GetAsync(1)
	data, err := fut()
	if err != nil {
		t.Fatalf("future: %v", err)
	}
	if string(data) != "block-1" {
		t.Fatalf("GetAsync(1)() = %q, want %q", data, "block-1")
	}
}

func TestGetAsyncCoalescesWithGet(t *testing.T) {
	src := newCountingSource()
	src.delay = 30 * time.Millisecond
	c := blockcache.New(src)

	fut := c.GetAsync(9)
	data, err := c.Get(9)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "block-9" {
		t.Fatalf("Get(9) = %q", data)
	}
	if _, err := fut(); err != nil {
		t.Fatalf("future: %v", err)
	}
	if got := src.callCount(9); got != 1 {
		t.Fatalf("ReadBlock(9) called %d times, want 1", got)
	}
}

func TestSequentialReadsTriggerPrefetch(t *testing.T) {
	src := newCountingSource()
	c := blockcache.New(src)
	c.PrefetchThreshold = 3
	c.PrefetchAhead = 2

	for i := uint32(0); i < 3; i++ {
		if _, err := c.Get(i); err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
	}

	// The third consecutive sequential read should have kicked off
	// background decompression of blocks 3 and 4.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if src.callCount(3) > 0 && src.callCount(4) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prefetch did not reach blocks 3 and 4 in time (calls: 3=%d 4=%d)", src.callCount(3), src.callCount(4))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNonSequentialReadsDoNotTriggerPrefetch(t *testing.T) {
	src := newCountingSource()
	c := blockcache.New(src)
	c.PrefetchThreshold = 3
	c.PrefetchAhead = 2

	for _, b := range []uint32{10, 50, 90} {
		if _, err := c.Get(b); err != nil {
			t.Fatalf("Get(%d): %v", b, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	if got := src.callCount(91); got != 0 {
		t.Fatalf("unexpected prefetch of block 91 after non-sequential reads: %d calls", got)
	}
}

func TestMaxBytesEvictsOldBlocksAndRereadsThem(t *testing.T) {
	src := newCountingSource()
	c := blockcache.New(src)
	// Each block is "block-N", 7-8 bytes; cap tight enough that only
	// one or two can be resident at once.
	c.MaxBytes = 16

	for i := uint32(0); i < 10; i++ {
		if _, err := c.Get(i); err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
	}
	// Re-reading an early block after the cap was exceeded must have
	// evicted it, forcing a second ReadBlock call.
	if _, err := c.Get(0); err != nil {
		t.Fatalf("Get(0) again: %v", err)
	}
	if got := src.callCount(0); got < 2 {
		t.Fatalf("ReadBlock(0) called %d times, want at least 2 (evicted then re-fetched)", got)
	}
}

func TestGetPropagatesSourceError(t *testing.T) {
	var calls int32
	src := failingSource{calls: &calls}
	c := blockcache.New(src)

	if _, err := c.Get(0); err == nil {
		t.Fatalf("Get: want error, got nil")
	}
}

type failingSource struct {
	calls *int32
}

func (f failingSource) ReadBlock(physicalNo uint32) (dwarfs.CompressionID, []byte, int, error) {
	atomic.AddInt32(f.calls, 1)
	return 0, nil, 0, fmt.Errorf("simulated read failure")
}
