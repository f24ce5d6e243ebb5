// Package blockcache implements the reader-side block cache of spec.md
// §4.9: physical blocks transition missing -> decompressing -> ready,
// concurrent requests for the same block coalesce onto one
// decompression task, and a short run of sequential reads triggers
// prefetch of the following blocks.
package blockcache

import (
	"sync"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/codec"
)

type state int

const (
	stateMissing state = iota
	stateDecompressing
	stateReady
)

type entry struct {
	state state
	data  []byte
	err   error
	ready chan struct{}
}

// Source supplies a compressed block's raw bytes and codec so the cache
// can decompress it on demand. rawSize is the decompressed length
// recorded alongside the block (dwarfs.UnwrapCompressedPayload); it is
// 0 when codecID is dwarfs.CompressionNone.
type Source interface {
	ReadBlock(physicalNo uint32) (codecID dwarfs.CompressionID, compressed []byte, rawSize int, err error)
}

// Cache is the reader's block cache. PrefetchThreshold is the number of
// consecutive sequential reads (default 4, spec.md §4.9) that triggers
// prefetch of the next few blocks.
type Cache struct {
	mu                sync.Mutex
	entries           map[uint32]*entry
	src               Source
	PrefetchThreshold int
	PrefetchAhead     int
	MaxBytes          uint64

	curBytes   uint64
	lru        []uint32
	lastBlock  uint32
	haveLast   bool
	streakLen  int
}

func New(src Source) *Cache {
	return &Cache{
		entries:           make(map[uint32]*entry),
		src:               src,
		PrefetchThreshold: 4,
		PrefetchAhead:     2,
	}
}

// Get returns the decompressed bytes of a physical block, blocking until
// any in-flight decompression for it completes, and coalescing
// concurrent callers for the same block onto a single decompression.
func (c *Cache) Get(physicalNo uint32) ([]byte, error) {
	e := c.acquire(physicalNo)
	<-e.ready
	c.trackSequence(physicalNo)
	return e.data, e.err
}

// GetAsync starts (or joins) decompression of a block without blocking
// the caller, returning a function that waits for and returns the
// result — the "future" half of readv's contract (spec.md §4.9).
func (c *Cache) GetAsync(physicalNo uint32) func() ([]byte, error) {
	e := c.acquire(physicalNo)
	return func() ([]byte, error) {
		<-e.ready
		return e.data, e.err
	}
}

func (c *Cache) acquire(physicalNo uint32) *entry {
	c.mu.Lock()
	e, ok := c.entries[physicalNo]
	if ok {
		c.mu.Unlock()
		return e
	}
	e = &entry{state: stateDecompressing, ready: make(chan struct{})}
	c.entries[physicalNo] = e
	c.mu.Unlock()

	go c.decompress(physicalNo, e)
	return e
}

func (c *Cache) decompress(physicalNo uint32, e *entry) {
	defer close(e.ready)

	id, compressed, rawSize, err := c.src.ReadBlock(physicalNo)
	if err != nil {
		e.err = err
		return
	}
	cd, err := codec.Lookup(id)
	if err != nil {
		e.err = err
		return
	}
	data, err := cd.Decompress(compressed, rawSize)
	if err != nil {
		e.err = err
		return
	}

	c.mu.Lock()
	e.state = stateReady
	e.data = data
	c.curBytes += uint64(len(data))
	c.lru = append(c.lru, physicalNo)
	c.evictLocked()
	c.mu.Unlock()
}

func (c *Cache) evictLocked() {
	if c.MaxBytes == 0 {
		return
	}
	for c.curBytes > c.MaxBytes && len(c.lru) > 0 {
		victim := c.lru[0]
		c.lru = c.lru[1:]
		if e, ok := c.entries[victim]; ok && e.state == stateReady {
			c.curBytes -= uint64(len(e.data))
			delete(c.entries, victim)
		}
	}
}

// trackSequence implements the adaptive sequential prefetcher: once the
// last PrefetchThreshold reads touched consecutive physical blocks, kick
// off decompression of the next PrefetchAhead blocks.
func (c *Cache) trackSequence(physicalNo uint32) {
	c.mu.Lock()
	if c.haveLast && physicalNo == c.lastBlock+1 {
		c.streakLen++
	} else {
		c.streakLen = 1
	}
	c.lastBlock = physicalNo
	c.haveLast = true
	streak := c.streakLen
	c.mu.Unlock()

	if streak >= c.PrefetchThreshold {
		for i := 1; i <= c.PrefetchAhead; i++ {
			c.acquire(physicalNo + uint32(i))
		}
	}
}
