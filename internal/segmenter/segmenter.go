// Package segmenter implements the rsync-style content-defined
// deduplication pass of spec.md §4.5: it consumes one category's
// ordered inode stream and emits fixed-size blocks, replacing any byte
// range that duplicates a recently written region with a chunk
// reference to it instead of writing the bytes again.
package segmenter

// Params are the per-category knobs spec.md §4.5 describes. All window
// sizes are in frames; a frame is Granularity bytes.
type Params struct {
	BlockSize            int
	WindowSizeFrames     int
	Granularity          int
	WindowIncrementShift uint
	MaxActiveBlocks      int
	BloomFilterBits      int
}

func (p Params) windowBytes() int {
	return p.WindowSizeFrames * p.Granularity
}

func (p Params) stepFrames() int {
	step := p.WindowSizeFrames >> p.WindowIncrementShift
	if step < 1 {
		step = 1
	}
	return step
}

func (p Params) stepBytes() int {
	return p.stepFrames() * p.Granularity
}

func (p Params) enabled() bool {
	return p.WindowSizeFrames > 0 && p.MaxActiveBlocks > 0 && p.Granularity > 0
}

// ChunkSink receives the output of segmenting one inode: a sequence of
// chunk references and/or sparse-file holes that concatenate back into
// the inode's original bytes.
type ChunkSink interface {
	AddChunk(block uint32, offset uint32, size uint32)
	AddHole(size uint64)
}

// BlockEmitter is notified every time a block fills up and is handed
// off to the filesystem writer for physical numbering and compression.
type BlockEmitter interface {
	BlockReady(data []byte, logicalBlockNo uint32)
}

type activeBlock struct {
	id          uint32
	data        []byte
	index       *blockIndex
	indexedUpTo int
}

// Segmenter processes the ordered inode stream of a single category.
// It is not safe for concurrent use; callers run one Segmenter per
// category worker goroutine (spec.md §5).
type Segmenter struct {
	params      Params
	emitter     BlockEmitter
	bloom       *bloomFilter
	active      []*activeBlock
	nextBlockID uint32
}

// New constructs a segmenter for one category.
func New(params Params, emitter BlockEmitter) *Segmenter {
	s := &Segmenter{params: params, emitter: emitter}
	if params.enabled() {
		bits := params.BloomFilterBits
		if bits <= 0 {
			bits = 20
		}
		s.bloom = newBloomFilter(bits)
	}
	s.pushBlock()
	return s
}

// Flush hands the current, possibly partial, block to the emitter and
// resets the active-block set. Call once after the last inode in the
// category has been segmented.
func (s *Segmenter) Flush() {
	cur := s.current()
	if len(cur.data) > 0 {
		s.emitter.BlockReady(cur.data, cur.id)
	}
	s.active = nil
	s.pushBlock()
}

func (s *Segmenter) current() *activeBlock {
	return s.active[len(s.active)-1]
}

func (s *Segmenter) pushBlock() *activeBlock {
	b := &activeBlock{id: s.nextBlockID, index: newBlockIndex()}
	s.nextBlockID++
	s.active = append(s.active, b)
	if s.params.MaxActiveBlocks > 0 && len(s.active) > s.params.MaxActiveBlocks {
		s.active = s.active[len(s.active)-s.params.MaxActiveBlocks:]
		s.rebuildBloom()
	}
	return b
}

func (s *Segmenter) rollBlock() {
	cur := s.current()
	s.emitter.BlockReady(cur.data, cur.id)
	s.pushBlock()
}

func (s *Segmenter) rebuildBloom() {
	if s.bloom == nil {
		return
	}
	s.bloom.clear()
	for _, b := range s.active {
		for h := range b.index.m {
			s.bloom.add(h)
		}
	}
}

// commit appends chunk to blk's backing buffer and indexes every new
// window boundary that lands on a window_step frame, per spec.md §4.5's
// "populated only every window_step frames" rule.
func (s *Segmenter) commit(blk *activeBlock, chunk []byte) {
	blk.data = append(blk.data, chunk...)
	if !s.params.enabled() {
		return
	}
	windowBytes := s.params.windowBytes()
	stepBytes := s.params.stepBytes()
	start := blk.indexedUpTo
	if start < windowBytes {
		start = windowBytes
	}
	for end := start; end <= len(blk.data); end += stepBytes {
		window := blk.data[end-windowBytes : end]
		h := newRollingHash(window).value()
		blk.index.insert(h, uint32(end), window)
		if s.bloom != nil {
			s.bloom.add(h)
		}
		blk.indexedUpTo = end
	}
}

// appendLiteral writes data into the current block, splitting across
// block boundaries and flushing full blocks to the emitter as needed.
func (s *Segmenter) appendLiteral(data []byte, sink ChunkSink) {
	for len(data) > 0 {
		cur := s.current()
		room := s.params.BlockSize - len(cur.data)
		if room <= 0 {
			s.rollBlock()
			continue
		}
		n := room
		if n > len(data) {
			n = len(data)
		}
		start := uint32(len(cur.data))
		s.commit(cur, data[:n])
		sink.AddChunk(cur.id, start, uint32(n))
		data = data[n:]
		if len(cur.data) >= s.params.BlockSize {
			s.rollBlock()
		}
	}
}

type match struct {
	block     uint32
	offset    uint32
	length    uint32
	dataStart int
	dataEnd   int
}

// findMatch looks for the longest verified duplicate of
// data[pos:pos+windowBytes] against the active block set, extending the
// match as far as possible in both directions. flushed bounds how far
// back a match may extend: bytes before it already belong to a chunk
// that has been emitted for this file.
func (s *Segmenter) findMatch(data []byte, pos int, hash uint32, flushed int) *match {
	windowBytes := s.params.windowBytes()
	granularity := s.params.Granularity

	candidates := s.active
	if s.params.MaxActiveBlocks == 1 {
		candidates = s.active[len(s.active)-1:]
	}

	var best *match
	for _, blk := range candidates {
		for _, off := range blk.index.offsets(hash) {
			end := int(off)
			if end < windowBytes || end > len(blk.data) {
				continue
			}
			start := end - windowBytes
			if !bytesEqual(blk.data[start:end], data[pos:pos+windowBytes]) {
				continue
			}

			bstart, dstart := start, pos
			for bstart >= granularity && dstart-flushed >= granularity &&
				bytesEqual(blk.data[bstart-granularity:bstart], data[dstart-granularity:dstart]) {
				bstart -= granularity
				dstart -= granularity
			}

			bend, dend := end, pos+windowBytes
			for bend+granularity <= len(blk.data) && dend+granularity <= len(data) &&
				bytesEqual(blk.data[bend:bend+granularity], data[dend:dend+granularity]) {
				bend += granularity
				dend += granularity
			}

			length := bend - bstart
			if best == nil || length > int(best.length) ||
				(length == int(best.length) && (blk.id < best.block || (blk.id == best.block && uint32(bstart) < best.offset))) {
				best = &match{block: blk.id, offset: uint32(bstart), length: uint32(length), dataStart: dstart, dataEnd: dend}
			}
		}
	}
	return best
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Segment runs the full per-file algorithm of spec.md §4.5 over one
// inode's data, reporting the resulting chunk sequence to sink.
func (s *Segmenter) Segment(data []byte, sink ChunkSink) {
	windowBytes := s.params.windowBytes()
	if !s.params.enabled() || len(data) < windowBytes {
		s.appendLiteral(data, sink)
		return
	}

	granularity := s.params.Granularity
	pos := 0
	flushed := 0
	rh := newRollingHash(data[pos : pos+windowBytes])

	for pos+windowBytes <= len(data) {
		hash := rh.value()
		if s.bloom != nil && s.bloom.test(hash) {
			if m := s.findMatch(data, pos, hash, flushed); m != nil {
				if m.dataStart > flushed {
					s.appendLiteral(data[flushed:m.dataStart], sink)
				}
				sink.AddChunk(m.block, m.offset, m.length)
				pos = m.dataEnd
				flushed = pos
				if pos+windowBytes > len(data) {
					break
				}
				rh = newRollingHash(data[pos : pos+windowBytes])
				continue
			}
		}

		if pos+windowBytes+granularity > len(data) {
			break
		}
		for k := 0; k < granularity; k++ {
			rh.roll(data[pos+k], data[pos+windowBytes+k])
		}
		pos += granularity

		lookback := windowBytes + s.params.stepBytes()
		if pos-flushed > lookback {
			toFlush := pos - lookback - flushed
			s.appendLiteral(data[flushed:flushed+toFlush], sink)
			flushed += toFlush
		}
	}

	if flushed < len(data) {
		s.appendLiteral(data[flushed:], sink)
	}
}

// Hole passes a sparse-file extent through untouched (spec.md §4.5).
func (s *Segmenter) Hole(size uint64, sink ChunkSink) {
	sink.AddHole(size)
}
