package segmenter

// blockIndex is the per-active-block hash-to-offsets multimap of
// spec.md §4.5. Offsets are the position at which a window *ending* at
// that offset produced the stored hash.
type blockIndex struct {
	m map[uint32][]uint32
	// haveLastRun/lastRunByte/lastRunHash track the most recently indexed
	// single-repeated-byte run, so spec.md's collision-avoidance rule
	// ("not all equal to a single repeating byte whose windowed hash
	// has already been recorded") can be applied without rescanning.
	haveLastRun bool
	lastRunByte byte
	lastRunHash uint32
}

func newBlockIndex() *blockIndex {
	return &blockIndex{m: make(map[uint32][]uint32)}
}

// insert records hash -> offset unless window is a run of one repeated
// byte whose hash was already the last one recorded for that byte.
func (idx *blockIndex) insert(hash uint32, offset uint32, window []byte) {
	if b, ok := singleByteRun(window); ok {
		if idx.haveLastRun && idx.lastRunByte == b && idx.lastRunHash == hash {
			return
		}
		idx.haveLastRun = true
		idx.lastRunByte = b
		idx.lastRunHash = hash
	} else {
		idx.haveLastRun = false
	}
	idx.m[hash] = append(idx.m[hash], offset)
}

func (idx *blockIndex) offsets(hash uint32) []uint32 {
	return idx.m[hash]
}

func singleByteRun(window []byte) (byte, bool) {
	if len(window) == 0 {
		return 0, false
	}
	b := window[0]
	for _, c := range window[1:] {
		if c != b {
			return 0, false
		}
	}
	return b, true
}
