package segmenter

// rollingHash is the rsync-style additive/multiplicative 32-bit rolling
// checksum of spec.md §4.5: a = sum(bytes), b = sum((n-i)*byte_i), value
// = (b<<16)|(a&0xffff). Both halves update in O(1) as the window slides
// by one byte.
type rollingHash struct {
	a, b uint32
	n    uint32
}

func newRollingHash(window []byte) *rollingHash {
	h := &rollingHash{n: uint32(len(window))}
	for i, c := range window {
		h.a += uint32(c)
		h.b += uint32(len(window)-i) * uint32(c)
	}
	return h
}

func (h *rollingHash) value() uint32 {
	return (h.b << 16) | (h.a & 0xFFFF)
}

// roll slides the window forward by one byte: out leaves at the front,
// in joins at the back.
func (h *rollingHash) roll(out, in byte) {
	h.a = h.a - uint32(out) + uint32(in)
	h.b = h.b - h.n*uint32(out) + h.a
}
