// Package xxh3 wraps the third-party xxh3 implementation behind the
// narrow surface the section framing code needs. Hashing primitives are
// explicitly out of scope for this module (spec.md §1 treats them as an
// external collaborator); this file exists only to give that collaborator
// a stable name to import.
package xxh3

import "github.com/zeebo/xxh3"

// Sum64 returns the XXH3-64 digest of data, as used for the fast
// per-section checksum in section_header_v2.
func Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// New returns a streaming XXH3-64 hasher for callers that want to feed a
// header tail and a payload without concatenating them first.
func New() *Hasher {
	return &Hasher{h: xxh3.New()}
}

// Hasher is a thin io.Writer-compatible wrapper around the upstream
// streaming hasher.
type Hasher struct {
	h *xxh3.Hasher
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }
func (h *Hasher) Sum64() uint64               { return h.h.Sum64() }
func (h *Hasher) Reset()                      { h.h.Reset() }
