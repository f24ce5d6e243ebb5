package categorize

import (
	"math"

	"github.com/dwarfs-go/dwarfs"
)

const categoryIncompressible = "incompressible"

// Incompressible is the random-access categorizer of spec.md §4.1: it
// slides a fixed window across the file, scores each window's Shannon
// entropy, and splits off contiguous high-entropy runs so they can be
// routed to a null/store codec instead of wasting cycles on a general
// compressor that cannot shrink them.
//
// spec.md leaves the detector's exact window size and threshold
// unspecified; this mirrors the block sizes typical block compressors
// use internally so a run gets a fair chance to prove itself
// incompressible before being written off.
type Incompressible struct {
	WindowSize int
	// Threshold is in bits per byte, out of a maximum of 8.
	Threshold float64
	// MinRunBytes is the smallest contiguous high-entropy run worth
	// splitting off as its own fragment.
	MinRunBytes int
}

func NewIncompressible() *Incompressible {
	return &Incompressible{WindowSize: 4096, Threshold: 7.5, MinRunBytes: 16384}
}

func (c *Incompressible) Name() string     { return categoryIncompressible }
func (c *Incompressible) GlobalBest() bool { return false }

func (c *Incompressible) CategorizeRandomAccess(path string, data []byte, m Mapper) ([]dwarfs.Fragment, error) {
	if len(data) < c.MinRunBytes {
		return nil, nil
	}

	marks := make([]bool, len(data))
	window := c.WindowSize
	if window <= 0 {
		window = 4096
	}
	for off := 0; off < len(data); off += window {
		end := off + window
		if end > len(data) {
			end = len(data)
		}
		if shannonEntropy(data[off:end]) >= c.Threshold {
			for i := off; i < end; i++ {
				marks[i] = true
			}
		}
	}

	catID := m.CategoryID(categoryIncompressible)
	var frags []dwarfs.Fragment
	i := 0
	for i < len(marks) {
		j := i
		for j < len(marks) && marks[j] == marks[i] {
			j++
		}
		length := uint64(j - i)
		if marks[i] && length >= uint64(c.MinRunBytes) {
			frags = append(frags, dwarfs.Fragment{Category: catID, Subcategory: dwarfs.NoSubcategory, Length: length})
		} else if len(frags) > 0 && frags[len(frags)-1].Category == dwarfs.DefaultCategory {
			frags[len(frags)-1].Length += length
		} else {
			frags = append(frags, dwarfs.Fragment{Category: dwarfs.DefaultCategory, Subcategory: dwarfs.NoSubcategory, Length: length})
		}
		i = j
	}

	if len(frags) <= 1 {
		return nil, nil
	}
	return frags, nil
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var entropy float64
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
