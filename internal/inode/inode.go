// Package inode implements the writer-side inode manager of spec.md
// §4.4: it groups scanned files by content hash to assign one inode per
// distinct content, orders each category's inodes by a selectable
// policy, and publishes the ordered spans the segmenter consumes.
package inode

import (
	"path"
	"sort"
	"strings"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/nilsimsa"
)

// OrderPolicy selects how a category's inodes are linearised before
// segmentation (spec.md §4.4).
type OrderPolicy int

const (
	OrderNone OrderPolicy = iota
	OrderPath
	OrderRevPath
	OrderSimilarity
	OrderNilsimsa
)

// File is one scanned regular file as seen by the inode manager: its
// path (for path-based ordering), size, content hash (for dedup) and,
// when nilsimsa ordering is requested, its similarity digest.
type File struct {
	Path       string
	Size       uint64
	ContentKey string
	Category   dwarfs.Category
	Digest     nilsimsa.Digest
	HasDigest  bool
}

// Inode is the result of deduplicating one or more Files sharing a
// content key onto a single inode number.
type Inode struct {
	Number uint32
	Size   uint64
	Paths  []string // first entry is the inode's canonical/primary path
	NLink  uint32
}

// Manager assigns inode numbers and orders each category's inodes.
type Manager struct {
	byContent map[string]*Inode
	order     []*Inode // assignment order, stable regardless of category
	next      uint32
	sizeByCat map[dwarfs.Category]uint64
}

func NewManager() *Manager {
	return &Manager{
		byContent: make(map[string]*Inode),
		sizeByCat: make(map[dwarfs.Category]uint64),
	}
}

// Add records one scanned file, deduplicating by ContentKey (normally a
// strong content hash computed by the scanner). It returns the inode the
// file was assigned to.
func (m *Manager) Add(f File) *Inode {
	ino, ok := m.byContent[f.ContentKey]
	if !ok {
		ino = &Inode{Number: m.next, Size: f.Size}
		m.next++
		m.byContent[f.ContentKey] = ino
		m.order = append(m.order, ino)
	}
	ino.Paths = append(ino.Paths, f.Path)
	ino.NLink++
	m.sizeByCat[f.Category] += f.Size
	return ino
}

// Stats is the fragment_category -> total_size snapshot spec.md §4.4
// requires for capacity planning.
type Stats struct {
	TotalInodes      int
	SizeByCategory   map[dwarfs.Category]uint64
}

// All returns every inode in assignment order, regardless of category.
func (m *Manager) All() []*Inode {
	return m.order
}

func (m *Manager) Stats() Stats {
	cp := make(map[dwarfs.Category]uint64, len(m.sizeByCat))
	for k, v := range m.sizeByCat {
		cp[k] = v
	}
	return Stats{TotalInodes: len(m.order), SizeByCategory: cp}
}

// OrderedSpan is the published ordering of one category's inodes. The
// paths and digests used for similarity linearisation come from the
// repFiles passed to Order and are not carried in the span.
type OrderedSpan struct {
	Category dwarfs.Category
	Inodes   []*Inode
}

// Order partitions all inodes by category and orders each partition
// according to policy. files supplies the per-inode representative
// metadata (path, size, digest) keyed by inode, needed for
// similarity/nilsimsa ordering; pass the File used for the inode's
// first occurrence.
func (m *Manager) Order(policy OrderPolicy, repFiles map[*Inode]File) []OrderedSpan {
	byCat := make(map[dwarfs.Category][]*Inode)
	var cats []dwarfs.Category
	for _, ino := range m.order {
		f, ok := repFiles[ino]
		cat := dwarfs.DefaultCategory
		if ok {
			cat = f.Category
		}
		if _, seen := byCat[cat]; !seen {
			cats = append(cats, cat)
		}
		byCat[cat] = append(byCat[cat], ino)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	spans := make([]OrderedSpan, 0, len(cats))
	for _, cat := range cats {
		inodes := byCat[cat]
		switch policy {
		case OrderPath:
			sort.Slice(inodes, func(i, j int) bool {
				return inodes[i].Paths[0] < inodes[j].Paths[0]
			})
		case OrderRevPath:
			sort.Slice(inodes, func(i, j int) bool {
				return reversePath(inodes[i].Paths[0]) < reversePath(inodes[j].Paths[0])
			})
		case OrderSimilarity:
			sort.Slice(inodes, func(i, j int) bool {
				if inodes[i].Size != inodes[j].Size {
					return inodes[i].Size > inodes[j].Size
				}
				return reversePath(inodes[i].Paths[0]) < reversePath(inodes[j].Paths[0])
			})
		case OrderNilsimsa:
			inodes = orderByNilsimsa(inodes, repFiles)
		case OrderNone:
			// preserve assignment order
		}
		spans = append(spans, OrderedSpan{Category: cat, Inodes: inodes})
	}
	return spans
}

func orderByNilsimsa(inodes []*Inode, repFiles map[*Inode]File) []*Inode {
	items := make([]nilsimsa.Item, 0, len(inodes))
	byID := make(map[int]*Inode, len(inodes))
	for i, ino := range inodes {
		f := repFiles[ino]
		items = append(items, nilsimsa.Item{
			ID:     i,
			Digest: f.Digest,
			Weight: ino.Size,
			Key:    nilsimsa.SecondaryKey{Size: ino.Size, ReversePath: reversePath(ino.Paths[0])},
		})
		byID[i] = ino
	}
	order := nilsimsa.Order(items, nilsimsa.DefaultOptions)
	out := make([]*Inode, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func reversePath(p string) string {
	parts := strings.Split(path.Clean(p), "/")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}
