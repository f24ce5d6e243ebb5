package inode_test

import (
	"testing"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/inode"
)

func TestAddDeduplicatesByContentKey(t *testing.T) {
	m := inode.NewManager()
	a := m.Add(inode.File{Path: "a/f", Size: 10, ContentKey: "hash1"})
	b := m.Add(inode.File{Path: "b/f", Size: 10, ContentKey: "hash1"})
	c := m.Add(inode.File{Path: "c/f", Size: 20, ContentKey: "hash2"})

	if a != b {
		t.Fatalf("two files with the same content key got different inodes")
	}
	if a == c {
		t.Fatalf("files with different content keys got the same inode")
	}
	if a.NLink != 2 {
		t.Fatalf("NLink = %d, want 2", a.NLink)
	}
	if c.NLink != 1 {
		t.Fatalf("NLink = %d, want 1", c.NLink)
	}
	if len(a.Paths) != 2 || a.Paths[0] != "a/f" || a.Paths[1] != "b/f" {
		t.Fatalf("Paths = %v, want [a/f b/f]", a.Paths)
	}
}

func TestAddAssignsDenseInodeNumbers(t *testing.T) {
	m := inode.NewManager()
	first := m.Add(inode.File{Path: "f1", Size: 1, ContentKey: "h1"})
	second := m.Add(inode.File{Path: "f2", Size: 1, ContentKey: "h2"})
	again := m.Add(inode.File{Path: "f1-hardlink", Size: 1, ContentKey: "h1"})

	if first.Number != 0 || second.Number != 1 {
		t.Fatalf("inode numbers = %d, %d, want 0, 1", first.Number, second.Number)
	}
	if again.Number != first.Number {
		t.Fatalf("duplicate content got a new inode number")
	}
	if m.Stats().TotalInodes != 2 {
		t.Fatalf("TotalInodes = %d, want 2", m.Stats().TotalInodes)
	}
}

func TestOrderPath(t *testing.T) {
	m := inode.NewManager()
	repFiles := map[*inode.Inode]inode.File{}
	add := func(p string) {
		f := inode.File{Path: p, Size: 1, ContentKey: p, Category: dwarfs.DefaultCategory}
		ino := m.Add(f)
		repFiles[ino] = f
	}
	add("c")
	add("a")
	add("b")

	spans := m.Order(inode.OrderPath, repFiles)
	if len(spans) != 1 {
		t.Fatalf("expected a single category span, got %d", len(spans))
	}
	var order []string
	for _, i := range spans[0].Inodes {
		order = append(order, i.Paths[0])
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("OrderPath = %v, want %v", order, want)
		}
	}
}

func TestOrderRevPath(t *testing.T) {
	m := inode.NewManager()
	repFiles := map[*inode.Inode]inode.File{}
	add := func(p string) {
		f := inode.File{Path: p, Size: 1, ContentKey: p}
		ino := m.Add(f)
		repFiles[ino] = f
	}
	add("x/a.txt")
	add("y/a.bin")

	spans := m.Order(inode.OrderRevPath, repFiles)
	if len(spans[0].Inodes) != 2 {
		t.Fatalf("expected 2 inodes in span")
	}
	// Reverse-path compares "a.txt/x" vs "a.bin/y"; "a.bin/y" < "a.txt/x".
	if spans[0].Inodes[0].Paths[0] != "y/a.bin" {
		t.Fatalf("OrderRevPath first = %s, want y/a.bin", spans[0].Inodes[0].Paths[0])
	}
}

func TestOrderSimilaritySortsBySizeThenReversePath(t *testing.T) {
	m := inode.NewManager()
	repFiles := map[*inode.Inode]inode.File{}
	add := func(p string, size uint64) {
		f := inode.File{Path: p, Size: size, ContentKey: p}
		ino := m.Add(f)
		repFiles[ino] = f
		ino.Size = size
	}
	add("small", 10)
	add("big", 100)
	add("medium", 50)

	spans := m.Order(inode.OrderSimilarity, repFiles)
	sizes := make([]uint64, len(spans[0].Inodes))
	for i, ino := range spans[0].Inodes {
		sizes[i] = ino.Size
	}
	want := []uint64{100, 50, 10}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("OrderSimilarity sizes = %v, want descending %v", sizes, want)
		}
	}
}

func TestOrderPartitionsByCategory(t *testing.T) {
	m := inode.NewManager()
	repFiles := map[*inode.Inode]inode.File{}
	add := func(p string, cat dwarfs.Category) {
		f := inode.File{Path: p, Size: 1, ContentKey: p, Category: cat}
		ino := m.Add(f)
		repFiles[ino] = f
	}
	add("a", 1)
	add("b", 2)
	add("c", 1)

	spans := m.Order(inode.OrderNone, repFiles)
	if len(spans) != 2 {
		t.Fatalf("expected 2 category spans, got %d", len(spans))
	}
	total := 0
	for _, sp := range spans {
		total += len(sp.Inodes)
	}
	if total != 3 {
		t.Fatalf("total inodes across spans = %d, want 3", total)
	}
}

func TestStatsSizeByCategory(t *testing.T) {
	m := inode.NewManager()
	m.Add(inode.File{Path: "a", Size: 100, ContentKey: "a", Category: 1})
	m.Add(inode.File{Path: "b", Size: 50, ContentKey: "b", Category: 1})
	m.Add(inode.File{Path: "c", Size: 30, ContentKey: "c", Category: 2})

	stats := m.Stats()
	if stats.SizeByCategory[1] != 150 {
		t.Fatalf("category 1 size = %d, want 150", stats.SizeByCategory[1])
	}
	if stats.SizeByCategory[2] != 30 {
		t.Fatalf("category 2 size = %d, want 30", stats.SizeByCategory[2])
	}
}
