package writer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/scanner"
)

// MetadataOptions are the packing choices of spec.md §4.7. All packing
// is a reversible transform over the same logical tables; unpacked
// output is always a valid (larger) encoding.
type MetadataOptions struct {
	PackedChunkTable       bool
	PackedDirectories      bool
	PackedSharedFilesTable bool
	PackedNames            bool
	PackedSymlinks         bool
	TimeResolutionSec      uint32
	MtimeOnly              bool
}

// DefaultMetadataOptions mirrors mkdwarfs's own defaults: everything
// packed, one-second time resolution.
var DefaultMetadataOptions = MetadataOptions{
	PackedChunkTable:       true,
	PackedDirectories:      true,
	PackedSharedFilesTable: true,
	PackedNames:            true,
	PackedSymlinks:         true,
	TimeResolutionSec:      1,
}

// DirectoryRecord is one directory's entry-table slice: entries
// [FirstEntry, next directory's FirstEntry) belong to it. The final
// element of Metadata.Directories is a sentinel carrying only
// FirstEntry (its InodeNumber is unused) so the last real directory's
// range has an upper bound.
type DirectoryRecord struct {
	FirstEntry  uint32
	InodeNumber uint32
}

// DirEntryRecord names one child of a directory.
type DirEntryRecord struct {
	NameOffset  uint32
	InodeNumber uint32
}

// InodeRecord is one inode's fixed-width metadata; Modes/UIDs/GIDs are
// indices into their respective dedup tables.
type InodeRecord struct {
	ModeIdx     uint32
	UIDIdx      uint32
	GIDIdx      uint32
	MTimeOffset uint32
	ATimeOffset uint32
	CTimeOffset uint32
	Rank        uint32
	Size        uint64
}

// ChunkRecord is one physical chunk reference.
type ChunkRecord struct {
	Block  uint32
	Offset uint32
	Size   uint32
}

// Metadata is the full frozen-metadata logical model of spec.md §4.7.
type Metadata struct {
	Options MetadataOptions

	Directories []DirectoryRecord
	DirEntries  []DirEntryRecord
	Inodes      []InodeRecord
	Chunks      []ChunkRecord
	ChunkTable  []uint32 // len(Inodes)+1 prefix sums into Chunks

	SymlinkTable     []uint32 // inode index -> symlink string index
	SharedFilesTable []uint32 // inode index -> link count, when > 1

	Devices []uint64

	UIDs  []uint32
	GIDs  []uint32
	Modes []uint32

	Names         []string
	Symlinks      []string
	CategoryNames []string
	BlockCategories []dwarfs.Category

	TimeBase int64
}

type builder struct {
	md        Metadata
	uidIdx    map[uint32]uint32
	gidIdx    map[uint32]uint32
	modeIdx   map[uint32]uint32
	nameIdx   map[string]uint32
	symIdx    map[string]uint32
	inodeNum  map[*scanner.Entry]uint32
	catNames  map[dwarfs.Category]uint32
}

// BuildMetadata walks the scanned tree (with inode numbers already
// assigned, e.g. by internal/inode.Manager) and produces the frozen
// metadata tables. chunksByInode supplies each regular inode's already
// segmented chunk list, keyed by inode number.
func BuildMetadata(root *scanner.Entry, inodeOf func(*scanner.Entry) uint32, chunksByInode map[uint32][]ChunkRecord, opt MetadataOptions) (*Metadata, error) {
	b := &builder{
		md:       Metadata{Options: opt, TimeBase: time.Now().Unix()},
		uidIdx:   map[uint32]uint32{},
		gidIdx:   map[uint32]uint32{},
		modeIdx:  map[uint32]uint32{},
		nameIdx:  map[string]uint32{},
		symIdx:   map[string]uint32{},
		catNames: map[dwarfs.Category]uint32{},
	}

	maxIno := uint32(0)
	var walk func(e *scanner.Entry)
	var assignInode func(e *scanner.Entry) uint32
	assignInode = func(e *scanner.Entry) uint32 {
		n := inodeOf(e)
		if n > maxIno {
			maxIno = n
		}
		return n
	}

	walk = func(e *scanner.Entry) {
		ino := assignInode(e)
		for uint32(len(b.md.Inodes)) <= ino {
			b.md.Inodes = append(b.md.Inodes, InodeRecord{})
		}
		b.md.Inodes[ino] = b.inodeRecord(e, ino)

		if e.Kind == scanner.KindDirectory {
			b.md.Directories = append(b.md.Directories, DirectoryRecord{
				FirstEntry:  uint32(len(b.md.DirEntries)),
				InodeNumber: ino,
			})
			for _, c := range e.Children {
				b.md.DirEntries = append(b.md.DirEntries, DirEntryRecord{
					NameOffset:  b.internName(c.Name),
					InodeNumber: assignInode(c),
				})
			}
			for _, c := range e.Children {
				walk(c)
			}
		}
	}
	walk(root)
	b.md.Directories = append(b.md.Directories, DirectoryRecord{FirstEntry: uint32(len(b.md.DirEntries))})

	b.md.ChunkTable = make([]uint32, len(b.md.Inodes)+1)
	for ino := range b.md.Inodes {
		b.md.ChunkTable[ino+1] = b.md.ChunkTable[ino]
		if chunks, ok := chunksByInode[uint32(ino)]; ok {
			b.md.Chunks = append(b.md.Chunks, chunks...)
			b.md.ChunkTable[ino+1] += uint32(len(chunks))
		}
	}

	return &b.md, nil
}

func (b *builder) internName(s string) uint32 {
	if i, ok := b.nameIdx[s]; ok {
		return i
	}
	i := uint32(len(b.md.Names))
	b.md.Names = append(b.md.Names, s)
	b.nameIdx[s] = i
	return i
}

func (b *builder) internSymlink(s string) uint32 {
	if i, ok := b.symIdx[s]; ok {
		return i
	}
	i := uint32(len(b.md.Symlinks))
	b.md.Symlinks = append(b.md.Symlinks, s)
	b.symIdx[s] = i
	return i
}

func (b *builder) internUID(v uint32) uint32 { return internU32(&b.md.UIDs, b.uidIdx, v) }
func (b *builder) internGID(v uint32) uint32 { return internU32(&b.md.GIDs, b.gidIdx, v) }
func (b *builder) internMode(v uint32) uint32 { return internU32(&b.md.Modes, b.modeIdx, v) }

func internU32(table *[]uint32, idx map[uint32]uint32, v uint32) uint32 {
	if i, ok := idx[v]; ok {
		return i
	}
	i := uint32(len(*table))
	*table = append(*table, v)
	idx[v] = i
	return i
}

func (b *builder) timeOffset(t time.Time) uint32 {
	res := int64(b.md.Options.TimeResolutionSec)
	if res <= 0 {
		res = 1
	}
	d := t.Unix() - b.md.TimeBase
	if d < 0 {
		d = 0
	}
	return uint32(d / res)
}

func (b *builder) inodeRecord(e *scanner.Entry, ino uint32) InodeRecord {
	rank := uint32(dwarfs.RankOf(e.Mode))
	rec := InodeRecord{
		ModeIdx: b.internMode(dwarfs.ModeToUnix(e.Mode)),
		UIDIdx:  b.internUID(e.UID),
		GIDIdx:  b.internGID(e.GID),
		Rank:    rank,
		Size:    e.Size,
	}
	rec.MTimeOffset = b.timeOffset(e.MTime)
	if b.md.Options.MtimeOnly {
		rec.ATimeOffset = rec.MTimeOffset
		rec.CTimeOffset = rec.MTimeOffset
	} else {
		rec.ATimeOffset = b.timeOffset(e.ATime)
		rec.CTimeOffset = b.timeOffset(e.CTime)
	}
	if e.Kind == scanner.KindSymlink {
		for uint32(len(b.md.SymlinkTable)) <= ino {
			b.md.SymlinkTable = append(b.md.SymlinkTable, 0)
		}
		b.md.SymlinkTable[ino] = b.internSymlink(e.Target)
	}
	return rec
}

// Marshal serialises the metadata into the METADATA_V2 section payload.
// Tables are written as length-prefixed fixed-width arrays (for record
// tables) or length-prefixed byte blobs (for string pools). Of the
// packing options, PackedDirectories, PackedChunkTable and
// PackedSharedFilesTable change the encoding; PackedNames and
// PackedSymlinks do not, and the string pools are always written plain.
func (md *Metadata) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := binary.LittleEndian

	writeU32 := func(v uint32) { binary.Write(&buf, enc, v) }
	writeU64 := func(v uint64) { binary.Write(&buf, enc, v) }
	writeBytes := func(b []byte) { writeU32(uint32(len(b))); buf.Write(b) }
	writeStrings := func(ss []string) {
		writeU32(uint32(len(ss)))
		for _, s := range ss {
			writeBytes([]byte(s))
		}
	}
	writeU32Slice := func(s []uint32, delta bool) {
		writeU32(uint32(len(s)))
		var prev uint32
		for _, v := range s {
			if delta {
				writeU32(v - prev)
				prev = v
			} else {
				writeU32(v)
			}
		}
	}

	writeU32(md.Options.TimeResolutionSec)
	if md.Options.MtimeOnly {
		writeU32(1)
	} else {
		writeU32(0)
	}
	writeU64(uint64(md.TimeBase))

	writeU32(uint32(len(md.Directories)))
	var prevFirst uint32
	for _, d := range md.Directories {
		if md.Options.PackedDirectories {
			writeU32(d.FirstEntry - prevFirst)
			prevFirst = d.FirstEntry
		} else {
			writeU32(d.FirstEntry)
		}
		writeU32(d.InodeNumber)
	}

	writeU32(uint32(len(md.DirEntries)))
	for _, e := range md.DirEntries {
		writeU32(e.NameOffset)
		writeU32(e.InodeNumber)
	}

	writeU32(uint32(len(md.Inodes)))
	for _, in := range md.Inodes {
		writeU32(in.ModeIdx)
		writeU32(in.UIDIdx)
		writeU32(in.GIDIdx)
		writeU32(in.MTimeOffset)
		writeU32(in.ATimeOffset)
		writeU32(in.CTimeOffset)
		writeU32(in.Rank)
		writeU64(in.Size)
	}

	writeU32(uint32(len(md.Chunks)))
	for _, c := range md.Chunks {
		writeU32(c.Block)
		writeU32(c.Offset)
		writeU32(c.Size)
	}

	writeU32Slice(md.ChunkTable, md.Options.PackedChunkTable)
	writeU32Slice(md.SymlinkTable, false)
	writeSharedFilesTable(&buf, md.SharedFilesTable, md.Options.PackedSharedFilesTable, writeU32)

	writeU32(uint32(len(md.Devices)))
	for _, d := range md.Devices {
		writeU64(d)
	}

	writeU32Slice(md.UIDs, false)
	writeU32Slice(md.GIDs, false)
	writeU32Slice(md.Modes, false)

	writeStrings(md.Names)
	writeStrings(md.Symlinks)
	writeStrings(md.CategoryNames)

	writeU32(uint32(len(md.BlockCategories)))
	for _, c := range md.BlockCategories {
		writeU32(uint32(c))
	}

	return buf.Bytes(), nil
}

func writeSharedFilesTable(buf *bytes.Buffer, table []uint32, packed bool, writeU32 func(uint32)) {
	if !packed {
		writeU32(uint32(len(table)))
		for _, v := range table {
			writeU32(v)
		}
		return
	}
	// run-length encode runs of counts >= 2 as (value, run-length) pairs;
	// every other entry is written as its own (value, 1) pair; spec.md §4.7.
	var runs []uint32
	i := 0
	for i < len(table) {
		j := i + 1
		for j < len(table) && table[j] == table[i] && table[i] >= 2 {
			j++
		}
		if table[i] >= 2 && j-i > 1 {
			runs = append(runs, table[i], uint32(j-i))
		} else {
			for k := i; k < j; k++ {
				runs = append(runs, table[k], 1)
			}
		}
		i = j
	}
	writeU32(uint32(len(runs) / 2))
	for _, v := range runs {
		writeU32(v)
	}
}

// Unmarshal is the inverse of Marshal.
func (md *Metadata) Unmarshal(data []byte) error {
	r := bytes.NewReader(data)
	enc := binary.LittleEndian

	readU32 := func() (uint32, error) {
		var v uint32
		err := binary.Read(r, enc, &v)
		return v, err
	}
	readU64 := func() (uint64, error) {
		var v uint64
		err := binary.Read(r, enc, &v)
		return v, err
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	}
	readStrings := func() ([]string, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		out := make([]string, n)
		for i := range out {
			b, err := readBytes()
			if err != nil {
				return nil, err
			}
			out[i] = string(b)
		}
		return out, nil
	}

	var err error
	if md.Options.TimeResolutionSec, err = readU32(); err != nil {
		return fmt.Errorf("metadata: time resolution: %w", err)
	}
	mtimeOnly, err := readU32()
	if err != nil {
		return err
	}
	md.Options.MtimeOnly = mtimeOnly != 0

	tb, err := readU64()
	if err != nil {
		return err
	}
	md.TimeBase = int64(tb)

	nDirs, err := readU32()
	if err != nil {
		return err
	}
	md.Directories = make([]DirectoryRecord, nDirs)
	var prevFirst uint32
	for i := range md.Directories {
		v, err := readU32()
		if err != nil {
			return err
		}
		if md.Options.PackedDirectories {
			prevFirst += v
			md.Directories[i].FirstEntry = prevFirst
		} else {
			md.Directories[i].FirstEntry = v
		}
		if md.Directories[i].InodeNumber, err = readU32(); err != nil {
			return err
		}
	}

	nEnt, err := readU32()
	if err != nil {
		return err
	}
	md.DirEntries = make([]DirEntryRecord, nEnt)
	for i := range md.DirEntries {
		no, err := readU32()
		if err != nil {
			return err
		}
		in, err := readU32()
		if err != nil {
			return err
		}
		md.DirEntries[i] = DirEntryRecord{NameOffset: no, InodeNumber: in}
	}

	nIno, err := readU32()
	if err != nil {
		return err
	}
	md.Inodes = make([]InodeRecord, nIno)
	for i := range md.Inodes {
		var rec InodeRecord
		vals := make([]uint32, 7)
		for k := range vals {
			if vals[k], err = readU32(); err != nil {
				return err
			}
		}
		rec.ModeIdx, rec.UIDIdx, rec.GIDIdx = vals[0], vals[1], vals[2]
		rec.MTimeOffset, rec.ATimeOffset, rec.CTimeOffset = vals[3], vals[4], vals[5]
		rec.Rank = vals[6]
		if rec.Size, err = readU64(); err != nil {
			return err
		}
		md.Inodes[i] = rec
	}

	nChunks, err := readU32()
	if err != nil {
		return err
	}
	md.Chunks = make([]ChunkRecord, nChunks)
	for i := range md.Chunks {
		blk, err := readU32()
		if err != nil {
			return err
		}
		off, err := readU32()
		if err != nil {
			return err
		}
		size, err := readU32()
		if err != nil {
			return err
		}
		md.Chunks[i] = ChunkRecord{Block: blk, Offset: off, Size: size}
	}

	if md.ChunkTable, err = readU32SliceDelta(r, md.Options.PackedChunkTable); err != nil {
		return err
	}
	if md.SymlinkTable, err = readU32SliceDelta(r, false); err != nil {
		return err
	}
	if md.SharedFilesTable, err = readSharedFilesTable(r, md.Options.PackedSharedFilesTable); err != nil {
		return err
	}

	nDev, err := readU32()
	if err != nil {
		return err
	}
	md.Devices = make([]uint64, nDev)
	for i := range md.Devices {
		if md.Devices[i], err = readU64(); err != nil {
			return err
		}
	}

	if md.UIDs, err = readU32SliceDelta(r, false); err != nil {
		return err
	}
	if md.GIDs, err = readU32SliceDelta(r, false); err != nil {
		return err
	}
	if md.Modes, err = readU32SliceDelta(r, false); err != nil {
		return err
	}

	if md.Names, err = readStrings(); err != nil {
		return err
	}
	if md.Symlinks, err = readStrings(); err != nil {
		return err
	}
	if md.CategoryNames, err = readStrings(); err != nil {
		return err
	}

	nCat, err := readU32()
	if err != nil {
		return err
	}
	md.BlockCategories = make([]dwarfs.Category, nCat)
	for i := range md.BlockCategories {
		v, err := readU32()
		if err != nil {
			return err
		}
		md.BlockCategories[i] = dwarfs.Category(v)
	}

	return nil
}

func readU32SliceDelta(r *bytes.Reader, delta bool) ([]uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	var prev uint32
	for i := range out {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		if delta {
			prev += v
			out[i] = prev
		} else {
			out[i] = v
		}
	}
	return out, nil
}

func readSharedFilesTable(r *bytes.Reader, packed bool) ([]uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if !packed {
		out := make([]uint32, n)
		for i := range out {
			if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	var out []uint32
	for i := uint32(0); i < n; i++ {
		var value, count uint32
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, err
		}
		for k := uint32(0); k < count; k++ {
			out = append(out, value)
		}
	}
	return out, nil
}
