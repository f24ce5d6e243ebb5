// Package reader implements the read side of spec.md §4.9: opening and
// validating a dwarfs image, decoding its frozen metadata, and serving
// an fs.FS-shaped view of its contents through the block cache.
package reader

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/blockcache"
	"github.com/dwarfs-go/dwarfs/internal/codec"
	"github.com/dwarfs-go/dwarfs/writer"
)

type sectionLoc struct {
	typ    dwarfs.SectionType
	offset uint64
}

// FS is an opened, validated dwarfs image.
type FS struct {
	ra   io.ReaderAt
	size int64

	sections []sectionLoc
	blocks   []sectionLoc

	md    *writer.Metadata
	cache *blockcache.Cache

	catByName     map[string]dwarfs.Category
	dirIdxByInode map[uint32]int
}

// Option configures a Cache at Open time.
type Option func(*FS)

// WithCacheBytes bounds the block cache's resident byte budget
// (spec.md §4.9's LRU eviction; 0 means unbounded).
func WithCacheBytes(n uint64) Option {
	return func(f *FS) { f.cache.MaxBytes = n }
}

// WithPrefetchThreshold overrides the sequential-read run length that
// triggers prefetch (default 4).
func WithPrefetchThreshold(n int) Option {
	return func(f *FS) { f.cache.PrefetchThreshold = n }
}

// Open validates and indexes an image, decoding its frozen metadata.
// size must be the exact byte length of the image behind ra.
func Open(ra io.ReaderAt, size int64, opts ...Option) (*FS, error) {
	f := &FS{ra: ra, size: size}

	sections, err := f.indexSections()
	if err != nil {
		return nil, err
	}
	f.sections = sections
	if err := f.verifySectionIndex(); err != nil {
		return nil, err
	}

	var schemaPayload, mdPayload []byte
	var mdComp dwarfs.CompressionID
	haveMD := false
	for _, s := range f.sections {
		switch s.typ {
		case dwarfs.SectionBlock:
			f.blocks = append(f.blocks, s)
		case dwarfs.SectionMetadataV2Schema:
			_, p, err := f.rawSection(s.offset)
			if err != nil {
				return nil, err
			}
			schemaPayload = p
		case dwarfs.SectionMetadataV2:
			hdr, p, err := f.rawSection(s.offset)
			if err != nil {
				return nil, err
			}
			mdPayload = p
			mdComp = hdr.Compression
			haveMD = true
		}
	}
	if !haveMD {
		return nil, fmt.Errorf("%w: image has no METADATA_V2 section", dwarfs.ErrCorruptImage)
	}

	var opt writer.MetadataOptions
	if schemaPayload != nil {
		if err := json.Unmarshal(schemaPayload, &opt); err != nil {
			return nil, fmt.Errorf("%w: metadata schema: %v", dwarfs.ErrSchemaUnsupported, err)
		}
	}

	rawMD, err := decompressPayload(mdComp, mdPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing metadata: %v", dwarfs.ErrCorruptImage, err)
	}
	md := &writer.Metadata{Options: opt}
	if err := md.Unmarshal(rawMD); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata: %v", dwarfs.ErrCorruptImage, err)
	}
	f.md = md

	f.catByName = make(map[string]dwarfs.Category, len(md.CategoryNames))
	for i, name := range md.CategoryNames {
		f.catByName[name] = dwarfs.Category(i)
	}

	f.dirIdxByInode = make(map[uint32]int, len(md.Directories))
	if n := len(md.Directories); n > 0 {
		for i, d := range md.Directories[:n-1] {
			f.dirIdxByInode[d.InodeNumber] = i
		}
	}

	f.cache = blockcache.New(blockSource{f})
	for _, o := range opts {
		o(f)
	}

	return f, nil
}

// RootInode returns the root directory's inode number.
func (f *FS) RootInode() uint32 {
	if len(f.md.Directories) == 0 {
		return 0
	}
	return f.md.Directories[0].InodeNumber
}

// Category resolves a category name to its id, per spec.md §4.2.
func (f *FS) Category(name string) (dwarfs.Category, bool) {
	c, ok := f.catByName[name]
	return c, ok
}

// BlockCategories returns the category each BLOCK section (in physical
// order) was written under, for callers driving a category-filtered
// --recompress pass (spec.md §4.6).
func (f *FS) BlockCategories() []dwarfs.Category {
	return f.md.BlockCategories
}

// CheckFull verifies every section's sha2-512/256 digest, the deep
// check a reader performs only on explicit request (spec.md §7).
func (f *FS) CheckFull() error {
	for _, s := range f.sections {
		hdrBuf := make([]byte, dwarfs.SectionHeaderSize)
		if _, err := f.ra.ReadAt(hdrBuf, int64(s.offset)); err != nil {
			return fmt.Errorf("%w: %v", dwarfs.ErrCorruptImage, err)
		}
		hdr, err := dwarfs.ParseSectionHeader(hdrBuf)
		if err != nil {
			return err
		}
		payload := make([]byte, hdr.Length)
		if _, err := f.ra.ReadAt(payload, int64(s.offset)+int64(dwarfs.SectionHeaderSize)); err != nil {
			return fmt.Errorf("%w: %v", dwarfs.ErrCorruptImage, err)
		}
		if err := hdr.VerifyFull(payload); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) indexSections() ([]sectionLoc, error) {
	var offset int64
	var out []sectionLoc
	for offset < f.size {
		hdrBuf := make([]byte, dwarfs.SectionHeaderSize)
		if _, err := f.ra.ReadAt(hdrBuf, offset); err != nil {
			return nil, fmt.Errorf("%w: reading section header at offset %d: %v", dwarfs.ErrCorruptImage, offset, err)
		}
		hdr, err := dwarfs.ParseSectionHeader(hdrBuf)
		if err != nil {
			return nil, err
		}
		out = append(out, sectionLoc{typ: hdr.Type, offset: uint64(offset)})
		offset += int64(dwarfs.SectionHeaderSize) + int64(hdr.Length)
	}
	return out, nil
}

// verifySectionIndex cross-checks a trailing SECTION_INDEX section
// against the layout discovered by indexSections, catching an index
// written for a different image (spec.md §4.9's random-access path;
// the full scan above is always performed too, so this is a
// consistency check rather than the sole means of locating sections).
func (f *FS) verifySectionIndex() error {
	if len(f.sections) == 0 {
		return fmt.Errorf("%w: empty image", dwarfs.ErrCorruptImage)
	}
	last := f.sections[len(f.sections)-1]
	if last.typ != dwarfs.SectionIndex {
		return nil
	}
	_, payload, err := f.rawSection(last.offset)
	if err != nil {
		return err
	}
	want := f.sections[:len(f.sections)-1]
	if len(payload) != 8*len(want) {
		return fmt.Errorf("%w: section index entry count mismatch", dwarfs.ErrSectionIndexMismatch)
	}
	for i, s := range want {
		var v uint64
		for k := 0; k < 8; k++ {
			v |= uint64(payload[i*8+k]) << (8 * k)
		}
		typ, off := dwarfs.ParseIndexEntry(v)
		if typ != s.typ || off != s.offset {
			return fmt.Errorf("%w: entry %d wants (%s, %d), found (%s, %d)", dwarfs.ErrSectionIndexMismatch, i, s.typ, s.offset, typ, off)
		}
	}
	return nil
}

func (f *FS) rawSection(offset uint64) (*dwarfs.SectionHeader, []byte, error) {
	hdrBuf := make([]byte, dwarfs.SectionHeaderSize)
	if _, err := f.ra.ReadAt(hdrBuf, int64(offset)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", dwarfs.ErrCorruptImage, err)
	}
	hdr, err := dwarfs.ParseSectionHeader(hdrBuf)
	if err != nil {
		return nil, nil, err
	}
	payload := make([]byte, hdr.Length)
	if _, err := f.ra.ReadAt(payload, int64(offset)+int64(dwarfs.SectionHeaderSize)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", dwarfs.ErrCorruptImage, err)
	}
	if err := hdr.VerifyFast(payload); err != nil {
		return nil, nil, err
	}
	return hdr, payload, nil
}

func decompressPayload(comp dwarfs.CompressionID, payload []byte) ([]byte, error) {
	if comp == dwarfs.CompressionNone {
		return payload, nil
	}
	cd, err := codec.Lookup(comp)
	if err != nil {
		return nil, err
	}
	rawSize, compressed, err := dwarfs.UnwrapCompressedPayload(payload)
	if err != nil {
		return nil, err
	}
	return cd.Decompress(compressed, rawSize)
}

type blockSource struct{ f *FS }

func (b blockSource) ReadBlock(physicalNo uint32) (dwarfs.CompressionID, []byte, int, error) {
	if int(physicalNo) >= len(b.f.blocks) {
		return 0, nil, 0, fmt.Errorf("%w: block %d out of range", dwarfs.ErrCorruptImage, physicalNo)
	}
	loc := b.f.blocks[physicalNo]
	hdr, payload, err := b.f.rawSection(loc.offset)
	if err != nil {
		return 0, nil, 0, err
	}
	if hdr.Compression == dwarfs.CompressionNone {
		return hdr.Compression, payload, 0, nil
	}
	rawSize, compressed, err := dwarfs.UnwrapCompressedPayload(payload)
	if err != nil {
		return 0, nil, 0, err
	}
	return hdr.Compression, compressed, rawSize, nil
}
