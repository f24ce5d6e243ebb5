package writer

import (
	"fmt"
	"io"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/codec"
)

// RecompressMode selects which section kinds --recompress rewrites
// (spec.md §4.6/§6).
type RecompressMode int

const (
	RecompressNone RecompressMode = iota
	RecompressBlock
	RecompressMetadata
	RecompressAll
)

// RecompressOptions configures one recompress pass.
type RecompressOptions struct {
	Mode       RecompressMode
	Target     dwarfs.CompressionID
	Categories map[dwarfs.Category]bool // nil means "all categories"
	Exclude    bool                     // Categories names a block-list instead of an allow-list
}

func (o RecompressOptions) wantsCategory(cat dwarfs.Category) bool {
	if o.Categories == nil {
		return true
	}
	_, listed := o.Categories[cat]
	return listed != o.Exclude
}

// Recompress re-reads a complete image from src and writes an
// equivalent image to dst, recoding sections per opt. Sections that are
// not recoded keep their payload and compression byte for byte; their
// checksums are recomputed by WriteSection, which yields the source's
// values as long as no skipped section has shifted the section numbers.
func Recompress(src io.ReaderAt, srcLen int64, dst io.Writer, opt RecompressOptions, blockCategories []dwarfs.Category) error {
	var offset int64
	var sectionNo uint32
	var newOffset uint64
	var index []dwarfs.SectionType
	var indexOff []uint64

	for offset < srcLen {
		hdrBuf := make([]byte, dwarfs.SectionHeaderSize)
		if _, err := src.ReadAt(hdrBuf, offset); err != nil {
			return fmt.Errorf("%w: reading section header: %v", dwarfs.ErrCorruptImage, err)
		}
		hdr, err := dwarfs.ParseSectionHeader(hdrBuf)
		if err != nil {
			return err
		}
		payload := make([]byte, hdr.Length)
		if _, err := src.ReadAt(payload, offset+int64(dwarfs.SectionHeaderSize)); err != nil {
			return fmt.Errorf("%w: reading section payload: %v", dwarfs.ErrCorruptImage, err)
		}
		if err := hdr.VerifyFast(payload); err != nil {
			if hdr.Type == dwarfs.SectionBlock || hdr.Type == dwarfs.SectionHistory {
				// non-fatal for these two per spec.md §7: skip the section.
				offset += int64(dwarfs.SectionHeaderSize) + int64(hdr.Length)
				continue
			}
			return fmt.Errorf("%w: %v", dwarfs.ErrBadChecksum, err)
		}

		rewrite := false
		switch hdr.Type {
		case dwarfs.SectionBlock:
			rewrite = opt.Mode == RecompressBlock || opt.Mode == RecompressAll
			if rewrite && sectionNo < uint32(len(blockCategories)) {
				rewrite = opt.wantsCategory(blockCategories[sectionNo])
			}
		case dwarfs.SectionMetadataV2, dwarfs.SectionMetadataV2Schema:
			rewrite = opt.Mode == RecompressMetadata || opt.Mode == RecompressAll
		}

		outPayload := payload
		outComp := hdr.Compression
		if rewrite {
			raw, err := decompressSection(hdr, payload)
			if err != nil {
				return err
			}
			cd, err := codec.Lookup(opt.Target)
			if err != nil {
				return err
			}
			compressed, err := cd.Compress(raw)
			if err == nil && len(compressed) < len(raw) {
				outPayload = dwarfs.WrapCompressedPayload(len(raw), compressed)
				outComp = opt.Target
			} else {
				outPayload = raw
				outComp = dwarfs.CompressionNone
			}
		}

		newHdr, err := dwarfs.WriteSection(dst, sectionNo, hdr.Type, outComp, outPayload)
		if err != nil {
			return err
		}
		index = append(index, hdr.Type)
		indexOff = append(indexOff, newOffset)
		newOffset += uint64(dwarfs.SectionHeaderSize) + newHdr.Length

		offset += int64(dwarfs.SectionHeaderSize) + int64(hdr.Length)
		sectionNo++
	}

	entries := make([]byte, 0, 8*len(index))
	for i, typ := range index {
		v := dwarfs.IndexEntry(typ, indexOff[i])
		var b [8]byte
		for k := 0; k < 8; k++ {
			b[k] = byte(v >> (8 * k))
		}
		entries = append(entries, b[:]...)
	}
	_, err := dwarfs.WriteSection(dst, sectionNo, dwarfs.SectionIndex, dwarfs.CompressionNone, entries)
	return err
}

func decompressSection(hdr *dwarfs.SectionHeader, payload []byte) ([]byte, error) {
	if hdr.Compression == dwarfs.CompressionNone {
		return payload, nil
	}
	cd, err := codec.Lookup(hdr.Compression)
	if err != nil {
		return nil, err
	}
	rawSize, compressed, err := dwarfs.UnwrapCompressedPayload(payload)
	if err != nil {
		return nil, err
	}
	return cd.Decompress(compressed, rawSize)
}
