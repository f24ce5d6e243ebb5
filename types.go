package dwarfs

// Category identifies one of the image's named content categories (e.g.
// "pcmaudio/waveform", "incompressible", "default"). It is an index into
// the image-wide category-name table; the name itself lives there, not
// here, so fragments and chunks can pass categories around as plain
// integers the way the segmenter and codec registry expect.
type Category int32

// DefaultCategory is assigned to any byte range no categorizer claimed.
const DefaultCategory Category = 0

// Subcategory is categorizer-defined opaque metadata further qualifying a
// fragment within its Category (e.g. a PCM format descriptor index). Two
// fragments with equal Category and Subcategory are guaranteed to be
// compressible by the same codec with the same constraints.
type Subcategory int32

// NoSubcategory marks a fragment with no categorizer-specific metadata.
const NoSubcategory Subcategory = -1

// Fragment is a contiguous, categorized slice of a file's byte range. A
// file's fragments appear in byte order and partition [0, size).
type Fragment struct {
	Category    Category
	Subcategory Subcategory
	Length      uint64
}

// Chunk points to a contiguous run of bytes inside a single compressed
// block. An inode's chunk list, read in order and concatenated,
// reconstructs the inode's bytes exactly.
type Chunk struct {
	Block  uint32
	Offset uint32
	Size   uint32
}

// SectionType enumerates the on-disk section kinds (spec.md §6).
type SectionType uint16

const (
	SectionBlock SectionType = iota + 1
	SectionMetadataV2Schema
	SectionMetadataV2
	SectionHistory
	SectionIndex
)

func (t SectionType) String() string {
	switch t {
	case SectionBlock:
		return "BLOCK"
	case SectionMetadataV2Schema:
		return "METADATA_V2_SCHEMA"
	case SectionMetadataV2:
		return "METADATA_V2"
	case SectionHistory:
		return "HISTORY"
	case SectionIndex:
		return "SECTION_INDEX"
	default:
		return "UNKNOWN"
	}
}

// CompressionID names the codec a BLOCK/METADATA section's payload was
// compressed with. The codec registry (internal/codec) maps these to
// concrete implementations; 0 always means "stored, no compression".
type CompressionID uint16

const (
	CompressionNone CompressionID = iota
	CompressionGZip
	CompressionLZMA
	CompressionXZ
	CompressionLZ4
	CompressionZSTD
)

func (c CompressionID) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZip:
		return "gzip"
	case CompressionLZMA:
		return "lzma"
	case CompressionXZ:
		return "xz"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Magic is the fixed 6-byte section magic, "DWARFS".
var Magic = [6]byte{'D', 'W', 'A', 'R', 'F', 'S'}

// FormatMajor/FormatMinor are the on-disk format version this
// implementation writes and the minimum it accepts from a reader.
const (
	FormatMajor = 2
	FormatMinor = 4
)

// SectionHeaderSize is the fixed byte length of a section_header_v2,
// excluding its payload: magic(6) + major(1) + minor(1) + number(4) +
// type(2) + compression(2) + length(8) + xxh3_64(8) + sha2-512/256(32).
const SectionHeaderSize = 6 + 1 + 1 + 4 + 2 + 2 + 8 + 8 + 32
