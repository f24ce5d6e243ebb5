package dwarfs

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dwarfs-go/dwarfs/internal/xxh3"
)

// SectionHeader is the fixed-size framing header preceding every section's
// payload (spec.md §6, "section_header_v2").
type SectionHeader struct {
	Major       uint8
	Minor       uint8
	Number      uint32
	Type        SectionType
	Compression CompressionID
	Length      uint64
	XXH3        uint64
	SHA512_256  [32]byte
}

// headTail returns the number/type/compression/length fields, the byte
// range the xxh3 checksum covers together with the payload.
func (h *SectionHeader) headTail() []byte {
	buf := make([]byte, 4+2+2+8)
	binary.LittleEndian.PutUint32(buf[0:4], h.Number)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Type))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.Compression))
	binary.LittleEndian.PutUint64(buf[8:16], h.Length)
	return buf
}

// WriteSection serialises magic+header+payload to w, computing both
// checksums over the byte ranges defined in spec.md §6.
func WriteSection(w io.Writer, number uint32, typ SectionType, comp CompressionID, payload []byte) (*SectionHeader, error) {
	h := &SectionHeader{
		Major:       FormatMajor,
		Minor:       FormatMinor,
		Number:      number,
		Type:        typ,
		Compression: comp,
		Length:      uint64(len(payload)),
	}

	tail := h.headTail()

	hh := xxh3.New()
	hh.Write(tail)
	hh.Write(payload)
	h.XXH3 = hh.Sum64()

	var xbuf [8]byte
	binary.LittleEndian.PutUint64(xbuf[:], h.XXH3)

	sh := sha512.New512_256()
	sh.Write(xbuf[:])
	sh.Write(payload)
	sh.Sum(h.SHA512_256[:0])

	buf := &bytes.Buffer{}
	buf.Write(Magic[:])
	buf.WriteByte(h.Major)
	buf.WriteByte(h.Minor)
	buf.Write(tail)
	buf.Write(xbuf[:])
	buf.Write(h.SHA512_256[:])

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}

	return h, nil
}

// ReadSectionHeader reads and parses the fixed-size header at the
// reader's current position. It does not read or validate the payload.
func ReadSectionHeader(r io.Reader) (*SectionHeader, error) {
	buf := make([]byte, SectionHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return ParseSectionHeader(buf)
}

// ParseSectionHeader parses a SectionHeaderSize-byte buffer.
func ParseSectionHeader(buf []byte) (*SectionHeader, error) {
	if len(buf) < SectionHeaderSize {
		return nil, fmt.Errorf("%w: short section header (%d bytes)", ErrCorruptImage, len(buf))
	}
	if !bytes.Equal(buf[0:6], Magic[:]) {
		return nil, fmt.Errorf("%w: bad section magic", ErrCorruptImage)
	}
	h := &SectionHeader{
		Major: buf[6],
		Minor: buf[7],
	}
	if h.Major != FormatMajor {
		return nil, fmt.Errorf("%w: unsupported major version %d", ErrSchemaUnsupported, h.Major)
	}
	p := buf[8:]
	h.Number = binary.LittleEndian.Uint32(p[0:4])
	h.Type = SectionType(binary.LittleEndian.Uint16(p[4:6]))
	h.Compression = CompressionID(binary.LittleEndian.Uint16(p[6:8]))
	h.Length = binary.LittleEndian.Uint64(p[8:16])
	h.XXH3 = binary.LittleEndian.Uint64(p[16:24])
	copy(h.SHA512_256[:], p[24:56])
	return h, nil
}

// VerifyFast checks the xxh3 checksum of a payload against the header.
// This is the cheap check performed unconditionally on open.
func (h *SectionHeader) VerifyFast(payload []byte) error {
	tail := h.headTail()
	hh := xxh3.New()
	hh.Write(tail)
	hh.Write(payload)
	if hh.Sum64() != h.XXH3 {
		return fmt.Errorf("%w: xxh3 mismatch in section %d (%s)", ErrCorruptImage, h.Number, h.Type)
	}
	return nil
}

// VerifyFull additionally checks the sha2-512/256 digest, the "full"
// verification requested explicitly by a reader (e.g. `dwarfs --check`).
func (h *SectionHeader) VerifyFull(payload []byte) error {
	if err := h.VerifyFast(payload); err != nil {
		return err
	}
	var xbuf [8]byte
	binary.LittleEndian.PutUint64(xbuf[:], h.XXH3)
	sh := sha512.New512_256()
	sh.Write(xbuf[:])
	sh.Write(payload)
	var sum [32]byte
	sh.Sum(sum[:0])
	if sum != h.SHA512_256 {
		return fmt.Errorf("%w: sha2-512/256 mismatch in section %d (%s)", ErrCorruptImage, h.Number, h.Type)
	}
	return nil
}

// WrapCompressedPayload prefixes a compressed block/metadata payload with
// the varint-encoded length of its decompressed form. None of the wired
// codecs record this size in their own framing (lz4 in particular needs
// an exact-size destination buffer), so every CompressionID other than
// CompressionNone carries it this way instead.
func WrapCompressedPayload(rawSize int, compressed []byte) []byte {
	hdr := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(hdr, uint64(rawSize))
	out := make([]byte, 0, n+len(compressed))
	out = append(out, hdr[:n]...)
	out = append(out, compressed...)
	return out
}

// UnwrapCompressedPayload reverses WrapCompressedPayload.
func UnwrapCompressedPayload(payload []byte) (rawSize int, compressed []byte, err error) {
	size, n := binary.Uvarint(payload)
	if n <= 0 {
		return 0, nil, fmt.Errorf("%w: malformed compressed payload length prefix", ErrCorruptImage)
	}
	return int(size), payload[n:], nil
}

// IndexEntry packs a section's type and absolute file offset into the
// u64 format used by the SECTION_INDEX section.
func IndexEntry(typ SectionType, offset uint64) uint64 {
	return (uint64(typ) << 48) | (offset & 0x0000ffffffffffff)
}

// ParseIndexEntry unpacks a SECTION_INDEX entry.
func ParseIndexEntry(v uint64) (SectionType, uint64) {
	return SectionType(v >> 48), v & 0x0000ffffffffffff
}
