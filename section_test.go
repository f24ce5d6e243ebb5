package dwarfs_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dwarfs-go/dwarfs"
)

func TestWriteReadSectionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some block payload bytes")

	hdr, err := dwarfs.WriteSection(&buf, 3, dwarfs.SectionBlock, dwarfs.CompressionZSTD, payload)
	if err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	if hdr.Number != 3 || hdr.Type != dwarfs.SectionBlock || hdr.Compression != dwarfs.CompressionZSTD {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	got, err := dwarfs.ReadSectionHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadSectionHeader: %v", err)
	}
	if got.Number != hdr.Number || got.Type != hdr.Type || got.XXH3 != hdr.XXH3 || got.SHA512_256 != hdr.SHA512_256 {
		t.Fatalf("round-tripped header differs: got %+v, want %+v", got, hdr)
	}

	gotPayload := buf.Bytes()[dwarfs.SectionHeaderSize:]
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", gotPayload, payload)
	}
	if err := got.VerifyFast(gotPayload); err != nil {
		t.Fatalf("VerifyFast: %v", err)
	}
	if err := got.VerifyFull(gotPayload); err != nil {
		t.Fatalf("VerifyFull: %v", err)
	}
}

func TestVerifyFastDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("the quick brown fox")
	if _, err := dwarfs.WriteSection(&buf, 0, dwarfs.SectionMetadataV2, dwarfs.CompressionNone, payload); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}

	data := buf.Bytes()
	// Flip a bit inside the payload, leaving the header untouched.
	data[dwarfs.SectionHeaderSize] ^= 0x01

	hdr, err := dwarfs.ParseSectionHeader(data[:dwarfs.SectionHeaderSize])
	if err != nil {
		t.Fatalf("ParseSectionHeader: %v", err)
	}
	if err := hdr.VerifyFast(data[dwarfs.SectionHeaderSize:]); !errors.Is(err, dwarfs.ErrCorruptImage) {
		t.Fatalf("VerifyFast on corrupted payload = %v, want ErrCorruptImage", err)
	}
}

func TestParseSectionHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, dwarfs.SectionHeaderSize)
	copy(buf, "XXXXXX")
	if _, err := dwarfs.ParseSectionHeader(buf); !errors.Is(err, dwarfs.ErrCorruptImage) {
		t.Fatalf("ParseSectionHeader with bad magic = %v, want ErrCorruptImage", err)
	}
}

func TestParseSectionHeaderRejectsFutureMajor(t *testing.T) {
	var buf bytes.Buffer
	if _, err := dwarfs.WriteSection(&buf, 0, dwarfs.SectionBlock, dwarfs.CompressionNone, nil); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	data := buf.Bytes()
	data[6] = dwarfs.FormatMajor + 1

	if _, err := dwarfs.ParseSectionHeader(data[:dwarfs.SectionHeaderSize]); !errors.Is(err, dwarfs.ErrSchemaUnsupported) {
		t.Fatalf("ParseSectionHeader with future major = %v, want ErrSchemaUnsupported", err)
	}
}

func TestWrapUnwrapCompressedPayload(t *testing.T) {
	compressed := []byte{1, 2, 3, 4, 5}
	wrapped := dwarfs.WrapCompressedPayload(12345, compressed)

	rawSize, got, err := dwarfs.UnwrapCompressedPayload(wrapped)
	if err != nil {
		t.Fatalf("UnwrapCompressedPayload: %v", err)
	}
	if rawSize != 12345 {
		t.Fatalf("rawSize = %d, want 12345", rawSize)
	}
	if !bytes.Equal(got, compressed) {
		t.Fatalf("compressed = %v, want %v", got, compressed)
	}
}

func TestIndexEntryRoundTrip(t *testing.T) {
	cases := []struct {
		typ    dwarfs.SectionType
		offset uint64
	}{
		{dwarfs.SectionBlock, 0},
		{dwarfs.SectionMetadataV2, 1 << 40},
		{dwarfs.SectionIndex, 0x0000ffffffffffff},
	}
	for _, c := range cases {
		v := dwarfs.IndexEntry(c.typ, c.offset)
		gotTyp, gotOff := dwarfs.ParseIndexEntry(v)
		if gotTyp != c.typ || gotOff != c.offset {
			t.Errorf("IndexEntry(%s, %d) round-trip = (%s, %d)", c.typ, c.offset, gotTyp, gotOff)
		}
	}
}

func TestSectionTypeString(t *testing.T) {
	cases := map[dwarfs.SectionType]string{
		dwarfs.SectionBlock:             "BLOCK",
		dwarfs.SectionMetadataV2Schema:  "METADATA_V2_SCHEMA",
		dwarfs.SectionMetadataV2:        "METADATA_V2",
		dwarfs.SectionHistory:           "HISTORY",
		dwarfs.SectionIndex:             "SECTION_INDEX",
		dwarfs.SectionType(99):          "UNKNOWN",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("SectionType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
