//go:build unix

package blockcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// MappedMetadata is the frozen metadata buffer mapped read-only (and
// optionally mlock-ed) straight from the image file, per spec.md §4.9
// ("the metadata buffer may be mlock-ed").
type MappedMetadata struct {
	data   []byte
	locked bool
}

// MapMetadata maps length bytes starting at offset in f.
func MapMetadata(f *os.File, offset int64, length int, lock bool) (*MappedMetadata, error) {
	pageOffset := offset &^ int64(unix.Getpagesize()-1)
	skew := int(offset - pageOffset)
	data, err := unix.Mmap(int(f.Fd()), pageOffset, length+skew, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	m := &MappedMetadata{data: data[skew : skew+length]}
	if lock {
		if err := unix.Mlock(m.data); err == nil {
			m.locked = true
		}
	}
	return m, nil
}

func (m *MappedMetadata) Bytes() []byte { return m.data }

func (m *MappedMetadata) Close() error {
	if m.locked {
		unix.Munlock(m.data)
	}
	return unix.Munmap(m.data)
}
