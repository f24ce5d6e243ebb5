//go:build !unix

package blockcache

import "os"

// MappedMetadata falls back to a plain read on platforms without mmap
// support in golang.org/x/sys/unix.
type MappedMetadata struct {
	data []byte
}

func MapMetadata(f *os.File, offset int64, length int, lock bool) (*MappedMetadata, error) {
	data := make([]byte, length)
	if _, err := f.ReadAt(data, offset); err != nil {
		return nil, err
	}
	return &MappedMetadata{data: data}, nil
}

func (m *MappedMetadata) Bytes() []byte { return m.data }
func (m *MappedMetadata) Close() error  { return nil }
