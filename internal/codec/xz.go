package codec

import (
	"bytes"
	"io"

	"github.com/dwarfs-go/dwarfs"
	"github.com/ulikunitz/xz"
)

// xzCodec wires the teacher's own XZ dependency (comp_xz.go) in unchanged:
// best-in-class ratio, used by default for cold/rarely-accessed
// categories where decompression speed matters less than size.
type xzCodec struct{}

func init() { Register(xzCodec{}) }

func (xzCodec) Name() string             { return "xz" }
func (xzCodec) ID() dwarfs.CompressionID { return dwarfs.CompressionXZ }
func (xzCodec) EstimateMemory(n int) int { return n + n/8 + 1<<20 }
func (xzCodec) RequiresMetadata() bool   { return false }
func (xzCodec) Constraints([]byte) (Constraints, error) {
	return Constraints{}, nil
}

func (xzCodec) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (xzCodec) Decompress(data []byte, rawSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out := bytes.NewBuffer(make([]byte, 0, rawSize))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
