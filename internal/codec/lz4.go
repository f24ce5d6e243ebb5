package codec

import (
	"bytes"

	"github.com/dwarfs-go/dwarfs"
	"github.com/pierrec/lz4/v4"
)

// lz4Codec is grounded on the LZ4 dependency carried by the other
// SquashFS-family implementations in the retrieval pack
// (diskfs-go-diskfs, srevinsaju-squashfs), which use it for the same
// on-disk LZ4 compression id. It is the cheapest-to-decompress codec and
// the natural choice for the "hot" default category on a read-mostly
// mount.
type lz4Codec struct{}

func init() { Register(lz4Codec{}) }

func (lz4Codec) Name() string             { return "lz4" }
func (lz4Codec) ID() dwarfs.CompressionID { return dwarfs.CompressionLZ4 }
func (lz4Codec) EstimateMemory(n int) int { return n + n/10 }
func (lz4Codec) RequiresMetadata() bool   { return false }
func (lz4Codec) Constraints([]byte) (Constraints, error) {
	return Constraints{}, nil
}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte, rawSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out := make([]byte, rawSize)
	n, err := readFull(r, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
