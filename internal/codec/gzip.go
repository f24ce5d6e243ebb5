package codec

import (
	"bytes"
	"io"

	"github.com/dwarfs-go/dwarfs"
	"github.com/klauspost/compress/flate"
)

// gzipCodec uses klauspost/compress's flate implementation, the same
// dependency the teacher already carries for its ZSTD support, rather
// than the (slower) standard library compress/flate.
type gzipCodec struct{}

func init() { Register(gzipCodec{}) }

func (gzipCodec) Name() string             { return "gzip" }
func (gzipCodec) ID() dwarfs.CompressionID { return dwarfs.CompressionGZip }
func (gzipCodec) EstimateMemory(n int) int { return n + n/4 }
func (gzipCodec) RequiresMetadata() bool   { return false }
func (gzipCodec) Constraints([]byte) (Constraints, error) {
	return Constraints{}, nil
}

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.DefaultCompression)
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

func (gzipCodec) Decompress(data []byte, rawSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out := make([]byte, 0, rawSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
