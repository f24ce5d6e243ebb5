package codec

import "github.com/dwarfs-go/dwarfs"

// nullCodec stores data unmodified. The writer falls back to it whenever
// a category's chosen codec reports a bad compression ratio (spec.md
// §4.6), and the incompressible categorizer routes its fragments to it
// directly.
type nullCodec struct{}

func init() { Register(nullCodec{}) }

func (nullCodec) Name() string                    { return "none" }
func (nullCodec) ID() dwarfs.CompressionID        { return dwarfs.CompressionNone }
func (nullCodec) EstimateMemory(n int) int         { return n }
func (nullCodec) RequiresMetadata() bool           { return false }
func (nullCodec) Constraints([]byte) (Constraints, error) {
	return Constraints{}, nil
}
func (nullCodec) Compress(data []byte) ([]byte, error) { return data, nil }
func (nullCodec) Decompress(data []byte, rawSize int) ([]byte, error) {
	return data, nil
}
