package codec

import (
	"sync"

	"github.com/dwarfs-go/dwarfs"
	"github.com/klauspost/compress/zstd"
)

// zstdCodec wires the teacher's own ZSTD dependency (comp_zstd.go). It is
// the writer's default block codec: a good speed/ratio tradeoff for the
// common "default" category, matching mkdwarfs's own default.
type zstdCodec struct {
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
}

var sharedZstd = &zstdCodec{}

func init() { Register(sharedZstd) }

func (c *zstdCodec) Name() string             { return "zstd" }
func (c *zstdCodec) ID() dwarfs.CompressionID { return dwarfs.CompressionZSTD }
func (c *zstdCodec) EstimateMemory(n int) int { return n + n/4 }
func (c *zstdCodec) RequiresMetadata() bool   { return false }
func (c *zstdCodec) Constraints([]byte) (Constraints, error) {
	return Constraints{}, nil
}

func (c *zstdCodec) encoder() *zstd.Encoder {
	c.encOnce.Do(func() {
		c.enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return c.enc
}

func (c *zstdCodec) decoder() *zstd.Decoder {
	c.decOnce.Do(func() {
		c.dec, _ = zstd.NewReader(nil)
	})
	return c.dec
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	return c.encoder().EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *zstdCodec) Decompress(data []byte, rawSize int) ([]byte, error) {
	return c.decoder().DecodeAll(data, make([]byte, 0, rawSize))
}
