package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dwarfs-go/dwarfs"
)

// PCMMetadata is the JSON blob the pcmaudio categorizer attaches to a
// waveform fragment's subcategory (spec.md §4.1). The granularity a PCM
// codec must honour is channels*bytesPerSample: one "frame" is one
// sample on every channel, and nothing is allowed to split a frame
// across two chunks/blocks.
type PCMMetadata struct {
	Endianness     string `json:"endianness"`
	Signed         bool   `json:"signed"`
	Padding        int    `json:"padding"`
	BitsPerSample  int    `json:"bits_per_sample"`
	BytesPerSample int    `json:"bytes_per_sample"`
	Channels       int    `json:"channels"`
}

// pcmCodec wraps an inner general-purpose codec but declares a metadata
// requirement: it refuses to bind to a category unless PCM sample
// geometry is supplied, and it derives that category's granularity
// accordingly. This is the concrete example spec.md §4.1/§4.8 describes
// ("the PCM coder requires specific sample widths").
type pcmCodec struct {
	inner Codec
}

// NewPCM constructs a metadata-aware PCM codec layered on top of a
// general-purpose block codec (normally the zstd default).
func NewPCM(inner Codec) Codec {
	return &pcmCodec{inner: inner}
}

func (p *pcmCodec) Name() string             { return "pcmaudio+" + p.inner.Name() }
func (p *pcmCodec) ID() dwarfs.CompressionID { return p.inner.ID() }
func (p *pcmCodec) EstimateMemory(n int) int { return p.inner.EstimateMemory(n) }
func (p *pcmCodec) RequiresMetadata() bool   { return true }

func (p *pcmCodec) Constraints(metadata []byte) (Constraints, error) {
	if metadata == nil {
		return Constraints{}, fmt.Errorf("pcm codec requires sample geometry metadata")
	}
	var m PCMMetadata
	if err := json.Unmarshal(metadata, &m); err != nil {
		return Constraints{}, fmt.Errorf("invalid pcm metadata: %w", err)
	}
	if m.BitsPerSample == 0 || m.BytesPerSample == 0 || m.Channels == 0 {
		return Constraints{}, fmt.Errorf("incomplete pcm sample geometry")
	}
	return Constraints{Granularity: m.BytesPerSample * m.Channels}, nil
}

func (p *pcmCodec) Compress(data []byte) ([]byte, error)   { return p.inner.Compress(data) }
func (p *pcmCodec) Decompress(d []byte, n int) ([]byte, error) { return p.inner.Decompress(d, n) }
