// Package codec implements the compressor abstraction of spec.md §4.8: a
// registry of named, versioned block compressors/decompressors, each able
// to declare metadata requirements against a categorizer and constraints
// (such as a required granularity) derived from that metadata.
//
// The registration pattern mirrors the teacher's comp.go/comp_xz.go:
// each concrete codec lives in its own file and registers itself from an
// init() function, so adding a codec never touches this file.
package codec

import (
	"fmt"

	"github.com/dwarfs-go/dwarfs"
)

// Constraints are derived from a categorizer's metadata for one
// (codec, category) pairing. A non-zero Granularity overrides the
// category's configured default.
type Constraints struct {
	Granularity int
}

// Codec is a named, registerable block compressor/decompressor.
type Codec interface {
	Name() string
	ID() dwarfs.CompressionID

	// EstimateMemory returns an approximate byte cost of compressing
	// inputSize bytes, used by the writer for queue admission control.
	EstimateMemory(inputSize int) int

	// RequiresMetadata reports whether this codec needs categorizer
	// metadata to operate (e.g. the PCM codec needs sample geometry).
	RequiresMetadata() bool

	// Constraints validates categorizer-supplied metadata (as produced
	// by categorize.PCMAudio.Metadata) and derives compression
	// constraints from it. Called through Bind once for each (codec,
	// category) pairing the writer uses; writer.Recompress does not call
	// it, so recompressed sections are not re-validated.
	Constraints(metadata []byte) (Constraints, error)

	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, rawSize int) ([]byte, error)
}

var registry = map[dwarfs.CompressionID]Codec{}

// Register adds a codec to the global registry. Codecs call this from an
// init() function, exactly as the teacher's RegisterCompHandler does.
func Register(c Codec) {
	registry[c.ID()] = c
}

// Lookup returns the codec registered for id, or an error wrapping
// dwarfs.ErrConfig if none is registered (e.g. CompressionLZMA, which no
// codec in this package registers).
func Lookup(id dwarfs.CompressionID) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered for compression id %s", dwarfs.ErrConfig, id)
	}
	return c, nil
}

// ByName resolves a codec by its CLI-facing name (e.g. "zstd", "xz").
func ByName(name string) (Codec, error) {
	for _, c := range registry {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown compression %q", dwarfs.ErrConfig, name)
}

// Registered lists all codec IDs currently registered, for diagnostics
// and CLI help text.
func Registered() []dwarfs.CompressionID {
	ids := make([]dwarfs.CompressionID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}

// Binding is a resolved (codec, category) pairing together with the
// constraints the codec derived from the category's categorizer metadata.
// The writer refuses to build a Binding whose codec's metadata
// requirements are unmet (spec.md §4.8, §7 MetadataRequirementUnmet).
type Binding struct {
	Codec       Codec
	Constraints Constraints
}

// Bind validates and constructs a Binding for a (codec, category)
// pairing. metadata is the categorizer-supplied JSON blob for that
// category, or nil if the categorizer declared none.
func Bind(c Codec, metadata []byte) (*Binding, error) {
	if c.RequiresMetadata() && metadata == nil {
		return nil, fmt.Errorf("%w: codec %s requires categorizer metadata", dwarfs.ErrMetadataRequirement, c.Name())
	}
	cons, err := c.Constraints(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dwarfs.ErrMetadataRequirement, c.Name(), err)
	}
	return &Binding{Codec: c, Constraints: cons}, nil
}
