package main

import (
	"errors"
	"testing"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/inode"
	"github.com/dwarfs-go/dwarfs/writer"
)

func TestCompressionByName(t *testing.T) {
	cases := map[string]dwarfs.CompressionID{
		"none": dwarfs.CompressionNone,
		"gzip": dwarfs.CompressionGZip,
		"xz":   dwarfs.CompressionXZ,
		"lz4":  dwarfs.CompressionLZ4,
		"zstd": dwarfs.CompressionZSTD,
	}
	for name, want := range cases {
		got, err := compressionByName(name)
		if err != nil {
			t.Errorf("compressionByName(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("compressionByName(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := compressionByName("bogus"); !errors.Is(err, dwarfs.ErrConfig) {
		t.Errorf("compressionByName(bogus) = %v, want ErrConfig", err)
	}
}

func TestOrderByName(t *testing.T) {
	cases := map[string]inode.OrderPolicy{
		"none":       inode.OrderNone,
		"path":       inode.OrderPath,
		"revpath":    inode.OrderRevPath,
		"similarity": inode.OrderSimilarity,
		"nilsimsa":   inode.OrderNilsimsa,
	}
	for name, want := range cases {
		got, err := orderByName(name)
		if err != nil {
			t.Errorf("orderByName(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("orderByName(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := orderByName("bogus"); !errors.Is(err, dwarfs.ErrConfig) {
		t.Errorf("orderByName(bogus) = %v, want ErrConfig", err)
	}
}

func TestRecompressModeByName(t *testing.T) {
	cases := map[string]writer.RecompressMode{
		"none":     writer.RecompressNone,
		"block":    writer.RecompressBlock,
		"metadata": writer.RecompressMetadata,
		"all":      writer.RecompressAll,
	}
	for name, want := range cases {
		got, err := recompressModeByName(name)
		if err != nil {
			t.Errorf("recompressModeByName(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("recompressModeByName(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := recompressModeByName("bogus"); !errors.Is(err, dwarfs.ErrConfig) {
		t.Errorf("recompressModeByName(bogus) = %v, want ErrConfig", err)
	}
}

func TestLevelDefaultsCoversTheFullRange(t *testing.T) {
	for level := 0; level <= 9; level++ {
		opts := levelDefaults(level)
		if len(opts) != 3 {
			t.Errorf("levelDefaults(%d) returned %d options, want 3 (block size, compression, order)", level, len(opts))
		}
	}
}

func TestLevelDefaultsAppliesCleanlyAtEveryLevel(t *testing.T) {
	for level := 0; level <= 9; level++ {
		var buf captureBuf
		if _, err := writer.NewWriter(&buf, levelDefaults(level)...); err != nil {
			t.Errorf("NewWriter(levelDefaults(%d)): %v", level, err)
		}
	}
}

type captureBuf struct{ data []byte }

func (b *captureBuf) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
