// Command mkdwarfs builds a dwarfs image from a source directory, the
// thin CLI shim over the writer package (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/inode"
	"github.com/dwarfs-go/dwarfs/reader"
	"github.com/dwarfs-go/dwarfs/writer"
)

func usage() {
	fmt.Fprintln(os.Stderr, `mkdwarfs - build a dwarfs image

Usage:
  mkdwarfs --input DIR --output FILE [options]

Required:
  --input DIR            source directory to scan
  --output FILE|-        destination image path, or - for stdout

Options:
  --compress-level N     0..9, selects block size/codec/window/order defaults (default 7)
  --block-size-bits N    10..30 (default 22)
  --compression NAME     default block codec: none|gzip|xz|lz4|zstd (default zstd)
  --order NAME           none|path|revpath|similarity|nilsimsa (default similarity)
  --categorize NAMES     comma-separated categorizer names in priority order
  --recompress MODE      none|block|metadata|all, recompress an existing --output in place
  --recompress-categories LIST  [!]cat1,cat2 filter for --recompress
  --no-section-index     omit the trailing SECTION_INDEX section
  --no-history           omit the HISTORY section
  --set-time UNIX        force every entry's mtime to this value

Environment:
  DWARFS_DUMP_FILES_RAW    path to dump scanned file paths to, pre-ordering
  DWARFS_DUMP_FILES_FINAL  path to dump file paths to, in final segmentation order
  DWARFS_DUMP_INODES       path to dump one line per inode (number, size, nlink, path)
`)
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mkdwarfs: "+format+"\n", args...)
	os.Exit(code)
}

func main() {
	var (
		input          string
		output         string
		compressLevel  int
		blockSizeBits  uint
		windowSizeBits uint
		compression    string
		order          string
		categorize     string
		recompress     string
		recompressCats string
		noSectionIndex bool
		noHistory      bool
		setTime        int64
	)

	flag.Usage = usage
	flag.StringVar(&input, "input", "", "source directory")
	flag.StringVar(&output, "output", "", "destination image path")
	flag.IntVar(&compressLevel, "compress-level", 7, "0..9")
	flag.UintVar(&blockSizeBits, "block-size-bits", 0, "10..30, overrides --compress-level's default")
	flag.UintVar(&windowSizeBits, "window-size", 0, "overrides --compress-level's default, 0 keeps the level's choice")
	flag.StringVar(&compression, "compression", "", "none|gzip|xz|lz4|zstd, overrides --compress-level's default")
	flag.StringVar(&order, "order", "", "none|path|revpath|similarity|nilsimsa, overrides --compress-level's default")
	flag.StringVar(&categorize, "categorize", "pcmaudio,fits,incompressible", "comma-separated categorizer names")
	flag.StringVar(&recompress, "recompress", "", "none|block|metadata|all")
	flag.StringVar(&recompressCats, "recompress-categories", "", "[!]cat1,cat2")
	flag.BoolVar(&noSectionIndex, "no-section-index", false, "")
	flag.BoolVar(&noHistory, "no-history", false, "")
	flag.Int64Var(&setTime, "set-time", 0, "force mtime (unix seconds)")
	flag.Parse()

	if output == "" {
		usage()
		fail(1, "--output is required")
	}

	if recompress != "" {
		runRecompress(output, recompress, recompressCats)
		return
	}

	if input == "" {
		usage()
		fail(1, "--input is required")
	}
	if compressLevel < 0 || compressLevel > 9 {
		fail(1, "--compress-level must be in 0..9")
	}

	opts := levelDefaults(compressLevel)

	if blockSizeBits != 0 {
		if blockSizeBits < 10 || blockSizeBits > 30 {
			fail(1, "--block-size-bits must be in 10..30")
		}
		opts = append(opts, writer.WithBlockSizeBits(blockSizeBits))
	}
	if windowSizeBits != 0 {
		opts = append(opts, writer.WithWindowSizeBits(windowSizeBits))
	}
	if compression != "" {
		compID, err := compressionByName(compression)
		if err != nil {
			fail(1, "%v", err)
		}
		opts = append(opts, writer.WithCompression(compID))
	}
	if order != "" {
		orderPolicy, err := orderByName(order)
		if err != nil {
			fail(1, "%v", err)
		}
		opts = append(opts, writer.WithOrder(orderPolicy))
	}
	if categorize != "" {
		opts = append(opts, writer.WithCategorizers(strings.Split(categorize, ",")...))
	}
	if setTime != 0 {
		opts = append(opts, writer.WithModTime(time.Unix(setTime, 0)))
	}
	opts = append(opts, writer.WithNoSectionIndex(noSectionIndex), writer.WithNoHistory(noHistory))
	opts = append(opts, dumpOptions()...)

	var out *os.File
	var err error
	if output == "-" {
		out = os.Stdout
	} else {
		out, err = os.Create(output)
		if err != nil {
			fail(1, "creating %s: %v", output, err)
		}
		defer out.Close()
	}

	w, err := writer.NewWriter(out, opts...)
	if err != nil {
		fail(1, "%v", err)
	}

	progress, err := w.WriteFS(os.DirFS(input))
	if err != nil {
		fail(1, "%v", err)
	}
	if len(progress.Errors) > 0 {
		for _, e := range progress.Errors {
			fmt.Fprintf(os.Stderr, "mkdwarfs: warning: %v\n", e)
		}
		os.Exit(2)
	}
}

func runRecompress(imagePath, mode, cats string) {
	rmode, err := recompressModeByName(mode)
	if err != nil {
		fail(1, "%v", err)
	}
	if rmode == writer.RecompressNone {
		return
	}

	in, err := os.Open(imagePath)
	if err != nil {
		fail(1, "opening %s: %v", imagePath, err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		fail(1, "%v", err)
	}

	// Opened once to recover each BLOCK section's category (for
	// --recompress-categories); Recompress then re-reads the same file
	// sequentially below through the same handle.
	rfs, err := reader.Open(in, st.Size())
	if err != nil {
		fail(1, "%v", err)
	}
	blockCategories := rfs.BlockCategories()

	tmpPath := imagePath + ".recompress.tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		fail(1, "%v", err)
	}

	opt := writer.RecompressOptions{Mode: rmode, Target: dwarfs.CompressionZSTD}
	if cats != "" {
		opt.Exclude = strings.HasPrefix(cats, "!")
		opt.Categories = map[dwarfs.Category]bool{}
		for _, name := range strings.Split(strings.TrimPrefix(cats, "!"), ",") {
			cat, ok := rfs.Category(name)
			if !ok {
				out.Close()
				os.Remove(tmpPath)
				fail(1, "unknown category %q", name)
			}
			opt.Categories[cat] = true
		}
	}

	if err := writer.Recompress(in, st.Size(), out, opt, blockCategories); err != nil {
		out.Close()
		os.Remove(tmpPath)
		fail(1, "%v", err)
	}
	out.Close()
	if err := os.Rename(tmpPath, imagePath); err != nil {
		fail(1, "%v", err)
	}
}

// dumpOptions wires the spec's diagnostic dump hooks to the environment
// variables documented in spec.md §6. Each is opened for the duration
// of the run; failures to create the dump file abort the run the same
// way a bad --output path would.
func dumpOptions() []writer.WriterOption {
	var opts []writer.WriterOption
	for _, d := range []struct {
		env string
		opt func(io.Writer) writer.WriterOption
	}{
		{"DWARFS_DUMP_FILES_RAW", writer.WithDumpFilesRaw},
		{"DWARFS_DUMP_FILES_FINAL", writer.WithDumpFilesFinal},
		{"DWARFS_DUMP_INODES", writer.WithDumpInodes},
	} {
		path := os.Getenv(d.env)
		if path == "" {
			continue
		}
		f, err := os.Create(path)
		if err != nil {
			fail(1, "creating %s dump at %s: %v", d.env, path, err)
		}
		opts = append(opts, d.opt(f))
	}
	return opts
}

func compressionByName(name string) (dwarfs.CompressionID, error) {
	switch name {
	case "none":
		return dwarfs.CompressionNone, nil
	case "gzip":
		return dwarfs.CompressionGZip, nil
	case "xz":
		return dwarfs.CompressionXZ, nil
	case "lz4":
		return dwarfs.CompressionLZ4, nil
	case "zstd":
		return dwarfs.CompressionZSTD, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q", dwarfs.ErrConfig, name)
}

func orderByName(name string) (inode.OrderPolicy, error) {
	switch name {
	case "none":
		return inode.OrderNone, nil
	case "path":
		return inode.OrderPath, nil
	case "revpath":
		return inode.OrderRevPath, nil
	case "similarity":
		return inode.OrderSimilarity, nil
	case "nilsimsa":
		return inode.OrderNilsimsa, nil
	}
	return 0, fmt.Errorf("%w: unknown order %q", dwarfs.ErrConfig, name)
}

func recompressModeByName(name string) (writer.RecompressMode, error) {
	switch name {
	case "none":
		return writer.RecompressNone, nil
	case "block":
		return writer.RecompressBlock, nil
	case "metadata":
		return writer.RecompressMetadata, nil
	case "all":
		return writer.RecompressAll, nil
	}
	return 0, fmt.Errorf("%w: unknown recompress mode %q", dwarfs.ErrConfig, name)
}

// levelDefaults maps --compress-level to the block size, codec and
// ordering policy it selects, mirroring mkdwarfs's leveled presets.
// Any of these can still be overridden by an explicit flag.
func levelDefaults(level int) []writer.WriterOption {
	switch {
	case level <= 2:
		return []writer.WriterOption{
			writer.WithBlockSizeBits(20),
			writer.WithCompression(dwarfs.CompressionLZ4),
			writer.WithOrder(inode.OrderPath),
		}
	case level <= 5:
		return []writer.WriterOption{
			writer.WithBlockSizeBits(22),
			writer.WithCompression(dwarfs.CompressionGZip),
			writer.WithOrder(inode.OrderRevPath),
		}
	case level <= 7:
		return []writer.WriterOption{
			writer.WithBlockSizeBits(22),
			writer.WithCompression(dwarfs.CompressionZSTD),
			writer.WithOrder(inode.OrderSimilarity),
		}
	default:
		return []writer.WriterOption{
			writer.WithBlockSizeBits(24),
			writer.WithCompression(dwarfs.CompressionXZ),
			writer.WithOrder(inode.OrderNilsimsa),
		}
	}
}
