// Command dwarfs mounts a dwarfs image at a directory, the thin CLI
// shim over the reader package (spec.md §6). The FUSE bridge itself
// lives in internal/fuseadapter, built under the "fuse" tag.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dwarfs-go/dwarfs/reader"
)

// sectionReaderAt is the io.ReaderAt surface reader.Open needs.
type sectionReaderAt = io.ReaderAt

// sectionReader offsets every read, letting offset=N mount an image
// embedded at a non-zero byte within a larger host file.
type sectionReader struct {
	f      *os.File
	offset int64
}

func (s sectionReader) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off+s.offset)
}

func usage() {
	fmt.Fprintln(os.Stderr, `dwarfs - mount a dwarfs image

Usage:
  dwarfs [-o option,...] image mountpoint

Options (-o key[=value], comma separated):
  cachesize=N         block cache byte budget
  blocksize=N         prefetch read-ahead hint, informational
  workers=N           decompression worker count, informational
  mlock=none|try|must lock the frozen metadata buffer in RAM
  decratio=F          background decompression ratio, informational
  offset=N|auto       byte offset of the image within a larger file
  enable_nlink        report accurate st_nlink for hardlinked files
  readonly            no effect, every mount is already read-only
  cache_image         keep the whole image resident (default: no_cache_image)
  no_cache_image
  cache_files         keep decompressed file blocks resident (default)
  no_cache_files
  tidy_strategy=none|time|swap   cache eviction policy, informational
`)
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dwarfs: "+format+"\n", args...)
	os.Exit(code)
}

type mountOptions struct {
	cacheSize      uint64
	blockSize      uint64
	workers        int
	mlock          string
	decRatio       float64
	offset         string
	enableNlink    bool
	readOnly       bool
	cacheImage     bool
	cacheFiles     bool
	tidyStrategy   string
}

func defaultMountOptions() mountOptions {
	return mountOptions{
		mlock:        "none",
		cacheFiles:   true,
		tidyStrategy: "none",
	}
}

func parseMountOptions(spec string) (mountOptions, error) {
	opt := defaultMountOptions()
	if spec == "" {
		return opt, nil
	}
	for _, kv := range strings.Split(spec, ",") {
		if kv == "" {
			continue
		}
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "cachesize":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return opt, fmt.Errorf("cachesize: %w", err)
			}
			opt.cacheSize = n
		case "blocksize":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return opt, fmt.Errorf("blocksize: %w", err)
			}
			opt.blockSize = n
		case "workers":
			n, err := strconv.Atoi(value)
			if err != nil {
				return opt, fmt.Errorf("workers: %w", err)
			}
			opt.workers = n
		case "mlock":
			if value != "none" && value != "try" && value != "must" {
				return opt, fmt.Errorf("mlock: must be none|try|must, got %q", value)
			}
			opt.mlock = value
		case "decratio":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return opt, fmt.Errorf("decratio: %w", err)
			}
			opt.decRatio = f
		case "offset":
			opt.offset = value
		case "enable_nlink":
			opt.enableNlink = true
		case "readonly":
			opt.readOnly = true
		case "cache_image":
			opt.cacheImage = true
		case "no_cache_image":
			opt.cacheImage = false
		case "cache_files":
			opt.cacheFiles = true
		case "no_cache_files":
			opt.cacheFiles = false
		case "tidy_strategy":
			if value != "none" && value != "time" && value != "swap" {
				return opt, fmt.Errorf("tidy_strategy: must be none|time|swap, got %q", value)
			}
			opt.tidyStrategy = value
		default:
			return opt, fmt.Errorf("unknown option %q", key)
		}
	}
	return opt, nil
}

// resolveOffset parses the offset=N|auto mount option. "auto" (or an
// unset offset) means the image starts at byte 0: unlike the upstream
// driver this build does not scan for embedded images inside an
// arbitrary host file.
func resolveOffset(raw string) (int64, error) {
	if raw == "" || raw == "auto" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offset: %w", err)
	}
	return n, nil
}

func main() {
	var optSpec string
	var foreground bool
	flag.Usage = usage
	flag.StringVar(&optSpec, "o", "", "comma-separated mount options")
	flag.BoolVar(&foreground, "f", false, "run in the foreground")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		usage()
		fail(1, "expected image and mountpoint arguments")
	}
	imagePath, mountPoint := args[0], args[1]

	opt, err := parseMountOptions(optSpec)
	if err != nil {
		fail(1, "%v", err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		fail(1, "opening %s: %v", imagePath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		fail(1, "%v", err)
	}

	offset, err := resolveOffset(opt.offset)
	if err != nil {
		fail(1, "%v", err)
	}

	var ra sectionReaderAt = sectionReader{f, offset}
	size := st.Size() - offset

	readerOpts := []reader.Option{}
	if opt.cacheSize != 0 {
		readerOpts = append(readerOpts, reader.WithCacheBytes(opt.cacheSize))
	}

	fsys, err := reader.Open(ra, size, readerOpts...)
	if err != nil {
		fail(1, "%v", err)
	}

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		fail(1, "creating mountpoint %s: %v", mountPoint, err)
	}

	mount(fsys, mountPoint, opt, foreground)
}
