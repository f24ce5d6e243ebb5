package reader

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/writer"
)

const maxSymlinkDepth = 40

// inode resolves an inode number to its record.
func (f *FS) inode(n uint32) (*writerInodeRecord, error) {
	if int(n) >= len(f.md.Inodes) {
		return nil, fmt.Errorf("%w: inode %d out of range", dwarfs.ErrCorruptImage, n)
	}
	rec := f.md.Inodes[n]
	return &writerInodeRecord{num: n, mode: f.md.Modes[rec.ModeIdx], uid: f.md.UIDs[rec.UIDIdx],
		gid: f.md.GIDs[rec.GIDIdx], size: rec.Size, mtime: f.timeOf(rec.MTimeOffset)}, nil
}

// writerInodeRecord is the reader-facing view of one writer.InodeRecord,
// with its dedup-table indices already resolved.
type writerInodeRecord struct {
	num   uint32
	mode  uint32
	uid   uint32
	gid   uint32
	size  uint64
	mtime time.Time
}

func (f *FS) timeOf(offset uint32) time.Time {
	res := int64(f.md.Options.TimeResolutionSec)
	if res <= 0 {
		res = 1
	}
	return time.Unix(f.md.TimeBase+int64(offset)*res, 0)
}

// lookup resolves a slash-separated path from the root, following
// symlinks, and returns the inode number it names.
func (f *FS) lookup(name string) (uint32, error) {
	if !fs.ValidPath(name) {
		return 0, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino := f.RootInode()
	if name == "." {
		return ino, nil
	}
	parts := strings.Split(name, "/")
	depth := 0
	for i, part := range parts {
		rec, err := f.inode(ino)
		if err != nil {
			return 0, err
		}
		if dwarfs.UnixToMode(rec.mode)&fs.ModeSymlink != 0 {
			target, err := f.readlink(ino)
			if err != nil {
				return 0, err
			}
			depth++
			if depth > maxSymlinkDepth {
				return 0, fmt.Errorf("%w: %s", dwarfs.ErrTooManySymlinks, name)
			}
			resolved := target
			if !path.IsAbs(target) {
				resolved = path.Join(strings.Join(parts[:i], "/"), target)
			}
			ino, err = f.lookup(strings.TrimPrefix(path.Clean(resolved), "/"))
			if err != nil {
				return 0, err
			}
			continue
		}
		dirIdx, ok := f.dirIdxByInode[ino]
		if !ok {
			return 0, fmt.Errorf("%w: %s is not a directory", dwarfs.ErrNotDirectory, strings.Join(parts[:i], "/"))
		}
		child, ok := f.findChild(dirIdx, part)
		if !ok {
			return 0, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		ino = child
	}
	return ino, nil
}

func (f *FS) dirRange(dirIdx int) (uint32, uint32) {
	start := f.md.Directories[dirIdx].FirstEntry
	end := f.md.Directories[dirIdx+1].FirstEntry
	return start, end
}

func (f *FS) findChild(dirIdx int, name string) (uint32, bool) {
	start, end := f.dirRange(dirIdx)
	entries := f.md.DirEntries[start:end]
	i := sort.Search(len(entries), func(i int) bool {
		return f.md.Names[entries[i].NameOffset] >= name
	})
	if i < len(entries) && f.md.Names[entries[i].NameOffset] == name {
		return entries[i].InodeNumber, true
	}
	return 0, false
}

func (f *FS) readlink(ino uint32) (string, error) {
	if int(ino) >= len(f.md.SymlinkTable) {
		return "", fmt.Errorf("%w: inode %d has no symlink target", dwarfs.ErrCorruptImage, ino)
	}
	idx := f.md.SymlinkTable[ino]
	if int(idx) >= len(f.md.Symlinks) {
		return "", fmt.Errorf("%w: symlink index out of range", dwarfs.ErrCorruptImage)
	}
	return f.md.Symlinks[idx], nil
}

func (f *FS) chunksOf(ino uint32) []writer.ChunkRecord {
	if int(ino)+1 >= len(f.md.ChunkTable) {
		return nil
	}
	start, end := f.md.ChunkTable[ino], f.md.ChunkTable[ino+1]
	return f.md.Chunks[start:end]
}

// ReadAt reads length bytes of an inode's content starting at off,
// resolving through its chunk list and the block cache. It implements
// the random-access contract spec.md §4.9 calls ReadV's single-range
// case; ReadV batches several such ranges concurrently.
func (f *FS) ReadAt(ino uint32, off int64, p []byte) (int, error) {
	chunks := f.chunksOf(ino)
	pos := int64(0)
	read := 0
	for _, c := range chunks {
		chunkEnd := pos + int64(c.Size)
		if chunkEnd <= off {
			pos = chunkEnd
			continue
		}
		if pos >= off+int64(len(p)) {
			break
		}
		data, err := f.cache.Get(c.Block)
		if err != nil {
			return read, err
		}
		srcStart := int64(c.Offset)
		skip := int64(0)
		if pos < off {
			skip = off - pos
		}
		srcStart += skip
		n := copy(p[read:], data[srcStart:int64(c.Offset)+int64(c.Size)])
		read += n
		pos = chunkEnd
		if read >= len(p) {
			break
		}
	}
	return read, nil
}

// ReadRange is one scatter-read request for ReadV.
type ReadRange struct {
	Offset int64
	Buf    []byte
}

// ReadV resolves several byte ranges of one inode concurrently,
// overlapping block decompression across ranges that land on
// different physical blocks (spec.md §4.9).
func (f *FS) ReadV(ino uint32, ranges []ReadRange) []error {
	chunks := f.chunksOf(ino)
	futures := make(map[uint32]func() ([]byte, error))
	blocksFor := func(off int64, n int) []uint32 {
		var blocks []uint32
		pos := int64(0)
		end := off + int64(n)
		for _, c := range chunks {
			chunkEnd := pos + int64(c.Size)
			if chunkEnd > off && pos < end {
				blocks = append(blocks, c.Block)
			}
			pos = chunkEnd
			if pos >= end {
				break
			}
		}
		return blocks
	}
	for _, r := range ranges {
		for _, b := range blocksFor(r.Offset, len(r.Buf)) {
			if _, ok := futures[b]; !ok {
				futures[b] = f.cache.GetAsync(b)
			}
		}
	}

	errs := make([]error, len(ranges))
	for i, r := range ranges {
		var rangeErr error
		for _, b := range blocksFor(r.Offset, len(r.Buf)) {
			if fn, ok := futures[b]; ok {
				if _, err := fn(); err != nil && rangeErr == nil {
					rangeErr = err
				}
			}
		}
		if rangeErr != nil {
			errs[i] = rangeErr
			continue
		}
		_, errs[i] = f.ReadAt(ino, r.Offset, r.Buf)
	}
	return errs
}

// Statvfs reports coarse filesystem-wide statistics (spec.md §4.9).
type Statvfs struct {
	BlockSize  uint64
	Blocks     uint64
	Inodes     uint64
	Files      uint64
	Categories int
}

func (f *FS) StatVFS() Statvfs {
	var totalBytes uint64
	for _, in := range f.md.Inodes {
		totalBytes += in.Size
	}
	const blockSize = 4096
	return Statvfs{
		BlockSize:  blockSize,
		Blocks:     (totalBytes + blockSize - 1) / blockSize,
		Inodes:     uint64(len(f.md.Inodes)),
		Files:      uint64(len(f.md.Inodes)),
		Categories: len(f.md.CategoryNames),
	}
}

// fileInfo implements fs.FileInfo over a resolved inode.
type fileInfo struct {
	name string
	rec  *writerInodeRecord
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return int64(fi.rec.size) }
func (fi *fileInfo) Mode() fs.FileMode  { return dwarfs.UnixToMode(fi.rec.mode) }
func (fi *fileInfo) ModTime() time.Time { return fi.rec.mtime }
func (fi *fileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi *fileInfo) Sys() any           { return fi.rec }

// dirEntry implements fs.DirEntry without forcing a stat of every
// sibling, mirroring the teacher's lazy direntry.
type dirEntry struct {
	fsys *FS
	name string
	ino  uint32
}

func (d *dirEntry) Name() string { return d.name }
func (d *dirEntry) IsDir() bool {
	_, ok := d.fsys.dirIdxByInode[d.ino]
	return ok
}
func (d *dirEntry) Type() fs.FileMode {
	rec, err := d.fsys.inode(d.ino)
	if err != nil {
		return 0
	}
	return dwarfs.UnixToMode(rec.mode).Type()
}
func (d *dirEntry) Info() (fs.FileInfo, error) {
	rec, err := d.fsys.inode(d.ino)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: d.name, rec: rec}, nil
}

// file implements fs.File for a regular-file inode.
type file struct {
	fsys *FS
	name string
	ino  uint32
	rec  *writerInodeRecord
	pos  int64
}

var _ fs.File = (*file)(nil)
var _ fs.ReadDirFile = (*dirHandle)(nil)

func (fl *file) Stat() (fs.FileInfo, error) { return &fileInfo{name: path.Base(fl.name), rec: fl.rec}, nil }
func (fl *file) Close() error               { return nil }
func (fl *file) Read(p []byte) (int, error) {
	if fl.pos >= int64(fl.rec.size) {
		return 0, io.EOF
	}
	n, err := fl.fsys.ReadAt(fl.ino, fl.pos, p)
	fl.pos += int64(n)
	return n, err
}

// dirHandle implements fs.ReadDirFile for a directory inode.
type dirHandle struct {
	fsys   *FS
	name   string
	rec    *writerInodeRecord
	dirIdx int
	cursor uint32
}

func (d *dirHandle) Stat() (fs.FileInfo, error) { return &fileInfo{name: path.Base(d.name), rec: d.rec}, nil }
func (d *dirHandle) Close() error               { return nil }
func (d *dirHandle) Read([]byte) (int, error)   { return 0, fs.ErrInvalid }
func (d *dirHandle) ReadDir(n int) ([]fs.DirEntry, error) {
	start, end := d.fsys.dirRange(d.dirIdx)
	if d.cursor == 0 {
		d.cursor = start
	}
	var out []fs.DirEntry
	for d.cursor < end {
		e := d.fsys.md.DirEntries[d.cursor]
		out = append(out, &dirEntry{fsys: d.fsys, name: d.fsys.md.Names[e.NameOffset], ino: e.InodeNumber})
		d.cursor++
		if n > 0 && len(out) >= n {
			return out, nil
		}
	}
	if n > 0 && len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Open implements fs.FS.
func (f *FS) Open(name string) (fs.File, error) {
	ino, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	rec, err := f.inode(ino)
	if err != nil {
		return nil, err
	}
	if dirIdx, ok := f.dirIdxByInode[ino]; ok {
		return &dirHandle{fsys: f, name: name, rec: rec, dirIdx: dirIdx}, nil
	}
	return &file{fsys: f, name: name, ino: ino, rec: rec}, nil
}

// Stat implements fs.StatFS.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	ino, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	rec, err := f.inode(ino)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(name), rec: rec}, nil
}

// ReadDir implements fs.ReadDirFS.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	fl, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	dh, ok := fl.(fs.ReadDirFile)
	if !ok {
		return nil, fmt.Errorf("%w: %s", dwarfs.ErrNotDirectory, name)
	}
	return dh.ReadDir(-1)
}

// InodeNumber resolves name to its inode number, following symlinks,
// for callers (such as the FUSE adapter) that need the raw number
// rather than an fs.FileInfo.
func (f *FS) InodeNumber(name string) (uint32, error) {
	return f.lookup(name)
}

// Attrs exposes an inode's owner, mode, size and mtime to callers
// outside the package (the FUSE adapter's getattr), without exposing
// the unexported resolved-record type itself.
type Attrs struct {
	Ino   uint32
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	MTime time.Time
}

func (f *FS) Attrs(ino uint32) (Attrs, error) {
	rec, err := f.inode(ino)
	if err != nil {
		return Attrs{}, err
	}
	return Attrs{Ino: rec.num, Mode: rec.mode, UID: rec.uid, GID: rec.gid, Size: rec.size, MTime: rec.mtime}, nil
}

// IsDir reports whether ino names a directory.
func (f *FS) IsDir(ino uint32) bool {
	_, ok := f.dirIdxByInode[ino]
	return ok
}

// Readlink resolves a symlink's literal target without following it.
func (f *FS) Readlink(name string) (string, error) {
	ino, err := f.lookup(path.Dir(name))
	if err != nil {
		return "", err
	}
	dirIdx, ok := f.dirIdxByInode[ino]
	if !ok {
		return "", fmt.Errorf("%w: %s", dwarfs.ErrNotDirectory, name)
	}
	target, ok := f.findChild(dirIdx, path.Base(name))
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrNotExist}
	}
	return f.readlink(target)
}
