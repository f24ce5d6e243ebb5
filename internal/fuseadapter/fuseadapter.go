//go:build fuse

// Package fuseadapter mounts a reader.FS through go-fuse, adapting the
// teacher's raw-fuse Inode methods (legacy/inode_fuse.go) to go-fuse's
// higher-level path-node API since a dwarfs mount has no writable
// state to reconcile against a separate inode cache.
package fuseadapter

import (
	"context"
	"errors"
	stdfs "io/fs"
	"path"
	"strconv"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/reader"
)

// Options mirrors the -o flags spec.md §6 exposes for the dwarfs mount
// helper.
type Options struct {
	CacheSize      uint64
	Workers        int
	EnableNlink    bool
	ReadOnly       bool
	DriverPID      int
	PerfmonEnabled bool
}

// Root constructs the go-fuse root node for an opened image.
func Root(fsys *reader.FS, opt Options) gofuse.InodeEmbedder {
	return &node{fsys: fsys, path: ".", ino: fsys.RootInode(), opt: &opt}
}

// node is one path within the mounted tree. dwarfs images are
// immutable, so nodes are recreated on every lookup rather than
// cached against mutation.
type node struct {
	gofuse.Inode
	fsys *reader.FS
	path string
	ino  uint32
	opt  *Options
}

var (
	_ gofuse.NodeLookuper   = (*node)(nil)
	_ gofuse.NodeGetattrer  = (*node)(nil)
	_ gofuse.NodeReaddirer  = (*node)(nil)
	_ gofuse.NodeOpener     = (*node)(nil)
	_ gofuse.NodeReader     = (*node)(nil)
	_ gofuse.NodeReadlinker = (*node)(nil)
	_ gofuse.NodeStatfser   = (*node)(nil)
	_ gofuse.NodeGetxattrer = (*node)(nil)
)

func (n *node) child(name string) (*node, error) {
	childPath := path.Join(n.path, name)
	ino, err := n.fsys.InodeNumber(childPath)
	if err != nil {
		return nil, err
	}
	return &node{fsys: n.fsys, path: childPath, ino: ino, opt: n.opt}, nil
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	c, err := n.child(name)
	if err != nil {
		return nil, toErrno(err)
	}
	attrs, err := n.fsys.Attrs(c.ino)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, attrs)
	mode := uint32(dwarfs.UnixToMode(attrs.Mode).Perm())
	if n.fsys.IsDir(c.ino) {
		mode |= syscall.S_IFDIR
	} else {
		mode |= syscall.S_IFREG
	}
	child := n.NewInode(ctx, c, gofuse.StableAttr{Mode: mode, Ino: uint64(c.ino)})
	return child, gofuse.OK
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attrs, err := n.fsys.Attrs(n.ino)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attrs)
	return gofuse.OK
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.fsys.ReadDir(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir() {
			mode = syscall.S_IFDIR
		}
		list = append(list, fuse.DirEntry{Name: e.Name(), Mode: mode})
	}
	return gofuse.NewListDirStream(list), gofuse.OK
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, gofuse.OK
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nread, err := n.fsys.ReadAt(n.ino, off, dest)
	if err != nil && nread == 0 {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:nread]), gofuse.OK
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.Readlink(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), gofuse.OK
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := n.fsys.StatVFS()
	out.Bsize = uint32(st.BlockSize)
	out.Blocks = st.Blocks
	out.Bfree = 0
	out.Bavail = 0
	out.Files = st.Files
	out.Ffree = 0
	return gofuse.OK
}

// Getxattr serves the synthetic attributes spec.md §6 documents:
// user.dwarfs.driver.pid and user.dwarfs.driver.perfmon on the root,
// user.dwarfs.inodeinfo on any inode.
func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	var value string
	switch attr {
	case "user.dwarfs.driver.pid":
		if n.path != "." {
			return 0, syscall.ENODATA
		}
		value = strconv.Itoa(n.opt.DriverPID)
	case "user.dwarfs.driver.perfmon":
		if n.path != "." {
			return 0, syscall.ENODATA
		}
		if n.opt.PerfmonEnabled {
			value = "1"
		} else {
			value = "0"
		}
	case "user.dwarfs.inodeinfo":
		attrs, err := n.fsys.Attrs(n.ino)
		if err != nil {
			return 0, toErrno(err)
		}
		value = strconv.FormatUint(uint64(attrs.Ino), 10)
	default:
		return 0, syscall.ENODATA
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), gofuse.OK
}

func fillAttr(a *fuse.Attr, attrs reader.Attrs) {
	a.Ino = uint64(attrs.Ino)
	a.Size = attrs.Size
	a.Mode = attrs.Mode
	a.Uid = attrs.UID
	a.Gid = attrs.GID
	sec := uint64(attrs.MTime.Unix())
	a.Mtime = sec
	a.Atime = sec
	a.Ctime = sec
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return gofuse.OK
	}
	if errors.Is(err, stdfs.ErrNotExist) {
		return syscall.ENOENT
	}
	if errors.Is(err, dwarfs.ErrNotDirectory) {
		return syscall.ENOTDIR
	}
	if errors.Is(err, dwarfs.ErrTooManySymlinks) {
		return syscall.ELOOP
	}
	return syscall.EIO
}
