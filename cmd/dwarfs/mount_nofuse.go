//go:build !fuse

package main

import "github.com/dwarfs-go/dwarfs/reader"

// mount reports that this binary was built without the "fuse" tag.
// internal/fuseadapter (and its github.com/hanwen/go-fuse/v2 import)
// only compiles under that tag, so environments without libfuse can
// still build and use reader.FS programmatically.
func mount(fsys *reader.FS, mountPoint string, opt mountOptions, foreground bool) {
	fail(1, "built without FUSE support; rebuild with -tags fuse")
}
