//go:build fuse

package main

import (
	"os"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dwarfs-go/dwarfs/internal/fuseadapter"
	"github.com/dwarfs-go/dwarfs/reader"
)

// mount blocks, serving the image until the filesystem is unmounted.
// Always runs in the foreground; daemonizing is left to the caller's
// process supervisor (systemd, a wrapper script), following the
// teacher's preference for doing one thing per binary invocation.
func mount(fsys *reader.FS, mountPoint string, opt mountOptions, foreground bool) {
	root := fuseadapter.Root(fsys, fuseadapter.Options{
		CacheSize:      opt.cacheSize,
		Workers:        opt.workers,
		EnableNlink:    opt.enableNlink,
		ReadOnly:       true,
		DriverPID:      os.Getpid(),
		PerfmonEnabled: false,
	})

	server, err := gofuse.Mount(mountPoint, root, &gofuse.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "dwarfs",
			Name:       "dwarfs",
			AllowOther: false,
			Debug:      false,
		},
	})
	if err != nil {
		fail(1, "mounting %s: %v", mountPoint, err)
	}
	server.Wait()
}
