package dwarfs

import "io/fs"

// POSIX file type/permission bits, used when decoding the packed `modes[]`
// table in frozen metadata and when re-deriving fs.FileMode for readdir
// results.
const (
	sIFMT   = 0xf000
	sIFREG  = 0x8000
	sIFDIR  = 0x4000
	sIFBLK  = 0x6000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sIFLNK  = 0xa000
	sIFSOCK = 0xc000

	sISVTX = 0x200
	sISGID = 0x400
	sISUID = 0x800
)

// UnixToMode converts a packed POSIX st_mode value (as stored in the
// metadata's modes[] table) into an fs.FileMode.
func UnixToMode(mode uint32) fs.FileMode {
	res := fs.FileMode(mode & 0777)

	switch mode & sIFMT {
	case sIFCHR:
		res |= fs.ModeCharDevice | fs.ModeDevice
	case sIFBLK:
		res |= fs.ModeDevice
	case sIFDIR:
		res |= fs.ModeDir
	case sIFIFO:
		res |= fs.ModeNamedPipe
	case sIFLNK:
		res |= fs.ModeSymlink
	case sIFSOCK:
		res |= fs.ModeSocket
	}

	if mode&sISGID == sISGID {
		res |= fs.ModeSetgid
	}
	if mode&sISUID == sISUID {
		res |= fs.ModeSetuid
	}
	if mode&sISVTX == sISVTX {
		res |= fs.ModeSticky
	}

	return res
}

// ModeToUnix converts an fs.FileMode back into a packed POSIX st_mode
// value suitable for storage in the modes[] table.
func ModeToUnix(mode fs.FileMode) uint32 {
	res := uint32(mode.Perm())

	switch {
	case mode&fs.ModeCharDevice == fs.ModeCharDevice:
		res |= sIFCHR
	case mode&fs.ModeDevice == fs.ModeDevice:
		res |= sIFBLK
	case mode&fs.ModeDir == fs.ModeDir:
		res |= sIFDIR
	case mode&fs.ModeNamedPipe == fs.ModeNamedPipe:
		res |= sIFIFO
	case mode&fs.ModeSymlink == fs.ModeSymlink:
		res |= sIFLNK
	case mode&fs.ModeSocket == fs.ModeSocket:
		res |= sIFSOCK
	default:
		res |= sIFREG
	}

	if mode&fs.ModeSetgid == fs.ModeSetgid {
		res |= sISGID
	}
	if mode&fs.ModeSetuid == fs.ModeSetuid {
		res |= sISUID
	}
	if mode&fs.ModeSticky == fs.ModeSticky {
		res |= sISVTX
	}

	return res
}

// InodeRank orders inode types the way frozen metadata groups them:
// directories first, then symlinks, then regular files, then devices,
// then everything else. The rank lets a reader binary-search for the
// boundary between groups instead of scanning linearly.
type InodeRank int

const (
	RankDirectory InodeRank = iota
	RankSymlink
	RankRegular
	RankDevice
	RankOther
)

// RankOf returns the metadata inode-layout rank for a given fs.FileMode.
func RankOf(mode fs.FileMode) InodeRank {
	switch {
	case mode.IsDir():
		return RankDirectory
	case mode&fs.ModeSymlink != 0:
		return RankSymlink
	case mode.IsRegular():
		return RankRegular
	case mode&(fs.ModeDevice|fs.ModeCharDevice) != 0:
		return RankDevice
	default:
		return RankOther
	}
}
