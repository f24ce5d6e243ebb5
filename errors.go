package dwarfs

import "errors"

// Package-specific error variables, usable with errors.Is/errors.As. Each
// corresponds to one of the error kinds in the specification's error
// taxonomy; callers wrap these with fmt.Errorf("...: %w", ErrX) to attach
// context.
var (
	// ErrConfig covers bad CLI/option values, unknown categories or
	// codecs. The caller should abort before any work is done.
	ErrConfig = errors.New("dwarfs: configuration error")

	// ErrCorruptImage covers magic/version mismatches, bad checksums on
	// a required section, or an inconsistent/missing section index.
	ErrCorruptImage = errors.New("dwarfs: corrupt image")

	// ErrBadChecksum is returned for a non-fatal checksum mismatch on a
	// BLOCK or HISTORY section encountered during recompression; the
	// section is skipped rather than aborting the run.
	ErrBadChecksum = errors.New("dwarfs: section checksum mismatch")

	// ErrSchemaUnsupported is returned when an image uses metadata
	// schema features this build does not recognise.
	ErrSchemaUnsupported = errors.New("dwarfs: unsupported schema feature")

	// ErrMetadataRequirement is returned when a codec's metadata
	// requirements are not satisfied by a categorizer/category pairing.
	ErrMetadataRequirement = errors.New("dwarfs: metadata requirement unmet")

	// ErrOutOfResources covers allocation or mlock failures that abort
	// the run.
	ErrOutOfResources = errors.New("dwarfs: out of resources")

	// ErrNotDirectory is returned when a directory operation targets a
	// non-directory inode.
	ErrNotDirectory = errors.New("dwarfs: not a directory")

	// ErrTooManySymlinks guards against symlink resolution loops.
	ErrTooManySymlinks = errors.New("dwarfs: too many levels of symbolic links")

	// ErrSectionIndexMismatch is returned when a SECTION_INDEX entry
	// does not correspond to an actual section at the stated offset.
	ErrSectionIndexMismatch = errors.New("dwarfs: section index inconsistent with image")
)
