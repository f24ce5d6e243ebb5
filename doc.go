// Package dwarfs implements the on-disk data model shared by the DwarFS
// writer and reader: entries, fragments, chunks, blocks and the section
// framing used to serialise them.
//
// The writer pipeline (scanner -> categorizer -> inode manager ->
// segmenter -> filesystem writer) lives under writer/ and its internal/
// subpackages; the read path lives under reader/. This package only
// carries the types and constants both sides agree on.
package dwarfs
