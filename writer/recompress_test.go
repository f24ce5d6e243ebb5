package writer_test

import (
	"bytes"
	"io"
	"testing"
	"testing/fstest"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/reader"
	"github.com/dwarfs-go/dwarfs/writer"
)

func TestRecompressPreservesContentUnderNewCodec(t *testing.T) {
	content := bytes.Repeat([]byte("recompress me please, over and over. "), 4000)

	var srcBuf bytes.Buffer
	w, err := writer.NewWriter(&srcBuf, writer.WithCompression(dwarfs.CompressionZSTD))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.WriteFS(fstest.MapFS{"f.txt": {Data: content, Mode: 0644}}); err != nil {
		t.Fatalf("WriteFS: %v", err)
	}

	src := srcBuf.Bytes()
	if _, err := reader.Open(bytes.NewReader(src), int64(len(src))); err != nil {
		t.Fatalf("Open(src): %v", err)
	}
	var blockCategories []dwarfs.Category

	var dstBuf bytes.Buffer
	opt := writer.RecompressOptions{Mode: writer.RecompressAll, Target: dwarfs.CompressionGZip}
	if err := writer.Recompress(bytes.NewReader(src), int64(len(src)), &dstBuf, opt, blockCategories); err != nil {
		t.Fatalf("Recompress: %v", err)
	}

	dst := dstBuf.Bytes()
	rfsAfter, err := reader.Open(bytes.NewReader(dst), int64(len(dst)))
	if err != nil {
		t.Fatalf("Open(dst): %v", err)
	}
	got, err := readFileFrom(rfsAfter, "f.txt")
	if err != nil {
		t.Fatalf("read f.txt from recompressed image: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("recompressed content mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestRecompressNoneIsAByteIdenticalCopyOfSections(t *testing.T) {
	var srcBuf bytes.Buffer
	w, err := writer.NewWriter(&srcBuf, writer.WithNoSectionIndex(true))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.WriteFS(fstest.MapFS{"f.txt": {Data: []byte("hi"), Mode: 0644}}); err != nil {
		t.Fatalf("WriteFS: %v", err)
	}
	src := srcBuf.Bytes()

	var dstBuf bytes.Buffer
	opt := writer.RecompressOptions{Mode: writer.RecompressNone, Target: dwarfs.CompressionGZip}
	if err := writer.Recompress(bytes.NewReader(src), int64(len(src)), &dstBuf, opt, nil); err != nil {
		t.Fatalf("Recompress: %v", err)
	}

	dst := dstBuf.Bytes()
	if len(dst) < len(src) || !bytes.Equal(dst[:len(src)], src) {
		t.Fatalf("recompressed sections are not a byte-identical copy of the source's %d bytes", len(src))
	}
	rfs, err := reader.Open(bytes.NewReader(dst), int64(len(dst)))
	if err != nil {
		t.Fatalf("Open(dst): %v", err)
	}
	got, err := readFileFrom(rfs, "f.txt")
	if err != nil {
		t.Fatalf("read f.txt: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("content = %q, want %q", got, "hi")
	}
}

func readFileFrom(rfs *reader.FS, name string) ([]byte, error) {
	f, err := rfs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
