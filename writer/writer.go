// Package writer implements the mkdwarfs write pipeline of spec.md §4:
// scanner -> categorizer -> inode manager -> segmenter -> block merger
// -> frozen metadata -> section-framed image.
package writer

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/categorize"
	"github.com/dwarfs-go/dwarfs/internal/codec"
	"github.com/dwarfs-go/dwarfs/internal/inode"
	"github.com/dwarfs-go/dwarfs/internal/merger"
	"github.com/dwarfs-go/dwarfs/internal/nilsimsa"
	"github.com/dwarfs-go/dwarfs/internal/segmenter"
	"github.com/dwarfs-go/dwarfs/scanner"
)

// Config holds the knobs mkdwarfs exposes (spec.md §6), consumed
// through WriterOption so callers only set what they care about.
type Config struct {
	BlockSizeBits        uint
	WindowSizeBits       uint // 0 disables segmentation
	WindowIncrementShift uint
	MaxActiveBlocks      int
	BloomFilterBits      int
	Order                inode.OrderPolicy
	DefaultCompression   dwarfs.CompressionID
	CategoryCompression  map[string]dwarfs.CompressionID
	EnableCategorizers   []string
	ModTime              time.Time
	NoSectionIndex       bool
	NoHistory            bool
	MetadataOptions      MetadataOptions

	// DumpFilesRaw, DumpFilesFinal and DumpInodes are the diagnostic
	// dump hooks of spec.md §6 (DWARFS_DUMP_FILES_RAW,
	// DWARFS_DUMP_FILES_FINAL, DWARFS_DUMP_INODES): when non-nil, one
	// line of diagnostic text is written per entry at the corresponding
	// pipeline stage. None of these affect the written image.
	DumpFilesRaw   io.Writer // regular file paths as the scanner found them
	DumpFilesFinal io.Writer // regular file paths in final segmentation order
	DumpInodes     io.Writer // one line per inode: number, size, link count, first path
}

// DefaultConfig mirrors mkdwarfs's --compress-level 7 defaults.
var DefaultConfig = Config{
	BlockSizeBits:        22,
	WindowSizeBits:       4,
	WindowIncrementShift: 2,
	MaxActiveBlocks:      2,
	BloomFilterBits:      20,
	Order:                inode.OrderSimilarity,
	DefaultCompression:   dwarfs.CompressionZSTD,
	CategoryCompression:  map[string]dwarfs.CompressionID{},
	EnableCategorizers:   []string{"pcmaudio", "fits", "incompressible"},
	MetadataOptions:      DefaultMetadataOptions,
}

// WriterOption configures a Writer, following the teacher's functional
// options shape.
type WriterOption func(*Writer) error

func WithBlockSizeBits(bits uint) WriterOption {
	return func(w *Writer) error {
		if bits < 10 || bits > 30 {
			return fmt.Errorf("%w: block-size-bits must be in 10..30", dwarfs.ErrConfig)
		}
		w.cfg.BlockSizeBits = bits
		return nil
	}
}

func WithCompression(id dwarfs.CompressionID) WriterOption {
	return func(w *Writer) error {
		w.cfg.DefaultCompression = id
		return nil
	}
}

func WithCategoryCompression(category string, id dwarfs.CompressionID) WriterOption {
	return func(w *Writer) error {
		w.cfg.CategoryCompression[category] = id
		return nil
	}
}

func WithOrder(policy inode.OrderPolicy) WriterOption {
	return func(w *Writer) error {
		w.cfg.Order = policy
		return nil
	}
}

func WithModTime(t time.Time) WriterOption {
	return func(w *Writer) error {
		w.cfg.ModTime = t
		return nil
	}
}

func WithCategorizers(names ...string) WriterOption {
	return func(w *Writer) error {
		w.cfg.EnableCategorizers = names
		return nil
	}
}

func WithMaxActiveBlocks(n int) WriterOption {
	return func(w *Writer) error {
		w.cfg.MaxActiveBlocks = n
		return nil
	}
}

func WithWindowSizeBits(bits uint) WriterOption {
	return func(w *Writer) error {
		w.cfg.WindowSizeBits = bits
		return nil
	}
}

func WithBloomFilterBits(bits int) WriterOption {
	return func(w *Writer) error {
		w.cfg.BloomFilterBits = bits
		return nil
	}
}

func WithNoSectionIndex(v bool) WriterOption {
	return func(w *Writer) error {
		w.cfg.NoSectionIndex = v
		return nil
	}
}

func WithNoHistory(v bool) WriterOption {
	return func(w *Writer) error {
		w.cfg.NoHistory = v
		return nil
	}
}

// WithDumpFilesRaw wires the DWARFS_DUMP_FILES_RAW diagnostic hook.
func WithDumpFilesRaw(w2 io.Writer) WriterOption {
	return func(w *Writer) error {
		w.cfg.DumpFilesRaw = w2
		return nil
	}
}

// WithDumpFilesFinal wires the DWARFS_DUMP_FILES_FINAL diagnostic hook.
func WithDumpFilesFinal(w2 io.Writer) WriterOption {
	return func(w *Writer) error {
		w.cfg.DumpFilesFinal = w2
		return nil
	}
}

// WithDumpInodes wires the DWARFS_DUMP_INODES diagnostic hook.
func WithDumpInodes(w2 io.Writer) WriterOption {
	return func(w *Writer) error {
		w.cfg.DumpInodes = w2
		return nil
	}
}

// Writer drives one mkdwarfs run, writing a complete image to out.
type Writer struct {
	out io.Writer
	cfg Config

	sectionNo uint32
	offset    uint64
	index     []dwarfs.SectionType
	indexOff  []uint64

	pcm     *categorize.PCMAudio
	fits    *categorize.FITS
	catIDs  map[string]dwarfs.Category
	nextCat dwarfs.Category

	synthetic     map[*scanner.Entry]uint32
	nextSynthetic uint32
}

// NewWriter constructs a Writer over out, applying opts atop DefaultConfig.
func NewWriter(out io.Writer, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		out:     out,
		cfg:     DefaultConfig,
		catIDs:  map[string]dwarfs.Category{},
		nextCat: 1, // 0 is DefaultCategory
	}
	w.cfg.CategoryCompression = map[string]dwarfs.CompressionID{}
	for k, v := range DefaultConfig.CategoryCompression {
		w.cfg.CategoryCompression[k] = v
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.cfg.ModTime.IsZero() {
		w.cfg.ModTime = time.Now()
	}
	return w, nil
}

func (w *Writer) categoryID(name string) dwarfs.Category {
	if id, ok := w.catIDs[name]; ok {
		return id
	}
	id := w.nextCat
	w.nextCat++
	w.catIDs[name] = id
	return id
}

// Progress reports non-fatal issues encountered while writing, per
// spec.md §7 (the run still completes, with exit code 2).
type Progress struct {
	Errors []*scanner.FileError
}

// WriteFS scans fsys, segments and writes its contents, and finalises
// the image. It is the single entry point cmd/mkdwarfs drives.
func (w *Writer) WriteFS(fsys fs.FS) (*Progress, error) {
	sc := scanner.New(fsys)
	root, err := sc.Scan()
	if err != nil {
		return nil, err
	}
	if w.cfg.DumpFilesRaw != nil {
		scanner.DumpFilesRaw(root, w.cfg.DumpFilesRaw)
	}

	mgr := categorize.NewManager(categorize.MapperFunc(w.categoryID))
	w.pcm = categorize.NewPCMAudio()
	w.fits = categorize.NewFITS()
	for _, name := range w.cfg.EnableCategorizers {
		switch name {
		case "pcmaudio":
			mgr.AddRandomAccess(w.pcm)
		case "fits":
			mgr.AddRandomAccess(w.fits)
		case "incompressible":
			mgr.AddRandomAccess(categorize.NewIncompressible())
		}
	}

	im := inode.NewManager()
	inodeOfEntry := map[*scanner.Entry]*inode.Inode{}
	fragByInode := map[*inode.Inode][]dwarfs.Fragment{}
	repFiles := map[*inode.Inode]inode.File{}
	dataByInodeNum := map[uint32][]byte{}

	var walk func(e *scanner.Entry)
	walk = func(e *scanner.Entry) {
		if e.Kind == scanner.KindRegular && e.Content != nil {
			frags, ferr := mgr.CategorizeRandomAccess(e.Path(), e.Content.Data)
			if ferr != nil {
				sc.Progress.Errors = append(sc.Progress.Errors, &scanner.FileError{Path: e.Path(), Err: ferr})
				frags = nil
			}
			if len(frags) == 0 {
				frags = []dwarfs.Fragment{{Category: dwarfs.DefaultCategory, Subcategory: dwarfs.NoSubcategory, Length: uint64(len(e.Content.Data))}}
			}
			f := inode.File{
				Path:       e.Path(),
				Size:       e.Size,
				ContentKey: e.Content.ContentHash,
				Category:   frags[0].Category,
			}
			if w.cfg.Order == inode.OrderNilsimsa {
				f.Digest = nilsimsa.Sum(e.Content.Data)
				f.HasDigest = true
			}
			ino := im.Add(f)
			inodeOfEntry[e] = ino
			dataByInodeNum[ino.Number] = e.Content.Data
			if _, ok := fragByInode[ino]; !ok {
				fragByInode[ino] = frags
				repFiles[ino] = f
			}
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(root)

	spans := im.Order(w.cfg.Order, repFiles)

	bindings, err := w.resolveBindings(fragByInode)
	if err != nil {
		return nil, err
	}

	blockCategoryByPhysical := map[uint32]dwarfs.Category{}

	// A WAV file's header and waveform fragments open two category
	// streams in the same pass over its bytes, and neither closes until
	// every span has been walked (CloseCategory only runs once,
	// afterwards) — so every category touched in this run needs its own
	// merger slot up front; one shared slot would make the second
	// category's first Submit block forever behind the first's.
	maxSlots := len(bindings)
	if maxSlots < 1 {
		maxSlots = 1
	}
	var mg *merger.Merger
	mg = merger.New(nil, maxSlots, func(b merger.Block) {
		physical := w.sectionNo
		cd := bindings[dwarfs.Category(b.Category)].Codec
		if err := w.writeBlock(b.Data, cd); err == nil {
			blockCategoryByPhysical[physical] = dwarfs.Category(b.Category)
		}
	})

	streams := map[dwarfs.Category]*categoryStream{}
	getStream := func(cat dwarfs.Category) *categoryStream {
		if s, ok := streams[cat]; ok {
			return s
		}
		granularity := 1
		if binding := bindings[cat]; binding != nil && binding.Constraints.Granularity > 0 {
			granularity = binding.Constraints.Granularity
		}
		windowFrames := 0 // WindowSizeBits 0 disables segmentation
		if w.cfg.WindowSizeBits > 0 {
			windowFrames = 1 << w.cfg.WindowSizeBits
		}
		params := segmenter.Params{
			BlockSize:            1 << w.cfg.BlockSizeBits,
			WindowSizeFrames:     windowFrames,
			Granularity:          granularity,
			WindowIncrementShift: w.cfg.WindowIncrementShift,
			MaxActiveBlocks:      w.cfg.MaxActiveBlocks,
			BloomFilterBits:      w.cfg.BloomFilterBits,
		}
		s := &categoryStream{logicalToPhysical: map[uint32]uint32{}}
		emitter := segmenter.BlockEmitter(blockEmitterFunc(func(data []byte, logicalNo uint32) {
			physical := w.sectionNo
			s.logicalToPhysical[logicalNo] = physical
			mg.Submit(merger.Block{Category: int(cat), LogicalNo: logicalNo, Data: data})
		}))
		s.seg = segmenter.New(params, emitter)
		streams[cat] = s
		return s
	}

	// Each inode's fragments are sliced at their cumulative offsets and
	// routed to the segmenter of their own category (spec.md §3/§4.5/
	// §4.6): a WAV file's header/trailer and waveform bytes land in
	// separate, separately-compressed block streams even though they
	// share one inode. Resolution into physical block numbers is
	// deferred (pendingByInode) because a fragment's block only rolls
	// over to the emitter once its category's segmenter later fills it
	// or is flushed, which can happen long after this fragment is
	// segmented.
	pendingByInode := map[uint32][]pendingChunk{}
	if w.cfg.DumpFilesFinal != nil {
		for _, sp := range spans {
			for _, ino := range sp.Inodes {
				fmt.Fprintln(w.cfg.DumpFilesFinal, ino.Paths[0])
			}
		}
	}
	for _, sp := range spans {
		for _, ino := range sp.Inodes {
			data := dataByInodeNum[ino.Number]
			var off uint64
			var pending []pendingChunk
			for _, frag := range fragByInode[ino] {
				end := off + frag.Length
				if end > uint64(len(data)) {
					end = uint64(len(data))
				}
				slice := data[off:end]
				off = end

				stream := getStream(frag.Category)
				sink := &chunkCollector{}
				stream.seg.Segment(slice, sink)
				for _, c := range sink.chunks {
					pending = append(pending, pendingChunk{category: frag.Category, block: c.block, offset: c.offset, size: c.size})
				}
			}
			pendingByInode[ino.Number] = pending
		}
	}

	cats := make([]int, 0, len(streams))
	for cat := range streams {
		cats = append(cats, int(cat))
	}
	sort.Ints(cats)
	for _, c := range cats {
		streams[dwarfs.Category(c)].seg.Flush()
		mg.CloseCategory(c)
	}

	chunksByInode := make(map[uint32][]ChunkRecord, len(pendingByInode))
	for inoNum, pending := range pendingByInode {
		recs := make([]ChunkRecord, 0, len(pending))
		for _, pc := range pending {
			recs = append(recs, ChunkRecord{
				Block:  streams[pc.category].logicalToPhysical[pc.block],
				Offset: pc.offset,
				Size:   pc.size,
			})
		}
		chunksByInode[inoNum] = recs
	}

	if w.cfg.DumpInodes != nil {
		for _, ino := range im.All() {
			fmt.Fprintf(w.cfg.DumpInodes, "%d %d %d %s\n", ino.Number, ino.Size, ino.NLink, ino.Paths[0])
		}
	}

	w.nextSynthetic = uint32(im.Stats().TotalInodes)
	inodeOf := func(e *scanner.Entry) uint32 {
		// A regular file whose content failed to scan (spec.md §7's
		// non-fatal file-level errors) never reached inodeOfEntry; it
		// still needs a metadata entry, so it falls back to the
		// synthetic numbering like a directory or symlink would.
		if e.Kind != scanner.KindRegular || inodeOfEntry[e] == nil {
			return w.syntheticInodeNumber(e, inodeOfEntry)
		}
		return inodeOfEntry[e].Number
	}

	md, err := BuildMetadata(root, inodeOf, chunksByInode, w.cfg.MetadataOptions)
	if err != nil {
		return nil, err
	}
	md.BlockCategories = make([]dwarfs.Category, w.sectionNo)
	for physical, cat := range blockCategoryByPhysical {
		md.BlockCategories[physical] = cat
	}
	for name, id := range w.catIDs {
		for uint32(len(md.CategoryNames)) <= uint32(id) {
			md.CategoryNames = append(md.CategoryNames, "")
		}
		md.CategoryNames[id] = name
	}

	if err := w.writeMetadataSections(md); err != nil {
		return nil, err
	}
	if !w.cfg.NoSectionIndex {
		if err := w.writeSectionIndex(); err != nil {
			return nil, err
		}
	}

	return &Progress{Errors: sc.Progress.Errors}, nil
}

// categoryStream bundles one category's segmenter with the logical ->
// physical block-number mapping its emitter fills in as blocks roll
// over, per spec.md §4.5/§4.6. Exactly one exists per category actually
// exercised by a write, created on first use by getStream.
type categoryStream struct {
	seg               *segmenter.Segmenter
	logicalToPhysical map[uint32]uint32
}

// pendingChunk is one inode fragment's segmentation result, recorded
// before its category's segmenter has necessarily flushed the block it
// landed in; chunksByInode resolves these to physical block numbers
// only after every category stream has been flushed and closed.
type pendingChunk struct {
	category      dwarfs.Category
	block, offset, size uint32
}

// resolveBindings implements spec.md §4.8: every category a fragment
// was assigned to is bound to its codec up front, so a compressor's
// unmet metadata requirement (the PCM codec's sample geometry) aborts
// the run before any bytes are written. The codec.Binding resolved here
// is the same one that later compresses the category's blocks, so a
// codec with a real metadata-derived behaviour (such as the PCM
// wrapper's granularity) is no longer decorative.
func (w *Writer) resolveBindings(fragByInode map[*inode.Inode][]dwarfs.Fragment) (map[dwarfs.Category]*codec.Binding, error) {
	waveCat, haveWave := w.catIDs[categorize.CategoryPCMWaveform]

	metaByCategory := map[dwarfs.Category][]byte{}
	seen := map[dwarfs.Category]bool{}
	for _, frags := range fragByInode {
		for _, f := range frags {
			seen[f.Category] = true
			// Subcategory ids are interned per categorizer (spec.md
			// §4.1), so a non-waveform fragment's subcategory must never
			// be handed to the PCM categorizer's own lookup table: the
			// numeric id can collide with an unrelated PCM geometry.
			if f.Subcategory == dwarfs.NoSubcategory || !haveWave || f.Category != waveCat {
				continue
			}
			if _, ok := metaByCategory[f.Category]; ok {
				continue
			}
			if meta, ok := w.pcm.Metadata(f.Subcategory); ok {
				metaByCategory[f.Category] = meta
			}
		}
	}

	bindings := make(map[dwarfs.Category]*codec.Binding, len(seen))
	for cat := range seen {
		name := categoryName(w.catIDs, cat)
		inner, err := codec.Lookup(w.compressionFor(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dwarfs.ErrConfig, err)
		}
		var cd codec.Codec = inner
		if haveWave && cat == waveCat {
			cd = codec.NewPCM(inner)
		}
		b, err := codec.Bind(cd, metaByCategory[cat])
		if err != nil {
			return nil, err
		}
		bindings[cat] = b
	}
	return bindings, nil
}

// syntheticInodeNumber assigns stable inode numbers to non-regular
// entries (directories, symlinks, devices), contiguous with and
// immediately above the regular-file numbering space the content-dedup
// manager already assigned (w.nextSynthetic is seeded with that count
// before this is ever called, so the combined inode space stays dense
// and BuildMetadata's Inodes table never balloons past the real count).
func (w *Writer) syntheticInodeNumber(e *scanner.Entry, _ map[*scanner.Entry]*inode.Inode) uint32 {
	if w.synthetic == nil {
		w.synthetic = map[*scanner.Entry]uint32{}
	}
	if n, ok := w.synthetic[e]; ok {
		return n
	}
	n := w.nextSynthetic
	w.synthetic[e] = n
	w.nextSynthetic = n + 1
	return n
}

func categoryName(ids map[string]dwarfs.Category, cat dwarfs.Category) string {
	for name, id := range ids {
		if id == cat {
			return name
		}
	}
	return ""
}

func (w *Writer) compressionFor(category string) dwarfs.CompressionID {
	if id, ok := w.cfg.CategoryCompression[category]; ok {
		return id
	}
	return w.cfg.DefaultCompression
}

type blockEmitterFunc func(data []byte, logicalNo uint32)

func (f blockEmitterFunc) BlockReady(data []byte, logicalNo uint32) { f(data, logicalNo) }

type collectedChunk struct {
	block, offset, size uint32
}

type chunkCollector struct {
	chunks []collectedChunk
}

func (c *chunkCollector) AddChunk(block, offset, size uint32) {
	c.chunks = append(c.chunks, collectedChunk{block, offset, size})
}
func (c *chunkCollector) AddHole(size uint64) {}

func (w *Writer) writeBlock(data []byte, cd codec.Codec) error {
	compressed, err := cd.Compress(data)
	usedID := cd.ID()
	if err != nil || len(compressed) >= len(data) {
		// bad-ratio fallback: store uncompressed, section type stays BLOCK.
		compressed = data
		usedID = dwarfs.CompressionNone
	} else {
		compressed = dwarfs.WrapCompressedPayload(len(data), compressed)
	}
	return w.writeSection(dwarfs.SectionBlock, usedID, compressed)
}

func (w *Writer) writeMetadataSections(md *Metadata) error {
	schema, err := json.Marshal(md.Options)
	if err != nil {
		return err
	}
	if err := w.writeSection(dwarfs.SectionMetadataV2Schema, dwarfs.CompressionNone, schema); err != nil {
		return err
	}
	payload, err := md.Marshal()
	if err != nil {
		return err
	}
	cd, _ := codec.Lookup(w.cfg.DefaultCompression)
	compressed, err := cd.Compress(payload)
	if err != nil || len(compressed) >= len(payload) {
		return w.writeSection(dwarfs.SectionMetadataV2, dwarfs.CompressionNone, payload)
	}
	return w.writeSection(dwarfs.SectionMetadataV2, w.cfg.DefaultCompression, dwarfs.WrapCompressedPayload(len(payload), compressed))
}

func (w *Writer) writeSection(typ dwarfs.SectionType, comp dwarfs.CompressionID, payload []byte) error {
	hdr, err := dwarfs.WriteSection(w.out, w.sectionNo, typ, comp, payload)
	if err != nil {
		return err
	}
	w.index = append(w.index, typ)
	w.indexOff = append(w.indexOff, w.offset)
	w.offset += uint64(dwarfs.SectionHeaderSize) + hdr.Length
	w.sectionNo++
	return nil
}

func (w *Writer) writeSectionIndex() error {
	entries := make([]byte, 0, 8*len(w.index))
	for i, typ := range w.index {
		v := dwarfs.IndexEntry(typ, w.indexOff[i])
		var b [8]byte
		for k := 0; k < 8; k++ {
			b[k] = byte(v >> (8 * k))
		}
		entries = append(entries, b[:]...)
	}
	return w.writeSection(dwarfs.SectionIndex, dwarfs.CompressionNone, entries)
}
