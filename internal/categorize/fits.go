package categorize

import (
	"strconv"
	"strings"

	"github.com/dwarfs-go/dwarfs"
)

const categoryFITS = "fits"

const fitsBlockSize = 2880
const fitsCardSize = 80

type fitsKey struct {
	bitpix int
	naxis  []int
}

func (k fitsKey) string() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(k.bitpix))
	for _, n := range k.naxis {
		b.WriteByte('x')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// FITS recognises the Flexible Image Transport System header used by
// astronomical imaging data: fixed 2880-byte blocks of 80-byte cards,
// terminated by an "END" card, describing the pixel geometry that
// follows (spec.md §4.1, "analogous for FITS images" to pcmaudio).
type FITS struct {
	interned *Interner[string]
}

func NewFITS() *FITS {
	return &FITS{interned: NewInterner[string]()}
}

func (f *FITS) Name() string     { return categoryFITS }
func (f *FITS) GlobalBest() bool { return true }

func (f *FITS) CategorizeRandomAccess(path string, data []byte, m Mapper) ([]dwarfs.Fragment, error) {
	if len(data) < fitsBlockSize {
		return nil, nil
	}
	header := parseFITSHeader(data[:fitsBlockSize])
	if header == nil || !header.simple {
		return nil, nil
	}

	headerBlocks := 1
	for {
		end := headerBlocks * fitsBlockSize
		if end > len(data) {
			return nil, nil
		}
		if hasFITSEnd(data[(headerBlocks-1)*fitsBlockSize : end]) {
			break
		}
		headerBlocks++
		if headerBlocks > 64 {
			return nil, nil
		}
	}

	dataLen := 1
	for _, n := range header.naxis {
		dataLen *= n
	}
	dataLen = dataLen * header.bitpix / 8
	if dataLen < 0 {
		dataLen = -dataLen
	}
	paddedDataLen := ((dataLen + fitsBlockSize - 1) / fitsBlockSize) * fitsBlockSize

	headerEnd := uint64(headerBlocks * fitsBlockSize)
	dataEnd := headerEnd + uint64(paddedDataLen)
	if dataEnd > uint64(len(data)) || dataLen == 0 {
		return nil, nil
	}

	catID := m.CategoryID(categoryFITS)
	key := fitsKey{bitpix: header.bitpix, naxis: header.naxis}
	subcat := f.interned.Intern(key.string())

	frags := []dwarfs.Fragment{
		{Category: catID, Subcategory: dwarfs.NoSubcategory, Length: headerEnd},
		{Category: catID, Subcategory: subcat, Length: uint64(paddedDataLen)},
	}
	if rest := uint64(len(data)) - dataEnd; rest > 0 {
		frags = append(frags, dwarfs.Fragment{Category: catID, Subcategory: dwarfs.NoSubcategory, Length: rest})
	}
	return frags, nil
}

type fitsHeader struct {
	simple bool
	bitpix int
	naxis  []int
}

func parseFITSHeader(block []byte) *fitsHeader {
	h := &fitsHeader{}
	for off := 0; off+fitsCardSize <= len(block); off += fitsCardSize {
		card := string(block[off : off+fitsCardSize])
		key := strings.TrimSpace(card[:8])
		if key == "" {
			continue
		}
		val := fitsCardValue(card)
		switch {
		case key == "SIMPLE":
			h.simple = strings.Contains(val, "T")
		case key == "BITPIX":
			h.bitpix, _ = strconv.Atoi(strings.TrimSpace(val))
		case strings.HasPrefix(key, "NAXIS") && key != "NAXIS":
			idx, err := strconv.Atoi(key[5:])
			if err != nil {
				continue
			}
			n, _ := strconv.Atoi(strings.TrimSpace(val))
			for len(h.naxis) < idx {
				h.naxis = append(h.naxis, 0)
			}
			h.naxis[idx-1] = n
		case key == "END":
			return h
		}
	}
	return h
}

func fitsCardValue(card string) string {
	if len(card) < 10 || card[8] != '=' {
		return ""
	}
	v := card[10:]
	if i := strings.Index(v, "/"); i >= 0 {
		v = v[:i]
	}
	return v
}

func hasFITSEnd(block []byte) bool {
	for off := 0; off+fitsCardSize <= len(block); off += fitsCardSize {
		if strings.TrimSpace(string(block[off:off+8])) == "END" {
			return true
		}
	}
	return false
}
