package categorize_test

import "encoding/binary"

// makeWAV builds a minimal, valid PCM WAV file: a "fmt " chunk
// describing linear PCM at the given geometry, followed by a "data"
// chunk of dataLen bytes of PCM samples.
func makeWAV(channels, bitsPerSample int, sampleRate uint32, dataLen int) []byte {
	byteRate := sampleRate * uint32(channels) * uint32(bitsPerSample/8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	var buf []byte
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = append(buf, 0, 0, 0, 0) // placeholder RIFF size
	buf = append(buf, 'W', 'A', 'V', 'E')

	buf = append(buf, 'f', 'm', 't', ' ')
	buf = appendU32(buf, 16)
	buf = appendU16(buf, 1) // PCM
	buf = appendU16(buf, uint16(channels))
	buf = appendU32(buf, sampleRate)
	buf = appendU32(buf, byteRate)
	buf = appendU16(buf, blockAlign)
	buf = appendU16(buf, uint16(bitsPerSample))

	buf = append(buf, 'd', 'a', 't', 'a')
	buf = appendU32(buf, uint32(dataLen))
	buf = append(buf, make([]byte, dataLen)...)

	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	return buf
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// makeFITSHeader builds a minimal FITS header block (2880 bytes) with
// the given geometry, terminated by an END card.
func makeFITSHeader(bitpix int, naxis []int) []byte {
	block := make([]byte, 2880)
	for i := range block {
		block[i] = ' '
	}
	cards := []string{fitsCard("SIMPLE", "T"), fitsCard("BITPIX", itoa(bitpix))}
	cards = append(cards, fitsCard("NAXIS", itoa(len(naxis))))
	for i, n := range naxis {
		cards = append(cards, fitsCard("NAXIS"+itoa(i+1), itoa(n)))
	}
	cards = append(cards, "END"+spaces(77))

	off := 0
	for _, c := range cards {
		copy(block[off:off+80], c)
		off += 80
	}
	return block
}

func fitsCard(key, val string) string {
	s := key
	for len(s) < 8 {
		s += " "
	}
	s += "= "
	for len(val) < 20 {
		val = " " + val
	}
	s += val
	for len(s) < 80 {
		s += " "
	}
	return s[:80]
}

func spaces(n int) string {
	s := make([]byte, n)
	for i := range s {
		s[i] = ' '
	}
	return string(s)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}
