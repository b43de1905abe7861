// Package encoding packs dense chunk block arrays as a palette plus
// varint run lengths.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Air is palette entry zero; an empty code decodes to it.
const Air = "air"

// EncodeRLE writes (palette index, run length) varint pairs.
func EncodeRLE(ids []uint16) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return buf.Bytes()
}

// DecodeRLE expands runs into exactly want ids. Runs that overflow want are
// rejected rather than truncated.
func DecodeRLE(raw []byte, want int) ([]uint16, error) {
	out := make([]uint16, 0, want)
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("palette index too large: %d", b)
		}
		if run > uint64(want-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d blocks", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d blocks, want %d", len(out), want)
	}
	return out, nil
}

// EncodePalette maps codes to a palette (air first) and packs the indices.
func EncodePalette(codes []string) ([]string, []byte) {
	palette := []string{Air}
	index := map[string]uint16{Air: 0}
	ids := make([]uint16, len(codes))
	for i, c := range codes {
		if c == "" {
			c = Air
		}
		id, ok := index[c]
		if !ok {
			id = uint16(len(palette))
			index[c] = id
			palette = append(palette, c)
		}
		ids[i] = id
	}
	return palette, EncodeRLE(ids)
}

// DecodePalette is the inverse of EncodePalette. Air comes back as "".
func DecodePalette(palette []string, runs []byte, want int) ([]string, error) {
	ids, err := DecodeRLE(runs, want)
	if err != nil {
		return nil, err
	}
	out := make([]string, want)
	for i, id := range ids {
		if int(id) >= len(palette) {
			return nil, fmt.Errorf("palette index %d out of %d", id, len(palette))
		}
		if c := palette[id]; c != Air {
			out[i] = c
		}
	}
	return out, nil
}
