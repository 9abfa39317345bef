package codec

import (
	"encoding/binary"
	"fmt"

	"blockstream-server/voxel"
)

// --- mode 0: raw ---

// encodeRaw lays out all 4096 block ids as u16 little-endian, 8192
// bytes total.
func encodeRaw(blocks [voxel.BlocksPerChunk]uint16) []byte {
	out := make([]byte, voxel.BlocksPerChunk*2)
	for i, b := range blocks {
		binary.LittleEndian.PutUint16(out[i*2:], b)
	}
	return out
}

// decodeRaw inverts encodeRaw. Any shortfall (fewer bytes than a full
// 8192-byte payload) is implicit zero (air) for the remaining voxels,
// per the codec's "never infers block semantics but fills short raw
// payloads with air" rule.
func decodeRaw(payload []byte) ([voxel.BlocksPerChunk]uint16, error) {
	var blocks [voxel.BlocksPerChunk]uint16
	n := len(payload) / 2
	if n > voxel.BlocksPerChunk {
		n = voxel.BlocksPerChunk
	}
	for i := 0; i < n; i++ {
		blocks[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}
	return blocks, nil
}

// --- mode 1: run-length ---

// encodeRLE emits repeated (run_u16_le, value_u16_le) pairs covering
// exactly 4096 voxels; runs are capped at 65535.
func encodeRLE(blocks [voxel.BlocksPerChunk]uint16) []byte {
	out := make([]byte, 0, 64)

	i := 0
	for i < len(blocks) {
		value := blocks[i]
		run := 1
		for i+run < len(blocks) && blocks[i+run] == value && run < 65535 {
			run++
		}

		var pair [4]byte
		binary.LittleEndian.PutUint16(pair[0:2], uint16(run))
		binary.LittleEndian.PutUint16(pair[2:4], value)
		out = append(out, pair[:]...)

		i += run
	}

	return out
}

// decodeRLE inverts encodeRLE, expanding runs back into a flat voxel
// array. Every payload must expand to exactly 4096 block ids.
func decodeRLE(payload []byte) ([voxel.BlocksPerChunk]uint16, error) {
	var blocks [voxel.BlocksPerChunk]uint16

	pos := 0
	idx := 0
	for pos+4 <= len(payload) {
		run := int(binary.LittleEndian.Uint16(payload[pos : pos+2]))
		value := binary.LittleEndian.Uint16(payload[pos+2 : pos+4])
		pos += 4

		if idx+run > voxel.BlocksPerChunk {
			return blocks, fmt.Errorf("RLE run overruns chunk: idx=%d run=%d", idx, run)
		}
		for k := 0; k < run; k++ {
			blocks[idx+k] = value
		}
		idx += run
	}

	if idx != voxel.BlocksPerChunk {
		return blocks, fmt.Errorf("RLE payload expanded to %d voxels, want %d", idx, voxel.BlocksPerChunk)
	}
	return blocks, nil
}

// --- mode 2: palette + bitpack ---

// encodePalette builds the smallest-index palette encoding: a table
// of distinct block ids (in order of first appearance) plus a
// bitpacked index stream. Returns ok=false when more than 256
// distinct ids appear, since palette_len is a single byte.
func encodePalette(blocks [voxel.BlocksPerChunk]uint16) ([]byte, bool) {
	paletteIndex := make(map[uint16]int)
	palette := make([]uint16, 0, 16)

	indices := make([]int, voxel.BlocksPerChunk)
	for i, b := range blocks {
		idx, ok := paletteIndex[b]
		if !ok {
			if len(palette) >= 256 {
				return nil, false
			}
			idx = len(palette)
			paletteIndex[b] = idx
			palette = append(palette, b)
		}
		indices[i] = idx
	}

	bits := bitsForPalette(len(palette))
	packed := packBits(indices, bits)

	out := make([]byte, 0, 1+len(palette)*2+1+4+len(packed))
	out = append(out, byte(len(palette)))
	for _, id := range palette {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], id)
		out = append(out, b[:]...)
	}
	out = append(out, byte(bits))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(packed)))
	out = append(out, lenBuf[:]...)
	out = append(out, packed...)

	return out, true
}

// decodePalette inverts encodePalette.
func decodePalette(payload []byte) ([voxel.BlocksPerChunk]uint16, error) {
	var blocks [voxel.BlocksPerChunk]uint16

	if len(payload) < 1 {
		return blocks, fmt.Errorf("palette payload missing palette_len")
	}
	paletteLen := int(payload[0])
	pos := 1

	if len(payload) < pos+paletteLen*2 {
		return blocks, fmt.Errorf("palette payload truncated before palette entries")
	}
	palette := make([]uint16, paletteLen)
	for i := 0; i < paletteLen; i++ {
		palette[i] = binary.LittleEndian.Uint16(payload[pos : pos+2])
		pos += 2
	}

	if len(payload) < pos+1 {
		return blocks, fmt.Errorf("palette payload missing bits_per_entry")
	}
	bits := int(payload[pos])
	pos++

	if len(payload) < pos+4 {
		return blocks, fmt.Errorf("palette payload missing packed_byte_len")
	}
	packedLen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
	pos += 4

	if len(payload) < pos+packedLen {
		return blocks, fmt.Errorf("palette payload truncated before packed bitstream")
	}
	packed := payload[pos : pos+packedLen]

	indices := unpackBits(packed, bits, voxel.BlocksPerChunk)
	for i, idx := range indices {
		if idx < 0 || idx >= len(palette) {
			return blocks, fmt.Errorf("palette index %d out of range (palette_len=%d) at voxel %d", idx, paletteLen, i)
		}
		blocks[i] = palette[idx]
	}

	return blocks, nil
}

// bitsForPalette returns the smallest integer >= 1 bits_per_entry that
// admits paletteLen distinct indices.
func bitsForPalette(paletteLen int) int {
	bits := 1
	for (1 << bits) < paletteLen {
		bits++
	}
	return bits
}
