// Package codec implements the bit-exact CHUNK_FULL wire frame:
// serialize/deserialize a chunk to bytes, choosing the smallest of
// three encodings plus optional deflate, per §4.2.
package codec

import (
	"encoding/binary"
	"fmt"

	"blockstream-server/voxel"
)

// MessageTypeChunkFull is the single message type this codec emits.
const MessageTypeChunkFull = 1

// HeaderSize is the fixed frame header length in bytes, before the
// payload.
const HeaderSize = 26

// Compression modes, selectable per §4.2's selection policy.
const (
	ModeRaw     = 0
	ModeRLE     = 1
	ModePalette = 2

	zlibFlag = 0x80
	modeMask = 0x7f
)

// Frame is a decoded CHUNK_FULL message: header fields plus the
// original 4096-entry block array.
type Frame struct {
	Sequence uint32
	Coord    voxel.Coord
	Version  uint32
	Blocks   [voxel.BlocksPerChunk]uint16
}

// encodedPayload is an encoding candidate: a mode id and its payload
// bytes, pre-deflate.
type encodedPayload struct {
	mode    byte
	payload []byte
}

// EncodeBest serializes blocks into a full CHUNK_FULL frame, choosing
// whichever of raw/RLE/palette is smallest, then applying deflate if
// it shrinks the chosen payload by at least 8 bytes.
func EncodeBest(seq uint32, coord voxel.Coord, version uint32, blocks [voxel.BlocksPerChunk]uint16) ([]byte, error) {
	candidates := candidatePayloads(blocks)

	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c.payload) < len(best.payload) {
			best = c
		}
	}

	return assembleFrame(seq, coord, version, best)
}

// EncodeWithMode forces a specific compression mode (ModeRaw,
// ModeRLE, or ModePalette), still attempting deflate on top. It is
// used by tests asserting the round-trip law holds under every forced
// mode; the serializer pool calls EncodeBest instead.
func EncodeWithMode(seq uint32, coord voxel.Coord, version uint32, blocks [voxel.BlocksPerChunk]uint16, mode byte) ([]byte, error) {
	var payload []byte
	switch mode {
	case ModeRaw:
		payload = encodeRaw(blocks)
	case ModeRLE:
		payload = encodeRLE(blocks)
	case ModePalette:
		p, ok := encodePalette(blocks)
		if !ok {
			return nil, fmt.Errorf("palette mode unavailable: more than 256 distinct block ids")
		}
		payload = p
	default:
		return nil, fmt.Errorf("unknown compression mode %d", mode)
	}

	return assembleFrame(seq, coord, version, encodedPayload{mode: mode, payload: payload})
}

func candidatePayloads(blocks [voxel.BlocksPerChunk]uint16) []encodedPayload {
	candidates := []encodedPayload{
		{mode: ModeRaw, payload: encodeRaw(blocks)},
		{mode: ModeRLE, payload: encodeRLE(blocks)},
	}
	if palette, ok := encodePalette(blocks); ok {
		candidates = append(candidates, encodedPayload{mode: ModePalette, payload: palette})
	}
	return candidates
}

func assembleFrame(seq uint32, coord voxel.Coord, version uint32, chosen encodedPayload) ([]byte, error) {
	modeByte := chosen.mode
	payload := chosen.payload

	if deflated, ok := tryDeflate(payload); ok {
		payload = deflated
		modeByte |= zlibFlag
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = MessageTypeChunkFull
	binary.LittleEndian.PutUint32(frame[1:5], seq)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(coord.CX))
	binary.LittleEndian.PutUint32(frame[9:13], uint32(coord.CY))
	binary.LittleEndian.PutUint32(frame[13:17], uint32(coord.CZ))
	binary.LittleEndian.PutUint32(frame[17:21], version)
	frame[21] = modeByte
	binary.LittleEndian.PutUint32(frame[22:26], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	return frame, nil
}

// Decode parses a CHUNK_FULL frame and reconstructs the original
// 4096-entry block array, inverting whichever mode and compression
// flag the header names.
func Decode(frame []byte) (*Frame, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != MessageTypeChunkFull {
		return nil, fmt.Errorf("unexpected message type %d", frame[0])
	}

	seq := binary.LittleEndian.Uint32(frame[1:5])
	cx := int32(binary.LittleEndian.Uint32(frame[5:9]))
	cy := int32(binary.LittleEndian.Uint32(frame[9:13]))
	cz := int32(binary.LittleEndian.Uint32(frame[13:17]))
	version := binary.LittleEndian.Uint32(frame[17:21])
	modeByte := frame[21]
	length := binary.LittleEndian.Uint32(frame[22:26])

	if int(HeaderSize+length) != len(frame) {
		return nil, fmt.Errorf("payload length mismatch: header says %d, frame has %d remaining", length, len(frame)-HeaderSize)
	}
	payload := frame[HeaderSize:]

	mode := modeByte & modeMask
	if modeByte&zlibFlag != 0 {
		inflated, err := inflate(payload)
		if err != nil {
			return nil, fmt.Errorf("inflate payload: %w", err)
		}
		payload = inflated
	}

	var blocks [voxel.BlocksPerChunk]uint16
	var err error
	switch mode {
	case ModeRaw:
		blocks, err = decodeRaw(payload)
	case ModeRLE:
		blocks, err = decodeRLE(payload)
	case ModePalette:
		blocks, err = decodePalette(payload)
	default:
		return nil, fmt.Errorf("unknown compression mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("decode payload (mode %d): %w", mode, err)
	}

	return &Frame{
		Sequence: seq,
		Coord:    voxel.Coord{CX: cx, CY: cy, CZ: cz},
		Version:  version,
		Blocks:   blocks,
	}, nil
}
