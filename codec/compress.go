package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// deflateGainThreshold is the minimum byte reduction deflate must
// achieve over the chosen payload before the codec adopts it, per the
// selection policy in §4.2.
const deflateGainThreshold = 8

// tryDeflate compresses payload with zlib and reports ok=true only if
// the result is at least deflateGainThreshold bytes smaller. The
// klauspost/compress zlib implementation produces standard RFC 1950
// output byte-for-byte inflatable by any conforming zlib reader.
func tryDeflate(payload []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}

	compressed := buf.Bytes()
	if len(payload)-len(compressed) < deflateGainThreshold {
		return nil, false
	}
	return compressed, true
}

// inflate decompresses a zlib-compressed payload.
func inflate(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
