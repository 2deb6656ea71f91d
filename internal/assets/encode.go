package assets

import (
	"encoding/base64"
	"strings"
)

// encodeChunkSize is a multiple of 3 so chunk boundaries never introduce
// base64 padding mid-stream.
const encodeChunkSize = 48 * 1024

// encodeBase64 encodes file bytes for a bucket payload in fixed-size chunks
// through a streaming encoder, keeping memory bounded on large files.
func encodeBase64(data []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(data); off += encodeChunkSize {
		end := off + encodeChunkSize
		if end > len(data) {
			end = len(data)
		}
		_, _ = enc.Write(data[off:end])
	}
	_ = enc.Close()
	return sb.String()
}
