package audit

import (
	"bytes"
	"compress/gzip"
	"fmt"
)

// Compress gzip-compresses payload at the configured level if it is at
// least minBytes; if compression does not shrink the payload it is
// returned uncompressed. The bool return reports whether the returned
// bytes are gzip-compressed.
func Compress(payload []byte, minBytes int) ([]byte, bool, error) {
	if minBytes <= 0 {
		minBytes = DefaultSinkConfig().MinCompressBytes
	}
	if len(payload) < minBytes {
		return payload, false, nil
	}

	var buf bytes.Buffer
	const gzipLevel = 6 // per original_source/'s siem/optimizer.py
	w, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return nil, false, fmt.Errorf("audit: gzip writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, false, fmt.Errorf("audit: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("audit: gzip close: %w", err)
	}

	compressed := buf.Bytes()
	if len(compressed) >= len(payload) {
		return payload, false, nil
	}
	return compressed, true, nil
}
