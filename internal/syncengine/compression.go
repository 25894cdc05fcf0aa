package syncengine

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/xavifortes/gamesave-sync/internal/version"
)

// contentEncodingGzip is the storageMetadata hint value recorded against a
// version when its blob was stored gzip-compressed (spec's
// "content-encoding: gzip" convention).
const contentEncodingGzip = "gzip"

// gzipCompress returns data gzip-compressed at the default level.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		w.Close()

		return nil, fmt.Errorf("syncengine: gzip compressing payload: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("syncengine: gzip compressing payload: %w", err)
	}

	return buf.Bytes(), nil
}

// gzipDecompress reverses gzipCompress.
func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("syncengine: gzip decompressing payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("syncengine: gzip decompressing payload: %w", err)
	}

	return out, nil
}

// decodeBlob reverses whatever content-encoding hint v.StorageMetadata
// carries before a caller verifies the result against v.Hash — the hash is
// always computed over plaintext, never the wire-compressed form.
func decodeBlob(data []byte, v version.FileVersion) ([]byte, error) {
	if v.StorageMetadata[contentEncodingHintKey] != contentEncodingGzip {
		return data, nil
	}

	return gzipDecompress(data)
}

// contentEncodingHintKey is the storageMetadata key spec.md names for this
// hint.
const contentEncodingHintKey = "content-encoding"
