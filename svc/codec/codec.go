// Package codec compresses paste content for storage. Encoding and decoding
// are exact inverses; a decode failure means the stored bytes were damaged
// after they were written, never that the client sent something malformed.
package codec

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/axololly/paste/pkg/domain"
	"github.com/pkg/errors"
)

// Encode compresses text with zlib at the default level.
func Encode(text string) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail.
	w.Write([]byte(text))
	w.Close()
	return buf.Bytes()
}

// Decode is the inverse of Encode. Corrupt input yields CorruptData so the
// caller can surface a storage integrity fault rather than a client error.
func Decode(data []byte) (string, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(domain.ErrCorruptData, err.Error())
	}
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(domain.ErrCorruptData, err.Error())
	}
	return string(text), nil
}
