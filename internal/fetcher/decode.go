package fetcher

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decompress gunzips b. A payload without a gzip header is returned
// unchanged. A gzip stream that fails after its header (truncated body, bad
// checksum) is an error.
func Decompress(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return b, nil
	}
	defer zr.Close() //nolint:errcheck

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: gunzip")
	}
	return out, nil
}

// DecodeText decodes b as UTF-8, replacing invalid sequences with U+FFFD.
// A leading byte order mark is dropped.
func DecodeText(b []byte) string {
	t := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
