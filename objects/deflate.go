package objects

import (
	"bufio"
	"bytes"
	"compress/flate"
	"io"

	"github.com/makeos-kit/gitd/gerr"
)

// Deflate compresses data with a raw DEFLATE stream (no zlib/gzip
// wrapper headers — the wire format and the on-disk object format both
// store the stream-deflate payload directly).
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "create deflate writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "deflate write")
	}
	if err := w.Close(); err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "deflate close")
	}
	return buf.Bytes(), nil
}

// Inflate decompresses a raw DEFLATE stream produced by Deflate.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "inflate")
	}
	return out, nil
}

// InflateN decompresses exactly n bytes from the pack stream r, leaving
// r positioned exactly after the DEFLATE stream's end so the next
// object's header can be read immediately (§4.3 step 2). r must be a
// *bufio.Reader: flate recognizes the io.ByteReader interface and reads
// directly from it instead of wrapping it in another buffer, which is
// what keeps the stream position exact at the DEFLATE end marker rather
// than wherever bufio's own read-ahead happened to land.
func InflateN(r *bufio.Reader, n int) ([]byte, error) {
	fr := flate.NewReader(r)
	defer fr.Close()
	out := make([]byte, n)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "inflate: short payload")
	}
	// Confirm the stream ends exactly at n bytes (size mismatch check).
	var extra [1]byte
	if m, _ := fr.Read(extra[:]); m > 0 {
		return nil, gerr.New(gerr.Corrupt, "inflate: payload longer than declared size")
	}
	return out, nil
}
