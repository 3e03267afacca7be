// Package transfer implements the two-party wire protocol (§4.4): the
// length-prefixed text framing, the ref-advertisement exchange, and the
// client and server state machines for fetching and pushing packed
// object sets.
package transfer

import (
	"fmt"
	"io"
	"strconv"

	"github.com/makeos-kit/gitd/gerr"
)

// lengthDigits is the size of the hex length prefix. The prefix value
// counts itself: a frame carrying N payload bytes is prefixed with
// N+4 (§4.4).
const lengthDigits = 4

// FlushPkt is the literal flush marker.
const FlushPkt = "0000"

// WriteFrame writes one framed message: 4 lowercase hex digits of
// length (payload + the 4 digits themselves), then the payload.
func WriteFrame(w io.Writer, payload string) error {
	if _, err := fmt.Fprintf(w, "%04x%s", len(payload)+lengthDigits, payload); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write frame")
	}
	return nil
}

// WriteFlush writes the flush marker.
func WriteFlush(w io.Writer) error {
	if _, err := io.WriteString(w, FlushPkt); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write flush")
	}
	return nil
}

// ReadFrame reads one framed message. flush is true when the frame was
// the "0000" flush marker, in which case payload is empty. A malformed
// length prefix or premature EOF aborts the session with ProtocolError
// (§4.4 "Error signalling").
func ReadFrame(r io.Reader) (payload string, flush bool, err error) {
	var prefix [lengthDigits]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", false, gerr.Wrap(gerr.ProtocolError, err, "read frame length")
	}
	n, err := strconv.ParseUint(string(prefix[:]), 16, 32)
	if err != nil {
		return "", false, gerr.Wrap(gerr.ProtocolError, err, "malformed frame length")
	}
	if n == 0 {
		return "", true, nil
	}
	if n < lengthDigits {
		return "", false, gerr.New(gerr.ProtocolError, "frame length shorter than its own prefix")
	}
	buf := make([]byte, n-lengthDigits)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", false, gerr.Wrap(gerr.ProtocolError, err, "read frame payload")
	}
	return string(buf), false, nil
}

// ReadFramesUntilFlush collects framed messages up to (and consuming)
// the next flush marker.
func ReadFramesUntilFlush(r io.Reader) ([]string, error) {
	var frames []string
	for {
		payload, flush, err := ReadFrame(r)
		if err != nil {
			return nil, err
		}
		if flush {
			return frames, nil
		}
		frames = append(frames, payload)
	}
}
