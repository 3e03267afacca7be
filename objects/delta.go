package objects

import (
	"bytes"

	"github.com/makeos-kit/gitd/gerr"
)

// A delta instruction stream (§4.1) is a sequence of copy and data
// instructions terminated by end-of-stream, applied against a base
// byte-vector to reconstruct a result of a declared length.
//
// Encoding of one instruction byte:
//   - high bit set (copy): low 7 bits are a bitmask. Bits 0-3 select
//     which of up to 4 little-endian offset bytes follow; bits 4-6
//     select which of up to 3 little-endian size bytes follow. A zero
//     size (no size bytes present, or all zero) means 0x10000.
//   - high bit clear (data): the low 7 bits are a byte count (must be
//     >= 1), followed by that many literal bytes.

// ApplyDelta reconstructs a byte-vector by applying the instruction
// stream in delta against base. The delta format itself doesn't carry
// a result-length header in this system, and the pack decoder applies
// deltas with ApplyDelta, so no result-length check is made there;
// ApplyDeltaExpect adds that check for a caller holding a declared
// length. Fails Corrupt on any out-of-bounds copy or zero-length data
// instruction.
func ApplyDelta(base []byte, delta []byte) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(delta) {
		op := delta[i]
		i++
		if op&0x80 != 0 {
			var offset, size int
			if op&0x01 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				offset |= int(delta[i])
				i++
			}
			if op&0x02 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				offset |= int(delta[i]) << 8
				i++
			}
			if op&0x04 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				offset |= int(delta[i]) << 16
				i++
			}
			if op&0x08 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				offset |= int(delta[i]) << 24
				i++
			}
			if op&0x10 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				size |= int(delta[i])
				i++
			}
			if op&0x20 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				size |= int(delta[i]) << 8
				i++
			}
			if op&0x40 != 0 {
				if i >= len(delta) {
					return nil, gerr.New(gerr.Corrupt, "truncated copy instruction")
				}
				size |= int(delta[i]) << 16
				i++
			}
			if size == 0 {
				size = 0x10000
			}
			if offset < 0 || size < 0 || offset+size > len(base) {
				return nil, gerr.New(gerr.Corrupt, "delta copy out of bounds")
			}
			out.Write(base[offset : offset+size])
		} else {
			count := int(op)
			if count == 0 {
				return nil, gerr.New(gerr.Corrupt, "delta data instruction with zero length")
			}
			if i+count > len(delta) {
				return nil, gerr.New(gerr.Corrupt, "truncated data instruction")
			}
			out.Write(delta[i : i+count])
			i += count
		}
	}
	return out.Bytes(), nil
}

// ApplyDeltaExpect is ApplyDelta plus a check that the reconstructed
// length matches resultSize exactly, failing Corrupt otherwise.
func ApplyDeltaExpect(base []byte, delta []byte, resultSize int) ([]byte, error) {
	out, err := ApplyDelta(base, delta)
	if err != nil {
		return nil, err
	}
	if len(out) != resultSize {
		return nil, gerr.New(gerr.Corrupt, "delta result size mismatch")
	}
	return out, nil
}
