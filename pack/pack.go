// Package pack implements the pack codec (§4.3): serialising a set of
// objects into a single stream with a trailing content checksum, and
// decoding that stream back into individual objects — including the
// offset- and hash-delta entries this implementation's own encoder
// never emits but whose decoding must remain permissive for
// interoperability (§9).
package pack

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
)

// Magic and version constants from §6.
const (
	Magic   = "PACK"
	Version = uint32(2)
)

// Source supplies object bytes to the encoder. Grounded on the teacher's
// object-store read path (remote/repo/repo.go), reduced to the one
// read operation the encoder needs.
type Source interface {
	ReadObject(hash string) (kind objects.Kind, payload []byte, err error)
}

// Sink receives decoded objects. The object store (refstore.Store)
// implements this directly; write-object is idempotent per §4.2, so the
// decoder does not need to check for pre-existing objects itself.
type Sink interface {
	WriteObject(kind objects.Kind, payload []byte) (hash string, err error)
	ReadObject(hash string) (kind objects.Kind, payload []byte, err error)
}

// Encode writes the pack representation of the given object hashes to
// w. Iteration order is unspecified (§4.3); this implementation does
// not emit delta entries.
func Encode(w io.Writer, hashes []string, src Source) error {
	h := sha1.New()
	mw := io.MultiWriter(w, h)

	if _, err := mw.Write([]byte(Magic)); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack magic")
	}
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], Version)
	if _, err := mw.Write(versionBuf[:]); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack version")
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(hashes)))
	if _, err := mw.Write(countBuf[:]); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack count")
	}

	for _, hsh := range hashes {
		kind, payload, err := src.ReadObject(hsh)
		if err != nil {
			return err
		}
		if err := writeEntry(mw, kind, payload); err != nil {
			return err
		}
	}

	sum := h.Sum(nil)
	if _, err := w.Write(sum); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack checksum")
	}
	return nil
}

func writeEntry(w io.Writer, kind objects.Kind, payload []byte) error {
	hdr := objects.PackHeader(kind.PackTypeBits(), uint64(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack object header")
	}
	compressed, err := objects.Deflate(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(compressed); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write pack object payload")
	}
	return nil
}

// checksumReader wraps a *bufio.Reader and feeds every byte it reads
// into a running SHA-1, so the trailing checksum can be verified
// without buffering the whole stream in memory.
type checksumReader struct {
	br *bufio.Reader
	h  hash.Hash
}

func (c *checksumReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.h.Write([]byte{b})
	}
	return b, err
}

func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}
	return n, err
}

// Decode reads a pack stream from r (which must support seeking, so
// that offset-delta bases that precede the current object can be
// revisited — §4.3 step 3) and writes every object it contains to
// sink. It returns the hashes of every object written, in stream
// order.
func Decode(r io.ReadSeeker, sink Sink) ([]string, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "seek pack stream")
	}

	cr := &checksumReader{br: bufio.NewReader(r), h: sha1.New()}

	var magic [4]byte
	if _, err := io.ReadFull(cr, magic[:]); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "read pack magic")
	}
	if string(magic[:]) != Magic {
		return nil, gerr.New(gerr.Corrupt, "bad pack magic")
	}
	var versionBuf [4]byte
	if _, err := io.ReadFull(cr, versionBuf[:]); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "read pack version")
	}
	if v := binary.BigEndian.Uint32(versionBuf[:]); v != Version {
		return nil, gerr.New(gerr.Corrupt, fmt.Sprintf("unsupported pack version %d", v))
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(cr, countBuf[:]); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "read pack count")
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	// offsets[i] is the stream offset (relative to start) of object i's
	// header, needed to resolve offset-deltas.
	offsets := make([]int64, 0, count)
	hashes := make([]string, 0, count)

	for i := uint32(0); i < count; i++ {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, gerr.Wrap(gerr.IOError, err, "seek pack stream")
		}
		// cr.br may have buffered ahead of the underlying reader's
		// position; account for that so recorded offsets are exact.
		entryOffset := pos - int64(cr.br.Buffered())
		offsets = append(offsets, entryOffset-start)

		hsh, err := decodeEntry(r, cr, sink, start, offsets)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hsh)
	}

	// Entries are read through cr.br directly (the codec helpers take a
	// *bufio.Reader), so their bytes never reached cr.h. Hash them from
	// r, after the 12-byte header, up to where the entries ended.
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "seek pack stream")
	}
	end := pos - int64(cr.br.Buffered())
	if _, err := r.Seek(start+12, io.SeekStart); err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "seek pack stream")
	}
	if _, err := io.CopyN(cr.h, r, end-start-12); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "hash pack entries")
	}

	sum := cr.h.Sum(nil)
	var trailer [objects.HashSize]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "read pack checksum")
	}
	for i := range sum {
		if sum[i] != trailer[i] {
			return nil, gerr.New(gerr.Corrupt, "pack checksum mismatch")
		}
	}

	return hashes, nil
}

func decodeEntry(r io.ReadSeeker, cr *checksumReader, sink Sink, start int64, offsets []int64) (string, error) {
	typeBits, size, err := objects.ReadPackHeader(cr.br)
	if err != nil {
		return "", err
	}

	kind, ok := objects.KindFromPackTypeBits(typeBits)
	if !ok {
		return "", gerr.New(gerr.Corrupt, "invalid pack object type")
	}

	switch kind {
	case objects.KindCommit, objects.KindTree, objects.KindBlob, objects.KindTag:
		payload, err := objects.InflateN(cr.br, int(size))
		if err != nil {
			return "", err
		}
		return sink.WriteObject(kind, payload)

	case objects.KindOffsetDelta:
		delta, err := objects.ReadOffsetVarint(cr.br)
		if err != nil {
			return "", err
		}
		curEntryOffset := offsets[len(offsets)-1]
		baseOffset := curEntryOffset - int64(delta)
		if baseOffset < 0 {
			return "", gerr.New(gerr.Corrupt, "offset-delta base offset out of range")
		}
		deltaBytes, err := readRestOfDeflateStream(cr.br, int(size))
		if err != nil {
			return "", err
		}
		baseKind, basePayload, err := decodeObjectAtOffset(r, sink, start, baseOffset)
		if err != nil {
			return "", err
		}
		result, err := objects.ApplyDelta(basePayload, deltaBytes)
		if err != nil {
			return "", err
		}
		return sink.WriteObject(baseKind, result)

	case objects.KindHashDelta:
		var baseHash [objects.HashSize]byte
		if _, err := io.ReadFull(cr.br, baseHash[:]); err != nil {
			return "", gerr.Wrap(gerr.Corrupt, err, "read hash-delta base hash")
		}
		deltaBytes, err := readRestOfDeflateStream(cr.br, int(size))
		if err != nil {
			return "", err
		}
		baseKind, basePayload, err := sink.ReadObject(fmt.Sprintf("%x", baseHash))
		if err != nil {
			return "", gerr.Wrap(gerr.Corrupt, err, "resolve hash-delta base")
		}
		result, err := objects.ApplyDelta(basePayload, deltaBytes)
		if err != nil {
			return "", err
		}
		return sink.WriteObject(baseKind, result)

	default:
		return "", gerr.New(gerr.Corrupt, "invalid pack entry type")
	}
}

// readRestOfDeflateStream decompresses a delta instruction stream whose
// decompressed length is size; delta streams (unlike plain objects)
// don't declare their own independent result length in this pack
// format's header field, so size here is the decompressed delta
// stream's own byte length, not the reconstructed object's length.
func readRestOfDeflateStream(br *bufio.Reader, size int) ([]byte, error) {
	return objects.InflateN(br, size)
}

// decodeObjectAtOffset seeks to a prior offset-delta base and re-runs a
// bounded, single-entry decode at that offset in its own scratch
// reader, returning the entry's kind and payload; the sink is not
// consulted, and r's position is restored afterwards. The base must be
// a plain object entry: a base that is itself a delta fails Corrupt.
func decodeObjectAtOffset(r io.ReadSeeker, sink Sink, start, offset int64) (objects.Kind, []byte, error) {
	cur, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return objects.KindInvalid, nil, gerr.Wrap(gerr.IOError, err, "seek pack stream")
	}
	defer r.Seek(cur, io.SeekStart)

	if _, err := r.Seek(start+offset, io.SeekStart); err != nil {
		return objects.KindInvalid, nil, gerr.Wrap(gerr.IOError, err, "seek to delta base offset")
	}
	br := bufio.NewReader(r)
	typeBits, size, err := objects.ReadPackHeader(br)
	if err != nil {
		return objects.KindInvalid, nil, err
	}
	kind, ok := objects.KindFromPackTypeBits(typeBits)
	if !ok {
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "invalid delta base object type")
	}
	switch kind {
	case objects.KindCommit, objects.KindTree, objects.KindBlob, objects.KindTag:
		payload, err := objects.InflateN(br, int(size))
		if err != nil {
			return objects.KindInvalid, nil, err
		}
		return kind, payload, nil
	default:
		// A base that is itself a delta is not decoded: chained
		// offset-deltas are rejected as Corrupt.
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "chained offset-deltas are not supported")
	}
}
