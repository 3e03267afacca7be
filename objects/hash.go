package objects

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of an object hash (raw SHA-1 digest).
const HashSize = sha1.Size

// ZeroHash is the all-zero hash used by the transfer protocol to signal
// "this ref did not previously exist" (§4.4).
var ZeroHash = fmt.Sprintf("%040x", 0)

// Hash computes the hex object hash for a kind+payload pair: the hex
// SHA-1 of "<kind> <size>\0<payload>" (§4.1).
func Hash(kind Kind, payload []byte) string {
	h := sha1.New()
	h.Write(Header(kind, len(payload)))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Header builds the ASCII object header "<kind> <decimal-size>\0".
func Header(kind Kind, size int) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", kind.String(), size))
}

// ValidHex reports whether s looks like an object hash: 40 hex
// characters (upper-case digits are accepted as well as lower-case).
func ValidHex(s string) bool {
	if len(s) != HashSize*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
