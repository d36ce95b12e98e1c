package store

import "encoding/hex"

// Hash is a 256-bit SHA-256 digest, used both as a ContentHash and an
// IdHash depending on context -- the two are the same representation,
// distinguished only by what was hashed (full object vs. identity fields).
type Hash [32]byte

// ContentHash and IdHash are aliases that make call sites self-documenting
// even though the underlying representation is identical (§4.1).
type ContentHash = Hash
type IdHash = Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		var zero Hash
		return zero, err
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
