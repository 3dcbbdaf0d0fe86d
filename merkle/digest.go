package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/sha3"
)

// ErrNoDigest is returned when joining two absent digests.
var ErrNoDigest = errors.New("merkle: join needs at least one digest")

// HashLeaf returns the keccak-256 digest of data.
func HashLeaf(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// JoinDigests combines two child digests into their parent's digest. The
// smaller digest (bytewise) is always hashed first, so argument order does
// not matter. With only one digest present the parent is its hash alone.
func JoinDigests(a, b []byte) ([]byte, error) {
	switch {
	case len(a) == 0 && len(b) == 0:
		return nil, ErrNoDigest
	case len(b) == 0:
		return HashLeaf(a), nil
	case len(a) == 0:
		return HashLeaf(b), nil
	}
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	return HashLeaf(buf), nil
}

// VerifyProof folds [leaf, sibling..., root] with JoinDigests and reports
// whether the result equals root. It never fails; malformed proofs are false.
func VerifyProof(proof [][]byte) bool {
	if len(proof) < 2 {
		return false
	}
	running := proof[0]
	for _, sib := range proof[1 : len(proof)-1] {
		next, err := JoinDigests(running, sib)
		if err != nil {
			return false
		}
		running = next
	}
	root := proof[len(proof)-1]
	return len(root) > 0 && bytes.Equal(running, root)
}

// FormatProof renders a proof as hex strings.
func FormatProof(proof [][]byte) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hex.EncodeToString(p)
	}
	return out
}

// ParseProof is the inverse of FormatProof.
func ParseProof(hexes []string) ([][]byte, error) {
	out := make([][]byte, len(hexes))
	for i, h := range hexes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
