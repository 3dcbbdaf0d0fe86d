package cas

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
)

// Codecs used for blocks written by this module. Tree nodes, keys and
// accumulator nodes are DAG-CBOR; structured JSON values are DAG-JSON.
const (
	CodecCBOR = cid.DagCBOR
	CodecJSON = cid.DagJSON
)

// ErrNotFound is returned when a block is not present in the store.
var ErrNotFound = errors.New("cas: block not found")

// IsNotFound matches both ErrNotFound and the blockstore's own not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || ipld.IsNotFound(err)
}

// Digest hashes raw block bytes with sha2-256, wrapped as a multihash.
func Digest(b []byte) (multihash.Multihash, error) {
	d := sha256.Sum256(b)
	return multihash.Encode(d[:], multihash.SHA2_256)
}

// Identifier builds the CIDv1 for a digest under the given codec.
func Identifier(mh multihash.Multihash, codec uint64) cid.Cid {
	return cid.NewCidV1(codec, mh)
}

// Sum computes the content identifier of encoded bytes.
func Sum(b []byte, codec uint64) (cid.Cid, error) {
	mh, err := Digest(b)
	if err != nil {
		return cid.Undef, err
	}
	return Identifier(mh, codec), nil
}

// EncodeCBOR serializes a record as canonical DAG-CBOR. Map keys are sorted,
// so equal records always produce equal bytes.
func EncodeCBOR(obj any) ([]byte, error) {
	b, err := cbor.DumpObject(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding dag-cbor: %w", err)
	}
	return b, nil
}

// DecodeCBOR parses a DAG-CBOR block into a generic record.
func DecodeCBOR(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := cbor.DecodeInto(b, &out); err != nil {
		return nil, fmt.Errorf("decoding dag-cbor: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decoding dag-cbor: not a map")
	}
	return out, nil
}

// Link extracts an optional CID field from a decoded record.
func Link(rec map[string]any, field string) (cid.Cid, bool, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return cid.Undef, false, nil
	}
	switch c := v.(type) {
	case cid.Cid:
		return c, true, nil
	case *cid.Cid:
		return *c, true, nil
	default:
		return cid.Undef, false, fmt.Errorf("field %q: expected link, got %T", field, v)
	}
}

// Bytes extracts an optional byte string field from a decoded record.
func Bytes(rec map[string]any, field string) ([]byte, bool, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("field %q: expected bytes, got %T", field, v)
	}
	return b, true, nil
}

// Int64 normalizes the integer types a CBOR decoder may hand back.
func Int64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("integer out of range: %d", n)
		}
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("not an integer: %s", strconv.FormatFloat(n, 'g', -1, 64))
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// Memo holds the encoded form and CID of an immutable value. Values are
// computed once on first use and shared by all later callers.
type Memo struct {
	once sync.Once
	data []byte
	cid  cid.Cid
	err  error
}

// Get returns the memoized bytes and CID, computing them with enc on first use.
func (m *Memo) Get(codec uint64, enc func() ([]byte, error)) ([]byte, cid.Cid, error) {
	m.once.Do(func() {
		m.data, m.err = enc()
		if m.err != nil {
			return
		}
		m.cid, m.err = Sum(m.data, codec)
	})
	return m.data, m.cid, m.err
}

// Seed records an already known encoding, such as bytes just read from the store.
func (m *Memo) Seed(data []byte, c cid.Cid) {
	m.once.Do(func() {
		m.data = data
		m.cid = c
	})
}
