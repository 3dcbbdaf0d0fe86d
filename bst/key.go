package bst

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/merkledb/ipfstrees/cas"
)

// Comparable is a total order: exactly one of Less, Equals and Greater holds
// for any pair of values.
type Comparable[T any] interface {
	Equals(T) bool
	Less(T) bool
	Greater(T) bool
}

// Key is a search tree key: a string or an integer, optionally pointing at a
// stored value. The value takes no part in ordering or equality. A key without
// a value is a "null" key, used to look entries up.
//
// Keys are immutable; their encoding and CID are computed once.
type Key struct {
	str   string
	num   int64
	isNum bool
	value cid.Cid

	memo cas.Memo
}

var _ Comparable[*Key] = (*Key)(nil)

func StringKey(s string) *Key {
	return &Key{str: s}
}

func NumberKey(n int64) *Key {
	return &Key{num: n, isNum: true}
}

// WithValue returns a copy of the key pointing at a stored value.
func (k *Key) WithValue(v cid.Cid) *Key {
	return &Key{str: k.str, num: k.num, isNum: k.isNum, value: v}
}

func (k *Key) IsNumber() bool {
	return k.isNum
}

// Str returns the string form of a string key, and "" for numbers.
func (k *Key) Str() string {
	return k.str
}

func (k *Key) Number() int64 {
	return k.num
}

// Value returns the CID of the stored value, if any.
func (k *Key) Value() (cid.Cid, bool) {
	return k.value, k.value.Defined()
}

func (k *Key) IsNull() bool {
	return !k.value.Defined()
}

func (k *Key) String() string {
	if k.isNum {
		return strconv.FormatInt(k.num, 10)
	}
	return k.str
}

// Compare orders numbers numerically, strings bytewise, and every number
// before every string.
func (k *Key) Compare(o *Key) int {
	switch {
	case k.isNum && o.isNum:
		switch {
		case k.num < o.num:
			return -1
		case k.num > o.num:
			return 1
		}
		return 0
	case k.isNum:
		return -1
	case o.isNum:
		return 1
	default:
		return strings.Compare(k.str, o.str)
	}
}

func (k *Key) Equals(o *Key) bool {
	return k.Compare(o) == 0
}

func (k *Key) Less(o *Key) bool {
	return k.Compare(o) < 0
}

func (k *Key) Greater(o *Key) bool {
	return k.Compare(o) > 0
}

func (k *Key) record() map[string]any {
	rec := map[string]any{}
	if k.isNum {
		rec["key"] = k.num
	} else {
		rec["key"] = k.str
	}
	if k.value.Defined() {
		rec["value"] = k.value
	}
	return rec
}

func (k *Key) encoded() ([]byte, cid.Cid, error) {
	return k.memo.Get(cas.CodecCBOR, func() ([]byte, error) {
		return cas.EncodeCBOR(k.record())
	})
}

// Encode returns the DAG-CBOR record {key, value?}.
func (k *Key) Encode() ([]byte, error) {
	b, _, err := k.encoded()
	return b, err
}

func (k *Key) CID() (cid.Cid, error) {
	_, c, err := k.encoded()
	return c, err
}

// Put writes the key record to the store.
func (k *Key) Put(ctx context.Context, s *cas.Store) (cid.Cid, error) {
	b, c, err := k.encoded()
	if err != nil {
		return cid.Undef, err
	}
	if err := s.PutBlock(ctx, c, b); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// DecodeKey parses a key record.
func DecodeKey(data []byte) (*Key, error) {
	rec, err := cas.DecodeCBOR(data)
	if err != nil {
		return nil, err
	}
	var k *Key
	switch v := rec["key"].(type) {
	case string:
		k = StringKey(v)
	case nil:
		return nil, fmt.Errorf("%w: key record has no key", ErrInvalidStructure)
	default:
		n, err := cas.Int64(v)
		if err != nil {
			return nil, fmt.Errorf("key record: %w", err)
		}
		k = NumberKey(n)
	}
	value, ok, err := cas.Link(rec, "value")
	if err != nil {
		return nil, err
	}
	if ok {
		k.value = value
	}
	return k, nil
}

// LoadKey fetches and decodes a key record.
func LoadKey(ctx context.Context, s *cas.Store, c cid.Cid) (*Key, error) {
	b, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	k, err := DecodeKey(b)
	if err != nil {
		return nil, fmt.Errorf("decoding key %s: %w", c, err)
	}
	k.memo.Seed(b, c)
	return k, nil
}
