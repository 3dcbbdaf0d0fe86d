package bst

import (
	"context"
	"fmt"
	"iter"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"github.com/merkledb/ipfstrees/cas"
)

// Map is an immutable string-keyed map over a search tree. Values are stored
// as separate blocks and referenced from the keys. Every write returns a new
// Map; the receiver is unchanged and keeps sharing structure with it.
//
// Writing a key that already exists is a no-op: the first value wins.
type Map struct {
	store *cas.Store
	root  *Node
}

// NewMap returns an empty map.
func NewMap(s *cas.Store) *Map {
	return &Map{store: s}
}

// LoadMap opens a map from its root node CID. Nothing below the root is
// fetched until it is needed.
func LoadMap(ctx context.Context, s *cas.Store, root cid.Cid) (*Map, error) {
	if !root.Defined() {
		return NewMap(s), nil
	}
	n, err := Load(ctx, s, root)
	if err != nil {
		return nil, err
	}
	return &Map{store: s, root: n}, nil
}

// MapFromRoot wraps an existing tree.
func MapFromRoot(s *cas.Store, root *Node) *Map {
	return &Map{store: s, root: root}
}

func (m *Map) Store() *cas.Store {
	return m.store
}

func (m *Map) Root() *Node {
	return m.root
}

func (m *Map) IsEmpty() bool {
	return m.root == nil
}

// CID returns the root node CID, or cid.Undef for an empty map.
func (m *Map) CID() (cid.Cid, error) {
	if m.root == nil {
		return cid.Undef, nil
	}
	return m.root.CID()
}

// Get returns the value CID stored under k. A missing key is not an error.
func (m *Map) Get(ctx context.Context, k string) (cid.Cid, bool, error) {
	n, err := Search(ctx, m.root, StringKey(k))
	if err != nil || n == nil {
		return cid.Undef, false, err
	}
	key, err := n.Key(ctx)
	if err != nil {
		return cid.Undef, false, err
	}
	v, ok := key.Value()
	return v, ok, nil
}

// Set returns a map with k pointing at the already stored value v.
func (m *Map) Set(ctx context.Context, k string, v cid.Cid) (*Map, error) {
	leaf := NewLeaf(StringKey(k).WithValue(v))
	root, err := Insert(ctx, m.root, leaf)
	if err != nil {
		return nil, fmt.Errorf("inserting %q: %w", k, err)
	}
	if root == m.root {
		return m, nil
	}
	return &Map{store: m.store, root: root}, nil
}

// SetJSON stores v as a JSON block and maps k to it.
func (m *Map) SetJSON(ctx context.Context, k string, v any) (*Map, error) {
	c, err := m.store.PutJSON(ctx, v)
	if err != nil {
		return nil, err
	}
	return m.Set(ctx, k, c)
}

// GetJSON decodes the JSON value under k into out. It reports false if the
// key is missing.
func (m *Map) GetJSON(ctx context.Context, k string, out any) (bool, error) {
	c, ok, err := m.Get(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	if err := m.store.GetJSON(ctx, c, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetCBOR stores rec as a DAG-CBOR block and maps k to it.
func (m *Map) SetCBOR(ctx context.Context, k string, rec any) (*Map, error) {
	c, err := m.store.PutCBOR(ctx, rec)
	if err != nil {
		return nil, err
	}
	return m.Set(ctx, k, c)
}

// GetCBOR returns the DAG-CBOR record under k, or nil if the key is missing.
func (m *Map) GetCBOR(ctx context.Context, k string) (map[string]any, error) {
	c, ok, err := m.Get(ctx, k)
	if err != nil || !ok {
		return nil, err
	}
	return m.store.GetCBOR(ctx, c)
}

// RootKey returns the key at the root, or nil for an empty map.
func (m *Map) RootKey(ctx context.Context) (*Key, error) {
	if m.root == nil {
		return nil, nil
	}
	return m.root.Key(ctx)
}

// RootValue returns the value CID of the root key.
func (m *Map) RootValue(ctx context.Context) (cid.Cid, bool, error) {
	k, err := m.RootKey(ctx)
	if err != nil || k == nil {
		return cid.Undef, false, err
	}
	v, ok := k.Value()
	return v, ok, nil
}

// Entries yields every key in ascending order.
func (m *Map) Entries(ctx context.Context) iter.Seq2[*Key, error] {
	return func(yield func(*Key, error) bool) {
		for n, err := range InOrder(ctx, m.root) {
			if err != nil {
				yield(nil, err)
				return
			}
			k, err := n.Key(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Keys returns every key in ascending order.
func (m *Map) Keys(ctx context.Context) ([]string, error) {
	var out []string
	for k, err := range m.Entries(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, k.String())
	}
	return out, nil
}

// Len counts the entries by walking the whole tree.
func (m *Map) Len(ctx context.Context) (int, error) {
	n := 0
	for _, err := range m.Entries(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Values decodes every value, keyed by its map key. DAG-CBOR values come
// back as records, JSON values as generic JSON.
func (m *Map) Values(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	for k, err := range m.Entries(ctx) {
		if err != nil {
			return nil, err
		}
		v, ok := k.Value()
		if !ok {
			continue
		}
		var val any
		if v.Prefix().Codec == cas.CodecCBOR {
			val, err = m.store.GetCBOR(ctx, v)
		} else {
			err = m.store.GetJSON(ctx, v, &val)
		}
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", k.String(), err)
		}
		out[k.String()] = val
	}
	return out, nil
}

// PutResult holds the CIDs written for one tree node.
type PutResult struct {
	Node cid.Cid
	Key  cid.Cid
}

// PutAll writes every node and key record, in key order, yielding the CIDs
// as each node is persisted.
func (m *Map) PutAll(ctx context.Context) iter.Seq2[PutResult, error] {
	return func(yield func(PutResult, error) bool) {
		for n, err := range InOrder(ctx, m.root) {
			if err != nil {
				yield(PutResult{}, err)
				return
			}
			nc, kc, err := n.PutWithKey(ctx, m.store)
			if err != nil {
				yield(PutResult{}, err)
				return
			}
			if !yield(PutResult{Node: nc, Key: kc}, nil) {
				return
			}
		}
	}
}

// PutAllSync writes every node and key record concurrently and returns once
// all writes have completed. Results are in key order.
func (m *Map) PutAllSync(ctx context.Context) ([]PutResult, error) {
	var nodes []*Node
	for n, err := range InOrder(ctx, m.root) {
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	out := make([]PutResult, len(nodes))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(16)
	for i, n := range nodes {
		eg.Go(func() error {
			nc, kc, err := n.PutWithKey(ctx, m.store)
			if err != nil {
				return err
			}
			out[i] = PutResult{Node: nc, Key: kc}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
