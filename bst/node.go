package bst

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/merkledb/ipfstrees/cas"
)

// ErrInvalidStructure means a node has neither a key nor a key CID, or a
// child is known only by CID and there is no store to fetch it from.
var ErrInvalidStructure = errors.New("bst: invalid node structure")

// link is a child pointer: absent (both zero), unloaded (cid only) or loaded.
type link struct {
	node *Node
	cid  cid.Cid
}

func (l link) absent() bool {
	return l.node == nil && !l.cid.Defined()
}

// Node is an immutable search tree node. The key and both children may be
// known only by CID, in which case they are fetched from the store on first
// access and kept for the lifetime of the node. Nodes are shared between
// tree versions and are safe for concurrent readers.
type Node struct {
	store *cas.Store

	mu     sync.Mutex
	key    *Key
	keyCID cid.Cid
	left   link
	right  link

	memo cas.Memo
}

// NewLeaf returns a node without children.
func NewLeaf(k *Key) *Node {
	return &Node{key: k}
}

// New returns a node with in-memory children; nil means no child.
func New(k *Key, left, right *Node) *Node {
	return &Node{key: k, left: link{node: left}, right: link{node: right}}
}

// NewFromCIDs returns a node whose key and children are resolved lazily
// through the store. cid.Undef marks an absent child.
func NewFromCIDs(s *cas.Store, keyCID, leftCID, rightCID cid.Cid) *Node {
	return &Node{
		store:  s,
		keyCID: keyCID,
		left:   link{cid: leftCID},
		right:  link{cid: rightCID},
	}
}

// Load fetches a node record. Its key and children stay unresolved until
// they are first needed.
func Load(ctx context.Context, s *cas.Store, c cid.Cid) (*Node, error) {
	b, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	n, err := Decode(b, s)
	if err != nil {
		return nil, fmt.Errorf("decoding node %s: %w", c, err)
	}
	n.memo.Seed(b, c)
	return n, nil
}

// Decode parses a node record {key, left?, right?}. The store, which may be
// nil, is used to resolve the referenced key and children.
func Decode(data []byte, s *cas.Store) (*Node, error) {
	rec, err := cas.DecodeCBOR(data)
	if err != nil {
		return nil, err
	}
	keyCID, ok, err := cas.Link(rec, "key")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: node has no key", ErrInvalidStructure)
	}
	leftCID, _, err := cas.Link(rec, "left")
	if err != nil {
		return nil, err
	}
	rightCID, _, err := cas.Link(rec, "right")
	if err != nil {
		return nil, err
	}
	return NewFromCIDs(s, keyCID, leftCID, rightCID), nil
}

// Key resolves the node's key.
func (n *Node) Key(ctx context.Context) (*Key, error) {
	n.mu.Lock()
	k, kc := n.key, n.keyCID
	n.mu.Unlock()
	if k != nil {
		return k, nil
	}
	if !kc.Defined() {
		return nil, fmt.Errorf("%w: node has no key", ErrInvalidStructure)
	}
	if n.store == nil {
		return nil, fmt.Errorf("%w: no store to resolve key %s", ErrInvalidStructure, kc)
	}

	loaded, err := LoadKey(ctx, n.store, kc)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.key == nil {
		n.key = loaded
	}
	return n.key, nil
}

// KeyCID returns the CID of the key record without fetching the key.
func (n *Node) KeyCID() (cid.Cid, error) {
	n.mu.Lock()
	k, kc := n.key, n.keyCID
	n.mu.Unlock()
	if kc.Defined() {
		return kc, nil
	}
	if k == nil {
		return cid.Undef, fmt.Errorf("%w: node has no key", ErrInvalidStructure)
	}
	return k.CID()
}

func (n *Node) Left(ctx context.Context) (*Node, error) {
	return n.resolve(ctx, &n.left)
}

func (n *Node) Right(ctx context.Context) (*Node, error) {
	return n.resolve(ctx, &n.right)
}

func (n *Node) resolve(ctx context.Context, l *link) (*Node, error) {
	n.mu.Lock()
	cur := *l
	n.mu.Unlock()
	if cur.node != nil || !cur.cid.Defined() {
		return cur.node, nil
	}
	if n.store == nil {
		return nil, fmt.Errorf("%w: no store to resolve child %s", ErrInvalidStructure, cur.cid)
	}

	child, err := Load(ctx, n.store, cur.cid)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if l.node == nil {
		l.node = child
	}
	return l.node, nil
}

func (n *Node) LeftCID() (cid.Cid, error) {
	return n.childCID(&n.left)
}

func (n *Node) RightCID() (cid.Cid, error) {
	return n.childCID(&n.right)
}

func (n *Node) childCID(l *link) (cid.Cid, error) {
	n.mu.Lock()
	cur := *l
	n.mu.Unlock()
	if cur.cid.Defined() {
		return cur.cid, nil
	}
	if cur.node == nil {
		return cid.Undef, nil
	}
	return cur.node.CID()
}

// IsLeaf reports whether the node has no children, without fetching them.
func (n *Node) IsLeaf() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.left.absent() && n.right.absent()
}

func (n *Node) snapshot() (key *Key, keyCID cid.Cid, left, right link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.key, n.keyCID, n.left, n.right
}

// WithKey returns a copy of the node with another key and the same children.
func (n *Node) WithKey(k *Key) *Node {
	_, _, left, right := n.snapshot()
	return &Node{store: n.store, key: k, left: left, right: right}
}

// WithLeft returns a copy of the node with a new left child. The right
// subtree is shared with the receiver.
func (n *Node) WithLeft(child *Node) *Node {
	key, keyCID, _, right := n.snapshot()
	return &Node{store: n.store, key: key, keyCID: keyCID, left: link{node: child}, right: right}
}

// WithRight returns a copy of the node with a new right child. The left
// subtree is shared with the receiver.
func (n *Node) WithRight(child *Node) *Node {
	key, keyCID, left, _ := n.snapshot()
	return &Node{store: n.store, key: key, keyCID: keyCID, left: left, right: link{node: child}}
}

func (n *Node) record() (map[string]any, error) {
	kc, err := n.KeyCID()
	if err != nil {
		return nil, err
	}
	rec := map[string]any{"key": kc}
	lc, err := n.LeftCID()
	if err != nil {
		return nil, err
	}
	if lc.Defined() {
		rec["left"] = lc
	}
	rc, err := n.RightCID()
	if err != nil {
		return nil, err
	}
	if rc.Defined() {
		rec["right"] = rc
	}
	return rec, nil
}

func (n *Node) encoded() ([]byte, cid.Cid, error) {
	return n.memo.Get(cas.CodecCBOR, func() ([]byte, error) {
		rec, err := n.record()
		if err != nil {
			return nil, err
		}
		return cas.EncodeCBOR(rec)
	})
}

// Encode returns the DAG-CBOR node record. Child CIDs are computed from
// in-memory children without touching the store.
func (n *Node) Encode() ([]byte, error) {
	b, _, err := n.encoded()
	return b, err
}

func (n *Node) CID() (cid.Cid, error) {
	_, c, err := n.encoded()
	return c, err
}

// Put writes this node's record (not its key or children) to the store.
func (n *Node) Put(ctx context.Context, s *cas.Store) (cid.Cid, error) {
	b, c, err := n.encoded()
	if err != nil {
		return cid.Undef, err
	}
	if err := s.PutBlock(ctx, c, b); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// PutWithKey writes the node record and its key record.
func (n *Node) PutWithKey(ctx context.Context, s *cas.Store) (nodeCID, keyCID cid.Cid, err error) {
	key, kc, _, _ := n.snapshot()
	if key != nil {
		keyCID, err = key.Put(ctx, s)
		if err != nil {
			return cid.Undef, cid.Undef, err
		}
	} else {
		// key was loaded by CID, so it is already stored
		keyCID = kc
	}
	nodeCID, err = n.Put(ctx, s)
	if err != nil {
		return cid.Undef, cid.Undef, err
	}
	return nodeCID, keyCID, nil
}
