package merkle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/merkledb/ipfstrees/cas"
)

type link struct {
	node *Node
	cid  cid.Cid
}

func (l link) absent() bool {
	return l.node == nil && !l.cid.Defined()
}

// Node is a node of the accumulator. Its hash and child hashes never change.
// The parent pointer is a navigation aid set when the node is joined under a
// new parent (or loaded as a child); it is not part of the encoding.
type Node struct {
	store *cas.Store

	hash      []byte
	leftHash  []byte
	rightHash []byte

	mu     sync.Mutex
	left   link
	right  link
	parent *Node

	memo cas.Memo
}

// NewLeaf returns a leaf holding an externally computed digest.
func NewLeaf(hash []byte) *Node {
	return &Node{hash: hash}
}

// Join creates the parent of a and b and points both at it. b may be nil,
// giving a single-child parent.
func Join(a, b *Node) (*Node, error) {
	var bh []byte
	if b != nil {
		bh = b.hash
	}
	h, err := JoinDigests(a.hash, bh)
	if err != nil {
		return nil, err
	}
	p := &Node{
		hash:     h,
		leftHash: a.hash,
		left:     link{node: a},
	}
	if b != nil {
		p.rightHash = b.hash
		p.right = link{node: b}
	}
	a.setParent(p)
	if b != nil {
		b.setParent(p)
	}
	return p, nil
}

func (n *Node) setParent(p *Node) {
	n.mu.Lock()
	n.parent = p
	n.mu.Unlock()
}

func (n *Node) Hash() []byte {
	return n.hash
}

func (n *Node) LeftHash() []byte {
	return n.leftHash
}

func (n *Node) RightHash() []byte {
	return n.rightHash
}

func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// IsLeaf reports whether the node has no children at all.
func (n *Node) IsLeaf() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.left.absent() && n.right.absent() && len(n.leftHash) == 0 && len(n.rightHash) == 0
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
		return nil, fmt.Errorf("merkle: no store to resolve child %s", cur.cid)
	}

	child, err := Load(ctx, n.store, cur.cid)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if l.node == nil {
		l.node = child
	}
	out := l.node
	n.mu.Unlock()
	out.setParent(n)
	return out, nil
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

func (n *Node) record() (map[string]any, error) {
	rec := map[string]any{"hash": n.hash}
	if len(n.leftHash) > 0 {
		rec["leftHash"] = n.leftHash
	}
	if len(n.rightHash) > 0 {
		rec["rightHash"] = n.rightHash
	}
	lc, err := n.childCID(&n.left)
	if err != nil {
		return nil, err
	}
	if lc.Defined() {
		rec["left"] = lc
	}
	rc, err := n.childCID(&n.right)
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

// Encode returns the DAG-CBOR record {hash, leftHash?, rightHash?, left?, right?}.
func (n *Node) Encode() ([]byte, error) {
	b, _, err := n.encoded()
	return b, err
}

func (n *Node) CID() (cid.Cid, error) {
	_, c, err := n.encoded()
	return c, err
}

// Put writes this node's record to the store.
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

// Decode parses a node record. Children are fetched through s when needed.
func Decode(data []byte, s *cas.Store) (*Node, error) {
	rec, err := cas.DecodeCBOR(data)
	if err != nil {
		return nil, err
	}
	hash, ok, err := cas.Bytes(rec, "hash")
	if err != nil {
		return nil, err
	}
	if !ok || len(hash) == 0 {
		return nil, fmt.Errorf("merkle: node record has no hash")
	}
	n := &Node{store: s, hash: hash}
	if n.leftHash, _, err = cas.Bytes(rec, "leftHash"); err != nil {
		return nil, err
	}
	if n.rightHash, _, err = cas.Bytes(rec, "rightHash"); err != nil {
		return nil, err
	}
	if n.left.cid, _, err = cas.Link(rec, "left"); err != nil {
		return nil, err
	}
	if n.right.cid, _, err = cas.Link(rec, "right"); err != nil {
		return nil, err
	}
	return n, nil
}

// Load fetches a node record from the store.
func Load(ctx context.Context, s *cas.Store, c cid.Cid) (*Node, error) {
	b, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	n, err := Decode(b, s)
	if err != nil {
		return nil, fmt.Errorf("decoding merkle node %s: %w", c, err)
	}
	n.memo.Seed(b, c)
	return n, nil
}
