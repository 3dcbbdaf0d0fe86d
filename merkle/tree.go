package merkle

import (
	"bytes"
	"context"
	"iter"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/traverse"
)

// pathTo walks root breadth first and returns the path root..n to the first
// node matching ok, or nil. The path is taken from this root only, so it is
// unaffected by parent links set by other versions sharing the nodes.
func pathTo(ctx context.Context, root *Node, ok func(*Node) bool) ([]*Node, error) {
	if root == nil {
		return nil, nil
	}
	queue := [][]*Node{{root}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := queue[0]
		queue = queue[1:]
		n := path[len(path)-1]
		if ok(n) {
			return path, nil
		}
		for _, next := range []func(context.Context) (*Node, error){n.Left, n.Right} {
			child, err := next(ctx)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			ext := make([]*Node, len(path)+1)
			copy(ext, path)
			ext[len(path)] = child
			queue = append(queue, ext)
		}
	}
	return nil, nil
}

// otherChild returns the child of parent that is not child.
func otherChild(ctx context.Context, parent, child *Node) (*Node, error) {
	l, err := parent.Left(ctx)
	if err != nil {
		return nil, err
	}
	if l != child {
		return l, nil
	}
	r, err := parent.Right(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, traverse.ErrMissingSibling
	}
	return r, nil
}

// InsertSeq adds leaf to the accumulator rooted at root. The first leaf found
// breadth first is joined with the new leaf, and the path above it is rebuilt
// by joining each new node with the old sibling. Every new node is yielded;
// the last one is the new root. The result depends only on root and leaf, so
// older roots can still be extended after newer versions were built on them.
func InsertSeq(ctx context.Context, root, leaf *Node) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		if root == nil {
			yield(leaf, nil)
			return
		}

		path, err := pathTo(ctx, root, (*Node).IsLeaf)
		if err != nil {
			yield(nil, err)
			return
		}
		if path == nil {
			// every node has at least one child hash but no reachable children
			yield(nil, traverse.ErrMissingSibling)
			return
		}

		// siblings are collected before any join touches parent links
		sibs := make([]*Node, len(path)-1)
		for i := len(path) - 1; i > 0; i-- {
			sib, err := otherChild(ctx, path[i-1], path[i])
			if err != nil {
				yield(nil, err)
				return
			}
			if sib == nil {
				yield(nil, traverse.ErrMissingSibling)
				return
			}
			sibs[i-1] = sib
		}

		cur, err := Join(path[len(path)-1], leaf)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(cur, nil) {
			return
		}
		for i := len(sibs) - 1; i >= 0; i-- {
			cur, err = Join(cur, sibs[i])
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(cur, nil) {
				return
			}
		}
	}
}

// Insert returns the new root after adding leaf.
func Insert(ctx context.Context, root, leaf *Node) (*Node, error) {
	return traverse.Last(InsertSeq(ctx, root, leaf))
}

// InsertHash adds a new leaf holding hash and returns the new root and the leaf.
func InsertHash(ctx context.Context, root *Node, hash []byte) (*Node, *Node, error) {
	leaf := NewLeaf(hash)
	newRoot, err := Insert(ctx, root, leaf)
	if err != nil {
		return nil, nil, err
	}
	return newRoot, leaf, nil
}

func LevelOrder(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.LevelOrder(ctx, root)
}

// Leaves yields every leaf, breadth first.
func Leaves(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		for n, err := range traverse.LevelOrder(ctx, root) {
			if err != nil {
				yield(nil, err)
				return
			}
			if n.IsLeaf() && !yield(n, nil) {
				return
			}
		}
	}
}

// FindLeaf returns the leaf holding hash, or nil.
func FindLeaf(ctx context.Context, root *Node, hash []byte) (*Node, error) {
	for n, err := range Leaves(ctx, root) {
		if err != nil {
			return nil, err
		}
		if bytes.Equal(n.hash, hash) {
			return n, nil
		}
	}
	return nil, nil
}

// Siblings yields the sibling of n at each level up to the root, then the
// root itself. It fails with traverse.ErrMissingSibling on a node whose
// parent has no other child.
func Siblings(ctx context.Context, n *Node) iter.Seq2[*Node, error] {
	return traverse.Siblings(ctx, n)
}

// Proof returns [leaf, sibling..., root] digests for n by following parent
// links, which belong to the most recent root n was joined under. Use
// ProveHash to prove against a specific root.
func Proof(ctx context.Context, n *Node) ([][]byte, error) {
	out := [][]byte{n.hash}
	for s, err := range Siblings(ctx, n) {
		if err != nil {
			return nil, err
		}
		out = append(out, s.hash)
	}
	return out, nil
}

// ProveHash returns [leaf, sibling..., root] digests for the first leaf
// holding hash under root, or nil if there is none. The path is derived from
// root itself, so the proof always ends in root's digest.
func ProveHash(ctx context.Context, root *Node, hash []byte) ([][]byte, error) {
	path, err := pathTo(ctx, root, func(n *Node) bool {
		return n.IsLeaf() && bytes.Equal(n.hash, hash)
	})
	if err != nil || path == nil {
		return nil, err
	}
	out := [][]byte{hash}
	for i := len(path) - 1; i > 0; i-- {
		sib, err := otherChild(ctx, path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		if sib == nil {
			return nil, traverse.ErrMissingSibling
		}
		out = append(out, sib.hash)
	}
	return append(out, root.hash), nil
}

// PutAll writes every node reachable from root and returns the root CID.
func PutAll(ctx context.Context, s *cas.Store, root *Node) (cid.Cid, error) {
	if root == nil {
		return cid.Undef, nil
	}
	nodes, err := traverse.Collect(traverse.LevelOrder(ctx, root))
	if err != nil {
		return cid.Undef, err
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(16)
	for _, n := range nodes {
		eg.Go(func() error {
			_, err := n.Put(ctx, s)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return cid.Undef, err
	}
	return root.CID()
}
