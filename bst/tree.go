package bst

import (
	"context"
	"iter"

	"github.com/merkledb/ipfstrees/traverse"
)

// SearchSeq yields every node visited while descending towards target,
// ending with either the matching node or the last node before a missing
// child. Ranging over it again repeats the search.
func SearchSeq(ctx context.Context, root *Node, target *Key) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		cur := root
		for cur != nil {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			k, err := cur.Key(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(cur, nil) {
				return
			}
			if target.Equals(k) {
				return
			}
			if target.Less(k) {
				cur, err = cur.Left(ctx)
			} else {
				cur, err = cur.Right(ctx)
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Search returns the node holding target, or nil if the tree has no such
// key. It never returns the nearest node on a miss.
func Search(ctx context.Context, root *Node, target *Key) (*Node, error) {
	last, err := traverse.Last(SearchSeq(ctx, root, target))
	if err != nil || last == nil {
		return nil, err
	}
	k, err := last.Key(ctx)
	if err != nil {
		return nil, err
	}
	if !target.Equals(k) {
		return nil, nil
	}
	return last, nil
}

type pathStep struct {
	node *Node
	left bool
}

// InsertSeq inserts leaf below root. It yields the leaf and then each rebuilt
// ancestor, bottom-up; the final value is the new root. If the key is
// already present the only value yielded is root itself.
func InsertSeq(ctx context.Context, root, leaf *Node) iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		if root == nil {
			yield(leaf, nil)
			return
		}
		lk, err := leaf.Key(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		var path []pathStep
		cur := root
		for cur != nil {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			ck, err := cur.Key(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if lk.Equals(ck) {
				yield(root, nil)
				return
			}
			goLeft := lk.Less(ck)
			path = append(path, pathStep{node: cur, left: goLeft})
			if goLeft {
				cur, err = cur.Left(ctx)
			} else {
				cur, err = cur.Right(ctx)
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}

		if !yield(leaf, nil) {
			return
		}
		child := leaf
		for i := len(path) - 1; i >= 0; i-- {
			var rebuilt *Node
			if path[i].left {
				rebuilt = path[i].node.WithLeft(child)
			} else {
				rebuilt = path[i].node.WithRight(child)
			}
			if !yield(rebuilt, nil) {
				return
			}
			child = rebuilt
		}
	}
}

// Insert returns a new root containing leaf. Only the ancestors of the new
// leaf are rebuilt; every other subtree is shared with root. Inserting an
// existing key returns root unchanged.
func Insert(ctx context.Context, root, leaf *Node) (*Node, error) {
	return traverse.Last(InsertSeq(ctx, root, leaf))
}

func InOrder(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.InOrder(ctx, root)
}

func PreOrder(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.PreOrder(ctx, root)
}

func PostOrder(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.PostOrder(ctx, root)
}

func DepthFirst(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.DepthFirst(ctx, root)
}

func LevelOrder(ctx context.Context, root *Node) iter.Seq2[*Node, error] {
	return traverse.LevelOrder(ctx, root)
}

func collectKeys(ctx context.Context, seq iter.Seq2[*Node, error]) ([]*Key, error) {
	var out []*Key
	for n, err := range seq {
		if err != nil {
			return nil, err
		}
		k, err := n.Key(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// KeysInOrder returns all keys in ascending order.
func KeysInOrder(ctx context.Context, root *Node) ([]*Key, error) {
	return collectKeys(ctx, InOrder(ctx, root))
}

// KeysLevelOrder returns all keys breadth first.
func KeysLevelOrder(ctx context.Context, root *Node) ([]*Key, error) {
	return collectKeys(ctx, LevelOrder(ctx, root))
}
