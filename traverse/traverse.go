// Package traverse implements lazy traversals over binary trees whose children
// may need to be fetched before they can be visited.
//
// Every sequence is an iter.Seq2 yielding (node, nil) for each visited node,
// or a single (zero, err) followed by termination when a child cannot be
// resolved or the context is cancelled. Sequences are restartable: each range
// over them walks the tree again from the root.
package traverse

import (
	"context"
	"errors"
	"iter"
)

// Binary is a node with two lazily resolved children. The zero value of N
// (typically a nil pointer) means "no child".
type Binary[N comparable] interface {
	comparable
	Left(ctx context.Context) (N, error)
	Right(ctx context.Context) (N, error)
}

// Upward is a node that also knows its parent.
type Upward[N comparable] interface {
	Binary[N]
	Parent() N
}

// ErrMissingSibling means a node has a parent but its parent has no other child.
var ErrMissingSibling = errors.New("traverse: node has a parent but no sibling")

// InOrder visits left subtree, node, right subtree.
func InOrder[N Binary[N]](ctx context.Context, root N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		var zero N
		var stack []N
		cur := root
		for cur != zero || len(stack) > 0 {
			for cur != zero {
				if err := ctx.Err(); err != nil {
					yield(zero, err)
					return
				}
				stack = append(stack, cur)
				l, err := cur.Left(ctx)
				if err != nil {
					yield(zero, err)
					return
				}
				cur = l
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(cur, nil) {
				return
			}
			r, err := cur.Right(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			cur = r
		}
	}
}

// PreOrder visits node, left subtree, right subtree.
func PreOrder[N Binary[N]](ctx context.Context, root N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		walk(ctx, root, yield, true)
	}
}

// PostOrder visits left subtree, right subtree, node.
func PostOrder[N Binary[N]](ctx context.Context, root N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		walk(ctx, root, yield, false)
	}
}

// walk returns false once the caller stopped or an error was yielded.
func walk[N Binary[N]](ctx context.Context, n N, yield func(N, error) bool, pre bool) bool {
	var zero N
	if n == zero {
		return true
	}
	if err := ctx.Err(); err != nil {
		yield(zero, err)
		return false
	}
	if pre && !yield(n, nil) {
		return false
	}
	l, err := n.Left(ctx)
	if err != nil {
		yield(zero, err)
		return false
	}
	if !walk(ctx, l, yield, pre) {
		return false
	}
	r, err := n.Right(ctx)
	if err != nil {
		yield(zero, err)
		return false
	}
	if !walk(ctx, r, yield, pre) {
		return false
	}
	if !pre && !yield(n, nil) {
		return false
	}
	return true
}

// DepthFirst walks with an explicit stack: left is pushed before right, so
// the right subtree is visited first.
func DepthFirst[N Binary[N]](ctx context.Context, root N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		var zero N
		if root == zero {
			return
		}
		stack := []N{root}
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(n, nil) {
				return
			}
			l, err := n.Left(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			if l != zero {
				stack = append(stack, l)
			}
			r, err := n.Right(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			if r != zero {
				stack = append(stack, r)
			}
		}
	}
}

// LevelOrder walks breadth first, left child before right child.
func LevelOrder[N Binary[N]](ctx context.Context, root N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		var zero N
		if root == zero {
			return
		}
		queue := []N{root}
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			n := queue[0]
			queue = queue[1:]
			if !yield(n, nil) {
				return
			}
			l, err := n.Left(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			if l != zero {
				queue = append(queue, l)
			}
			r, err := n.Right(ctx)
			if err != nil {
				yield(zero, err)
				return
			}
			if r != zero {
				queue = append(queue, r)
			}
		}
	}
}

// Sibling returns the other child of n's parent. A node without a parent is
// its own sibling.
func Sibling[N Upward[N]](ctx context.Context, n N) (N, error) {
	var zero N
	parent := n.Parent()
	if parent == zero {
		return n, nil
	}
	l, err := parent.Left(ctx)
	if err != nil {
		return zero, err
	}
	if l == n {
		return parent.Right(ctx)
	}
	return l, nil
}

// Siblings walks from n up to the root, yielding the sibling at every level
// and finally the root itself.
func Siblings[N Upward[N]](ctx context.Context, n N) iter.Seq2[N, error] {
	return func(yield func(N, error) bool) {
		var zero N
		cur := n
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			parent := cur.Parent()
			if parent == zero {
				yield(cur, nil)
				return
			}
			sib, err := Sibling(ctx, cur)
			if err != nil {
				yield(zero, err)
				return
			}
			if sib == zero {
				yield(zero, ErrMissingSibling)
				return
			}
			if !yield(sib, nil) {
				return
			}
			cur = parent
		}
	}
}

// Collect drains a sequence, stopping at the first error.
func Collect[N any](seq iter.Seq2[N, error]) ([]N, error) {
	var out []N
	for n, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Last drains a sequence and returns its final element.
func Last[N any](seq iter.Seq2[N, error]) (N, error) {
	var last N
	for n, err := range seq {
		if err != nil {
			var zero N
			return zero, err
		}
		last = n
	}
	return last, nil
}
