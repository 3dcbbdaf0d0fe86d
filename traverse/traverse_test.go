package traverse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testNode struct {
	val         int
	left, right *testNode
	parent      *testNode
	broken      bool
}

func (n *testNode) Left(ctx context.Context) (*testNode, error) {
	if n.broken {
		return nil, errors.New("unreachable child")
	}
	return n.left, nil
}

func (n *testNode) Right(ctx context.Context) (*testNode, error) {
	return n.right, nil
}

func (n *testNode) Parent() *testNode {
	return n.parent
}

func link(n *testNode, l, r *testNode) *testNode {
	n.left, n.right = l, r
	if l != nil {
		l.parent = n
	}
	if r != nil {
		r.parent = n
	}
	return n
}

//	    4
//	   / \
//	  2   6
//	 / \   \
//	1   3   7
func sampleTree() (*testNode, map[int]*testNode) {
	nodes := map[int]*testNode{}
	for _, v := range []int{1, 2, 3, 4, 6, 7} {
		nodes[v] = &testNode{val: v}
	}
	link(nodes[2], nodes[1], nodes[3])
	link(nodes[6], nil, nodes[7])
	link(nodes[4], nodes[2], nodes[6])
	return nodes[4], nodes
}

func values(t *testing.T, nodes []*testNode, err error) []int {
	t.Helper()
	assert.NoError(t, err)
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.val
	}
	return out
}

func TestTraversalOrders(t *testing.T) {
	ctx := context.Background()
	root, _ := sampleTree()

	tests := []struct {
		name     string
		collect  func() ([]*testNode, error)
		expected []int
	}{
		{"in-order", func() ([]*testNode, error) { return Collect(InOrder(ctx, root)) }, []int{1, 2, 3, 4, 6, 7}},
		{"pre-order", func() ([]*testNode, error) { return Collect(PreOrder(ctx, root)) }, []int{4, 2, 1, 3, 6, 7}},
		{"post-order", func() ([]*testNode, error) { return Collect(PostOrder(ctx, root)) }, []int{1, 3, 2, 7, 6, 4}},
		{"depth-first", func() ([]*testNode, error) { return Collect(DepthFirst(ctx, root)) }, []int{4, 6, 7, 2, 3, 1}},
		{"level-order", func() ([]*testNode, error) { return Collect(LevelOrder(ctx, root)) }, []int{4, 2, 6, 1, 3, 7}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nodes, err := tc.collect()
			assert.Equal(t, tc.expected, values(t, nodes, err))
		})
	}
}

func TestEmptyTree(t *testing.T) {
	ctx := context.Background()
	for _, seq := range []func(context.Context, *testNode) ([]*testNode, error){
		func(ctx context.Context, n *testNode) ([]*testNode, error) { return Collect(InOrder(ctx, n)) },
		func(ctx context.Context, n *testNode) ([]*testNode, error) { return Collect(PreOrder(ctx, n)) },
		func(ctx context.Context, n *testNode) ([]*testNode, error) { return Collect(PostOrder(ctx, n)) },
		func(ctx context.Context, n *testNode) ([]*testNode, error) { return Collect(DepthFirst(ctx, n)) },
		func(ctx context.Context, n *testNode) ([]*testNode, error) { return Collect(LevelOrder(ctx, n)) },
	} {
		nodes, err := seq(ctx, nil)
		assert.NoError(t, err)
		assert.Empty(t, nodes)
	}
}

func TestRestartable(t *testing.T) {
	ctx := context.Background()
	root, _ := sampleTree()
	seq := LevelOrder(ctx, root)

	first, err := Collect(seq)
	assert.NoError(t, err)
	second, err := Collect(seq)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEarlyStop(t *testing.T) {
	ctx := context.Background()
	root, _ := sampleTree()

	var seen []int
	for n, err := range InOrder(ctx, root) {
		assert.NoError(t, err)
		seen = append(seen, n.val)
		if n.val == 3 {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestChildError(t *testing.T) {
	ctx := context.Background()
	root, nodes := sampleTree()
	nodes[2].broken = true

	nodes2, err := Collect(PreOrder(ctx, root))
	assert.Error(t, err)
	assert.Equal(t, []int{4, 2}, values(t, nodes2, nil))

	_, err = Collect(LevelOrder(ctx, root))
	assert.Error(t, err)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root, _ := sampleTree()

	_, err := Collect(InOrder(ctx, root))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = Collect(DepthFirst(ctx, root))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSiblings(t *testing.T) {
	ctx := context.Background()
	root, nodes := sampleTree()

	path, err := Collect(Siblings(ctx, nodes[3]))
	assert.Equal(t, []int{1, 6, 4}, values(t, path, err))

	path, err = Collect(Siblings(ctx, root))
	assert.Equal(t, []int{4}, values(t, path, err))

	sib, err := Sibling(ctx, root)
	assert.NoError(t, err)
	assert.Same(t, root, sib)

	// 7 is an only child
	_, err = Collect(Siblings(ctx, nodes[7]))
	assert.ErrorIs(t, err, ErrMissingSibling)
}

func TestLast(t *testing.T) {
	ctx := context.Background()
	root, _ := sampleTree()
	last, err := Last(InOrder(ctx, root))
	assert.NoError(t, err)
	assert.Equal(t, 7, last.val)
}
