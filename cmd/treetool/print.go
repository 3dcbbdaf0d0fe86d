package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"

	"github.com/merkledb/ipfstrees/bst"
	"github.com/merkledb/ipfstrees/merkle"
)

func runPrint(cctx *cli.Context) error {
	ctx := cctx.Context
	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	db, err := openSnapshot(ctx, s, cctx.Args().First())
	if err != nil {
		return err
	}

	var tree treeprint.Tree
	if cctx.Bool("merkle") {
		tree, err = printMerkle(ctx, db.Accumulator())
	} else {
		tree, err = printRecords(ctx, db.Records().Root())
	}
	if err != nil {
		return err
	}
	fmt.Println(tree.String())
	return nil
}

func printRecords(ctx context.Context, root *bst.Node) (treeprint.Tree, error) {
	if root == nil {
		return treeprint.NewWithRoot("(empty)"), nil
	}
	label, err := recordLabel(ctx, root)
	if err != nil {
		return nil, err
	}
	tree := treeprint.NewWithRoot(label)
	if err := walkRecords(ctx, root, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walkRecords(ctx context.Context, n *bst.Node, tree treeprint.Tree) error {
	for _, side := range []string{"L", "R"} {
		var child *bst.Node
		var err error
		if side == "L" {
			child, err = n.Left(ctx)
		} else {
			child, err = n.Right(ctx)
		}
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		label, err := recordLabel(ctx, child)
		if err != nil {
			return err
		}
		if child.IsLeaf() {
			tree.AddNode(side + " " + label)
			continue
		}
		if err := walkRecords(ctx, child, tree.AddBranch(side+" "+label)); err != nil {
			return err
		}
	}
	return nil
}

func recordLabel(ctx context.Context, n *bst.Node) (string, error) {
	k, err := n.Key(ctx)
	if err != nil {
		return "", err
	}
	c, err := n.CID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", k.String(), c.String()), nil
}

func printMerkle(ctx context.Context, root *merkle.Node) (treeprint.Tree, error) {
	if root == nil {
		return treeprint.NewWithRoot("(empty)"), nil
	}
	tree := treeprint.NewWithRoot(shortHash(root.Hash()))
	if err := walkMerkle(ctx, root, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walkMerkle(ctx context.Context, n *merkle.Node, tree treeprint.Tree) error {
	left, err := n.Left(ctx)
	if err != nil {
		return err
	}
	right, err := n.Right(ctx)
	if err != nil {
		return err
	}
	for _, child := range []*merkle.Node{left, right} {
		if child == nil {
			continue
		}
		if child.IsLeaf() {
			tree.AddNode(shortHash(child.Hash()))
			continue
		}
		if err := walkMerkle(ctx, child, tree.AddBranch(shortHash(child.Hash()))); err != nil {
			return err
		}
	}
	return nil
}

func shortHash(h []byte) string {
	s := hex.EncodeToString(h)
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}
