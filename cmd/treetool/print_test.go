package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkledb"
)

func TestPrintTrees(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db := merkledb.New(cas.NewMemStore())
	for _, k := range []string{"m", "c", "x", "a"} {
		var err error
		db, err = db.SetJSON(ctx, k, map[string]string{"k": k})
		require.NoError(err)
	}

	tree, err := printRecords(ctx, db.Records().Root())
	require.NoError(err)
	out := tree.String()
	assert.True(strings.HasPrefix(out, "m ("))
	assert.Contains(out, "L c (")
	assert.Contains(out, "R x (")
	assert.Contains(out, "L a (")

	tree, err = printMerkle(ctx, db.Accumulator())
	require.NoError(err)
	assert.Equal(7, strings.Count(tree.String(), "…"))

	empty, err := printRecords(ctx, nil)
	require.NoError(err)
	assert.Contains(empty.String(), "(empty)")
}
