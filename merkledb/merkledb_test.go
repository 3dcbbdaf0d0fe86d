package merkledb

import (
	"context"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkle"
)

type account struct {
	Owner   string `json:"owner" fake:"{name}"`
	Balance int    `json:"balance" fake:"{number:0,10000}"`
	Active  bool   `json:"active"`
}

func fakeDB(t *testing.T, n int) (*DB, map[string]account) {
	t.Helper()
	ctx := context.Background()
	faker := gofakeit.New(99)

	db := New(cas.NewMemStore())
	rows := map[string]account{}
	for i := 0; i < n; i++ {
		var a account
		require.NoError(t, faker.Struct(&a))
		k := fmt.Sprintf("acct-%03d", i)
		rows[k] = a

		var err error
		db, err = db.SetJSON(ctx, k, a)
		require.NoError(t, err)
	}
	return db, rows
}

func TestSetAndProve(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db, rows := fakeDB(t, 20)
	require.NotNil(db.Root())

	for k, want := range rows {
		var got account
		found, err := db.GetJSON(ctx, k, &got)
		require.NoError(err)
		assert.True(found)
		assert.Equal(want, got)

		proof, err := db.Proof(ctx, k)
		require.NoError(err)
		assert.True(db.Verify(proof), k)
		assert.True(merkle.VerifyProof(proof), k)

		raw, err := db.Get(ctx, k)
		require.NoError(err)
		assert.Equal(merkle.HashLeaf(raw), proof[0])
	}

	proof, err := db.Proof(ctx, "nobody")
	require.NoError(err)
	assert.Nil(proof)
}

func TestDuplicateKeyKeepsRoot(t *testing.T) {
	ctx := context.Background()
	db, _ := fakeDB(t, 3)

	again, err := db.SetJSON(ctx, "acct-001", account{Owner: "someone else"})
	require.NoError(t, err)
	assert.Same(t, db, again)
}

func TestSetCBOR(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db := New(cas.NewMemStore())
	db, err := db.SetCBOR(ctx, "doc", map[string]any{"b": "two", "a": "one"})
	require.NoError(err)

	rec, err := db.GetCBOR(ctx, "doc")
	require.NoError(err)
	assert.Equal("one", rec["a"])

	encoded, err := cas.EncodeCBOR(map[string]any{"a": "one", "b": "two"})
	require.NoError(err)
	assert.Equal(merkle.HashLeaf(encoded), db.Root())
}

func TestSnapshotReopen(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db, rows := fakeDB(t, 12)
	snap, err := db.Snapshot(ctx)
	require.NoError(err)
	assert.Equal(db.Root(), snap.Root)

	snapCID, err := SaveSnapshot(ctx, db.Store(), snap)
	require.NoError(err)
	loadedSnap, err := LoadSnapshot(ctx, db.Store(), snapCID)
	require.NoError(err)
	assert.Equal(snap, loadedSnap)

	// fresh store view over the same blocks
	reopened, err := Open(ctx, cas.NewStore(db.Store().Blockstore(), nil), loadedSnap)
	require.NoError(err)
	assert.Equal(db.Root(), reopened.Root())

	keys, err := reopened.Keys(ctx)
	require.NoError(err)
	assert.Len(keys, len(rows))

	proof, err := reopened.Proof(ctx, "acct-007")
	require.NoError(err)
	assert.True(reopened.Verify(proof))

	// keep writing after reopening
	grown, err := reopened.SetJSON(ctx, "acct-999", account{Owner: "late"})
	require.NoError(err)
	assert.NotEqual(db.Root(), grown.Root())
	proof, err = grown.Proof(ctx, "acct-999")
	require.NoError(err)
	assert.True(grown.Verify(proof))
	assert.False(db.Verify(proof))

	bad := *snap
	bad.Root = merkle.HashLeaf([]byte("forged"))
	_, err = Open(ctx, db.Store(), &bad)
	assert.ErrorIs(err, ErrSnapshotMismatch)
}

func TestEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	db := New(cas.NewMemStore())

	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.TreeCID.Defined())
	assert.False(t, snap.DataCID.Defined())

	reopened, err := Open(ctx, db.Store(), snap)
	require.NoError(t, err)
	assert.Nil(t, reopened.Root())
	assert.False(t, reopened.Verify([][]byte{{1}, {1}}))
}

func TestWriteTwiceToSameDB(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	base, rows := fakeDB(t, 6)
	baseRoot := base.Root()

	left, err := base.SetJSON(ctx, "zz-left", account{Owner: "left"})
	require.NoError(err)
	right, err := base.SetJSON(ctx, "zz-right", account{Owner: "right"})
	require.NoError(err)

	// building right from scratch gives the same root as branching off base
	fresh := New(cas.NewMemStore())
	for i := 0; i < 6; i++ {
		k := fmt.Sprintf("acct-%03d", i)
		fresh, err = fresh.SetJSON(ctx, k, rows[k])
		require.NoError(err)
	}
	fresh, err = fresh.SetJSON(ctx, "zz-right", account{Owner: "right"})
	require.NoError(err)
	assert.Equal(fresh.Root(), right.Root())
	assert.NotEqual(left.Root(), right.Root())

	// the older DB still proves against its own root
	assert.Equal(baseRoot, base.Root())
	for k := range rows {
		proof, err := base.Proof(ctx, k)
		require.NoError(err)
		assert.Equal(baseRoot, proof[len(proof)-1], k)
		assert.True(base.Verify(proof), k)
	}
	proof, err := left.Proof(ctx, "zz-left")
	require.NoError(err)
	assert.True(left.Verify(proof))
	assert.False(right.Verify(proof))
}
