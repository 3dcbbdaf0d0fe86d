package bst

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkledb/ipfstrees/cas"
)

type person struct {
	Name  string `json:"name" fake:"{name}"`
	Email string `json:"email" fake:"{email}"`
	Age   int    `json:"age" fake:"{number:18,90}"`
}

func TestMapBasic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := cas.NewMemStore()

	empty := NewMap(s)
	assert.True(empty.IsEmpty())
	k, err := empty.RootKey(ctx)
	require.NoError(err)
	assert.Nil(k)
	_, ok, err := empty.RootValue(ctx)
	require.NoError(err)
	assert.False(ok)
	c, err := empty.CID()
	require.NoError(err)
	assert.False(c.Defined())

	m, err := empty.SetJSON(ctx, "alice", map[string]any{"age": 30})
	require.NoError(err)
	m, err = m.SetJSON(ctx, "bob", map[string]any{"age": 40})
	require.NoError(err)

	// the old map is unchanged
	assert.True(empty.IsEmpty())

	var out map[string]any
	found, err := m.GetJSON(ctx, "bob", &out)
	require.NoError(err)
	assert.True(found)
	assert.Equal(float64(40), out["age"])

	found, err = m.GetJSON(ctx, "carol", &out)
	require.NoError(err)
	assert.False(found)

	_, ok, err = m.Get(ctx, "carol")
	require.NoError(err)
	assert.False(ok)

	rk, err := m.RootKey(ctx)
	require.NoError(err)
	assert.Equal("alice", rk.String())
	_, ok, err = m.RootValue(ctx)
	require.NoError(err)
	assert.True(ok)

	n, err := m.Len(ctx)
	require.NoError(err)
	assert.Equal(2, n)
}

func TestMapFirstWriteWins(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := cas.NewMemStore()

	m, err := NewMap(s).SetJSON(ctx, "k", "first")
	require.NoError(err)
	again, err := m.SetJSON(ctx, "k", "second")
	require.NoError(err)
	assert.Same(m, again)

	var out string
	_, err = again.GetJSON(ctx, "k", &out)
	require.NoError(err)
	assert.Equal("first", out)
}

func TestMapCBOR(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := cas.NewMemStore()

	m, err := NewMap(s).SetCBOR(ctx, "doc", map[string]any{"title": "hello", "n": 3})
	require.NoError(err)

	rec, err := m.GetCBOR(ctx, "doc")
	require.NoError(err)
	assert.Equal("hello", rec["title"])
	n, err := cas.Int64(rec["n"])
	require.NoError(err)
	assert.Equal(int64(3), n)

	rec, err = m.GetCBOR(ctx, "missing")
	require.NoError(err)
	assert.Nil(rec)
}

func TestMapFakeRecords(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := cas.NewMemStore()
	gofakeit.Seed(42)

	records := map[string]person{}
	m := NewMap(s)
	for len(records) < 50 {
		var p person
		require.NoError(gofakeit.Struct(&p))
		id := gofakeit.UUID()
		records[id] = p

		var err error
		m, err = m.SetJSON(ctx, id, p)
		require.NoError(err)
	}

	keys, err := m.Keys(ctx)
	require.NoError(err)
	assert.Len(keys, 50)
	assert.IsIncreasing(keys)

	for id, want := range records {
		var got person
		found, err := m.GetJSON(ctx, id, &got)
		require.NoError(err)
		assert.True(found)
		assert.Equal(want, got)
	}

	vals, err := m.Values(ctx)
	require.NoError(err)
	assert.Len(vals, 50)
}

func TestMapPutAll(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := cas.NewMemStore()

	m := NewMap(s)
	var err error
	for _, k := range []string{"d", "b", "f", "a", "c"} {
		m, err = m.SetJSON(ctx, k, k)
		require.NoError(err)
	}

	var streamed []PutResult
	for r, err := range m.PutAll(ctx) {
		require.NoError(err)
		streamed = append(streamed, r)
	}
	assert.Len(streamed, 5)

	synced, err := m.PutAllSync(ctx)
	require.NoError(err)
	assert.Equal(streamed, synced)

	for _, r := range synced {
		has, err := s.Has(ctx, r.Node)
		require.NoError(err)
		assert.True(has)
		has, err = s.Has(ctx, r.Key)
		require.NoError(err)
		assert.True(has)
	}

	rootCID, err := m.CID()
	require.NoError(err)
	loaded, err := LoadMap(ctx, s, rootCID)
	require.NoError(err)
	vals, err := loaded.Values(ctx)
	require.NoError(err)
	assert.Equal(map[string]any{"a": "a", "b": "b", "c": "c", "d": "d", "f": "f"}, vals)
}
