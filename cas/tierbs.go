package cas

import (
	"context"
	"log/slog"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// ReadThroughBlockstore layers a local store over a shared remote one. Reads
// try local first; blocks found remotely are copied into the local store so
// a lazily walked tree only crosses the network once. Writes stay local.
type ReadThroughBlockstore struct {
	remote blockstore.Blockstore
	local  blockstore.Blockstore
	logger *slog.Logger
}

func NewReadThroughBlockstore(remote, local blockstore.Blockstore) *ReadThroughBlockstore {
	return &ReadThroughBlockstore{
		remote: remote,
		local:  local,
		logger: slog.Default().With("system", "cas"),
	}
}

var _ blockstore.Blockstore = (*ReadThroughBlockstore)(nil)

func (bs *ReadThroughBlockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	blk, err := bs.local.Get(ctx, c)
	switch {
	case err == nil:
		return blk, nil
	case !ipld.IsNotFound(err):
		return nil, err
	}

	blk, err = bs.remote.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := bs.local.Put(ctx, blk); err != nil {
		// the block is still usable, only the local copy failed
		bs.logger.Warn("failed to keep remote block locally", "cid", c, "err", err)
	}
	return blk, nil
}

func (bs *ReadThroughBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if ok, err := bs.local.Has(ctx, c); err != nil || ok {
		return ok, err
	}
	return bs.remote.Has(ctx, c)
}

func (bs *ReadThroughBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	n, err := bs.local.GetSize(ctx, c)
	if err != nil && ipld.IsNotFound(err) {
		return bs.remote.GetSize(ctx, c)
	}
	return n, err
}

func (bs *ReadThroughBlockstore) Put(ctx context.Context, blk blocks.Block) error {
	return bs.local.Put(ctx, blk)
}

func (bs *ReadThroughBlockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	return bs.local.PutMany(ctx, blks)
}

// DeleteBlock only removes the local copy.
func (bs *ReadThroughBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.local.DeleteBlock(ctx, c)
}

// AllKeysChan lists local blocks, including those already copied from remote.
func (bs *ReadThroughBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return bs.local.AllKeysChan(ctx)
}

func (bs *ReadThroughBlockstore) HashOnRead(enabled bool) {
	bs.local.HashOnRead(enabled)
	bs.remote.HashOnRead(enabled)
}
