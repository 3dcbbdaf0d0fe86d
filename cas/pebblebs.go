package cas

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// PebbleBlockstore keeps blocks in a local pebble database, keyed by the
// binary CID under a fixed prefix.
type PebbleBlockstore struct {
	db *pebble.DB
}

const pebbleBlockPrefix = "b:"

func OpenPebbleBlockstore(path string) (*PebbleBlockstore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: could not open pebble db, %w", path, err)
	}
	return &PebbleBlockstore{db: db}, nil
}

var _ blockstore.Blockstore = (*PebbleBlockstore)(nil)

func (bs *PebbleBlockstore) Close() error {
	return bs.db.Close()
}

func pebbleKey(c cid.Cid) []byte {
	return append([]byte(pebbleBlockPrefix), c.Bytes()...)
}

func (bs *PebbleBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.db.Delete(pebbleKey(c), pebble.NoSync)
}

func (bs *PebbleBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	_, closer, err := bs.db.Get(pebbleKey(c))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (bs *PebbleBlockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	v, closer, err := bs.db.Get(pebbleKey(c))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	// value is only valid until closer is closed
	data := make([]byte, len(v))
	copy(data, v)
	return blocks.NewBlockWithCid(data, c)
}

func (bs *PebbleBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	v, closer, err := bs.db.Get(pebbleKey(c))
	if errors.Is(err, pebble.ErrNotFound) {
		return -1, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return -1, err
	}
	defer closer.Close()
	return len(v), nil
}

func (bs *PebbleBlockstore) Put(ctx context.Context, blk blocks.Block) error {
	return bs.db.Set(pebbleKey(blk.Cid()), blk.RawData(), pebble.NoSync)
}

func (bs *PebbleBlockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	batch := bs.db.NewBatch()
	defer batch.Close()
	for _, blk := range blks {
		if err := batch.Set(pebbleKey(blk.Cid()), blk.RawData(), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

func (bs *PebbleBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter, err := bs.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: []byte(pebbleBlockPrefix),
		UpperBound: []byte("b;"),
	})
	if err != nil {
		return nil, err
	}
	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		defer iter.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			_, c, err := cid.CidFromBytes(iter.Key()[len(pebbleBlockPrefix):])
			if err != nil {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (bs *PebbleBlockstore) HashOnRead(enabled bool) {
}
