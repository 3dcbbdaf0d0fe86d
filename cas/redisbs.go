package cas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/redis/go-redis/v9"
)

// RedisBlockstore keeps blocks in a shared redis instance, which acts as the
// remote content network for several processes.
type RedisBlockstore struct {
	client *redis.Client
	prefix string
}

func NewRedisBlockstore(ctx context.Context, redisURL, prefix string) (*RedisBlockstore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %v", err)
	}
	client := redis.NewClient(opt)
	// check redis connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if prefix == "" {
		prefix = "block/"
	}
	return &RedisBlockstore{client: client, prefix: prefix}, nil
}

var _ blockstore.Blockstore = (*RedisBlockstore)(nil)

func (bs *RedisBlockstore) Close() error {
	return bs.client.Close()
}

func (bs *RedisBlockstore) key(c cid.Cid) string {
	return bs.prefix + c.String()
}

func (bs *RedisBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.client.Del(ctx, bs.key(c)).Err()
}

func (bs *RedisBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	n, err := bs.client.Exists(ctx, bs.key(c)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (bs *RedisBlockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	data, err := bs.client.Get(ctx, bs.key(c)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ipld.ErrNotFound{Cid: c}
	}
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func (bs *RedisBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	n, err := bs.client.StrLen(ctx, bs.key(c)).Result()
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, &ipld.ErrNotFound{Cid: c}
	}
	return int(n), nil
}

func (bs *RedisBlockstore) Put(ctx context.Context, blk blocks.Block) error {
	return bs.client.SetNX(ctx, bs.key(blk.Cid()), blk.RawData(), 0).Err()
}

func (bs *RedisBlockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	pipe := bs.client.Pipeline()
	for _, blk := range blks {
		pipe.SetNX(ctx, bs.key(blk.Cid()), blk.RawData(), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (bs *RedisBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter := bs.client.Scan(ctx, 0, bs.prefix+"*", 100).Iterator()
	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		for iter.Next(ctx) {
			c, err := cid.Decode(strings.TrimPrefix(iter.Val(), bs.prefix))
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

func (bs *RedisBlockstore) HashOnRead(enabled bool) {
}
