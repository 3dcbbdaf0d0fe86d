package cas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// Config selects and wraps a blockstore backend.
//
// Supported URL schemes: mem://, flatfs:///path, pebble:///path,
// sqlite://path, postgres://..., redis://...
type Config struct {
	URL string
	// optional shared store consulted when a block is missing locally
	RemoteURL string
	// number of blocks kept in the in-memory read cache; zero disables it
	CacheSize int
}

// Backend is an opened blockstore along with the resources behind it.
type Backend struct {
	blockstore.Blockstore
	closers []func() error
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the blockstore described by cfg.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	var b Backend
	local, err := openURL(ctx, cfg.URL, &b)
	if err != nil {
		b.Close()
		return nil, err
	}
	bs := local

	if cfg.RemoteURL != "" {
		remote, err := openURL(ctx, cfg.RemoteURL, &b)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("opening remote store: %w", err)
		}
		bs = NewReadThroughBlockstore(remote, local)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCacheBlockstore(bs, cfg.CacheSize)
		if err != nil {
			b.Close()
			return nil, err
		}
		bs = cached
	}

	b.Blockstore = bs
	return &b, nil
}

func openURL(ctx context.Context, u string, b *Backend) (blockstore.Blockstore, error) {
	log := slog.Default().With("system", "cas")
	switch {
	case u == "" || strings.HasPrefix(u, "mem://"):
		return NewMemBlockstore(), nil
	case strings.HasPrefix(u, "flatfs://"):
		dir := strings.TrimPrefix(u, "flatfs://")
		ds, err := flatfs.CreateOrOpen(dir, flatfs.IPFS_DEF_SHARD, false)
		if err != nil {
			return nil, fmt.Errorf("opening flatfs store %s: %w", dir, err)
		}
		b.closers = append(b.closers, ds.Close)
		log.Info("opened flatfs blockstore", "dir", dir)
		return blockstore.NewBlockstoreNoPrefix(ds), nil
	case strings.HasPrefix(u, "pebble://"):
		dir := strings.TrimPrefix(u, "pebble://")
		pbs, err := OpenPebbleBlockstore(dir)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pbs.Close)
		log.Info("opened pebble blockstore", "dir", dir)
		return pbs, nil
	case strings.HasPrefix(u, "sqlite://"), strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		db, err := OpenDatabase(u, 20)
		if err != nil {
			return nil, err
		}
		sqldb, err := db.DB()
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sqldb.Close)
		return NewSQLBlockstore(db)
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
		rbs, err := NewRedisBlockstore(ctx, u, "")
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rbs.Close)
		return rbs, nil
	default:
		return nil, fmt.Errorf("unsupported blockstore URL: %s", u)
	}
}
