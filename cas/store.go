package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("cas")

// Store is a content-addressed block store. Every read and write is a
// suspension point and may fail; writes are idempotent.
type Store struct {
	bs      blockstore.Blockstore
	metrics *Metrics
	logger  *slog.Logger
}

// NewStore wraps a blockstore. A nil metrics value disables instrumentation.
func NewStore(bs blockstore.Blockstore, metrics *Metrics) *Store {
	return &Store{
		bs:      bs,
		metrics: metrics,
		logger:  slog.Default().With("system", "cas"),
	}
}

// NewMemStore returns a store backed by a thread-safe in-memory datastore.
func NewMemStore() *Store {
	return NewStore(NewMemBlockstore(), nil)
}

func NewMemBlockstore() blockstore.Blockstore {
	return blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore()))
}

func (s *Store) Blockstore() blockstore.Blockstore {
	return s.bs
}

func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// Get fetches the raw bytes of a block.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("cid", c.String()))

	blk, err := s.bs.Get(ctx, c)
	if err != nil {
		if ipld.IsNotFound(err) {
			s.metrics.observeMiss()
			s.logger.Debug("block not found", "cid", c)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		return nil, fmt.Errorf("fetching block %s: %w", c, err)
	}
	s.metrics.observeGet(len(blk.RawData()))
	return blk.RawData(), nil
}

// Has reports whether a block is present.
func (s *Store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return s.bs.Has(ctx, c)
}

// Put stores encoded bytes under their content identifier and returns it.
func (s *Store) Put(ctx context.Context, data []byte, codec uint64) (cid.Cid, error) {
	c, err := Sum(data, codec)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.PutBlock(ctx, c, data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// PutBlock stores bytes whose CID the caller has already computed.
func (s *Store) PutBlock(ctx context.Context, c cid.Cid, data []byte) error {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()
	span.SetAttributes(attribute.String("cid", c.String()))

	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return err
	}
	if err := s.bs.Put(ctx, blk); err != nil {
		return fmt.Errorf("writing block %s: %w", c, err)
	}
	s.metrics.observePut(len(data))
	return nil
}

// PutCBOR stores a structured record as DAG-CBOR.
func (s *Store) PutCBOR(ctx context.Context, rec any) (cid.Cid, error) {
	b, err := EncodeCBOR(rec)
	if err != nil {
		return cid.Undef, err
	}
	return s.Put(ctx, b, CodecCBOR)
}

// GetCBOR loads a DAG-CBOR record.
func (s *Store) GetCBOR(ctx context.Context, c cid.Cid) (map[string]any, error) {
	b, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	return DecodeCBOR(b)
}

// EncodeJSON produces the canonical JSON form of a value: compact, with
// object keys sorted.
func EncodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// round-trip through a generic value so struct field order does not leak
	// into the encoding
	var generic any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// PutJSON stores a value as canonical JSON under the DAG-JSON codec.
func (s *Store) PutJSON(ctx context.Context, v any) (cid.Cid, error) {
	b, err := EncodeJSON(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding json: %w", err)
	}
	return s.Put(ctx, b, CodecJSON)
}

// GetJSON loads a JSON value into out.
func (s *Store) GetJSON(ctx context.Context, c cid.Cid, out any) error {
	b, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding json block %s: %w", c, err)
	}
	return nil
}
