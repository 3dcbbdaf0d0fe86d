// Package merkledb keeps a set of records in a content-addressed map and
// accumulates a keccak-256 digest of every record, so each record can be
// proven against a single root hash (for example one published on-chain).
package merkledb

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"

	"github.com/merkledb/ipfstrees/bst"
	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkle"
)

var log = slog.Default().With("system", "merkledb")

// ErrSnapshotMismatch means a stored accumulator does not hash to the root
// recorded in its snapshot.
var ErrSnapshotMismatch = errors.New("merkledb: snapshot root does not match accumulator")

// DB is an immutable view of the records and their accumulator. Writes
// return a new DB; the receiver stays valid and can be extended again.
type DB struct {
	store   *cas.Store
	records *bst.Map
	acc     *merkle.Node
}

func New(s *cas.Store) *DB {
	return &DB{store: s, records: bst.NewMap(s)}
}

func (db *DB) Store() *cas.Store {
	return db.store
}

func (db *DB) Records() *bst.Map {
	return db.records
}

func (db *DB) Accumulator() *merkle.Node {
	return db.acc
}

// Root returns the accumulator root digest, or nil when the DB is empty.
func (db *DB) Root() []byte {
	if db.acc == nil {
		return nil
	}
	return db.acc.Hash()
}

// SetCBOR stores rec as DAG-CBOR under k and adds the keccak-256 digest of
// the encoded record to the accumulator. Existing keys are left unchanged.
func (db *DB) SetCBOR(ctx context.Context, k string, rec any) (*DB, error) {
	b, err := cas.EncodeCBOR(rec)
	if err != nil {
		return nil, err
	}
	return db.set(ctx, k, b, cas.CodecCBOR)
}

// SetJSON stores v as canonical JSON under k and accumulates its digest.
func (db *DB) SetJSON(ctx context.Context, k string, v any) (*DB, error) {
	b, err := cas.EncodeJSON(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return db.set(ctx, k, b, cas.CodecJSON)
}

func (db *DB) set(ctx context.Context, k string, data []byte, codec uint64) (*DB, error) {
	c, err := db.store.Put(ctx, data, codec)
	if err != nil {
		return nil, err
	}
	records, err := db.records.Set(ctx, k, c)
	if err != nil {
		return nil, err
	}
	if records == db.records {
		return db, nil
	}
	acc, _, err := merkle.InsertHash(ctx, db.acc, merkle.HashLeaf(data))
	if err != nil {
		return nil, fmt.Errorf("accumulating %q: %w", k, err)
	}
	return &DB{store: db.store, records: records, acc: acc}, nil
}

// Get returns the raw encoded record under k, or nil if there is none.
func (db *DB) Get(ctx context.Context, k string) ([]byte, error) {
	c, ok, err := db.records.Get(ctx, k)
	if err != nil || !ok {
		return nil, err
	}
	return db.store.Get(ctx, c)
}

func (db *DB) GetCBOR(ctx context.Context, k string) (map[string]any, error) {
	return db.records.GetCBOR(ctx, k)
}

func (db *DB) GetJSON(ctx context.Context, k string, out any) (bool, error) {
	return db.records.GetJSON(ctx, k, out)
}

func (db *DB) Keys(ctx context.Context) ([]string, error) {
	return db.records.Keys(ctx)
}

// Proof returns [leaf, sibling..., root] for the record under k, or nil if
// there is no such record. The proof ends in this DB's root.
func (db *DB) Proof(ctx context.Context, k string) ([][]byte, error) {
	data, err := db.Get(ctx, k)
	if err != nil || data == nil {
		return nil, err
	}
	proof, err := merkle.ProveHash(ctx, db.acc, merkle.HashLeaf(data))
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, fmt.Errorf("merkledb: record %q is not in the accumulator", k)
	}
	return proof, nil
}

// Verify checks a proof against this DB's current root.
func (db *DB) Verify(proof [][]byte) bool {
	if len(proof) == 0 || db.acc == nil {
		return false
	}
	return bytes.Equal(proof[len(proof)-1], db.acc.Hash()) && merkle.VerifyProof(proof)
}

// Snapshot identifies a persisted DB: the accumulator root digest, the CID
// of the accumulator's root node and the CID of the record map's root node.
type Snapshot struct {
	Root    []byte
	TreeCID cid.Cid
	DataCID cid.Cid
}

func (s Snapshot) RootHex() string {
	return hex.EncodeToString(s.Root)
}

// Snapshot writes every block of the DB and returns the identifiers needed
// to reopen it.
func (db *DB) Snapshot(ctx context.Context) (*Snapshot, error) {
	treeCID, err := merkle.PutAll(ctx, db.store, db.acc)
	if err != nil {
		return nil, fmt.Errorf("persisting accumulator: %w", err)
	}
	results, err := db.records.PutAllSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("persisting records: %w", err)
	}
	dataCID, err := db.records.CID()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Root: db.Root(), TreeCID: treeCID, DataCID: dataCID}
	log.Debug("snapshot written", "root", snap.RootHex(), "tree", treeCID, "data", dataCID, "nodes", len(results))
	return snap, nil
}

// Open reopens a snapshot. Blocks are fetched lazily as they are used.
func Open(ctx context.Context, s *cas.Store, snap *Snapshot) (*DB, error) {
	records, err := bst.LoadMap(ctx, s, snap.DataCID)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	db := &DB{store: s, records: records}
	if !snap.TreeCID.Defined() {
		return db, nil
	}
	acc, err := merkle.Load(ctx, s, snap.TreeCID)
	if err != nil {
		return nil, fmt.Errorf("loading accumulator: %w", err)
	}
	if len(snap.Root) > 0 && !bytes.Equal(acc.Hash(), snap.Root) {
		return nil, ErrSnapshotMismatch
	}
	db.acc = acc
	return db, nil
}

// SaveSnapshot stores the snapshot itself as a block.
func SaveSnapshot(ctx context.Context, s *cas.Store, snap *Snapshot) (cid.Cid, error) {
	rec := map[string]any{}
	if len(snap.Root) > 0 {
		rec["root"] = snap.Root
	}
	if snap.TreeCID.Defined() {
		rec["tree"] = snap.TreeCID
	}
	if snap.DataCID.Defined() {
		rec["data"] = snap.DataCID
	}
	return s.PutCBOR(ctx, rec)
}

// LoadSnapshot reads a snapshot block written by SaveSnapshot.
func LoadSnapshot(ctx context.Context, s *cas.Store, c cid.Cid) (*Snapshot, error) {
	rec, err := s.GetCBOR(ctx, c)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if snap.Root, _, err = cas.Bytes(rec, "root"); err != nil {
		return nil, err
	}
	if snap.TreeCID, _, err = cas.Link(rec, "tree"); err != nil {
		return nil, err
	}
	if snap.DataCID, _, err = cas.Link(rec, "data"); err != nil {
		return nil, err
	}
	return &snap, nil
}
