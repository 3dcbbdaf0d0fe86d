package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkle"
	"github.com/merkledb/ipfstrees/merkledb"
)

func runImportJSON(cctx *cli.Context) error {
	ctx := cctx.Context
	p := cctx.Args().First()
	if p == "" {
		return fmt.Errorf("need to provide path to JSON file as an argument")
	}

	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	var rows map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("expected a JSON object of records: %w", err)
	}

	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	// accumulator shape depends on insertion order, so keep it stable
	db := merkledb.New(s)
	for _, k := range slices.Sorted(maps.Keys(rows)) {
		var v any
		if err := json.Unmarshal(rows[k], &v); err != nil {
			return err
		}
		db, err = db.SetJSON(ctx, k, v)
		if err != nil {
			return err
		}
	}

	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	snapCID, err := merkledb.SaveSnapshot(ctx, s, snap)
	if err != nil {
		return err
	}
	return printJSON(snapshotJSON(snapCID, snap))
}

func snapshotJSON(c cid.Cid, snap *merkledb.Snapshot) map[string]any {
	out := map[string]any{
		"snapshot": c.String(),
		"root":     snap.RootHex(),
	}
	if snap.TreeCID.Defined() {
		out["tree"] = snap.TreeCID.String()
	}
	if snap.DataCID.Defined() {
		out["data"] = snap.DataCID.String()
	}
	return out
}

func runGet(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected snapshot CID and key as arguments")
	}
	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	db, err := openSnapshot(ctx, s, cctx.Args().Get(0))
	if err != nil {
		return err
	}
	k := cctx.Args().Get(1)
	c, ok, err := db.Records().Get(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record not found: %s", k)
	}
	if c.Prefix().Codec == cas.CodecCBOR {
		rec, err := s.GetCBOR(ctx, c)
		if err != nil {
			return err
		}
		return printJSON(rec)
	}
	var v any
	if err := s.GetJSON(ctx, c, &v); err != nil {
		return err
	}
	return printJSON(v)
}

func runKeys(cctx *cli.Context) error {
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
	for k, err := range db.Records().Entries(ctx) {
		if err != nil {
			return err
		}
		fmt.Println(k.String())
	}
	return nil
}

func runProof(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected snapshot CID and key as arguments")
	}
	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	db, err := openSnapshot(ctx, s, cctx.Args().Get(0))
	if err != nil {
		return err
	}
	proof, err := db.Proof(ctx, cctx.Args().Get(1))
	if err != nil {
		return err
	}
	if proof == nil {
		return fmt.Errorf("record not found: %s", cctx.Args().Get(1))
	}
	return printJSON(merkle.FormatProof(proof))
}

func runVerifyProof(cctx *cli.Context) error {
	proof, err := merkle.ParseProof(cctx.Args().Slice())
	if err != nil {
		return err
	}
	if !merkle.VerifyProof(proof) {
		return fmt.Errorf("proof does not verify")
	}
	fmt.Println("proof is valid")
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
