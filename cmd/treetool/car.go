package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"

	"github.com/merkledb/ipfstrees/cas"
)

func runExportCAR(cctx *cli.Context) error {
	ctx := cctx.Context
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected snapshot CID and output path as arguments")
	}
	root, err := cid.Decode(cctx.Args().Get(0))
	if err != nil {
		return err
	}
	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	fi, err := os.Create(cctx.Args().Get(1))
	if err != nil {
		return err
	}
	defer fi.Close()
	w := bufio.NewWriter(fi)

	n, err := cas.WriteCAR(ctx, w, s, root)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	slog.Info("wrote CAR file", "path", cctx.Args().Get(1), "blocks", n)
	return nil
}

func runImportCAR(cctx *cli.Context) error {
	ctx := cctx.Context
	p := cctx.Args().First()
	if p == "" {
		return fmt.Errorf("need to provide path to CAR file as an argument")
	}
	fi, err := os.Open(p)
	if err != nil {
		return err
	}
	defer fi.Close()

	s, be, err := openStore(cctx)
	if err != nil {
		return err
	}
	defer be.Close()

	root, err := cas.ReadCAR(ctx, bufio.NewReader(fi), s)
	if err != nil {
		return err
	}
	fmt.Println(root.String())
	return nil
}
