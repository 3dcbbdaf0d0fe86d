package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/ipfs/go-cid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkledb"
)

func main() {
	app := cli.App{
		Name:    "treetool",
		Usage:   "development tool for content-addressed record trees and merkle proofs",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "blockstore URL (mem://, flatfs:///dir, pebble:///dir, sqlite://file, postgres://..., redis://...)",
				Value:   "pebble://./data/treetool",
				EnvVars: []string{"TREETOOL_STORE"},
			},
			&cli.StringFlag{
				Name:    "remote-store",
				Usage:   "optional shared blockstore URL consulted for blocks missing locally",
				EnvVars: []string{"TREETOOL_REMOTE_STORE"},
			},
			&cli.IntFlag{
				Name:    "cache-size",
				Usage:   "number of blocks to keep in the in-memory read cache",
				Value:   4096,
				EnvVars: []string{"TREETOOL_CACHE_SIZE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"TREETOOL_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
			},
		},
		Before: func(cctx *cli.Context) error {
			configLogger(cctx, os.Stderr)
			return nil
		},
	}
	app.Commands = []*cli.Command{
		&cli.Command{
			Name:      "import-json",
			Usage:     "load a JSON object of records, accumulate them and write a snapshot",
			ArgsUsage: "<path>",
			Action:    runImportJSON,
		},
		&cli.Command{
			Name:      "get",
			Usage:     "print one record from a snapshot",
			ArgsUsage: "<snapshot-cid> <key>",
			Action:    runGet,
		},
		&cli.Command{
			Name:      "keys",
			Usage:     "list record keys of a snapshot in order",
			ArgsUsage: "<snapshot-cid>",
			Action:    runKeys,
		},
		&cli.Command{
			Name:      "print",
			Usage:     "pretty-print the record tree (or accumulator) of a snapshot",
			ArgsUsage: "<snapshot-cid>",
			Action:    runPrint,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "merkle",
					Usage: "print the accumulator instead of the record tree",
				},
			},
		},
		&cli.Command{
			Name:      "proof",
			Usage:     "print the merkle proof for a record",
			ArgsUsage: "<snapshot-cid> <key>",
			Action:    runProof,
		},
		&cli.Command{
			Name:      "verify-proof",
			Usage:     "check a proof given as hex digests: leaf, siblings..., root",
			ArgsUsage: "<hex>...",
			Action:    runVerifyProof,
		},
		&cli.Command{
			Name:      "export-car",
			Usage:     "write every block reachable from a snapshot to a CAR file",
			ArgsUsage: "<snapshot-cid> <path>",
			Action:    runExportCAR,
		},
		&cli.Command{
			Name:      "import-car",
			Usage:     "copy the blocks of a CAR file into the store",
			ArgsUsage: "<path>",
			Action:    runImportCAR,
		},
	}
	app.RunAndExitOnError()
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func openStore(cctx *cli.Context) (*cas.Store, *cas.Backend, error) {
	be, err := cas.Open(cctx.Context, cas.Config{
		URL:       cctx.String("store"),
		RemoteURL: cctx.String("remote-store"),
		CacheSize: cctx.Int("cache-size"),
	})
	if err != nil {
		return nil, nil, err
	}
	return cas.NewStore(be, nil), be, nil
}

func openSnapshot(ctx context.Context, s *cas.Store, arg string) (*merkledb.DB, error) {
	c, err := cid.Decode(arg)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot CID: %w", err)
	}
	snap, err := merkledb.LoadSnapshot(ctx, s, c)
	if err != nil {
		return nil, err
	}
	return merkledb.Open(ctx, s, snap)
}
