package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "treed",
		Usage:   "HTTP daemon serving a content-addressed record map with merkle proofs",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "blockstore URL (mem://, flatfs:///dir, pebble:///dir, sqlite://file, postgres://..., redis://...)",
			Value:   "pebble://./data/treed",
			EnvVars: []string{"TREED_STORE"},
		},
		&cli.StringFlag{
			Name:    "remote-store",
			Usage:   "optional shared blockstore URL consulted for blocks missing locally",
			EnvVars: []string{"TREED_REMOTE_STORE"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "number of blocks to keep in the in-memory read cache",
			Value:   16384,
			EnvVars: []string{"TREED_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"TREED_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
	}

	return app.Run(args)
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
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the treed API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":6700",
			EnvVars: []string{"TREED_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3990",
			EnvVars: []string{"TREED_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "snapshot",
			Usage:   "CID of a saved snapshot to resume from",
			EnvVars: []string{"TREED_SNAPSHOT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stdout)
		shutdownOTEL, err := configOTEL(cctx.Context, "treed")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := shutdownOTEL(ctx); err != nil {
				slog.Error("failed to shutdown trace exporter", "error", err)
			}
		}()

		srv, err := NewServer(cctx.Context, Config{
			Logger:     logger,
			Bind:       cctx.String("bind"),
			StoreURL:   cctx.String("store"),
			RemoteURL:  cctx.String("remote-store"),
			CacheSize:  cctx.Int("cache-size"),
			Snapshot:   cctx.String("snapshot"),
			Registerer: prometheus.DefaultRegisterer,
		})
		if err != nil {
			return fmt.Errorf("failed to construct server: %v", err)
		}

		// prometheus HTTP endpoint: /metrics
		go func() {
			runtime.SetBlockProfileRate(10)
			runtime.SetMutexProfileFraction(10)
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}
