package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkledb"
)

type Server struct {
	echo    *echo.Echo
	httpd   *http.Server
	logger  *slog.Logger
	store   *cas.Store
	backend *cas.Backend
	metrics *serverMetrics

	// writers hold the lock exclusively so each write extends the latest db.
	mu sync.RWMutex
	db *merkledb.DB
}

type Config struct {
	Logger    *slog.Logger
	Bind      string
	StoreURL  string
	RemoteURL string
	CacheSize int
	// Snapshot is an optional snapshot CID to resume from.
	Snapshot string
	// Store overrides StoreURL, RemoteURL and CacheSize when set.
	Store      *cas.Store
	Registerer prometheus.Registerer
}

func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	store := config.Store
	var backend *cas.Backend
	if store == nil {
		be, err := cas.Open(ctx, cas.Config{
			URL:       config.StoreURL,
			RemoteURL: config.RemoteURL,
			CacheSize: config.CacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("opening blockstore: %w", err)
		}
		backend = be
		store = cas.NewStore(be, cas.NewMetrics(reg))
	}

	db := merkledb.New(store)
	if config.Snapshot != "" {
		c, err := cid.Decode(config.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot CID: %w", err)
		}
		snap, err := merkledb.LoadSnapshot(ctx, store, c)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		db, err = merkledb.Open(ctx, store, snap)
		if err != nil {
			return nil, err
		}
		logger.Info("resumed from snapshot", "snapshot", c, "root", snap.RootHex())
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:    e,
		logger:  logger,
		store:   store,
		backend: backend,
		metrics: newServerMetrics(reg),
		db:      db,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "treed",
		Registerer: reg,
	}))
	e.Use(otelecho.Middleware("treed"))
	e.Use(middleware.BodyLimit("4M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/records", srv.HandleListRecords)
	e.GET("/records/:key", srv.HandleGetRecord)
	e.PUT("/records/:key", srv.HandlePutRecord)
	e.GET("/merkle/root", srv.HandleMerkleRoot)
	e.GET("/merkle/proof/:key", srv.HandleMerkleProof)
	e.POST("/merkle/verify", srv.HandleMerkleVerify)
	e.POST("/snapshot", srv.HandleSnapshot)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	slog.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	slog.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		slog.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	slog.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.httpd.Shutdown(ctx)
	if srv.backend != nil {
		if cerr := srv.backend.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
