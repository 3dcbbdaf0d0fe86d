package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/merkledb/ipfstrees/cas"
	"github.com/merkledb/ipfstrees/merkle"
	"github.com/merkledb/ipfstrees/merkledb"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PutRecordResponse struct {
	Key     string `json:"key"`
	CID     string `json:"cid"`
	Root    string `json:"root"`
	Created bool   `json:"created"`
}

type ProofResponse struct {
	Key   string   `json:"key"`
	Proof []string `json:"proof"`
}

type VerifyRequest struct {
	Proof []string `json:"proof"`
}

type SnapshotResponse struct {
	Snapshot string `json:"snapshot"`
	Root     string `json:"root,omitempty"`
	Tree     string `json:"tree,omitempty"`
	Data     string `json:"data,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	// logging and metrics middleware report the error before echo does
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		slog.Warn("treed-http-internal-error", "err", err)
		errorMessage = "internal server error"
	}
	c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) HandleListRecords(c echo.Context) error {
	ctx := c.Request().Context()
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	keys, err := srv.db.Keys(ctx)
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": keys})
}

func (srv *Server) HandleGetRecord(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	rc, ok, err := srv.db.Records().Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "record not found: "+key)
	}
	if rc.Prefix().Codec == cas.CodecCBOR {
		rec, err := srv.store.GetCBOR(ctx, rc)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, rec)
	}
	data, err := srv.store.Get(ctx, rc)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// HandlePutRecord stores the JSON request body under the key. Existing keys
// keep their first value.
func (srv *Server) HandlePutRecord(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %s", err))
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	next, err := srv.db.SetJSON(ctx, key, v)
	if err != nil {
		return err
	}
	created := next != srv.db
	srv.db = next
	if created {
		srv.metrics.recordsWritten.Inc()
	} else {
		srv.metrics.recordsUnchanged.Inc()
	}

	rc, _, err := next.Records().Get(ctx, key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PutRecordResponse{
		Key:     key,
		CID:     rc.String(),
		Root:    merkledb.Snapshot{Root: next.Root()}.RootHex(),
		Created: created,
	})
}

func (srv *Server) HandleMerkleRoot(c echo.Context) error {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return c.JSON(http.StatusOK, map[string]string{
		"root": merkledb.Snapshot{Root: srv.db.Root()}.RootHex(),
	})
}

func (srv *Server) HandleMerkleProof(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	proof, err := srv.db.Proof(ctx, key)
	if err != nil {
		return err
	}
	if proof == nil {
		return echo.NewHTTPError(http.StatusNotFound, "record not found: "+key)
	}
	srv.metrics.proofsServed.Inc()
	return c.JSON(http.StatusOK, ProofResponse{Key: key, Proof: merkle.FormatProof(proof)})
}

// HandleMerkleVerify checks a proof against the current root.
func (srv *Server) HandleMerkleVerify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	proof, err := merkle.ParseProof(req.Proof)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return c.JSON(http.StatusOK, map[string]bool{"valid": srv.db.Verify(proof)})
}

func (srv *Server) HandleSnapshot(c echo.Context) error {
	ctx := c.Request().Context()
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	snap, err := srv.db.Snapshot(ctx)
	if err != nil {
		return err
	}
	sc, err := merkledb.SaveSnapshot(ctx, srv.store, snap)
	if err != nil {
		return err
	}
	srv.metrics.snapshotsSaved.Inc()
	srv.logger.Info("snapshot saved", "snapshot", sc, "root", snap.RootHex())

	resp := SnapshotResponse{Snapshot: sc.String(), Root: snap.RootHex()}
	if snap.TreeCID.Defined() {
		resp.Tree = snap.TreeCID.String()
	}
	if snap.DataCID.Defined() {
		resp.Data = snap.DataCID.String()
	}
	return c.JSON(http.StatusOK, resp)
}
