package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merkledb/ipfstrees/cas"
)

func testServer(t *testing.T, store *cas.Store, snapshot string) *Server {
	t.Helper()
	srv, err := NewServer(context.Background(), Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Snapshot:   snapshot,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestRecordsAndProofs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	srv := testServer(t, cas.NewMemStore(), "")

	var health map[string]string
	assert.Equal(http.StatusOK, doRequest(t, srv, "GET", "/_health", "", &health))
	assert.Equal("ok", health["status"])

	var root map[string]string
	assert.Equal(http.StatusOK, doRequest(t, srv, "GET", "/merkle/root", "", &root))
	assert.Equal("", root["root"])

	for _, k := range []string{"m", "c", "x"} {
		var put PutRecordResponse
		code := doRequest(t, srv, "PUT", "/records/"+k, `{"name":"`+k+`","n":1}`, &put)
		require.Equal(http.StatusOK, code)
		assert.True(put.Created)
		assert.NotEmpty(put.Root)
	}
	assert.Equal(3.0, testutil.ToFloat64(srv.metrics.recordsWritten))

	var dup PutRecordResponse
	assert.Equal(http.StatusOK, doRequest(t, srv, "PUT", "/records/c", `{"name":"other"}`, &dup))
	assert.False(dup.Created)
	assert.Equal(1.0, testutil.ToFloat64(srv.metrics.recordsUnchanged))

	var got map[string]any
	assert.Equal(http.StatusOK, doRequest(t, srv, "GET", "/records/c", "", &got))
	assert.Equal("c", got["name"])

	var keys map[string][]string
	assert.Equal(http.StatusOK, doRequest(t, srv, "GET", "/records", "", &keys))
	assert.Equal([]string{"c", "m", "x"}, keys["keys"])

	var missing GenericError
	assert.Equal(http.StatusNotFound, doRequest(t, srv, "GET", "/records/nope", "", &missing))
	assert.Contains(missing.Message, "nope")
	assert.Equal(http.StatusNotFound, doRequest(t, srv, "GET", "/merkle/proof/nope", "", nil))

	var proof ProofResponse
	assert.Equal(http.StatusOK, doRequest(t, srv, "GET", "/merkle/proof/m", "", &proof))
	require.GreaterOrEqual(len(proof.Proof), 2)
	assert.Equal(1.0, testutil.ToFloat64(srv.metrics.proofsServed))

	body, err := json.Marshal(VerifyRequest{Proof: proof.Proof})
	require.NoError(err)
	var verdict map[string]bool
	assert.Equal(http.StatusOK, doRequest(t, srv, "POST", "/merkle/verify", string(body), &verdict))
	assert.True(verdict["valid"])

	tampered := append([]string{}, proof.Proof...)
	tampered[0] = strings.Repeat("00", 32)
	body, err = json.Marshal(VerifyRequest{Proof: tampered})
	require.NoError(err)
	assert.Equal(http.StatusOK, doRequest(t, srv, "POST", "/merkle/verify", string(body), &verdict))
	assert.False(verdict["valid"])

	assert.Equal(http.StatusBadRequest, doRequest(t, srv, "POST", "/merkle/verify", `{"proof":["zz"]}`, nil))
	assert.Equal(http.StatusBadRequest, doRequest(t, srv, "PUT", "/records/bad", `{not json`, nil))
}

func TestSnapshotResume(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	store := cas.NewMemStore()
	srv := testServer(t, store, "")
	for _, k := range []string{"b", "a", "c"} {
		require.Equal(http.StatusOK, doRequest(t, srv, "PUT", "/records/"+k, `{"k":"`+k+`"}`, nil))
	}

	var snap SnapshotResponse
	require.Equal(http.StatusOK, doRequest(t, srv, "POST", "/snapshot", "", &snap))
	assert.NotEmpty(snap.Snapshot)
	assert.NotEmpty(snap.Tree)
	assert.NotEmpty(snap.Data)

	resumed := testServer(t, store, snap.Snapshot)
	var root map[string]string
	require.Equal(http.StatusOK, doRequest(t, resumed, "GET", "/merkle/root", "", &root))
	assert.Equal(snap.Root, root["root"])

	var got map[string]any
	assert.Equal(http.StatusOK, doRequest(t, resumed, "GET", "/records/a", "", &got))
	assert.Equal("a", got["k"])

	var put PutRecordResponse
	require.Equal(http.StatusOK, doRequest(t, resumed, "PUT", "/records/d", `{"k":"d"}`, &put))
	assert.True(put.Created)
	assert.NotEqual(snap.Root, put.Root)

	var proof ProofResponse
	assert.Equal(http.StatusOK, doRequest(t, resumed, "GET", "/merkle/proof/b", "", &proof))
	assert.Equal(put.Root, proof.Proof[len(proof.Proof)-1])

	_, err := NewServer(context.Background(), Config{Store: store, Snapshot: "not-a-cid", Registerer: prometheus.NewRegistry()})
	assert.Error(err)
}

func TestErrorBodyWrittenOnce(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t, cas.NewMemStore(), "")

	for _, tc := range []struct {
		method, path, body string
		code               int
	}{
		{"GET", "/records/nope", "", http.StatusNotFound},
		{"GET", "/merkle/proof/nope", "", http.StatusNotFound},
		{"PUT", "/records/bad", `{not json`, http.StatusBadRequest},
		{"GET", "/no/such/route", "", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(tc.code, rec.Code, tc.path)
		assert.Equal(1, strings.Count(rec.Body.String(), `"error"`), rec.Body.String())
		var body GenericError
		assert.NoError(json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
		assert.Equal(http.StatusText(tc.code), body.Error)
	}
}
