package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"tracepipe/internal/engine"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestServer(enabled bool) (*Server, *Registry) {
	registry := NewRegistry()
	outer := engine.New(engine.DefaultConfig(), testLogger())
	srv := New("127.0.0.1:0", registry, outer, func() bool { return enabled }, testLogger())
	return srv, registry
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateContextSucceeds(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{
		OutputKind:  "null",
		TracePrefix: "t",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateContextDisabledReturns503(t *testing.T) {
	srv, _ := newTestServer(false)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{
		OutputKind:  "null",
		TracePrefix: "t",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateContextUnknownOutputKindReturns500(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{
		OutputKind:  "nonexistent",
		TracePrefix: "t",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetLimitAndHitLimitRoundTrip(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{OutputKind: "null", TracePrefix: "t"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/trace/src/limit", setLimitRequest{Kind: "count", Arg: 0})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/trace/src/hit_limit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp["hit"], "max_count of 0 must already be hit with zero traces so far")
}

func TestDestroyContextReturnsNoContent(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{OutputKind: "null", TracePrefix: "t"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/trace/src", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateContextAlreadyInstalledReturnsConflict(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{OutputKind: "null", TracePrefix: "t"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/trace/src", createContextRequest{OutputKind: "null", TracePrefix: "t"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSetLimitOnUnknownInputReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(true)

	rec := do(t, srv, http.MethodPost, "/api/v1/trace/never-created/limit", setLimitRequest{Kind: "count", Arg: 5})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
