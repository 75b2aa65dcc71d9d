package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tablescan/internal/scan"
	"github.com/JakeFAU/tablescan/internal/storage/memory"
	"github.com/JakeFAU/tablescan/internal/store"
)

type fakeLive struct {
	stats scan.Stats
	ok    bool
}

func (f fakeLive) Live() (scan.Stats, bool) { return f.stats, f.ok }

func serve(t *testing.T, s *Server, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServerProbes(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	require.Equal(t, http.StatusOK, serve(t, s, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/readyz", nil).Code)

	rec := serve(t, s, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	down := NewServer(Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = serve(t, down, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "db down", decode(t, rec)["error"])
}

func TestServerLive(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), "/v1/live", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(Options{Live: fakeLive{}}), "/v1/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["running"])

	runID := uuid.New()
	live := fakeLive{ok: true, stats: scan.Stats{RunID: runID, Processed: 42, Corrupt: 1, Elapsed: 2 * time.Second}}
	rec = serve(t, NewServer(Options{Live: live}), "/v1/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, runID.String(), body["run_id"])
	require.EqualValues(t, 42, body["processed"])
	require.EqualValues(t, 1, body["corrupt"])
	require.EqualValues(t, 2000, body["elapsed_ms"])
}

func TestServerRunsWithoutRepository(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/runs/"+uuid.NewString(), nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/v1/runs/"+uuid.NewString()+"/units", nil).Code)
}

func TestServerRunHistory(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	require.NoError(t, repo.StartRun(ctx, store.Run{ID: runID, Job: "count", Source: "shard", StartedAt: started}))
	require.NoError(t, repo.RecordUnit(ctx, store.Unit{RunID: runID, Name: "a.gz", Result: store.UnitDone, Records: 7, At: started}))
	require.NoError(t, repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, store.Counters{Processed: 7}, nil))

	s := NewServer(Options{Repo: repo})

	rec := serve(t, s, "/v1/runs?status=success&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode(t, rec)["runs"].([]any)
	require.Len(t, runs, 1)
	require.Equal(t, "count", runs[0].(map[string]any)["job"])

	rec = serve(t, s, "/v1/runs/"+runID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode(t, rec)["run"].(map[string]any)
	require.Equal(t, "success", run["status"])
	require.EqualValues(t, 7, run["processed"])

	rec = serve(t, s, "/v1/runs/"+runID.String()+"/units", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	units := decode(t, rec)["units"].([]any)
	require.Len(t, units, 1)
	require.Equal(t, "a.gz", units[0].(map[string]any)["name"])

	require.Equal(t, http.StatusNotFound, serve(t, s, "/v1/runs/"+uuid.NewString(), nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/runs/not-a-uuid", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/runs?status=paused", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/runs/"+runID.String()+"/units?limit=-1", nil).Code)
}

func TestServerRepositoryErrors(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Repo: brokenRepo{}})
	require.Equal(t, http.StatusInternalServerError, serve(t, s, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusInternalServerError, serve(t, s, "/v1/runs/"+uuid.NewString(), nil).Code)
}

func TestServerAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{APIKey: "secret", Live: fakeLive{}})
	require.Equal(t, http.StatusForbidden, serve(t, s, "/v1/live", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/v1/live?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/v1/live", http.Header{"X-Api-Key": {"secret"}}).Code)
	// Probes stay open.
	require.Equal(t, http.StatusOK, serve(t, s, "/healthz", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	rec := serve(t, s, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, s, "/healthz", http.Header{"X-Request-Id": {"abc"}})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Live: panicLive{}})
	rec := serve(t, s, "/v1/live", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hj := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: hj}
	_, _, err = rw.Hijack()
	require.NoError(t, err)
	require.True(t, hj.hijacked)
}

type panicLive struct{}

func (panicLive) Live() (scan.Stats, bool) { panic("boom") }

type brokenRepo struct{ store.RunRepository }

func (brokenRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("conn refused")
}

func (brokenRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("conn refused")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}
