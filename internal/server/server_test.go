package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/adapter"
	_ "github.com/leapstack-labs/grainql/pkg/adapters/sqlite"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

func newTestServer(t *testing.T) (*Server, *testutil.Project) {
	t.Helper()
	p := testutil.NewOrderProject(t)
	e, err := engine.New(engine.Config{
		ModelsDir: p.ModelsDir,
		StatePath: p.StatePath,
		Target:    &adapter.Config{Type: "sqlite", Path: p.Database},
		Compile:   processor.DefaultConfig(),
		Origin:    state.OriginServer,
		Logger:    testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	_, err = e.Load()
	require.NoError(t, err)
	return New(Config{Engine: e, Logger: testutil.NewTestLogger(t)}), p
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sqlite", body["dialect"])
}

func TestCompile(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"named query", `{"query": "revenue_by_category"}`, http.StatusOK, ""},
		{"ad-hoc source", `{"source": "category_name, total_revenue"}`, http.StatusOK, ""},
		{"unknown query", `{"query": "revenue"}`, http.StatusNotFound, "unknown_query"},
		{"undefined concept", `{"source": "category_nam"}`, http.StatusUnprocessableEntity, "undefined_concept"},
		{"both set", `{"query": "toy_orders", "source": "order_id"}`, http.StatusBadRequest, ""},
		{"neither set", `{}`, http.StatusBadRequest, ""},
		{"unknown field", `{"sql": "select 1"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/compile", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				resp := decode[CompileResponse](t, rec)
				assert.Contains(t, resp.SQL, "SELECT")
				assert.Equal(t, "sqlite", resp.Dialect)
				assert.NotEmpty(t, resp.Fingerprint)
				assert.NotEmpty(t, resp.HistoryID)
				assert.Equal(t, []string{"local.category_name", "local.total_revenue"}, resp.Columns)
				assert.Nil(t, resp.Result)
				return
			}
			body := decode[errorBody](t, rec)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.wantKind, body.Kind)
		})
	}
}

func TestCompile_Run(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/compile", `{"query": "revenue_by_category", "run": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[CompileResponse](t, rec)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Rows, 2)
	assert.Equal(t, "toys", resp.Result.Rows[0][0])
	assert.InDelta(t, 14.0, resp.Result.Rows[0][1], 0.001)
	assert.Equal(t, "games", resp.Result.Rows[1][0])
}

func TestCatalogEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/queries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	queries := decode[[]map[string]any](t, rec)
	require.Len(t, queries, 2)
	assert.Equal(t, "revenue_by_category", queries[0]["name"])

	rec = do(t, h, http.MethodGet, "/concepts?purpose=key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	concepts := decode[[]engine.ConceptInfo](t, rec)
	require.Len(t, concepts, 3)
	for _, c := range concepts {
		assert.Equal(t, "key", c.Purpose)
	}

	rec = do(t, h, http.MethodGet, "/datasources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dss := decode[[]engine.DatasourceInfo](t, rec)
	assert.Len(t, dss, 3)
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	do(t, h, http.MethodPost, "/compile", `{"query": "toy_orders"}`)
	do(t, h, http.MethodPost, "/compile", `{"query": "revenue_by_category"}`)

	rec := do(t, h, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[[]historyBody](t, rec)
	require.Len(t, hist, 2)
	assert.Equal(t, "revenue_by_category", hist[0].Query, "newest first")
	assert.Equal(t, "success", hist[0].Status)
	assert.Equal(t, "toy_orders", hist[1].Query)
	assert.Equal(t, state.OriginServer, hist[1].Origin)

	rec = do(t, h, http.MethodGet, "/history?query=toy_orders", "")
	assert.Len(t, decode[[]historyBody](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload_KeepsModelOnError(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	testutil.WriteFile(t, filepath.Join(p.ModelsDir, "broken.yaml"), "concepts:\n  - {name: x, lineage: {function: sum, args: [missing]}}\n")
	rec := do(t, h, http.MethodPost, "/reload", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	ev := decode[ReloadEvent](t, rec)
	assert.Equal(t, 1, ev.Generation)
	assert.Contains(t, ev.Error, "missing")

	rec = do(t, h, http.MethodPost, "/compile", `{"query": "toy_orders"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "previous model still serves")

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Contains(t, decode[map[string]any](t, rec)["reload_error"], "missing")
}

func TestEvents_StreamsReloads(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription is registered before the headers are flushed
	s.Reload([]string{"orders.yaml"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "event: reload", lines[0])
	assert.Equal(t, "id: 1", lines[1])
	assert.Contains(t, lines[2], `"queries":2`)
}
