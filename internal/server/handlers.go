package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/loader"
	"github.com/leapstack-labs/grainql/internal/state"
	"github.com/leapstack-labs/grainql/pkg/core"
)

// CompileRequest is the body of POST /compile. Exactly one of Query and
// Source is set.
type CompileRequest struct {
	// Query names a query of the model.
	Query string `json:"query,omitempty"`
	// Source is an ad-hoc query: a YAML query mapping or a comma separated
	// list of concepts.
	Source string `json:"source,omitempty"`
	// Run executes the compiled SQL against the target.
	Run   bool `json:"run,omitempty"`
	Limit int  `json:"limit,omitempty"`
}

// CompileResponse is the body of a successful POST /compile.
type CompileResponse struct {
	Name        string      `json:"name,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	Dialect     string      `json:"dialect"`
	SQL         string      `json:"sql"`
	CTEs        []string    `json:"ctes"`
	Columns     []string    `json:"columns"`
	DurationMS  float64     `json:"duration_ms"`
	HistoryID   string      `json:"history_id,omitempty"`
	Result      *ResultBody `json:"result,omitempty"`
}

// ResultBody holds executed rows.
type ResultBody struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	Truncated  bool     `json:"truncated,omitempty"`
	DurationMS float64  `json:"duration_ms"`
}

type errorBody struct {
	Error       string   `json:"error"`
	Kind        string   `json:"kind,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type historyBody struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Query       string    `json:"query,omitempty"`
	Dialect     string    `json:"dialect"`
	Origin      string    `json:"origin"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CTECount    int       `json:"cte_count"`
	DurationMS  float64   `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"dialect": s.engine.Dialect().Name,
	}
	if last := s.broker.Last(); last.Generation > 0 {
		body["generation"] = last.Generation
		if last.Error != "" {
			body["reload_error"] = last.Error
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleQueries(w http.ResponseWriter, _ *http.Request) {
	m, err := s.engine.Model()
	if err != nil {
		s.writeError(w, err)
		return
	}
	type queryBody struct {
		Name    string `json:"name"`
		File    string `json:"file"`
		Line    int    `json:"line"`
		Persist bool   `json:"persist,omitempty"`
	}
	out := make([]queryBody, 0, len(m.Queries))
	for _, name := range m.QueryNames() {
		q := m.Queries[name]
		_, persist := q.Statement.(*core.PersistStatement)
		out = append(out, queryBody{Name: q.Name, File: q.File, Line: q.Line, Persist: persist})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	derived, _ := strconv.ParseBool(q.Get("derived"))
	concepts, err := s.engine.Concepts(engine.ConceptFilter{
		Namespace: q.Get("namespace"),
		Purpose:   q.Get("purpose"),
		Derived:   derived,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if concepts == nil {
		concepts = []engine.ConceptInfo{}
	}
	writeJSON(w, http.StatusOK, concepts)
}

func (s *Server) handleDatasources(w http.ResponseWriter, _ *http.Request) {
	dss, err := s.engine.Datasources()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dss)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	store := s.engine.History()
	if store == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history is disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	recs, err := store.ListCompiles(r.Context(), state.HistoryFilter{
		QueryName: r.URL.Query().Get("query"),
		Status:    state.Status(r.URL.Query().Get("status")),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]historyBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyBody{
			ID:          rec.ID,
			Fingerprint: rec.Fingerprint,
			Query:       rec.QueryName,
			Dialect:     rec.Dialect,
			Origin:      rec.Origin,
			Status:      string(rec.Status),
			Error:       rec.Error,
			CTECount:    rec.CTECount,
			DurationMS:  millis(rec.Duration),
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if (req.Query == "") == (strings.TrimSpace(req.Source) == "") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "exactly one of query and source is required"})
		return
	}

	var (
		c   *engine.Compiled
		err error
	)
	if req.Query != "" {
		c, err = s.engine.Compile(r.Context(), req.Query)
	} else {
		c, err = s.engine.CompileSource(r.Context(), req.Source)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := CompileResponse{
		Name:        c.Name,
		Fingerprint: c.Fingerprint,
		Dialect:     s.engine.Dialect().Name,
		SQL:         c.SQL,
		CTEs:        c.CTENames,
		Columns:     []string{},
		DurationMS:  millis(c.Duration),
		HistoryID:   c.RecordID,
	}
	for _, out := range c.Outputs() {
		resp.Columns = append(resp.Columns, out.Address())
	}

	if req.Run {
		exec, err := s.engine.Run(r.Context(), c, req.Limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		body := &ResultBody{Columns: []string{}, Rows: [][]any{}, DurationMS: millis(exec.Duration)}
		if exec.Result != nil {
			body.Columns = exec.Result.Columns
			body.Truncated = exec.Result.Truncated
			for _, row := range exec.Result.Rows {
				body.Rows = append(body.Rows, jsonRow(row))
			}
		}
		resp.Result = body
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	ev := s.Reload(nil)
	status := http.StatusOK
	if ev.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ev)
}

// handleEvents streams reload events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	ch := s.broker.Subscribe()
	defer s.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: reload\nid: %d\ndata: %s\n\n", ev.Generation, data)
			flusher.Flush()
		}
	}
}

// writeError maps compiler errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		undefined *core.UndefinedConceptError
		defErr    *loader.DefinitionError
		parseErr  *loader.ParseError
	)
	switch {
	case errors.As(err, &undefined):
		status = http.StatusUnprocessableEntity
		body.Kind = "undefined_concept"
		body.Suggestions = undefined.Suggestions
	case errors.As(err, &defErr), errors.As(err, &parseErr):
		status = http.StatusUnprocessableEntity
		body.Kind = "model"
	case errors.Is(err, loader.ErrUnknownQuery):
		status = http.StatusNotFound
		body.Kind = "unknown_query"
	case errors.Is(err, core.ErrNoDatasource), errors.Is(err, core.ErrUnresolvable):
		status = http.StatusUnprocessableEntity
		body.Kind = "unresolvable"
	case errors.Is(err, core.ErrInvalidSyntax), errors.Is(err, core.ErrInvalidArgument):
		status = http.StatusBadRequest
		body.Kind = "invalid"
	case errors.Is(err, engine.ErrNoTarget):
		status = http.StatusConflict
		body.Kind = "no_target"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(logPrefix+" request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func jsonRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
			continue
		}
		out[i] = v
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
