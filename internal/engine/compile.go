package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/grainql/internal/state"
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

// Compiled is the outcome of compiling one statement.
type Compiled struct {
	Name        string
	Fingerprint string
	Statement   any
	// Processed is the processor output: *core.ProcessedQuery,
	// *core.ProcessedQueryPersist or *core.ProcessedShowStatement.
	Processed any
	SQL       string
	CTENames  []string
	Duration  time.Duration
	// RecordID is the history id, empty when history is disabled.
	RecordID string
	Err      error
}

// Persist reports whether the statement writes a table.
func (c *Compiled) Persist() bool {
	_, ok := c.Statement.(*core.PersistStatement)
	return ok
}

// Outputs returns the output concepts of a select.
func (c *Compiled) Outputs() []*core.Concept {
	switch p := c.Processed.(type) {
	case *core.ProcessedQuery:
		return p.VisibleColumns()
	case *core.ProcessedQueryPersist:
		return p.VisibleColumns()
	case *core.ProcessedShowStatement:
		return p.Query.VisibleColumns()
	}
	return nil
}

// Compile compiles a named query of the active model.
func (e *Engine) Compile(ctx context.Context, name string) (*Compiled, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	q, err := m.Query(name)
	if err != nil {
		return nil, err
	}
	return e.CompileStatement(ctx, name, q.Statement)
}

// CompileSource compiles an ad-hoc query; see loader.Model.ParseQuery.
func (e *Engine) CompileSource(ctx context.Context, src string) (*Compiled, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	stmt, err := m.ParseQuery(src)
	if err != nil {
		return nil, err
	}
	return e.CompileStatement(ctx, "", stmt)
}

// Explain compiles a named query wrapped in the dialect's EXPLAIN.
func (e *Engine) Explain(ctx context.Context, name string) (*Compiled, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	q, err := m.Query(name)
	if err != nil {
		return nil, err
	}
	var sel *core.SelectStatement
	switch s := q.Statement.(type) {
	case *core.SelectStatement:
		sel = s
	case *core.PersistStatement:
		sel = s.Select
	default:
		return nil, fmt.Errorf("query %q cannot be explained", name)
	}
	return e.CompileStatement(ctx, name, &core.ShowStatement{Select: sel})
}

// CompileStatement processes and renders stmt, recording the attempt in
// history. Compile failures are returned as the error and also set on
// the result when one is produced.
func (e *Engine) CompileStatement(ctx context.Context, name string, stmt any) (*Compiled, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		Name:        name,
		Statement:   stmt,
		Fingerprint: state.Fingerprint(e.dialect.Name, statementText(stmt)),
	}
	start := time.Now()
	c.Processed, c.Err = processor.New(m.Env, e.compile).Process(stmt)
	if c.Err == nil {
		c.SQL, c.Err = e.dialect.Renderer(e.logger).Compile(c.Processed)
	}
	c.Duration = time.Since(start)
	c.CTENames = cteNames(c.Processed)

	e.logger.Debug("compiled statement",
		"name", name,
		"fingerprint", c.Fingerprint,
		"ctes", len(c.CTENames),
		"duration", c.Duration,
		"error", c.Err)
	e.record(ctx, c)
	if c.Err != nil {
		return c, c.Err
	}
	return c, nil
}

// CompileAll compiles the named queries in parallel. Results keep the
// order of names; per-query failures are reported on each result.
func (e *Engine) CompileAll(ctx context.Context, names []string) ([]*Compiled, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = m.QueryNames()
	}

	results := make([]*Compiled, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := e.Compile(gctx, name)
			if c == nil {
				c = &Compiled{Name: name, Err: err}
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) record(ctx context.Context, c *Compiled) {
	if e.store == nil {
		return
	}
	rec := &state.CompileRecord{
		Fingerprint: c.Fingerprint,
		QueryName:   c.Name,
		Dialect:     e.dialect.Name,
		Origin:      e.origin,
		SQL:         c.SQL,
		CTECount:    len(c.CTENames),
		Duration:    c.Duration,
		Status:      state.StatusSuccess,
	}
	if c.Err != nil {
		rec.Status = state.StatusFailed
		rec.Error = c.Err.Error()
	}
	if err := e.store.RecordCompile(ctx, rec); err != nil {
		e.logger.Warn("failed to record compile", "error", err)
		return
	}
	c.RecordID = rec.ID
}

func statementText(stmt any) string {
	switch s := stmt.(type) {
	case *core.SelectStatement:
		return s.String()
	case *core.PersistStatement:
		return "PERSIST " + s.Identifier() + " " + s.Select.String()
	case *core.ShowStatement:
		return "SHOW " + s.Select.String()
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprintf("%T", stmt)
}

func cteNames(processed any) []string {
	var ctes []*core.CTE
	switch p := processed.(type) {
	case *core.ProcessedQuery:
		ctes = p.CTEs
	case *core.ProcessedQueryPersist:
		ctes = p.CTEs
	case *core.ProcessedShowStatement:
		if p.Query != nil {
			ctes = p.Query.CTEs
		}
	}
	names := make([]string, len(ctes))
	for i, cte := range ctes {
		names[i] = cte.Name
	}
	return names
}
