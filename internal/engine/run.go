package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/leapstack-labs/grainql/internal/state"
	"github.com/leapstack-labs/grainql/pkg/adapter"
)

// Execution is the outcome of running a compiled statement.
type Execution struct {
	Compiled *Compiled
	// Result is nil for statements that write a table.
	Result   *adapter.Result
	Duration time.Duration
}

// Run executes a compiled statement against the target. limit caps the
// number of collected rows; zero collects everything.
func (e *Engine) Run(ctx context.Context, c *Compiled, limit int) (*Execution, error) {
	if c.Err != nil {
		return nil, fmt.Errorf("cannot run a failed compile: %w", c.Err)
	}
	db, err := e.ensureDBConnected(ctx)
	if err != nil {
		return nil, err
	}

	exec := &Execution{Compiled: c}
	start := time.Now()
	if c.Persist() {
		err = db.Exec(ctx, c.SQL)
	} else {
		var rows *adapter.Rows
		rows, err = db.Query(ctx, c.SQL)
		if err == nil {
			exec.Result, err = adapter.Collect(rows, limit)
		}
	}
	exec.Duration = time.Since(start)
	e.recordExecution(ctx, exec, err)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", displayName(c), err)
	}
	e.logger.Debug("executed statement", "name", c.Name, "duration", exec.Duration)
	return exec, nil
}

// CompileAndRun compiles a named query and executes it.
func (e *Engine) CompileAndRun(ctx context.Context, name string, limit int) (*Execution, error) {
	c, err := e.Compile(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, c, limit)
}

func (e *Engine) recordExecution(ctx context.Context, exec *Execution, runErr error) {
	if e.store == nil || exec.Compiled.RecordID == "" {
		return
	}
	rec := &state.ExecutionRecord{
		CompileID: exec.Compiled.RecordID,
		Target:    e.dbConfig.Type,
		Duration:  exec.Duration,
		Status:    state.StatusSuccess,
	}
	if exec.Result != nil {
		rec.RowCount = len(exec.Result.Rows)
	}
	if runErr != nil {
		rec.Status = state.StatusFailed
		rec.Error = runErr.Error()
	}
	if err := e.store.RecordExecution(ctx, rec); err != nil {
		e.logger.Warn("failed to record execution", "error", err)
	}
}

func displayName(c *Compiled) string {
	if c.Name != "" {
		return c.Name
	}
	return "query"
}
