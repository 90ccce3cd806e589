// Package processor turns statements into linearized queries: it resolves
// the strategy node tree, converts the resolved datasources into named
// CTEs, merges duplicates, runs the CTE optimizations and orders the result
// so every CTE follows the CTEs it reads.
package processor

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
	"github.com/leapstack-labs/grainql/pkg/resolver"
)

const logPrefix = "[QUERY BUILD]"

// Config holds processor configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// HumanNames names CTEs from a word list instead of their identifiers.
	HumanNames bool
	// InlineDatasources reads untransformed tables directly instead of
	// through their own CTE.
	InlineDatasources bool
	// PredicatePushdown moves scalar conditions into parent CTEs.
	PredicatePushdown bool
	// ValidateMissing fails when a CTE output has no source.
	ValidateMissing bool
	// MaxDepth bounds the resolver search; zero uses the resolver default.
	MaxDepth int
}

// DefaultConfig enables every optimization.
func DefaultConfig() Config {
	return Config{
		InlineDatasources: true,
		PredicatePushdown: true,
		ValidateMissing:   true,
	}
}

// Processor compiles statements against one environment snapshot.
type Processor struct {
	env    *core.Environment
	cfg    Config
	logger *slog.Logger
}

// New creates a processor for env.
func New(env *core.Environment, cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{env: env, cfg: cfg, logger: logger}
}

// Environment returns the snapshot the processor compiles against.
func (p *Processor) Environment() *core.Environment { return p.env }

func (p *Processor) resolver() (*resolver.Resolver, error) {
	return resolver.New(p.env, resolver.Config{Logger: p.logger, MaxDepth: p.cfg.MaxDepth})
}

// Process dispatches on the statement type. Supported statements are
// *core.SelectStatement, *core.MultiSelectStatement, *core.PersistStatement
// and *core.ShowStatement.
func (p *Processor) Process(stmt any) (any, error) {
	switch s := stmt.(type) {
	case *core.SelectStatement:
		return p.ProcessQuery(s)
	case *core.MultiSelectStatement:
		return p.ProcessMultiSelect(s)
	case *core.PersistStatement:
		return p.ProcessPersist(s)
	case *core.ShowStatement:
		return p.ProcessShow(s)
	}
	return nil, &core.InvalidArgumentError{Message: fmt.Sprintf("cannot process statement of type %T", stmt)}
}

// ProcessQuery resolves and linearizes a select.
func (p *Processor) ProcessQuery(stmt *core.SelectStatement) (*core.ProcessedQuery, error) {
	if len(stmt.OutputComponents()) == 0 {
		return nil, &core.InvalidSyntaxError{Message: "select has no output components"}
	}
	r, err := p.resolver()
	if err != nil {
		return nil, err
	}
	p.logger.Debug(logPrefix+" building query node", "outputs", core.SortedAddresses(stmt.OutputComponents()), "grain", stmt.Grain().String())
	node, err := r.QueryNode(stmt)
	if err != nil {
		return nil, fmt.Errorf("resolving query: %w", err)
	}
	pq, err := p.linearize(node, stmt.OutputComponents(), stmt.HiddenComponents(), stmt.Limit)
	if err != nil {
		return nil, err
	}
	pq.Grain = stmt.Grain()
	pq.Where = stmt.Where
	pq.Having = stmt.Having
	pq.OrderBy = stmt.OrderBy
	return pq, nil
}

// ProcessMultiSelect resolves and linearizes an aligned multiselect.
func (p *Processor) ProcessMultiSelect(stmt *core.MultiSelectStatement) (*core.ProcessedQuery, error) {
	outputs, err := stmt.OutputComponents()
	if err != nil {
		return nil, err
	}
	r, err := p.resolver()
	if err != nil {
		return nil, err
	}
	node, err := r.MultiSelectNode(stmt)
	if err != nil {
		return nil, fmt.Errorf("resolving multiselect: %w", err)
	}
	pq, err := p.linearize(node, outputs, stmt.HiddenComponents(), stmt.Limit)
	if err != nil {
		return nil, err
	}
	pq.Grain = stmt.Grain()
	pq.Where = stmt.Where
	pq.OrderBy = stmt.OrderBy
	return pq, nil
}

// ProcessPersist compiles the select of a persist statement and records
// where its rows are written.
func (p *Processor) ProcessPersist(stmt *core.PersistStatement) (*core.ProcessedQueryPersist, error) {
	pq, err := p.ProcessQuery(stmt.Select)
	if err != nil {
		return nil, err
	}
	return &core.ProcessedQueryPersist{
		ProcessedQuery: *pq,
		OutputTo:       stmt.Datasource.Address,
		Datasource:     stmt.Datasource,
	}, nil
}

// ProcessShow compiles the select of a show statement without running it.
func (p *Processor) ProcessShow(stmt *core.ShowStatement) (*core.ProcessedShowStatement, error) {
	pq, err := p.ProcessQuery(stmt.Select)
	if err != nil {
		return nil, err
	}
	return &core.ProcessedShowStatement{
		OutputColumns: []string{"__grainql_internal_query_text"},
		Query:         pq,
	}, nil
}

func (p *Processor) linearize(node *nodes.Node, outputs, hidden []*core.Concept, limit int) (*core.ProcessedQuery, error) {
	qds, err := node.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving datasources: %w", err)
	}
	l := &linearizer{names: newNameMap(p.cfg.HumanNames), validateMissing: p.cfg.ValidateMissing}
	rootCTE, err := l.toCTE(qds)
	if err != nil {
		return nil, fmt.Errorf("building ctes: %w", err)
	}
	ctes, root, err := dedupe(rootCTE)
	if err != nil {
		return nil, fmt.Errorf("merging ctes: %w", err)
	}
	root.Limit = limit
	root.Hidden = core.UniqueConcepts(append(slices.Clone(root.Hidden), hidden...))

	ctes, root, err = optimize(ctes, root, outputs, hidden, p.cfg, p.logger)
	if err != nil {
		return nil, err
	}
	root.Base = true
	p.logger.Debug(logPrefix+" linearized query", "ctes", len(ctes), "base", root.Name)
	return &core.ProcessedQuery{
		OutputColumns: outputs,
		CTEs:          ctes,
		Base:          root,
		Hidden:        hidden,
		Limit:         limit,
		OrderBy:       root.OrderBy,
	}, nil
}
