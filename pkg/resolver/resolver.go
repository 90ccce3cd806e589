// Package resolver searches the concept graph for a tree of strategy nodes
// that produces a requested set of concepts.
//
// The entry points are QueryNode and MultiSelectNode. Both share a
// recursive search: the highest priority concept is produced by the
// generator for its derivation, the remaining concepts are offered to the
// same generator as optional enrichment, and the nodes found are merged
// once every concept is covered by one connected set of nodes.
package resolver

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
	"github.com/leapstack-labs/grainql/pkg/plan"
)

// DefaultMaxDepth bounds the recursion of a single resolution.
const DefaultMaxDepth = 30

const logPrefix = "[DISCOVERY LOOP]"

// Config holds resolver configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// MaxDepth bounds the search depth; zero means DefaultMaxDepth.
	MaxDepth int
}

// Resolver resolves statements against one environment snapshot. It is not
// safe for concurrent use; create one per goroutine.
type Resolver struct {
	env      *core.Environment
	graph    *plan.Graph
	logger   *slog.Logger
	maxDepth int
	history  *History
}

// New builds the concept graph of env and returns a resolver over it.
func New(env *core.Environment, cfg Config) (*Resolver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g, err := plan.BuildGraph(env)
	if err != nil {
		return nil, fmt.Errorf("building concept graph: %w", err)
	}
	return &Resolver{
		env:      env,
		graph:    g,
		logger:   logger,
		maxDepth: maxDepth,
		history:  NewHistory(),
	}, nil
}

// Environment returns the snapshot the resolver reads.
func (r *Resolver) Environment() *core.Environment { return r.env }

// Graph returns the concept graph.
func (r *Resolver) Graph() *plan.Graph { return r.graph }

// History memoizes searches within one resolver. A key under search is
// marked in flight so a recursive request for the same key reports not
// found instead of looping. A search that came back empty after such a
// cut is not memoized: the same key may resolve once nothing is in flight.
type History struct {
	found    map[string]*nodes.Node
	inFlight map[string]bool
	hits     int
	cuts     int
}

// NewHistory returns an empty memo.
func NewHistory() *History {
	return &History{found: map[string]*nodes.Node{}, inFlight: map[string]bool{}}
}

// Key normalizes a search request.
func (h *History) Key(concepts []*core.Concept, cond core.Condition, acceptPartial bool) string {
	var b strings.Builder
	b.WriteString(strings.Join(core.SortedAddresses(concepts), ","))
	b.WriteString("|")
	b.WriteString(core.ConditionString(cond))
	if acceptPartial {
		b.WriteString("|partial")
	}
	return b.String()
}

// Get returns a memoized result. A nil node with ok means the search ran
// and found nothing.
func (h *History) Get(key string) (*nodes.Node, bool) {
	n, ok := h.found[key]
	if ok {
		h.hits++
	}
	return n, ok
}

// Hits counts memo hits.
func (h *History) Hits() int { return h.hits }

func (h *History) start(key string) bool {
	if h.inFlight[key] {
		h.cuts++
		return false
	}
	h.inFlight[key] = true
	return true
}

// mark returns a checkpoint for cutSince.
func (h *History) mark() int { return h.cuts }

// cutSince reports whether a recursive request was cut after mark.
func (h *History) cutSince(mark int) bool { return h.cuts > mark }

func (h *History) finish(key string, n *nodes.Node, cut bool) {
	delete(h.inFlight, key)
	if n == nil && cut {
		return
	}
	h.found[key] = n
}

// priority orders derivations. Complex derivations are resolved first so
// the concepts they need can still be enriched from the rest of the query.
var priority = []core.Derivation{
	core.DerivationAggregate,
	core.DerivationWindow,
	core.DerivationFilter,
	core.DerivationRowset,
	core.DerivationMultiSelect,
	core.DerivationMerge,
	core.DerivationUnion,
	core.DerivationUnnest,
	core.DerivationBasic,
	core.DerivationRoot,
	core.DerivationConstant,
}

func priorityConcept(concepts []*core.Concept, attempted map[string]bool) (*core.Concept, error) {
	var singleRow []*core.Concept
	for _, d := range priority {
		for _, c := range concepts {
			if attempted[c.Address()] || c.Derivation() != d {
				continue
			}
			if c.Granularity() == core.SingleRow {
				singleRow = append(singleRow, c)
				continue
			}
			return c, nil
		}
	}
	if len(singleRow) > 0 {
		return singleRow[0], nil
	}
	keys := make([]string, 0, len(attempted))
	for k := range attempted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return nil, &core.UnresolvableQueryError{Reason: fmt.Sprintf("no remaining priority concepts, attempted %s", strings.Join(keys, ", "))}
}

// complexDerivation marks derivations that are computed over a subset of
// the query concepts and are never re-sourced as enrichment.
func complexDerivation(d core.Derivation) bool {
	switch d {
	case core.DerivationRoot, core.DerivationConstant:
		return false
	}
	return true
}

// candidateLists are the optional sets offered alongside the priority
// concept: every remaining concept first, then none.
func candidateLists(p *core.Concept, candidates []*core.Concept, skip map[string]bool) [][]*core.Concept {
	if p.Granularity() == core.SingleRow {
		return [][]*core.Concept{nil}
	}
	var first []*core.Concept
	for _, c := range candidates {
		if !skip[c.Address()] && c.Granularity() != core.SingleRow {
			first = append(first, c)
		}
	}
	if len(first) == 0 {
		return [][]*core.Concept{nil}
	}
	return [][]*core.Concept{first, nil}
}

func without(cs []*core.Concept, addr string) []*core.Concept {
	out := make([]*core.Concept, 0, len(cs))
	for _, c := range cs {
		if c.Address() != addr {
			out = append(out, c)
		}
	}
	return out
}

func union(lists ...[]*core.Concept) []*core.Concept {
	var out []*core.Concept
	for _, l := range lists {
		out = append(out, l...)
	}
	return core.UniqueConcepts(out)
}

// SourceConcepts returns a node producing every concept in mandatory with
// cond applied. The returned node records cond as preexisting. It returns
// a NoDatasourceError when no tree of nodes can produce the concepts.
func (r *Resolver) SourceConcepts(mandatory []*core.Concept, cond core.Condition) (*nodes.Node, error) {
	n, err := r.search(mandatory, cond, false, 0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &core.NoDatasourceError{Concepts: core.SortedAddresses(mandatory)}
	}
	return n, nil
}

func (r *Resolver) search(mandatory []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	mandatory = core.UniqueConcepts(mandatory)
	if len(mandatory) == 0 {
		return nil, &core.UnresolvableQueryError{Reason: "no concepts requested"}
	}
	if depth > r.maxDepth {
		return nil, &core.UnresolvableQueryError{Reason: fmt.Sprintf("maximum search depth %d exceeded for %s", r.maxDepth, strings.Join(core.SortedAddresses(mandatory), ", "))}
	}
	key := r.history.Key(mandatory, cond, acceptPartial)
	if n, ok := r.history.Get(key); ok {
		return n, nil
	}
	if !r.history.start(key) {
		r.logger.Debug(logPrefix+" recursive request, skipping", "depth", depth, "concepts", core.SortedAddresses(mandatory))
		return nil, nil
	}
	mark := r.history.mark()
	n, err := r.searchLoop(mandatory, cond, acceptPartial, depth)
	if err != nil {
		delete(r.history.inFlight, key)
		return nil, err
	}
	if n == nil && !acceptPartial {
		r.logger.Debug(logPrefix+" retrying accepting partial sources", "depth", depth, "concepts", core.SortedAddresses(mandatory))
		n, err = r.search(mandatory, cond, true, depth)
		if err != nil {
			delete(r.history.inFlight, key)
			return nil, err
		}
	}
	r.history.finish(key, n, r.history.cutSince(mark))
	return n, nil
}

func (r *Resolver) searchLoop(mandatory []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	rowArgs := core.RowArguments(cond)
	rowArgSet := core.AddressSet(rowArgs)
	attempted := map[string]bool{}
	skip := map[string]bool{}
	var (
		stack    []*nodes.Node
		joinKeys []*core.Concept
	)
	mandatorySet := core.AddressSet(mandatory)
	complete := false

	for len(attempted) < len(mandatory) {
		p, err := priorityConcept(mandatory, attempted)
		if err != nil {
			return nil, err
		}
		pushdown := cond != nil && complexDerivation(p.Derivation()) && !rowArgSet[p.Address()]
		candidates := union(without(mandatory, p.Address()), joinKeys)
		if cond != nil && !pushdown {
			candidates = union(candidates, rowArgs)
		}
		for _, optional := range candidateLists(p, candidates, skip) {
			r.logger.Debug(logPrefix+" sourcing",
				"depth", depth,
				"concept", p.Address(),
				"derivation", string(p.Derivation()),
				"optional", core.SortedAddresses(optional),
				"pushdown", pushdown)
			var genCond core.Condition
			if pushdown {
				genCond = cond
			}
			n, err := r.generate(p, optional, genCond, acceptPartial, depth+1)
			if err != nil {
				return nil, err
			}
			if n == nil {
				continue
			}
			if cond != nil && !pushdown && providesAll(n, rowArgs) {
				if n, err = r.applyCondition(n, cond, depth); err != nil {
					return nil, err
				}
			}
			stack = append(stack, n)
			if complexDerivation(p.Derivation()) {
				skip[p.Address()] = true
				for _, c := range n.UsableOutputs() {
					if !mandatorySet[c.Address()] && c.Granularity() != core.SingleRow {
						joinKeys = union(joinKeys, []*core.Concept{c})
					}
				}
			}
			break
		}
		attempted[p.Address()] = true
		complete = validateStack(stack, mandatory, acceptPartial)
		if complete && len(stack) == 1 {
			break
		}
	}

	r.logger.Debug(logPrefix+" finished sourcing loop",
		"depth", depth,
		"complete", complete,
		"stack", stackNames(stack),
		"concepts", core.SortedAddresses(mandatory))

	if !complete {
		return r.genMerge(mandatory, cond, acceptPartial, depth)
	}

	filtered := cond == nil
	if cond != nil {
		filtered = true
		for _, n := range stack {
			if !core.ConditionEqual(n.Preexisting, cond) {
				filtered = false
				break
			}
		}
	}
	outputs := mandatory
	if !filtered {
		outputs = union(mandatory, rowArgs)
		if !stackProvides(stack, rowArgs) {
			r.logger.Debug(logPrefix+" condition arguments missing, expanding", "depth", depth, "arguments", core.SortedAddresses(rowArgs))
			expanded := union(mandatory, rowArgs)
			if len(expanded) == len(mandatory) {
				return nil, nil
			}
			return r.search(expanded, cond, acceptPartial, depth+1)
		}
	}

	var out *nodes.Node
	if len(stack) == 1 && sameAddresses(stack[0].UsableOutputs(), outputs) {
		out = stack[0]
	} else {
		inputs := union(outputs)
		for _, n := range stack {
			inputs = union(inputs, n.UsableOutputs())
		}
		out = nodes.NewMergeNode(inputs, outputs, stack, nil).WithDepth(depth)
	}
	if !filtered {
		var err error
		if out, err = r.applyCondition(out, cond, depth); err != nil {
			return nil, err
		}
	} else if cond != nil {
		out = out.WithPreexisting(cond)
	}
	if _, err := out.Resolve(); err != nil {
		r.logger.Debug(logPrefix+" merge failed to resolve", "depth", depth, "error", err)
		return nil, nil
	}
	return out, nil
}

// applyCondition filters n by cond, sourcing the right side of any subselect
// comparison independently.
func (r *Resolver) applyCondition(n *nodes.Node, cond core.Condition, depth int) (*nodes.Node, error) {
	out := n.WithInputs(core.RowArguments(cond)...).WithCondition(cond).WithPreexisting(cond)
	for _, args := range core.ExistenceArguments(cond) {
		parent, err := r.search(args, nil, false, depth+1)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, &core.NoDatasourceError{Concepts: core.SortedAddresses(args)}
		}
		out = out.WithExistence(parent, args)
	}
	return out, nil
}

// validateStack reports whether the stack covers every concept and forms
// one connected component. Single row nodes connect to everything.
func validateStack(stack []*nodes.Node, concepts []*core.Concept, acceptPartial bool) bool {
	if len(stack) == 0 {
		return false
	}
	for _, c := range concepts {
		found := false
		for _, n := range stack {
			if !n.Provides(c.Address()) {
				continue
			}
			if acceptPartial || !core.ContainsAddress(n.Partial, c.Address()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return components(stack) <= 1
}

func components(stack []*nodes.Node) int {
	parent := make([]int, len(stack))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	joinable := make([][]*core.Concept, len(stack))
	for i, n := range stack {
		for _, c := range n.UsableOutputs() {
			if c.Granularity() != core.SingleRow {
				joinable[i] = append(joinable[i], c)
			}
		}
	}
	for i := range stack {
		for j := i + 1; j < len(stack); j++ {
			if len(joinable[i]) == 0 || len(joinable[j]) == 0 || shares(joinable[i], stack[j]) {
				parent[find(i)] = find(j)
			}
		}
	}
	roots := map[int]bool{}
	for i := range stack {
		roots[find(i)] = true
	}
	return len(roots)
}

func shares(cs []*core.Concept, n *nodes.Node) bool {
	for _, c := range cs {
		if n.Provides(c.Address()) {
			return true
		}
	}
	return false
}

func providesAll(n *nodes.Node, cs []*core.Concept) bool {
	for _, c := range cs {
		if !n.Provides(c.Address()) {
			return false
		}
	}
	return true
}

func stackProvides(stack []*nodes.Node, cs []*core.Concept) bool {
	for _, c := range cs {
		found := false
		for _, n := range stack {
			if n.Provides(c.Address()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sameAddresses(a, b []*core.Concept) bool {
	as, bs := core.SortedAddresses(a), core.SortedAddresses(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func stackNames(stack []*nodes.Node) []string {
	out := make([]string, len(stack))
	for i, n := range stack {
		out[i] = n.String()
	}
	return out
}
