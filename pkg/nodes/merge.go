package nodes

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/grainql/pkg/core"
)

func (n *Node) resolveMerge() (*core.QueryDatasource, error) {
	sources, err := resolveAll(n.Parents)
	if err != nil {
		return nil, err
	}

	merged := map[string]core.Source{}
	var order []string
	for _, s := range sources {
		existing, ok := merged[s.FullName()]
		if !ok {
			merged[s.FullName()] = s
			order = append(order, s.FullName())
			continue
		}
		eq, lok := existing.(*core.QueryDatasource)
		sq, rok := s.(*core.QueryDatasource)
		if lok && rok && eq != sq {
			sum, err := eq.Add(sq)
			if err != nil {
				return nil, err
			}
			merged[s.FullName()] = sum
		}
	}
	removed := deduplicate(merged, order)
	datasets := make([]core.Source, 0, len(order))
	for _, name := range order {
		if !removed[name] {
			datasets = append(datasets, merged[name])
		}
	}

	if n.Condition == nil && len(n.ExistenceParents) == 0 {
		if len(datasets) == 1 {
			if q, ok := datasets[0].(*core.QueryDatasource); ok && sameAddressSet(q.Outputs, n.Outputs) && sameAddressSet(q.Hidden, n.Hidden) {
				return q, nil
			}
		}
		for _, d := range datasets {
			q, ok := d.(*core.QueryDatasource)
			if !ok || len(n.Hidden) > 0 {
				continue
			}
			complete := map[string]bool{}
			for _, addr := range q.NonPartialAddresses() {
				complete[addr] = true
			}
			if containsAll(complete, n.Outputs) && !hasHidden(q, n.Outputs) {
				return q, nil
			}
		}
	}

	var pregrain core.Grain
	for _, d := range datasets {
		pregrain = pregrain.Add(d.SourceGrain())
	}

	var joins []*core.BaseJoin
	if len(datasets) > 1 {
		if n.Joins != nil {
			joins, err = translateJoins(n.Joins)
		} else {
			joins, err = InferJoins(datasets)
		}
		if err != nil {
			return nil, err
		}
	}
	grain := joinedGrain(datasets, joins)
	if n.Grain != nil {
		grain = *n.Grain
	}

	force := n.ForceGroup
	if n.WholeGrain {
		force = core.GroupSkip
	} else if force == core.GroupAuto {
		fits := pregrain.Issubset(grain)
		for _, d := range datasets {
			if d.SourceGrain().Issubset(grain) {
				fits = true
			}
		}
		if !fits {
			force = core.GroupForce
		}
	}

	full := map[string]bool{}
	for _, j := range joins {
		if j.JoinType != core.JoinFull {
			continue
		}
		for _, c := range j.Concepts {
			full[c.Address()] = true
		}
		for _, p := range j.ConceptPairs {
			full[p.Left.Address()] = true
			full[p.Right.Address()] = true
		}
	}
	sm := conceptMap(datasets, n.Outputs, n.inherited(), full)
	existence, err := n.resolveExistence()
	if err != nil {
		return nil, err
	}
	nullable := findNullable(sm, joins, datasets)
	return core.NewQueryDatasource(core.QueryDatasource{
		Inputs:           n.Inputs,
		Outputs:          n.Outputs,
		SourceMap:        sm,
		Datasources:      datasets,
		Grain:            grain,
		Joins:            joins,
		Condition:        n.Condition,
		SourceType:       core.SourceMerge,
		Partial:          n.outputsOnly(n.Partial),
		Nullable:         n.outputsOnly(nullable),
		Hidden:           n.Hidden,
		ForceGroup:       force,
		OrderBy:          n.OrderBy,
		Limit:            n.Limit,
		ExistenceSources: existence,
	}, true)
}

func containsAll(set map[string]bool, cs []*core.Concept) bool {
	for _, c := range cs {
		if !set[c.Address()] {
			return false
		}
	}
	return true
}

func hasHidden(q *core.QueryDatasource, cs []*core.Concept) bool {
	for _, c := range cs {
		if core.ContainsAddress(q.Hidden, c.Address()) {
			return true
		}
	}
	return false
}

// deduplicate drops datasets whose complete outputs and grain are covered
// by another unfiltered, fully complete dataset. It returns removed names.
func deduplicate(merged map[string]core.Source, order []string) map[string]bool {
	removed := map[string]bool{}
	for changed := true; changed; {
		changed = false
		for _, k1 := range order {
			if removed[k1] || !dedupable(merged[k1]) {
				continue
			}
			for _, k2 := range order {
				if k1 == k2 || removed[k2] || !dedupable(merged[k2]) {
					continue
				}
				a, b := merged[k1], merged[k2]
				if containsAll(core.AddressSet(b.OutputConcepts()), a.OutputConcepts()) && a.SourceGrain().Issubset(b.SourceGrain()) {
					removed[k1] = true
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	return removed
}

func dedupable(s core.Source) bool {
	if len(s.PartialConcepts()) > 0 {
		return false
	}
	if q, ok := s.(*core.QueryDatasource); ok && q.Condition != nil {
		return false
	}
	return true
}

func translateJoins(joins []NodeJoin) ([]*core.BaseJoin, error) {
	var out []*core.BaseJoin
	seen := map[string]bool{}
	for _, j := range joins {
		left, err := j.Left.Resolve()
		if err != nil {
			return nil, err
		}
		right, err := j.Right.Resolve()
		if err != nil {
			return nil, err
		}
		if left.Identifier() == right.Identifier() {
			continue
		}
		bj, err := core.NewBaseJoin(left, right, j.Concepts, j.JoinType, j.FilterToMutual)
		if err != nil {
			return nil, err
		}
		if seen[bj.UniqueID()] {
			return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("duplicate join %s", bj.UniqueID())}
		}
		seen[bj.UniqueID()] = true
		out = append(out, bj)
	}
	return out, nil
}

// joinedGrain is the grain of the join result. A join on every grain
// component of its right side is many to one and keeps the grain.
func joinedGrain(datasets []core.Source, joins []*core.BaseJoin) core.Grain {
	if len(datasets) == 0 {
		return core.Grain{}
	}
	if len(joins) == 0 {
		return core.SumGrains(grainsOf(datasets)...)
	}
	grain := joins[0].Left.SourceGrain()
	for _, j := range joins {
		keys := map[string]bool{}
		for _, c := range j.Concepts {
			keys[c.Address()] = true
		}
		for _, p := range j.ConceptPairs {
			keys[p.Left.Address()] = true
			keys[p.Right.Address()] = true
		}
		right := j.Right.SourceGrain()
		switch {
		case len(keys) > 0 && allKeys(right, keys):
		case len(keys) > 0 && allKeys(grain, keys):
			grain = right
		default:
			grain = grain.Add(right)
		}
	}
	return grain
}

func grainsOf(ss []core.Source) []core.Grain {
	out := make([]core.Grain, len(ss))
	for i, s := range ss {
		out[i] = s.SourceGrain()
	}
	return out
}

func allKeys(g core.Grain, keys map[string]bool) bool {
	for _, c := range g.Components() {
		if !keys[c] {
			return false
		}
	}
	return true
}

type joinSide struct {
	src      core.Source
	outputs  []*core.Concept
	partial  map[string]bool
	nullable map[string]bool
}

func newJoinSide(s core.Source) *joinSide {
	hidden := hiddenOf(s)
	side := &joinSide{
		src:      s,
		partial:  core.AddressSet(s.PartialConcepts()),
		nullable: core.AddressSet(s.NullableConcepts()),
	}
	for _, c := range s.OutputConcepts() {
		if !hidden[c.Address()] {
			side.outputs = append(side.outputs, c)
		}
	}
	return side
}

func (s *joinSide) find(c *core.Concept) (*core.Concept, bool) {
	var alias *core.Concept
	for _, o := range s.outputs {
		if o.Address() == c.Address() {
			return o, true
		}
		if alias == nil && (o.HasPseudonym(c.Address()) || c.HasPseudonym(o.Address())) {
			alias = o
		}
	}
	return alias, alias != nil
}

func (s *joinSide) shared(joined []*joinSide) int {
	count := 0
	for _, o := range s.outputs {
		if o.Granularity() == core.SingleRow {
			continue
		}
		for _, j := range joined {
			if _, ok := j.find(o); ok {
				count++
				break
			}
		}
	}
	return count
}

// InferJoins builds the join tree of datasets from the concepts they share.
// The finest grained dataset is the base. Each remaining dataset joins on
// every concept it shares with the datasets already placed: inner when the
// keys are complete on both sides, left outer when they are partial or
// nullable on the right, full when they are partial on the left. Datasets
// sharing nothing are cross joined when single row and full joined
// otherwise. An inner join reading from the right side of an outer join
// is downgraded to left outer.
func InferJoins(datasets []core.Source) ([]*core.BaseJoin, error) {
	sides := make([]*joinSide, len(datasets))
	for i, d := range datasets {
		sides[i] = newJoinSide(d)
	}
	sort.SliceStable(sides, func(i, j int) bool {
		gi, gj := len(sides[i].src.SourceGrain().Components()), len(sides[j].src.SourceGrain().Components())
		if gi != gj {
			return gi > gj
		}
		if pi, pj := len(sides[i].partial), len(sides[j].partial); pi != pj {
			return pi < pj
		}
		return sides[i].src.FullName() < sides[j].src.FullName()
	})

	joined := []*joinSide{sides[0]}
	remaining := sides[1:]
	var joins []*core.BaseJoin
	outerRights := map[string]bool{}
	seen := map[string]bool{}
	for len(remaining) > 0 {
		best, bestShared := 0, 0
		for i, r := range remaining {
			if s := r.shared(joined); s > bestShared {
				best, bestShared = i, s
			}
		}
		right := remaining[best]
		remaining = append(append([]*joinSide{}, remaining[:best]...), remaining[best+1:]...)

		var pairs []core.ConceptPair
		leftPartial, rightPartial, leftOuter := false, false, false
		for _, o := range right.outputs {
			if o.Granularity() == core.SingleRow {
				continue
			}
			for _, j := range joined {
				lc, ok := j.find(o)
				if !ok {
					continue
				}
				pairs = append(pairs, core.ConceptPair{Left: lc, Right: o, Existing: j.src})
				leftPartial = leftPartial || j.partial[lc.Address()]
				rightPartial = rightPartial || right.partial[o.Address()] || right.nullable[o.Address()]
				leftOuter = leftOuter || outerRights[j.src.FullName()]
				break
			}
		}
		pairs = reducePairs(pairs)

		var (
			bj  *core.BaseJoin
			err error
		)
		if len(pairs) == 0 {
			jt := core.JoinFull
			if allSingleRow(right.outputs) || allSingleRow(joined[0].outputs) {
				jt = core.JoinCross
			}
			bj, err = core.NewBaseJoin(joined[0].src, right.src, nil, jt, false)
		} else {
			jt := core.JoinInner
			switch {
			case leftPartial:
				jt = core.JoinFull
			case rightPartial || leftOuter:
				jt = core.JoinLeftOuter
			}
			bj, err = core.NewPairJoin(pairs[0].Existing, right.src, pairs, jt)
		}
		if err != nil {
			return nil, err
		}
		if seen[bj.UniqueID()] {
			return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("duplicate join %s", bj.UniqueID())}
		}
		seen[bj.UniqueID()] = true
		if bj.JoinType == core.JoinLeftOuter || bj.JoinType == core.JoinFull {
			outerRights[right.src.FullName()] = true
		}
		joins = append(joins, bj)
		joined = append(joined, right)
	}
	return joins, nil
}

func allSingleRow(cs []*core.Concept) bool {
	for _, c := range cs {
		if c.Granularity() != core.SingleRow {
			return false
		}
	}
	return true
}

// reducePairs drops property keys whose own keys are already join keys.
func reducePairs(pairs []core.ConceptPair) []core.ConceptPair {
	left, right := map[string]bool{}, map[string]bool{}
	for _, p := range pairs {
		if p.Left.Purpose == core.PurposeKey {
			left[p.Left.Address()] = true
		}
		if p.Right.Purpose == core.PurposeKey {
			right[p.Right.Address()] = true
		}
	}
	var out []core.ConceptPair
	for _, p := range pairs {
		if p.Left.Purpose == core.PurposeProperty && len(p.Left.Keys) > 0 && allIn(p.Left.Keys, left) {
			continue
		}
		if p.Right.Purpose == core.PurposeProperty && len(p.Right.Keys) > 0 && allIn(p.Right.Keys, right) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func allIn(addrs []string, set map[string]bool) bool {
	for _, a := range addrs {
		if !set[a] {
			return false
		}
	}
	return true
}

// findNullable returns the addresses that may be null in the joined result.
// A dataset is nullable when it is the right side of an outer join, or when
// it is joined on a key that is itself nullable, so nullability carries
// through the rest of a join chain.
func findNullable(sm map[string][]core.Source, joins []*core.BaseJoin, datasets []core.Source) []*core.Concept {
	nullableDS := map[string]bool{}
	for _, j := range joins {
		switch j.JoinType {
		case core.JoinLeftOuter:
			nullableDS[j.Right.FullName()] = true
			continue
		case core.JoinFull:
			nullableDS[j.Right.FullName()] = true
			nullableDS[j.Left.FullName()] = true
			for _, p := range j.ConceptPairs {
				if p.Existing != nil {
					nullableDS[p.Existing.FullName()] = true
				}
			}
			continue
		}
		for _, p := range j.ConceptPairs {
			left := j.Left
			if p.Existing != nil {
				left = p.Existing
			}
			if nullableDS[left.FullName()] ||
				core.ContainsAddress(left.NullableConcepts(), p.Left.Address()) ||
				core.ContainsAddress(j.Right.NullableConcepts(), p.Right.Address()) {
				nullableDS[j.Right.FullName()] = true
				break
			}
		}
	}

	addrs := make([]string, 0, len(sm))
	for k := range sm {
		addrs = append(addrs, k)
	}
	sort.Strings(addrs)
	var out []*core.Concept
	for _, addr := range addrs {
		srcs := sm[addr]
		if len(srcs) == 0 {
			continue
		}
		var concept *core.Concept
		allNullable, allFromNullableDS := true, true
		for _, s := range srcs {
			o, ok := findOutput(s, addr)
			if ok && concept == nil {
				concept = o
			}
			if !ok || !core.ContainsAddress(s.NullableConcepts(), o.Address()) {
				allNullable = false
			}
			if !nullableDS[s.FullName()] {
				allFromNullableDS = false
			}
		}
		if concept != nil && (allNullable || allFromNullableDS) {
			out = append(out, concept)
		}
	}
	return out
}

func findOutput(s core.Source, addr string) (*core.Concept, bool) {
	for _, o := range s.OutputConcepts() {
		if o.Matches(addr) {
			return o, true
		}
	}
	return nil, false
}
