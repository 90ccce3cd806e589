package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrain_Absorption(t *testing.T) {
	m := newOrderModel()

	withProperty := GrainFromConcepts([]*Concept{m.categoryID, m.categoryName}, nil)
	keyOnly := GrainFromConcepts([]*Concept{m.categoryID}, nil)

	assert.True(t, withProperty.Equal(keyOnly), "got %s want %s", withProperty, keyOnly)
	assert.Equal(t, []string{"local.category_id"}, withProperty.Components())
}

func TestGrain_AddCommutativeAndAssociative(t *testing.T) {
	g1 := NewGrain("local.a")
	g2 := NewGrain("local.b", "local.c")
	g3 := NewGrain("local.c", "local.d")

	assert.True(t, g1.Add(g2).Equal(g2.Add(g1)))
	assert.True(t, g1.Add(g2).Add(g3).Equal(g1.Add(g2.Add(g3))))
	assert.Equal(t, []string{"local.a", "local.b", "local.c", "local.d"}, SumGrains(g1, g2, g3).Components())
}

func TestGrain_EmptyIsIdentity(t *testing.T) {
	empty := Grain{}
	assert.True(t, empty.Add(empty).Equal(empty))
	assert.True(t, empty.Add(empty).Abstract())

	g := NewGrain("local.a")
	assert.True(t, g.Add(empty).Equal(g))
}

func TestGrain_Abstract(t *testing.T) {
	tests := []struct {
		name  string
		grain Grain
		want  bool
	}{
		{"empty", Grain{}, true},
		{"all rows sentinel", NewGrain(AllRows.Address()), true},
		{"key", NewGrain("local.order_id"), false},
		{"key and sentinel", NewGrain("local.order_id", AllRows.Address()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.grain.Abstract())
		})
	}
}

func TestGrain_SetOperations(t *testing.T) {
	ab := NewGrain("local.a", "local.b")
	a := NewGrain("local.a")
	c := NewGrain("local.c")

	assert.True(t, a.Issubset(ab))
	assert.False(t, ab.Issubset(a))
	assert.True(t, Grain{}.Issubset(a))
	assert.Equal(t, []string{"local.a"}, ab.Intersection(a).Components())
	assert.True(t, ab.Isdisjoint(c))
	assert.False(t, ab.Isdisjoint(a))
	assert.Equal(t, []string{"local.b"}, ab.Sub(a).Components())
}

func TestGrain_WithMerge(t *testing.T) {
	g := NewGrain("local.a", "local.b")
	merged := g.WithMerge("local.b", "local.z")
	assert.Equal(t, []string{"local.a", "local.z"}, merged.Components())

	collapsed := g.WithMerge("local.b", "local.a")
	assert.Equal(t, []string{"local.a"}, collapsed.Components())
}

func TestGrain_WhereClauseCombined(t *testing.T) {
	m := newOrderModel()
	w1 := NewWhereClause(&Comparison{Left: m.categoryID, Right: Literal{Value: int64(1)}, Operator: OpEq})
	w2 := NewWhereClause(&Comparison{Left: m.orderID, Right: Literal{Value: int64(2)}, Operator: OpGt})

	g := Grain{components: []string{"local.a"}, Where: w1}.Add(Grain{Where: w2})
	assert.Equal(t, "local.category_id = 1 and local.order_id > 2", g.Where.String())

	same := Grain{Where: w1}.Add(Grain{Where: w1})
	assert.Equal(t, w1.String(), same.Where.String())
}

// A property with neither keys nor lineage has an empty grain, which makes
// it join like a metric. This is current behavior, not a guarantee.
func TestGrain_PropertyWithoutKeysIsAbstract(t *testing.T) {
	loose := NewConcept("loose", TypeString, PurposeProperty, nil)

	assert.True(t, loose.Grain.IsEmpty())
	assert.True(t, loose.Grain.Abstract())
	assert.True(t, loose.WithDefaultGrain().Grain.IsEmpty())
}

func TestGrainFromConcepts(t *testing.T) {
	m := newOrderModel()
	constant := NewConcept("one", TypeInteger, PurposeConstant, MustFunction(FuncConstant, Literal{Value: int64(1)}))
	byCategory := m.totalRevenue.WithLineage(&AggregateWrapper{
		Function: MustFunction(FuncSum, m.revenue),
		By:       []*Concept{m.categoryID},
	}).WithGrain(NewGrain(m.categoryID.Address()))

	tests := []struct {
		name     string
		concepts []*Concept
		want     []string
	}{
		{"keys", []*Concept{m.orderID, m.productID}, []string{"local.order_id", "local.product_id"}},
		{"constant dropped", []*Concept{m.orderID, constant}, []string{"local.order_id"}},
		{"ungrouped aggregate dropped", []*Concept{m.categoryID, m.totalRevenue}, []string{"local.category_id"}},
		{"grouped aggregate kept", []*Concept{byCategory}, []string{"local.total_revenue"}},
		{"property without its key", []*Concept{m.categoryName}, []string{"local.category_name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GrainFromConcepts(tt.concepts, nil).Components())
		})
	}
}
