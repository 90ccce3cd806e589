package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcept_Derivation(t *testing.T) {
	m := newOrderModel()
	list := NewConcept("tags", ListType{Elem: TypeString}, PurposeProperty, nil).WithKeys(m.orderID.Address())

	tests := []struct {
		name    string
		concept *Concept
		want    Derivation
	}{
		{"root", m.orderID, DerivationRoot},
		{"aggregate", m.totalRevenue, DerivationAggregate},
		{"basic", NewConcept("double", TypeFloat, PurposeProperty, MustFunction(FuncMultiply, m.revenue, Literal{Value: int64(2)})), DerivationBasic},
		{"constant", NewConcept("one", TypeInteger, PurposeConstant, MustFunction(FuncConstant, Literal{Value: int64(1)})), DerivationConstant},
		{"unnest", NewConcept("tag", TypeString, PurposeKey, MustFunction(FuncUnnest, list)), DerivationUnnest},
		{"window", NewConcept("rank", TypeInteger, PurposeProperty, &WindowItem{Type: WindowRank, Content: m.orderID}), DerivationWindow},
		{"filter", NewConcept("big", TypeInteger, PurposeKey, &FilterItem{
			Content: m.orderID,
			Where:   NewWhereClause(&Comparison{Left: m.revenue, Right: Literal{Value: int64(10)}, Operator: OpGt}),
		}), DerivationFilter},
		{"merge", NewConcept("merged", TypeInteger, PurposeKey, &MergeLineage{Concepts: []*Concept{m.orderID, m.productID}}), DerivationMerge},
		{"declared constant", NewConcept("c", TypeInteger, PurposeConstant, nil), DerivationConstant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.concept.Derivation())
		})
	}
}

func TestConcept_Granularity(t *testing.T) {
	m := newOrderModel()
	one := NewConcept("one", TypeInteger, PurposeConstant, MustFunction(FuncConstant, Literal{Value: int64(1)}))
	two := NewConcept("two", TypeInteger, PurposeConstant, MustFunction(FuncAdd, one, one))

	assert.Equal(t, SingleRow, one.Granularity())
	assert.Equal(t, SingleRow, two.Granularity())
	assert.Equal(t, SingleRow, m.totalRevenue.Granularity())
	assert.Equal(t, MultiRow, m.orderID.Granularity())

	grouped := m.totalRevenue.WithGrain(NewGrain(m.categoryID.Address()))
	assert.Equal(t, MultiRow, grouped.Granularity())
}

func TestConcept_DefaultGrain(t *testing.T) {
	m := newOrderModel()

	assert.Equal(t, []string{"local.order_id"}, m.orderID.Grain.Components())
	assert.True(t, m.totalRevenue.Grain.IsEmpty())
	assert.Equal(t, []string{"local.category_id"}, m.categoryName.WithDefaultGrain().Grain.Components())
}

func TestConcept_WithNamespace(t *testing.T) {
	m := newOrderModel()
	moved := m.totalRevenue.WithNamespace("sales")

	assert.Equal(t, "sales.total_revenue", moved.Address())
	args := moved.ConceptArguments()
	require.Len(t, args, 1)
	assert.Equal(t, "sales.revenue", args[0].Address())
	assert.Equal(t, []string{"sales.order_id"}, args[0].Keys)
	assert.Equal(t, "local.total_revenue", m.totalRevenue.Address(), "original is untouched")
}

func TestConcept_WithMerge(t *testing.T) {
	m := newOrderModel()
	alt := NewConcept("alt_category_id", TypeInteger, PurposeKey, nil)

	merged := m.categoryName.WithMerge(m.categoryID, alt, nil)
	assert.Equal(t, []string{"local.alt_category_id"}, merged.Keys)

	self := m.categoryID.WithMerge(m.categoryID, alt, nil)
	assert.Equal(t, alt.Address(), self.Address())
	assert.True(t, self.HasPseudonym(m.categoryID.Address()))
}

func TestConcept_WithSelectContext(t *testing.T) {
	m := newOrderModel()
	env := m.environment()
	g := NewGrain(m.categoryID.Address())

	bound := m.totalRevenue.WithSelectContext(g, env.Lookup)

	agg, ok := bound.Lineage.(*AggregateWrapper)
	require.True(t, ok, "aggregate is wrapped at the select grain")
	assert.Equal(t, []string{"local.category_id"}, Addresses(agg.By))
	assert.True(t, bound.Grain.Equal(g))
	assert.Equal(t, MultiRow, bound.Granularity())

	scalar := m.categoryName.WithSelectContext(g, env.Lookup)
	assert.Nil(t, scalar.Lineage)
}

func TestConcept_Equal(t *testing.T) {
	a := NewConcept("a", TypeInteger, PurposeKey, nil)
	b := NewConcept("a", TypeInteger, PurposeKey, nil)
	c := NewConcept("a", TypeString, PurposeKey, nil)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(a.WithGrain(Grain{})))
}

func TestNewFunction_Validation(t *testing.T) {
	m := newOrderModel()

	_, err := NewFunction(FuncSum)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewFunction(FuncUnnest, m.orderID)
	require.Error(t, err)
	var argErr *InvalidArgumentError
	assert.ErrorAs(t, err, &argErr)

	_, err = NewFunction(FunctionType("nope"), m.orderID)
	assert.Error(t, err)

	f, err := NewFunction(FuncCount, m.orderID)
	require.NoError(t, err)
	assert.Equal(t, PurposeMetric, f.OutputPurpose)
	assert.True(t, DataTypeEqual(TypeInteger, f.OutputDatatype))
}

func TestMergeDatatypes(t *testing.T) {
	tests := []struct {
		name   string
		inputs []DataType
		want   DataType
	}{
		{"single int", []DataType{TypeInteger}, TypeInteger},
		{"single string", []DataType{TypeString}, TypeString},
		{"int float", []DataType{TypeInteger, TypeFloat}, TypeFloat},
		{"float int", []DataType{TypeFloat, TypeInteger}, TypeFloat},
		{"int numeric", []DataType{TypeInteger, TypeNumeric}, TypeNumeric},
		{"first numeric wins", []DataType{TypeInteger, NumericType{12, 2}, NumericType{8, 4}}, NumericType{12, 2}},
		{"same", []DataType{TypeString, TypeString}, TypeString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, DataTypeEqual(tt.want, MergeDatatypes(tt.inputs)), "got %s", MergeDatatypes(tt.inputs))
		})
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
	}{
		{"int", TypeInteger},
		{"String", TypeString},
		{"numeric(12,2)", NumericType{Precision: 12, Scale: 2}},
		{"list<int>", ListType{Elem: TypeInteger}},
		{"map<string,float>", MapType{Key: TypeString, Value: TypeFloat}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			require.NoError(t, err)
			assert.True(t, DataTypeEqual(tt.want, got), "got %s", got)
		})
	}

	_, err := ParseDataType("blob")
	assert.Error(t, err)
}
