package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment_Lookup(t *testing.T) {
	m := newOrderModel()
	env := m.environment()

	c, ok := env.Lookup("order_id")
	require.True(t, ok)
	assert.Equal(t, "local.order_id", c.Address())

	c, ok = env.Lookup("local.category_name")
	require.True(t, ok)
	assert.Equal(t, []string{"local.category_id"}, c.Keys)

	_, ok = env.Lookup("nope")
	assert.False(t, ok)
}

func TestEnvironment_UndefinedConcept(t *testing.T) {
	env := newOrderModel().environment()

	_, err := env.Concept("ordr_id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedConcept))

	var undefined *UndefinedConceptError
	require.ErrorAs(t, err, &undefined)
	assert.Contains(t, undefined.Suggestions, "local.order_id")
	assert.Contains(t, err.Error(), "did you mean: ")

	assert.Contains(t, env.Suggest("CATEGORY"), "local.category_id", "case folded prefix match")
	assert.NotContains(t, env.Suggest("all_row"), "__internal.all_rows")
	assert.Empty(t, env.Suggest("zzzzzzzzzz"))
}

func TestEnvironment_Immutable(t *testing.T) {
	m := newOrderModel()
	base := m.environment()
	extra := NewConcept("customer_id", TypeInteger, PurposeKey, nil)

	next := base.AddConcept(extra)

	_, ok := base.Lookup("customer_id")
	assert.False(t, ok)
	_, ok = next.Lookup("customer_id")
	assert.True(t, ok)

	trimmed, removed := next.DeleteDatasource("orders")
	assert.True(t, removed)
	_, ok = trimmed.Datasource("orders")
	assert.False(t, ok)
	_, ok = next.Datasource("orders")
	assert.True(t, ok)

	same, removed := next.DeleteDatasource("missing")
	assert.False(t, removed)
	assert.Same(t, next, same)
}

func TestEnvironment_DateParts(t *testing.T) {
	tests := []struct {
		name     string
		datatype DataType
		parts    []string
	}{
		{"date", TypeDate, []string{"month", "year", "quarter"}},
		{"timestamp", TypeTimestamp, []string{"month", "year", "quarter", "date", "hour", "minute", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := NewConcept("ordered_at", tt.datatype, PurposeProperty, nil).WithKeys("local.order_id")
			env := NewEnvironment().AddConcept(at)
			for _, part := range tt.parts {
				c, ok := env.Lookup("ordered_at." + part)
				require.True(t, ok, part)
				assert.Equal(t, PurposeProperty, c.Purpose)
				assert.Equal(t, []string{"local.ordered_at"}, c.Keys)
				assert.True(t, env.IsAutoDerived(c.Address()))
				_, recursed := env.Lookup("ordered_at." + part + ".year")
				assert.False(t, recursed)
			}
		})
	}

	t.Run("user definition wins", func(t *testing.T) {
		at := NewConcept("ordered_at", TypeDate, PurposeProperty, nil)
		custom := NewConcept("ordered_at.year", TypeString, PurposeProperty, nil)
		env := NewEnvironment().AddConcept(custom).AddConcept(at)
		c, ok := env.Lookup("ordered_at.year")
		require.True(t, ok)
		assert.True(t, DataTypeEqual(TypeString, c.Datatype))
		assert.False(t, env.IsAutoDerived(c.Address()))
	})

	t.Run("constant source", func(t *testing.T) {
		today := NewConcept("today", TypeDate, PurposeConstant, MustFunction(FuncCurrentDate))
		env := NewEnvironment().AddConcept(today)
		c, ok := env.Lookup("today.month")
		require.True(t, ok)
		assert.Equal(t, PurposeConstant, c.Purpose)
	})
}

func TestEnvironment_MergeConcept(t *testing.T) {
	m := newOrderModel()
	alt := NewConcept("product_category", TypeInteger, PurposeKey, nil)
	env := m.environment().AddConcept(alt)

	merged := env.MergeConcept(m.categoryID, alt, []Modifier{ModifierPartial})

	c, ok := merged.Lookup("category_id")
	require.True(t, ok)
	assert.Equal(t, "local.product_category", c.Address())
	assert.True(t, c.HasPseudonym("local.category_id"))

	name, _ := merged.Lookup("category_name")
	assert.Equal(t, []string{"local.product_category"}, name.Keys)

	ds, _ := merged.Datasource("category")
	col, ok := ds.Column(alt)
	require.True(t, ok)
	assert.Equal(t, "id", col.Alias)
	assert.False(t, col.IsComplete())
	assert.Equal(t, []string{"local.product_category"}, ds.Grain.Components())

	target, ok := merged.MergedInto("local.category_id")
	require.True(t, ok)
	assert.Equal(t, "local.product_category", target)
	origin, ok := merged.AliasOrigin("local.category_id")
	require.True(t, ok)
	assert.Equal(t, "category_id", origin.Name)

	for _, listed := range merged.Concepts() {
		assert.NotEqual(t, "local.category_id", listed.Address())
	}
}

func TestEnvironment_Import(t *testing.T) {
	m := newOrderModel()
	env := NewEnvironment().Import("sales", m.environment(), "sales.yaml")

	c, ok := env.Lookup("sales.total_revenue")
	require.True(t, ok)
	assert.Equal(t, []string{"sales.revenue"}, Addresses(c.ConceptArguments()))

	ds, ok := env.Datasource("sales.orders")
	require.True(t, ok)
	assert.Equal(t, "db.orders", ds.SafeLocation())
	assert.Equal(t, "sales_orders", ds.FullName())
	assert.Equal(t, map[string]string{"sales": "sales.yaml"}, env.Imports())

	_, ok = env.Lookup("sales.__internal.all_rows")
	assert.False(t, ok)
}

func TestEnvironment_PersistPromotion(t *testing.T) {
	m := newOrderModel()
	doubled := NewConcept("doubled", TypeFloat, PurposeProperty, MustFunction(FuncMultiply, m.revenue, Literal{Value: int64(2)}))
	env := m.environment().AddConcept(doubled)

	env = env.AddDatasource(NewDatasource("doubled_rev", Address{Location: "db.doubled"}, []ColumnAssignment{
		{Alias: "id", Concept: m.orderID},
		{Alias: "doubled", Concept: doubled},
	}, NewGrain(m.orderID.Address())))

	rooted, ok := env.Lookup("doubled")
	require.True(t, ok)
	assert.Equal(t, DerivationRoot, rooted.Derivation())
	assert.Equal(t, []string{"local.order_id"}, rooted.Keys)

	pre, ok := env.Lookup(PrePersistPrefix + "doubled")
	require.True(t, ok)
	assert.Equal(t, DerivationBasic, pre.Derivation())

	ds, _ := env.Datasource("doubled_rev")
	assert.Equal(t, DerivationRoot, ds.Columns[1].Concept.Derivation())
	assert.Contains(t, Addresses(env.MaterializedConcepts()), "local.doubled")
}
