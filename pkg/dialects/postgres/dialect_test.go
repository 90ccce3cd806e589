package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func TestPostgres_Registered(t *testing.T) {
	d, ok := dialect.Get("postgres")
	require.True(t, ok)
	assert.Same(t, Postgres, d)
	assert.Equal(t, dialect.LimitClause, d.Limit)
	assert.Equal(t, "analyze", d.NormalizeName("ANALYZE"))
	assert.Equal(t, `"window"`, d.QuoteIdentifierIfNeeded("window"))
}

func TestPostgres_Functions(t *testing.T) {
	tests := []struct {
		op   core.FunctionType
		args []string
		want string
	}{
		{core.FuncMonth, []string{"x"}, "date_part('month', x)"},
		{core.FuncDayOfWeek, []string{"x"}, "date_part('dow', x)"},
		{core.FuncDateAdd, []string{"x", "'day'", "3"}, "(x + 3 * interval '1 day')"},
		{core.FuncDateDiff, []string{"a", "b", "'year'"}, "date_part('year', b) - date_part('year', a)"},
		{core.FuncArray, []string{"1", "2"}, "ARRAY[1, 2]"},
		{core.FuncSplit, []string{"s", "','"}, "string_to_array(s, ',')"},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			fn, ok := Postgres.Function(tt.op, true)
			require.True(t, ok)
			assert.Equal(t, tt.want, fn(tt.args))
		})
	}
	_, ok := Postgres.Function(core.FuncMapAccess, true)
	assert.False(t, ok)
	assert.Equal(t, "text", Postgres.Datatype(core.TypeString))
}
