package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func TestDuckDB_Registered(t *testing.T) {
	d, err := dialect.Lookup("duckdb")
	require.NoError(t, err)
	assert.Same(t, DuckDB, d)
	assert.Equal(t, "CREATE OR REPLACE TABLE t AS\n", d.PersistPrefix("t"))
}

func TestDuckDB_Functions(t *testing.T) {
	tests := []struct {
		op   core.FunctionType
		args []string
		want string
	}{
		{core.FuncDateTruncate, []string{"x", "'month'"}, "date_trunc('month', x)"},
		{core.FuncDatePart, []string{"x", "'year'"}, "date_part('year', x)"},
		{core.FuncDateAdd, []string{"x", "'day'", "3"}, "date_add(x, 3 * interval 1 day)"},
		{core.FuncSplit, []string{"s", "','"}, "string_split(s, ',')"},
		{core.FuncCountDistinct, []string{"x"}, "count(distinct x)"},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			fn, ok := DuckDB.Function(tt.op, true)
			require.True(t, ok)
			assert.Equal(t, tt.want, fn(tt.args))
		})
	}
	assert.Equal(t, "double", DuckDB.Datatype(core.TypeFloat))
}
