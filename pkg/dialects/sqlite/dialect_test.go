package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func TestSQLite_Registered(t *testing.T) {
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	assert.Same(t, SQLite, d)
	assert.Equal(t, "EXPLAIN QUERY PLAN", d.Explain)
}

func TestSQLite_Functions(t *testing.T) {
	tests := []struct {
		name string
		op   core.FunctionType
		args []string
		want string
	}{
		{"year", core.FuncYear, []string{"x"}, "cast(strftime('%Y', x) as integer)"},
		{"quarter", core.FuncQuarter, []string{"x"}, "((cast(strftime('%m', x) as integer) + 2) / 3)"},
		{"truncate month", core.FuncDateTruncate, []string{"x", "'month'"}, "date(x, 'start of month')"},
		{"add", core.FuncDateAdd, []string{"x", "'day'", "3"}, "datetime(x, '+' || 3 || ' day')"},
		{"diff days", core.FuncDateDiff, []string{"a", "b", "'day'"}, "cast((julianday(b) - julianday(a)) as integer)"},
		{"concat", core.FuncConcat, []string{"a", "b"}, "(a || b)"},
		{"part", core.FuncDatePart, []string{"x", "'hour'"}, "cast(strftime('%H', x) as integer)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := SQLite.Function(tt.op, true)
			require.True(t, ok)
			assert.Equal(t, tt.want, fn(tt.args))
		})
	}
	for _, op := range []core.FunctionType{core.FuncSplit, core.FuncUnnest, core.FuncStruct} {
		_, ok := SQLite.Function(op, true)
		assert.False(t, ok, op)
	}
}
