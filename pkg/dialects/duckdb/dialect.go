// Package duckdb provides the DuckDB SQL dialect definition.
// This package is pure Go with no database driver dependencies,
// so compile-only tools can render DuckDB SQL without linking the driver.
package duckdb

import (
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func init() {
	dialect.Register(DuckDB)
}

// DuckDB is the DuckDB dialect.
var DuckDB = dialect.From(dialect.ANSI, "duckdb").
	Identifiers(`"`, `"`, `""`, dialect.NormCaseInsensitive).
	Limit(dialect.LimitClause).
	Functions(map[core.FunctionType]dialect.FunctionRenderer{
		core.FuncSplit:           func(a []string) string { return "string_split(" + strings.Join(a, ", ") + ")" },
		core.FuncDayOfWeek:       func(a []string) string { return "dayofweek(" + a[0] + ")" },
		core.FuncDatetime:        func(a []string) string { return "cast(" + a[0] + " as timestamp)" },
		core.FuncTimestamp:       func(a []string) string { return "cast(" + a[0] + " as timestamp)" },
		core.FuncDatePart:        func(a []string) string { return "date_part(" + a[1] + ", " + a[0] + ")" },
		core.FuncDateAdd:         func(a []string) string { return "date_add(" + a[0] + ", " + a[2] + " * interval 1 " + dialect.Unquote(a[1]) + ")" },
		core.FuncDateSub:         func(a []string) string { return "date_add(" + a[0] + ", -" + a[2] + " * interval 1 " + dialect.Unquote(a[1]) + ")" },
		core.FuncUnixToTimestamp: func(a []string) string { return "to_timestamp(" + a[0] + ")" },
		core.FuncStruct: func(a []string) string {
			var fields []string
			for i := 0; i+1 < len(a); i += 2 {
				fields = append(fields, a[i+1]+": "+a[i])
			}
			return "struct_pack(" + strings.Join(fields, ", ") + ")"
		},
		core.FuncMapAccess: func(a []string) string { return "element_at(" + a[0] + ", " + a[1] + ")[1]" },
	}).
	Datatypes(map[string]string{
		core.TypeFloat.String():    "double",
		core.TypeDatetime.String(): "timestamp",
	}).
	WithReservedWords("pivot", "unpivot", "qualify", "asof", "positional", "semi", "anti").
	Persist(func(table string) string { return "CREATE OR REPLACE TABLE " + table + " AS\n" }).
	Build()
