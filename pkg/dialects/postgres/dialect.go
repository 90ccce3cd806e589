// Package postgres provides the PostgreSQL SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package postgres

import (
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func init() {
	dialect.Register(Postgres)
}

func datePart(part string) dialect.FunctionRenderer {
	return func(a []string) string { return "date_part('" + part + "', " + a[0] + ")" }
}

// Postgres is the PostgreSQL dialect.
var Postgres = dialect.From(dialect.ANSI, "postgres").
	Identifiers(`"`, `"`, `""`, dialect.NormLowercase).
	Limit(dialect.LimitClause).
	Functions(map[core.FunctionType]dialect.FunctionRenderer{
		core.FuncSecond:    datePart("second"),
		core.FuncMinute:    datePart("minute"),
		core.FuncHour:      datePart("hour"),
		core.FuncDay:       datePart("day"),
		core.FuncDayOfWeek: datePart("dow"),
		core.FuncWeek:      datePart("week"),
		core.FuncMonth:     datePart("month"),
		core.FuncQuarter:   datePart("quarter"),
		core.FuncYear:      datePart("year"),
		core.FuncDatePart:  func(a []string) string { return "date_part(" + a[1] + ", " + a[0] + ")" },
		core.FuncDate:      func(a []string) string { return "cast(" + a[0] + " as date)" },
		core.FuncDatetime:  func(a []string) string { return "cast(" + a[0] + " as timestamp)" },
		core.FuncTimestamp: func(a []string) string { return "cast(" + a[0] + " as timestamp)" },
		core.FuncDateDiff: func(a []string) string {
			return "date_part(" + a[2] + ", " + a[1] + ") - date_part(" + a[2] + ", " + a[0] + ")"
		},
		core.FuncSplit:    func(a []string) string { return "string_to_array(" + strings.Join(a, ", ") + ")" },
		core.FuncContains: func(a []string) string { return "strpos(" + a[0] + ", " + a[1] + ") > 0" },
		core.FuncILike:    func(a []string) string { return a[0] + " ilike " + a[1] },
		core.FuncArray:    func(a []string) string { return "ARRAY[" + strings.Join(a, ", ") + "]" },
		core.FuncStruct: func(a []string) string {
			values := make([]string, 0, len(a)/2)
			for i := 0; i+1 < len(a); i += 2 {
				values = append(values, a[i])
			}
			return "ROW(" + strings.Join(values, ", ") + ")"
		},
		core.FuncCurrentDatetime: func([]string) string { return "now()" },
	}).
	Without(core.FuncMapAccess).
	Datatypes(map[string]string{
		core.TypeString.String():   "text",
		core.TypeFloat.String():    "double precision",
		core.TypeDatetime.String(): "timestamp",
	}).
	WithReservedWords(
		"analyse", "analyze", "any", "array", "asymmetric", "both", "check", "collate",
		"column", "constraint", "current_catalog", "current_role", "current_time",
		"current_user", "default", "deferrable", "do", "except", "for", "foreign",
		"grant", "initially", "intersect", "into", "lateral", "leading", "localtime",
		"localtimestamp", "only", "placing", "primary", "references", "returning",
		"session_user", "some", "symmetric", "trailing", "unique", "using", "variadic",
		"window",
	).
	Build()
