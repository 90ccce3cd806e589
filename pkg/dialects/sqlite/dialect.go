// Package sqlite provides the SQLite SQL dialect definition.
package sqlite

import (
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/dialect"
)

func init() {
	dialect.Register(SQLite)
}

func strftime(format string) dialect.FunctionRenderer {
	return func(a []string) string { return "cast(strftime('" + format + "', " + a[0] + ") as integer)" }
}

var partFormats = map[string]string{
	"year":   "%Y",
	"month":  "%m",
	"week":   "%W",
	"day":    "%d",
	"hour":   "%H",
	"minute": "%M",
	"second": "%S",
}

// julianScale converts a day difference into the named unit.
var julianScale = map[string]string{
	"week":   " / 7",
	"day":    "",
	"hour":   " * 24",
	"minute": " * 1440",
	"second": " * 86400",
}

func datePart(a []string) string {
	part := dialect.Unquote(a[1])
	if format, ok := partFormats[part]; ok {
		return strftime(format)(a)
	}
	if part == "quarter" {
		return quarter(a)
	}
	return "strftime('" + part + "', " + a[0] + ")"
}

func quarter(a []string) string {
	return "((cast(strftime('%m', " + a[0] + ") as integer) + 2) / 3)"
}

func dateTrunc(a []string) string {
	switch dialect.Unquote(a[1]) {
	case "year":
		return "date(" + a[0] + ", 'start of year')"
	case "month":
		return "date(" + a[0] + ", 'start of month')"
	case "day":
		return "date(" + a[0] + ")"
	case "hour":
		return "strftime('%Y-%m-%d %H:00:00', " + a[0] + ")"
	case "minute":
		return "strftime('%Y-%m-%d %H:%M:00', " + a[0] + ")"
	}
	return "datetime(" + a[0] + ")"
}

func dateShift(sign string) dialect.FunctionRenderer {
	return func(a []string) string {
		return "datetime(" + a[0] + ", '" + sign + "' || " + a[2] + " || ' " + dialect.Unquote(a[1]) + "')"
	}
}

func dateDiff(a []string) string {
	part := dialect.Unquote(a[2])
	if scale, ok := julianScale[part]; ok {
		return "cast((julianday(" + a[1] + ") - julianday(" + a[0] + "))" + scale + " as integer)"
	}
	years := "(cast(strftime('%Y', " + a[1] + ") as integer) - cast(strftime('%Y', " + a[0] + ") as integer))"
	if part == "month" {
		return "(" + years + " * 12 + cast(strftime('%m', " + a[1] + ") as integer) - cast(strftime('%m', " + a[0] + ") as integer))"
	}
	return years
}

// SQLite is the SQLite dialect. Nested types have no SQLite rendering.
var SQLite = dialect.From(dialect.ANSI, "sqlite").
	Identifiers(`"`, `"`, `""`, dialect.NormCaseInsensitive).
	Limit(dialect.LimitClause).
	Explain("EXPLAIN QUERY PLAN").
	Functions(map[core.FunctionType]dialect.FunctionRenderer{
		core.FuncConcat:          func(a []string) string { return "(" + strings.Join(a, " || ") + ")" },
		core.FuncLength:          func(a []string) string { return "length(" + a[0] + ")" },
		core.FuncStrpos:          func(a []string) string { return "instr(" + a[0] + ", " + a[1] + ")" },
		core.FuncContains:        func(a []string) string { return "instr(" + a[0] + ", " + a[1] + ") > 0" },
		core.FuncSubstring:       func(a []string) string { return "substr(" + strings.Join(a, ", ") + ")" },
		core.FuncSecond:          strftime("%S"),
		core.FuncMinute:          strftime("%M"),
		core.FuncHour:            strftime("%H"),
		core.FuncDay:             strftime("%d"),
		core.FuncDayOfWeek:       strftime("%w"),
		core.FuncWeek:            strftime("%W"),
		core.FuncMonth:           strftime("%m"),
		core.FuncQuarter:         quarter,
		core.FuncYear:            strftime("%Y"),
		core.FuncDatePart:        datePart,
		core.FuncDateTruncate:    dateTrunc,
		core.FuncDateAdd:         dateShift("+"),
		core.FuncDateSub:         dateShift("-"),
		core.FuncDateDiff:        dateDiff,
		core.FuncDatetime:        func(a []string) string { return "datetime(" + a[0] + ")" },
		core.FuncTimestamp:       func(a []string) string { return "datetime(" + a[0] + ")" },
		core.FuncUnixToTimestamp: func(a []string) string { return "datetime(" + a[0] + ", 'unixepoch')" },
		core.FuncCurrentDate:     func([]string) string { return "date('now')" },
		core.FuncCurrentDatetime: func([]string) string { return "datetime('now')" },
		core.FuncBool:            func(a []string) string { return "CASE WHEN " + a[0] + " THEN 1 ELSE 0 END" },
	}).
	Without(core.FuncSplit, core.FuncUnnest, core.FuncStruct, core.FuncArray,
		core.FuncIndex, core.FuncMapAccess, core.FuncAttr).
	Datatypes(map[string]string{
		core.TypeString.String():    "text",
		core.TypeFloat.String():     "real",
		core.TypeBool.String():      "integer",
		core.TypeDate.String():      "text",
		core.TypeDatetime.String():  "text",
		core.TypeTimestamp.String(): "text",
	}).
	WithReservedWords("abort", "autoincrement", "glob", "index", "pragma", "regexp", "vacuum").
	Build()
