package dialect

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
)

func first(args []string) string { return args[0] }

func call(name string) FunctionRenderer {
	return func(args []string) string { return name + "(" + strings.Join(args, ", ") + ")" }
}

func infix(op string) FunctionRenderer {
	return func(args []string) string { return strings.Join(args, " "+op+" ") }
}

// Unquote strips the single quotes of a rendered string literal, for
// templates that embed a date part as a keyword.
func Unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// intervalShift renders date arithmetic over (date, part, amount) as a
// multiple of a one unit interval.
func intervalShift(op string) FunctionRenderer {
	return func(a []string) string {
		return "(" + a[0] + " " + op + " " + a[2] + " * interval '1 " + Unquote(a[1]) + "')"
	}
}

func renderCase(args []string) string {
	return "CASE\n\t" + strings.Join(args, "\n\t") + "\n\tEND"
}

var baseFunctions = map[core.FunctionType]FunctionRenderer{
	core.FuncAlias:         first,
	core.FuncGroup:         first,
	core.FuncConstant:      first,
	core.FuncCoalesce:      call("coalesce"),
	core.FuncCast:          func(a []string) string { return "cast(" + a[0] + " as " + a[1] + ")" },
	core.FuncCase:          renderCase,
	core.FuncConcat:        call("concat"),
	core.FuncIsNull:        func(a []string) string { return a[0] + " is null" },
	core.FuncBool:          func(a []string) string { return "CASE WHEN " + a[0] + " THEN TRUE ELSE FALSE END" },
	core.FuncParenthetical: func(a []string) string { return "(" + a[0] + ")" },
	core.FuncIndex:         func(a []string) string { return a[0] + "[" + a[1] + "]" },
	core.FuncMapAccess:     func(a []string) string { return a[0] + "[" + a[1] + "]" },
	core.FuncAttr:          func(a []string) string { return a[0] + "." + strings.ReplaceAll(a[1], "'", "") },
	core.FuncStruct: func(a []string) string {
		var fields []string
		for i := 0; i+1 < len(a); i += 2 {
			fields = append(fields, a[i+1]+": "+a[i])
		}
		return "{" + strings.Join(fields, ", ") + "}"
	},
	core.FuncArray:  func(a []string) string { return "[" + strings.Join(a, ", ") + "]" },
	core.FuncSplit:  call("split"),
	core.FuncLength: call("length"),
	core.FuncUnnest: call("unnest"),

	core.FuncAdd:      infix("+"),
	core.FuncSubtract: infix("-"),
	core.FuncMultiply: infix("*"),
	core.FuncDivide:   infix("/"),
	core.FuncMod:      func(a []string) string { return "(" + a[0] + " % " + a[1] + ")" },
	core.FuncRound: func(a []string) string {
		if len(a) == 1 {
			return "round(" + a[0] + ")"
		}
		return "round(" + a[0] + "," + a[1] + ")"
	},
	core.FuncAbs: call("abs"),

	core.FuncCount:         call("count"),
	core.FuncCountDistinct: func(a []string) string { return "count(distinct " + a[0] + ")" },
	core.FuncSum:           call("sum"),
	core.FuncMax:           call("max"),
	core.FuncMin:           call("min"),
	core.FuncAvg:           call("avg"),

	core.FuncLike:      func(a []string) string { return a[0] + " like " + a[1] },
	core.FuncILike:     func(a []string) string { return "lower(" + a[0] + ") like lower(" + a[1] + ")" },
	core.FuncLower:     call("lower"),
	core.FuncUpper:     call("upper"),
	core.FuncSubstring: call("substring"),
	core.FuncStrpos:    call("strpos"),
	core.FuncContains:  call("contains"),

	core.FuncDate:            call("date"),
	core.FuncDatetime:        call("datetime"),
	core.FuncTimestamp:       call("timestamp"),
	core.FuncSecond:          call("second"),
	core.FuncMinute:          call("minute"),
	core.FuncHour:            call("hour"),
	core.FuncDay:             call("day"),
	core.FuncDayOfWeek:       call("day_of_week"),
	core.FuncWeek:            call("week"),
	core.FuncMonth:           call("month"),
	core.FuncQuarter:         call("quarter"),
	core.FuncYear:            call("year"),
	core.FuncDatePart:        func(a []string) string { return "extract(" + Unquote(a[1]) + " from " + a[0] + ")" },
	core.FuncDateTruncate:    func(a []string) string { return "date_trunc(" + a[1] + ", " + a[0] + ")" },
	core.FuncDateAdd:         intervalShift("+"),
	core.FuncDateSub:         intervalShift("-"),
	core.FuncDateDiff:        func(a []string) string { return "date_diff(" + a[2] + ", " + a[0] + ", " + a[1] + ")" },
	core.FuncUnixToTimestamp: call("to_timestamp"),
	core.FuncCurrentDate:     func([]string) string { return "current_date" },
	core.FuncCurrentDatetime: func([]string) string { return "current_timestamp" },
}

// baseGrainMatch renders aggregates over a source already at the
// aggregate's grain, where each row is its own group.
var baseGrainMatch = map[core.FunctionType]FunctionRenderer{
	core.FuncCount:         func(a []string) string { return "CASE WHEN " + a[0] + " IS NOT NULL THEN 1 ELSE 0 END" },
	core.FuncCountDistinct: func(a []string) string { return "CASE WHEN " + a[0] + " IS NOT NULL THEN 1 ELSE 0 END" },
	core.FuncSum:           first,
	core.FuncAvg:           first,
	core.FuncMax:           first,
	core.FuncMin:           first,
}

// WindowFunction renders name(args) OVER (...). includeConcept is false for
// ranking functions taking no argument.
func WindowFunction(name string, includeConcept bool) WindowRenderer {
	return func(concept, partition, sort string, offset int) string {
		if !includeConcept {
			concept = ""
		}
		base := name + "(" + concept + ")"
		if offset != 0 {
			base = fmt.Sprintf("%s(%s, %d)", name, concept, offset)
		}
		switch {
		case partition != "" && sort != "":
			return base + " over (partition by " + partition + " order by " + sort + ")"
		case partition != "":
			return base + " over (partition by " + partition + ")"
		case sort != "":
			return base + " over (order by " + sort + ")"
		}
		return base + " over ()"
	}
}

var baseWindows = map[core.WindowType]WindowRenderer{
	core.WindowLag:       WindowFunction("lag", true),
	core.WindowLead:      WindowFunction("lead", true),
	core.WindowRank:      WindowFunction("rank", false),
	core.WindowDenseRank: WindowFunction("dense_rank", false),
	core.WindowRowNumber: WindowFunction("row_number", false),
	core.WindowSum:       WindowFunction("sum", true),
	core.WindowCount:     WindowFunction("count", true),
	core.WindowAvg:       WindowFunction("avg", true),
	core.WindowMax:       WindowFunction("max", true),
	core.WindowMin:       WindowFunction("min", true),
}

var baseDatatypes = map[string]string{
	core.TypeString.String():    "varchar",
	core.TypeInteger.String():   "integer",
	core.TypeBigInt.String():    "bigint",
	core.TypeFloat.String():     "double precision",
	core.TypeBool.String():      "boolean",
	core.TypeNumeric.String():   "numeric",
	core.TypeDate.String():      "date",
	core.TypeDatetime.String():  "timestamp",
	core.TypeTimestamp.String(): "timestamp",
}
