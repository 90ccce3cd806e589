package core

import (
	"fmt"
)

// FunctionType is the operator of a Function.
type FunctionType string

// Structural operators.
const (
	FuncCustom        FunctionType = "custom"
	FuncUnnest        FunctionType = "unnest"
	FuncUnion         FunctionType = "union"
	FuncAlias         FunctionType = "alias"
	FuncParenthetical FunctionType = "parenthetical"
)

// Generic operators.
const (
	FuncCase      FunctionType = "case"
	FuncCast      FunctionType = "cast"
	FuncConcat    FunctionType = "concat"
	FuncConstant  FunctionType = "constant"
	FuncCoalesce  FunctionType = "coalesce"
	FuncIsNull    FunctionType = "isnull"
	FuncBool      FunctionType = "bool"
	FuncIndex     FunctionType = "index_access"
	FuncMapAccess FunctionType = "map_access"
	FuncAttr      FunctionType = "attr_access"
	FuncStruct    FunctionType = "struct"
	FuncArray     FunctionType = "array"
	FuncSplit     FunctionType = "split"
	FuncLength    FunctionType = "len"
)

// Math operators.
const (
	FuncAdd      FunctionType = "add"
	FuncSubtract FunctionType = "subtract"
	FuncMultiply FunctionType = "multiply"
	FuncDivide   FunctionType = "divide"
	FuncMod      FunctionType = "mod"
	FuncRound    FunctionType = "round"
	FuncAbs      FunctionType = "abs"
)

// Aggregate operators.
const (
	FuncGroup         FunctionType = "group"
	FuncCount         FunctionType = "count"
	FuncCountDistinct FunctionType = "count_distinct"
	FuncSum           FunctionType = "sum"
	FuncMax           FunctionType = "max"
	FuncMin           FunctionType = "min"
	FuncAvg           FunctionType = "avg"
)

// String operators.
const (
	FuncLike      FunctionType = "like"
	FuncILike     FunctionType = "ilike"
	FuncLower     FunctionType = "lower"
	FuncUpper     FunctionType = "upper"
	FuncSubstring FunctionType = "substring"
	FuncStrpos    FunctionType = "strpos"
	FuncContains  FunctionType = "contains"
)

// Date and time operators.
const (
	FuncDate            FunctionType = "date"
	FuncDatetime        FunctionType = "datetime"
	FuncTimestamp       FunctionType = "timestamp"
	FuncSecond          FunctionType = "second"
	FuncMinute          FunctionType = "minute"
	FuncHour            FunctionType = "hour"
	FuncDay             FunctionType = "day"
	FuncDayOfWeek       FunctionType = "day_of_week"
	FuncWeek            FunctionType = "week"
	FuncMonth           FunctionType = "month"
	FuncQuarter         FunctionType = "quarter"
	FuncYear            FunctionType = "year"
	FuncDatePart        FunctionType = "date_part"
	FuncDateTruncate    FunctionType = "date_truncate"
	FuncDateAdd         FunctionType = "date_add"
	FuncDateSub         FunctionType = "date_sub"
	FuncDateDiff        FunctionType = "date_diff"
	FuncUnixToTimestamp FunctionType = "unix_to_timestamp"
	FuncCurrentDate     FunctionType = "current_date"
	FuncCurrentDatetime FunctionType = "current_datetime"
)

// IsAggregateFunction reports membership in the aggregate class.
func IsAggregateFunction(op FunctionType) bool {
	switch op {
	case FuncMax, FuncMin, FuncSum, FuncAvg, FuncCount, FuncCountDistinct:
		return true
	}
	return false
}

// IsSingleRowFunction reports membership in the single-row class.
func IsSingleRowFunction(op FunctionType) bool {
	switch op {
	case FuncConstant, FuncCurrentDate, FuncCurrentDatetime:
		return true
	}
	return false
}

// IsOneToManyFunction reports membership in the one-to-many class.
func IsOneToManyFunction(op FunctionType) bool {
	return op == FuncUnnest
}

type outputRule int

const (
	outFixed outputRule = iota
	outMerge
	outFirst
	outListElem
)

type functionSpec struct {
	minArgs int
	maxArgs int // -1 for variadic
	rule    outputRule
	fixed   DataType
}

var functionSpecs = map[FunctionType]functionSpec{
	FuncCustom:        {0, -1, outFirst, nil},
	FuncUnnest:        {1, 1, outListElem, nil},
	FuncUnion:         {1, -1, outMerge, nil},
	FuncAlias:         {1, 1, outFirst, nil},
	FuncParenthetical: {1, 1, outFirst, nil},
	FuncCase:          {1, -1, outFirst, nil},
	FuncCast:          {2, 2, outFirst, nil},
	FuncConcat:        {1, -1, outFixed, TypeString},
	FuncConstant:      {1, 1, outFirst, nil},
	FuncCoalesce:      {1, -1, outMerge, nil},
	FuncIsNull:        {1, 1, outFixed, TypeBool},
	FuncBool:          {1, 1, outFixed, TypeBool},
	FuncIndex:         {2, 2, outListElem, nil},
	FuncMapAccess:     {2, 2, outFixed, TypeUnknown},
	FuncAttr:          {2, 2, outFixed, TypeUnknown},
	FuncStruct:        {1, -1, outFixed, StructType{}},
	FuncArray:         {0, -1, outFixed, ListType{Elem: TypeUnknown}},
	FuncSplit:         {2, 2, outFixed, ListType{Elem: TypeString}},
	FuncLength:        {1, 1, outFixed, TypeInteger},

	FuncAdd:      {2, -1, outMerge, nil},
	FuncSubtract: {2, -1, outMerge, nil},
	FuncMultiply: {2, -1, outMerge, nil},
	FuncDivide:   {2, 2, outMerge, nil},
	FuncMod:      {2, 2, outFixed, TypeInteger},
	FuncRound:    {1, 2, outFirst, nil},
	FuncAbs:      {1, 1, outFirst, nil},

	FuncGroup:         {1, -1, outFirst, nil},
	FuncCount:         {1, 1, outFixed, TypeInteger},
	FuncCountDistinct: {1, 1, outFixed, TypeInteger},
	FuncSum:           {1, 1, outFirst, nil},
	FuncMax:           {1, 1, outFirst, nil},
	FuncMin:           {1, 1, outFirst, nil},
	FuncAvg:           {1, 1, outFirst, nil},

	FuncLike:      {2, 2, outFixed, TypeBool},
	FuncILike:     {2, 2, outFixed, TypeBool},
	FuncLower:     {1, 1, outFixed, TypeString},
	FuncUpper:     {1, 1, outFixed, TypeString},
	FuncSubstring: {3, 3, outFixed, TypeString},
	FuncStrpos:    {2, 2, outFixed, TypeInteger},
	FuncContains:  {2, 2, outFixed, TypeBool},

	FuncDate:            {1, 1, outFixed, TypeDate},
	FuncDatetime:        {1, 1, outFixed, TypeDatetime},
	FuncTimestamp:       {1, 1, outFixed, TypeTimestamp},
	FuncSecond:          {1, 1, outFixed, TypeInteger},
	FuncMinute:          {1, 1, outFixed, TypeInteger},
	FuncHour:            {1, 1, outFixed, TypeInteger},
	FuncDay:             {1, 1, outFixed, TypeInteger},
	FuncDayOfWeek:       {1, 1, outFixed, TypeInteger},
	FuncWeek:            {1, 1, outFixed, TypeInteger},
	FuncMonth:           {1, 1, outFixed, TypeInteger},
	FuncQuarter:         {1, 1, outFixed, TypeInteger},
	FuncYear:            {1, 1, outFixed, TypeInteger},
	FuncDatePart:        {2, 2, outFixed, TypeInteger},
	FuncDateTruncate:    {2, 2, outFirst, nil},
	FuncDateAdd:         {3, 3, outFirst, nil},
	FuncDateSub:         {3, 3, outFirst, nil},
	FuncDateDiff:        {3, 3, outFixed, TypeInteger},
	FuncUnixToTimestamp: {1, 1, outFixed, TypeTimestamp},
	FuncCurrentDate:     {0, 0, outFixed, TypeDate},
	FuncCurrentDatetime: {0, 0, outFixed, TypeDatetime},
}

// ParseFunctionType converts an operator name into a FunctionType.
func ParseFunctionType(s string) (FunctionType, bool) {
	op := FunctionType(s)
	_, ok := functionSpecs[op]
	return op, ok
}

// Function is an operator applied to arguments.
type Function struct {
	Operator       FunctionType
	Arguments      []Expr
	OutputDatatype DataType
	OutputPurpose  Purpose
}

func (*Function) lineage() {}

// NewFunction validates argument arity and derives the output type and
// purpose of the call. Invalid calls fail here, before any resolution.
func NewFunction(op FunctionType, args ...Expr) (*Function, error) {
	spec, ok := functionSpecs[op]
	if !ok {
		return nil, &InvalidArgumentError{Message: fmt.Sprintf("unknown function %q", op)}
	}
	if len(args) < spec.minArgs || (spec.maxArgs >= 0 && len(args) > spec.maxArgs) {
		return nil, &InvalidArgumentError{
			Message: fmt.Sprintf("function %s takes %s arguments, got %d", op, arityString(spec), len(args)),
		}
	}
	for _, a := range args {
		if a == nil {
			return nil, &InvalidArgumentError{Message: fmt.Sprintf("function %s has a nil argument", op)}
		}
	}
	if op == FuncUnnest {
		if _, isList := ArgDatatype(args[0]).(ListType); !isList && !DataTypeEqual(ArgDatatype(args[0]), TypeUnknown) {
			return nil, &InvalidArgumentError{
				Message: fmt.Sprintf("unnest requires a list argument, got %s", ArgDatatype(args[0])),
			}
		}
	}
	f := &Function{Operator: op, Arguments: args}
	f.OutputDatatype = inferOutput(spec, args)
	f.OutputPurpose = inferPurpose(op, args)
	return f, nil
}

// MustFunction is NewFunction that panics on error, for static definitions.
func MustFunction(op FunctionType, args ...Expr) *Function {
	f, err := NewFunction(op, args...)
	if err != nil {
		panic(err)
	}
	return f
}

func arityString(spec functionSpec) string {
	switch {
	case spec.maxArgs < 0:
		return fmt.Sprintf("at least %d", spec.minArgs)
	case spec.minArgs == spec.maxArgs:
		return fmt.Sprintf("exactly %d", spec.minArgs)
	}
	return fmt.Sprintf("%d to %d", spec.minArgs, spec.maxArgs)
}

func inferOutput(spec functionSpec, args []Expr) DataType {
	switch spec.rule {
	case outFixed:
		return spec.fixed
	case outMerge:
		types := make([]DataType, 0, len(args))
		for _, a := range args {
			types = append(types, ArgDatatype(a))
		}
		return MergeDatatypes(types)
	case outListElem:
		if len(args) > 0 {
			if l, ok := ArgDatatype(args[0]).(ListType); ok {
				return l.Elem
			}
		}
		return TypeUnknown
	}
	if len(args) == 0 {
		return TypeUnknown
	}
	return ArgDatatype(args[0])
}

func inferPurpose(op FunctionType, args []Expr) Purpose {
	if IsAggregateFunction(op) {
		return PurposeMetric
	}
	if IsSingleRowFunction(op) {
		return PurposeConstant
	}
	for _, a := range args {
		if _, ok := a.(Literal); !ok {
			return PurposeProperty
		}
	}
	return PurposeConstant
}

// ConceptArguments returns the concepts directly referenced by the call.
func (f *Function) ConceptArguments() []*Concept {
	return ConceptArguments(f)
}

func (f *Function) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &Function{
		Operator:       f.Operator,
		Arguments:      mapExprs(f.Arguments, fn),
		OutputDatatype: f.OutputDatatype,
		OutputPurpose:  f.OutputPurpose,
	}
}

func (f *Function) String() string {
	return string(f.Operator) + "(" + joinExprs(f.Arguments) + ")"
}
