// Package query holds the caller-facing cell query, its translation into the
// indexer's search key and the predicate every collector filters with.
package query

import (
	"fmt"

	"github.com/b-open-io/cellindex/types"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

type IOType string

const (
	IOTypeInput  IOType = "input"
	IOTypeOutput IOType = "output"
	IOTypeBoth   IOType = "both"
)

// Accepts reports whether an entry the indexer tagged with got passes an
// io type filter of t. Entries tagged "both" pass any filter.
func (t IOType) Accepts(got IOType) bool {
	if t == "" || t == IOTypeBoth || got == IOTypeBoth {
		return true
	}
	return t == got
}

type ScriptType string

const (
	ScriptTypeLock ScriptType = "lock"
	ScriptTypeType ScriptType = "type"
)

type SearchMode string

const (
	SearchModePrefix SearchMode = "prefix"
	SearchModeExact  SearchMode = "exact"
)

type argsLenKind uint8

const (
	argsExact argsLenKind = iota
	argsAny
	argsFixed
)

// ArgsLen constrains the length of a script's args. The zero value requires
// args to equal the query's args exactly.
type ArgsLen struct {
	kind argsLenKind
	n    int
}

func ExactArgs() ArgsLen { return ArgsLen{} }

// AnyArgsLen matches any script whose args start with the query's args.
func AnyArgsLen() ArgsLen { return ArgsLen{kind: argsAny} }

// ArgsLenOf matches scripts whose args share a prefix with the query's args
// and are exactly n bytes long. A negative n means ExactArgs.
func ArgsLenOf(n int) ArgsLen {
	if n < 0 {
		return ExactArgs()
	}
	return ArgsLen{kind: argsFixed, n: n}
}

func (a ArgsLen) IsExact() bool { return a.kind == argsExact }
func (a ArgsLen) IsAny() bool   { return a.kind == argsAny }

// Fixed returns the required byte length when one is set.
func (a ArgsLen) Fixed() (int, bool) {
	return a.n, a.kind == argsFixed
}

func (a ArgsLen) String() string {
	switch a.kind {
	case argsAny:
		return "any"
	case argsFixed:
		return fmt.Sprintf("%d", a.n)
	}
	return "-1"
}

// ScriptWrapper carries per-script overrides for a lock or type query.
type ScriptWrapper struct {
	Script  types.Script
	IOType  IOType
	ArgsLen *ArgsLen
}

// Lock wraps s with no overrides.
func Lock(s types.Script) *ScriptWrapper {
	return &ScriptWrapper{Script: s}
}

type typeKind uint8

const (
	typeAny typeKind = iota
	typeNone
	typeExact
)

// TypeFilter selects cells by type script. The zero value accepts any type.
type TypeFilter struct {
	kind    typeKind
	wrapper ScriptWrapper
}

func AnyType() TypeFilter { return TypeFilter{} }

// NoType only accepts cells without a type script. The indexer cannot
// express this, so it is always checked client-side.
func NoType() TypeFilter { return TypeFilter{kind: typeNone} }

func ExactType(s types.Script) TypeFilter {
	return TypeFilter{kind: typeExact, wrapper: ScriptWrapper{Script: s}}
}

func ExactTypeWrapper(w ScriptWrapper) TypeFilter {
	return TypeFilter{kind: typeExact, wrapper: w}
}

func (f TypeFilter) IsAny() bool  { return f.kind == typeAny }
func (f TypeFilter) IsNone() bool { return f.kind == typeNone }

func (f TypeFilter) Exact() (*ScriptWrapper, bool) {
	if f.kind != typeExact {
		return nil, false
	}
	w := f.wrapper
	return &w, true
}

type dataKind uint8

const (
	dataAny dataKind = iota
	dataExact
	dataPrefix
)

// DataFilter selects cells by output data. The zero value accepts any data.
type DataFilter struct {
	kind dataKind
	data string
}

func AnyData() DataFilter { return DataFilter{} }

func ExactData(data string) DataFilter {
	return DataFilter{kind: dataExact, data: types.NormalizeHex(data)}
}

func PrefixData(prefix string) DataFilter {
	return DataFilter{kind: dataPrefix, data: types.NormalizeHex(prefix)}
}

func (f DataFilter) IsAny() bool { return f.kind == dataAny }

// HexRange is a half-open [from, to) range of hex integers.
type HexRange [2]string

// QueryOptions is the caller-facing cell query.
type QueryOptions struct {
	Lock *ScriptWrapper
	Type TypeFilter
	Data DataFilter

	// ArgsLen applies to the primary script (the lock when set, otherwise
	// the type) unless its wrapper overrides it.
	ArgsLen ArgsLen

	// FromBlock and ToBlock are inclusive hex block numbers.
	FromBlock string
	ToBlock   string

	OutputDataLenRange  *HexRange
	OutputCapacityRange *HexRange
	ScriptLenRange      *HexRange

	Order    Order
	Skip     int
	PageSize int
}

// OrderOrDefault returns the query order, ascending when unset.
func (o QueryOptions) OrderOrDefault() Order {
	if o.Order == "" {
		return OrderAsc
	}
	return o.Order
}

func (o QueryOptions) lockArgsLen() ArgsLen {
	if o.Lock != nil && o.Lock.ArgsLen != nil {
		return *o.Lock.ArgsLen
	}
	return o.ArgsLen
}

func (o QueryOptions) typeArgsLen() ArgsLen {
	w, ok := o.Type.Exact()
	if !ok {
		return ExactArgs()
	}
	if w.ArgsLen != nil {
		return *w.ArgsLen
	}
	if o.Lock == nil {
		return o.ArgsLen
	}
	return ExactArgs()
}
