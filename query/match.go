package query

import (
	"fmt"
	"strings"

	"github.com/b-open-io/cellindex/types"
)

type scriptRule struct {
	script  types.Script
	argsLen ArgsLen
}

func newScriptRule(s types.Script, argsLen ArgsLen) *scriptRule {
	s = s.Normalized()
	if n, ok := argsLen.Fixed(); ok && n < s.ArgsLen() {
		s.Args = s.Args[:2+2*n]
	}
	return &scriptRule{script: s, argsLen: argsLen}
}

func (r *scriptRule) match(s types.Script) bool {
	s = s.Normalized()
	if r.argsLen.IsExact() {
		return r.script.Equal(s)
	}
	if s.HashType != r.script.HashType || s.CodeHash != r.script.CodeHash {
		return false
	}
	if !strings.HasPrefix(s.Args, r.script.Args) {
		return false
	}
	if n, ok := r.argsLen.Fixed(); ok {
		return s.ArgsLen() == n
	}
	return true
}

// Matcher is the client-side cell predicate shared by the remote
// post-filter, the pending overlay and transaction re-validation.
type Matcher struct {
	lock     *scriptRule
	typ      *scriptRule
	noType   bool
	typeIsPK bool
	data     DataFilter

	fromBlock *uint64
	toBlock   *uint64

	dataLen   *[2]uint64
	capacity  *[2]uint64
	scriptLen *[2]uint64
}

// NewMatcher compiles opts into a Matcher. It validates the same fields
// ToSearchKey does but does not require a primary script.
func NewMatcher(opts QueryOptions) (*Matcher, error) {
	m := &Matcher{data: opts.Data}

	if opts.Lock != nil {
		m.lock = newScriptRule(opts.Lock.Script, opts.lockArgsLen())
	}
	if w, ok := opts.Type.Exact(); ok {
		m.typ = newScriptRule(w.Script, opts.typeArgsLen())
		m.typeIsPK = opts.Lock == nil
	}
	m.noType = opts.Type.IsNone()

	if opts.FromBlock != "" {
		n, err := types.ParseUint64(opts.FromBlock)
		if err != nil {
			return nil, fmt.Errorf("%w: fromBlock: %v", ErrInvalidQuery, err)
		}
		m.fromBlock = &n
	}
	if opts.ToBlock != "" {
		n, err := types.ParseUint64(opts.ToBlock)
		if err != nil {
			return nil, fmt.Errorf("%w: toBlock: %v", ErrInvalidQuery, err)
		}
		m.toBlock = &n
	}

	var err error
	if m.dataLen, err = parseRange(opts.OutputDataLenRange); err != nil {
		return nil, fmt.Errorf("%w: output_data_len_range: %v", ErrInvalidQuery, err)
	}
	if m.capacity, err = parseRange(opts.OutputCapacityRange); err != nil {
		return nil, fmt.Errorf("%w: output_capacity_range: %v", ErrInvalidQuery, err)
	}
	if m.scriptLen, err = parseRange(opts.ScriptLenRange); err != nil {
		return nil, fmt.Errorf("%w: script_len_range: %v", ErrInvalidQuery, err)
	}
	return m, nil
}

// Match reports whether cell satisfies the query. A cell without a block
// number is in no block, so it fails any block bound.
func (m *Matcher) Match(cell *types.Cell) bool {
	if !m.MatchOutput(cell.CellOutput, cell.Data) {
		return false
	}
	if m.fromBlock != nil || m.toBlock != nil {
		if cell.BlockNumber == "" {
			return false
		}
		n, err := types.ParseUint64(cell.BlockNumber)
		if err != nil {
			return false
		}
		if m.fromBlock != nil && n < *m.fromBlock {
			return false
		}
		if m.toBlock != nil && n > *m.toBlock {
			return false
		}
	}
	return true
}

// MatchOutput applies the script, data, capacity and length rules to a
// single transaction output.
func (m *Matcher) MatchOutput(out types.CellOutput, data string) bool {
	if m.lock != nil && !m.lock.match(out.Lock) {
		return false
	}
	if m.noType && out.Type != nil {
		return false
	}
	if m.typ != nil && (out.Type == nil || !m.typ.match(*out.Type)) {
		return false
	}

	if data == "" {
		data = "0x"
	}
	data = types.NormalizeHex(data)
	switch m.data.kind {
	case dataExact:
		if data != m.data.data {
			return false
		}
	case dataPrefix:
		if !strings.HasPrefix(data, m.data.data) {
			return false
		}
	}

	if m.dataLen != nil && !inRange(uint64(types.HexByteLen(data)), m.dataLen) {
		return false
	}
	if m.capacity != nil {
		capacity, err := types.ParseUint64(out.Capacity)
		if err != nil || !inRange(capacity, m.capacity) {
			return false
		}
	}
	if m.scriptLen != nil {
		// The range applies to the secondary script, as the indexer does.
		l := types.ScriptLen(out.Type)
		if m.typeIsPK {
			l = out.Lock.Len()
		}
		if !inRange(uint64(l), m.scriptLen) {
			return false
		}
	}
	return true
}

func inRange(v uint64, r *[2]uint64) bool {
	return v >= r[0] && v < r[1]
}
