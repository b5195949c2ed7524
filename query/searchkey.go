package query

import (
	"errors"
	"fmt"
	"math"

	"github.com/b-open-io/cellindex/types"
)

// ErrInvalidQuery is returned when a query cannot be turned into a search key.
var ErrInvalidQuery = errors.New("invalid query")

type SearchKeyFilter struct {
	Script              *types.Script `json:"script,omitempty"`
	ScriptLenRange      *HexRange     `json:"script_len_range,omitempty"`
	OutputDataLenRange  *HexRange     `json:"output_data_len_range,omitempty"`
	OutputCapacityRange *HexRange     `json:"output_capacity_range,omitempty"`
	BlockRange          *HexRange     `json:"block_range,omitempty"`
}

// SearchKey is the wire query understood by the indexer.
type SearchKey struct {
	Script             types.Script     `json:"script"`
	ScriptType         ScriptType       `json:"script_type"`
	ScriptSearchMode   SearchMode       `json:"script_search_mode,omitempty"`
	Filter             *SearchKeyFilter `json:"filter,omitempty"`
	WithData           *bool            `json:"with_data,omitempty"`
	GroupByTransaction *bool            `json:"group_by_transaction,omitempty"`
}

// ToSearchKey translates opts into the indexer's search key. The lock is the
// primary key when present, otherwise an exact type script is. The indexer
// only prefix-matches scripts, so args are truncated for ArgsLenOf and the
// exact checks are left to the Matcher.
func ToSearchKey(opts QueryOptions) (*SearchKey, error) {
	typeWrapper, hasType := opts.Type.Exact()
	if opts.Lock == nil && !hasType {
		return nil, fmt.Errorf("%w: a lock or a concrete type script is required", ErrInvalidQuery)
	}

	filter := &SearchKeyFilter{}
	key := &SearchKey{}

	if opts.Lock != nil {
		if err := validateScript(opts.Lock.Script); err != nil {
			return nil, err
		}
		key.Script = searchScript(opts.Lock.Script, opts.lockArgsLen())
		key.ScriptType = ScriptTypeLock
		if hasType {
			if err := validateScript(typeWrapper.Script); err != nil {
				return nil, err
			}
			s := searchScript(typeWrapper.Script, opts.typeArgsLen())
			filter.Script = &s
		}
	} else {
		if err := validateScript(typeWrapper.Script); err != nil {
			return nil, err
		}
		key.Script = searchScript(typeWrapper.Script, opts.typeArgsLen())
		key.ScriptType = ScriptTypeType
	}

	var err error
	if filter.BlockRange, err = blockRange(opts.FromBlock, opts.ToBlock); err != nil {
		return nil, err
	}
	if filter.ScriptLenRange, err = validRange("script_len_range", opts.ScriptLenRange); err != nil {
		return nil, err
	}
	if filter.OutputDataLenRange, err = validRange("output_data_len_range", opts.OutputDataLenRange); err != nil {
		return nil, err
	}
	if filter.OutputCapacityRange, err = validRange("output_capacity_range", opts.OutputCapacityRange); err != nil {
		return nil, err
	}

	if *filter != (SearchKeyFilter{}) {
		key.Filter = filter
	}
	return key, nil
}

func validateScript(s types.Script) error {
	if !s.HashType.Valid() {
		return fmt.Errorf("%w: unknown hash type %q", ErrInvalidQuery, s.HashType)
	}
	if _, err := types.DecodeHex(s.CodeHash); err != nil {
		return fmt.Errorf("%w: code hash: %v", ErrInvalidQuery, err)
	}
	if _, err := types.DecodeHex(s.Args); err != nil {
		return fmt.Errorf("%w: args: %v", ErrInvalidQuery, err)
	}
	return nil
}

func searchScript(s types.Script, argsLen ArgsLen) types.Script {
	s = s.Normalized()
	if n, ok := argsLen.Fixed(); ok && n < s.ArgsLen() {
		s.Args = s.Args[:2+2*n]
	}
	return s
}

// blockRange folds inclusive from/to block numbers into the indexer's
// half-open block_range.
func blockRange(from, to string) (*HexRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	start := uint64(0)
	end := uint64(math.MaxUint64)
	if from != "" {
		n, err := types.ParseUint64(from)
		if err != nil {
			return nil, fmt.Errorf("%w: fromBlock: %v", ErrInvalidQuery, err)
		}
		start = n
	}
	if to != "" {
		n, err := types.ParseUint64(to)
		if err != nil {
			return nil, fmt.Errorf("%w: toBlock: %v", ErrInvalidQuery, err)
		}
		if n < math.MaxUint64 {
			end = n + 1
		}
	}
	return &HexRange{types.Uint64ToHex(start), types.Uint64ToHex(end)}, nil
}

func validRange(name string, r *HexRange) (*HexRange, error) {
	if r == nil {
		return nil, nil
	}
	from, err := types.ParseUint64(r[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
	}
	to, err := types.ParseUint64(r[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
	}
	return &HexRange{types.Uint64ToHex(from), types.Uint64ToHex(to)}, nil
}

// parseRange converts a validated range into numbers.
func parseRange(r *HexRange) (*[2]uint64, error) {
	if r == nil {
		return nil, nil
	}
	from, err := types.ParseUint64(r[0])
	if err != nil {
		return nil, err
	}
	to, err := types.ParseUint64(r[1])
	if err != nil {
		return nil, err
	}
	return &[2]uint64{from, to}, nil
}
