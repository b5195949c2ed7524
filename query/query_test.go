package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-open-io/cellindex/types"
)

var (
	codeHash = "0x" + strings.Repeat("9b", 32)
	typeHash = "0x" + strings.Repeat("5e", 32)
)

func lockScript(args string) types.Script {
	return types.Script{CodeHash: codeHash, HashType: types.HashTypeType, Args: args}
}

func typeScript(args string) types.Script {
	return types.Script{CodeHash: typeHash, HashType: types.HashTypeData1, Args: args}
}

func cellWith(lock types.Script, typ *types.Script, data string) *types.Cell {
	return &types.Cell{
		OutPoint:   &types.OutPoint{TxHash: "0x01", Index: "0x0"},
		CellOutput: types.CellOutput{Capacity: "0x174876e800", Lock: lock, Type: typ},
		Data:       data,
	}
}

func TestToSearchKeyBlockRange(t *testing.T) {
	opts := QueryOptions{Lock: Lock(lockScript("0x01")), FromBlock: "0xa", ToBlock: "0x14"}

	key, err := ToSearchKey(opts)
	require.NoError(t, err)
	require.NotNil(t, key.Filter)
	assert.Equal(t, &HexRange{"0xa", "0x15"}, key.Filter.BlockRange)

	again, err := ToSearchKey(opts)
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, "0x14", opts.ToBlock)
}

func TestToSearchKeyOpenBlockRange(t *testing.T) {
	key, err := ToSearchKey(QueryOptions{Lock: Lock(lockScript("0x01")), FromBlock: "0x5"})
	require.NoError(t, err)
	assert.Equal(t, &HexRange{"0x5", "0xffffffffffffffff"}, key.Filter.BlockRange)

	key, err = ToSearchKey(QueryOptions{Lock: Lock(lockScript("0x01")), ToBlock: "0xffffffffffffffff"})
	require.NoError(t, err)
	assert.Equal(t, &HexRange{"0x0", "0xffffffffffffffff"}, key.Filter.BlockRange)

	key, err = ToSearchKey(QueryOptions{Lock: Lock(lockScript("0x01"))})
	require.NoError(t, err)
	assert.Nil(t, key.Filter)
}

func TestToSearchKeyInvalid(t *testing.T) {
	tests := []struct {
		name string
		opts QueryOptions
	}{
		{"no key", QueryOptions{}},
		{"only empty type", QueryOptions{Type: NoType()}},
		{"bad from block", QueryOptions{Lock: Lock(lockScript("0x")), FromBlock: "10"}},
		{"bad to block", QueryOptions{Lock: Lock(lockScript("0x")), ToBlock: "0xg"}},
		{"bad hash type", QueryOptions{Lock: Lock(types.Script{CodeHash: codeHash, HashType: "foo", Args: "0x"})}},
		{"bad range", QueryOptions{Lock: Lock(lockScript("0x")), OutputCapacityRange: &HexRange{"0x0", "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToSearchKey(tt.opts)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestToSearchKeyScripts(t *testing.T) {
	t.Run("lock with type filter", func(t *testing.T) {
		key, err := ToSearchKey(QueryOptions{Lock: Lock(lockScript("0xAB")), Type: ExactType(typeScript("0x"))})
		require.NoError(t, err)
		assert.Equal(t, ScriptTypeLock, key.ScriptType)
		assert.Equal(t, "0xab", key.Script.Args)
		require.NotNil(t, key.Filter.Script)
		assert.Equal(t, typeHash, key.Filter.Script.CodeHash)
	})

	t.Run("type as primary key", func(t *testing.T) {
		key, err := ToSearchKey(QueryOptions{Type: ExactType(typeScript("0x02"))})
		require.NoError(t, err)
		assert.Equal(t, ScriptTypeType, key.ScriptType)
		assert.Nil(t, key.Filter)
	})

	t.Run("empty type is not sent", func(t *testing.T) {
		key, err := ToSearchKey(QueryOptions{Lock: Lock(lockScript("0x")), Type: NoType()})
		require.NoError(t, err)
		assert.Nil(t, key.Filter)
	})

	t.Run("args truncated for fixed length", func(t *testing.T) {
		key, err := ToSearchKey(QueryOptions{Lock: Lock(lockScript("0x0102030405")), ArgsLen: ArgsLenOf(3)})
		require.NoError(t, err)
		assert.Equal(t, "0x010203", key.Script.Args)
	})

	t.Run("wrapper override", func(t *testing.T) {
		n := ArgsLenOf(1)
		key, err := ToSearchKey(QueryOptions{Lock: &ScriptWrapper{Script: lockScript("0x0102"), ArgsLen: &n}})
		require.NoError(t, err)
		assert.Equal(t, "0x01", key.Script.Args)
	})
}

func TestMatcherArgsLen(t *testing.T) {
	m, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x0102030405")), ArgsLen: ArgsLenOf(3)})
	require.NoError(t, err)

	assert.True(t, m.Match(cellWith(lockScript("0x010203"), nil, "0x")))
	assert.False(t, m.Match(cellWith(lockScript("0x01020304"), nil, "0x")), "prefix matches but length differs")
	assert.False(t, m.Match(cellWith(lockScript("0x0102ff"), nil, "0x")))

	exact, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x0102"))})
	require.NoError(t, err)
	assert.True(t, exact.Match(cellWith(lockScript("0x0102"), nil, "0x")))
	assert.False(t, exact.Match(cellWith(lockScript("0x010203"), nil, "0x")))

	anyLen, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x0102")), ArgsLen: AnyArgsLen()})
	require.NoError(t, err)
	assert.True(t, anyLen.Match(cellWith(lockScript("0x010203"), nil, "0x")))
	assert.False(t, anyLen.Match(cellWith(lockScript("0x01"), nil, "0x")))
}

func TestMatcherTypeAndData(t *testing.T) {
	typ := typeScript("0x")

	noType, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x")), Type: NoType()})
	require.NoError(t, err)
	assert.True(t, noType.Match(cellWith(lockScript("0x"), nil, "0x")))
	assert.False(t, noType.Match(cellWith(lockScript("0x"), &typ, "0x")))

	exactType, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x")), Type: ExactType(typ)})
	require.NoError(t, err)
	assert.True(t, exactType.Match(cellWith(lockScript("0x"), &typ, "0x")))
	assert.False(t, exactType.Match(cellWith(lockScript("0x"), nil, "0x")))

	data, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x")), Data: ExactData("0xABCD")})
	require.NoError(t, err)
	assert.True(t, data.Match(cellWith(lockScript("0x"), nil, "0xabcd")))
	assert.False(t, data.Match(cellWith(lockScript("0x"), nil, "0xabcdef")))

	prefix, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x")), Data: PrefixData("0xab")})
	require.NoError(t, err)
	assert.True(t, prefix.Match(cellWith(lockScript("0x"), nil, "0xabcdef")))
	assert.False(t, prefix.Match(cellWith(lockScript("0x"), nil, "0x")))
}

func TestMatcherBlockBounds(t *testing.T) {
	m, err := NewMatcher(QueryOptions{Lock: Lock(lockScript("0x")), FromBlock: "0xa", ToBlock: "0x14"})
	require.NoError(t, err)

	c := cellWith(lockScript("0x"), nil, "0x")
	assert.False(t, m.Match(c), "a pending cell is in no block")

	for number, want := range map[string]bool{"0x9": false, "0xa": true, "0x14": true, "0x15": false} {
		c.BlockNumber = number
		assert.Equal(t, want, m.Match(c), number)
	}
}

func TestMatcherRanges(t *testing.T) {
	typ := typeScript("0x")
	m, err := NewMatcher(QueryOptions{
		Lock:                Lock(lockScript("0x")),
		OutputDataLenRange:  &HexRange{"0x0", "0x2"},
		OutputCapacityRange: &HexRange{"0x0", "0x174876e801"},
		ScriptLenRange:      &HexRange{"0x0", "0x1"},
	})
	require.NoError(t, err)

	assert.True(t, m.Match(cellWith(lockScript("0x"), nil, "0x01")))
	assert.False(t, m.Match(cellWith(lockScript("0x"), nil, "0x010203")))
	assert.False(t, m.Match(cellWith(lockScript("0x"), &typ, "0x")), "script length applies to the type script")
}

func TestIOTypeAccepts(t *testing.T) {
	assert.True(t, IOTypeBoth.Accepts(IOTypeInput))
	assert.True(t, IOTypeInput.Accepts(IOTypeBoth))
	assert.True(t, IOType("").Accepts(IOTypeOutput))
	assert.False(t, IOTypeInput.Accepts(IOTypeOutput))
}
