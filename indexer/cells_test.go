package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-open-io/cellindex/internal/chaintest"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

var alice = chaintest.LockScript("0x" + "aa11223344556677889900aabbccddeeff001122")

func newTestIndexer(chain *chaintest.Chain, opts ...Option) *Indexer {
	return New(chain, chain, append([]Option{WithLogger(ulogger.TestLogger{})}, opts...)...)
}

func collectAll(t *testing.T, c *CellCollector) []types.Cell {
	t.Helper()
	var out []types.Cell
	for cell, err := range c.Collect(context.Background()) {
		require.NoError(t, err)
		out = append(out, *cell)
	}
	return out
}

func txHashes(cells []types.Cell) []string {
	out := make([]string, len(cells))
	for k, c := range cells {
		out[k] = c.OutPoint.TxHash
	}
	return out
}

func TestTerminatorStopsPaging(t *testing.T) {
	chain := chaintest.New()
	for n := 1; n <= 5; n++ {
		chain.AddCell(chaintest.Confirmed(alice, n, 0, uint64(n)))
	}
	idx := newTestIndexer(chain, WithPageSize(2))

	c, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice)})
	require.NoError(t, err)

	calls := 0
	got := collectAll(t, c.WithTerminator(func(index int, cell *types.Cell) TerminatorResult {
		calls++
		if calls == 3 {
			return TerminatorResult{Stop: true}
		}
		return TerminatorResult{Push: true}
	}))

	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(2)}, txHashes(got))
	assert.Equal(t, 2, chain.Calls(), "no page after the one holding the third cell")
}

func TestGetCellsTerminator(t *testing.T) {
	chain := chaintest.New()
	for n := 1; n <= 5; n++ {
		chain.AddCell(chaintest.Confirmed(alice, n, 0, uint64(n)))
	}
	idx := newTestIndexer(chain)
	key, err := query.ToSearchKey(query.QueryOptions{Lock: query.Lock(alice)})
	require.NoError(t, err)

	res, err := idx.GetCells(context.Background(), key, func(index int, cell *types.Cell) TerminatorResult {
		return TerminatorResult{Push: index%2 == 0, Stop: index == 3}
	}, GetCellsOptions{SizeLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(3)}, txHashes(res.Objects))
	assert.Equal(t, "0x4", res.LastCursor)
}

func TestCollectPagesSkipAndOrder(t *testing.T) {
	chain := chaintest.New()
	for n := 1; n <= 7; n++ {
		chain.AddCell(chaintest.Confirmed(alice, n, 0, uint64(n)))
	}
	idx := newTestIndexer(chain, WithPageSize(3))

	c, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice), Skip: 2})
	require.NoError(t, err)
	got := collectAll(t, c)
	require.Len(t, got, 5)
	assert.Equal(t, chaintest.Hash(3), got[0].OutPoint.TxHash)

	desc, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice), Order: query.OrderDesc, Skip: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(2), chaintest.Hash(1)}, txHashes(collectAll(t, desc)))

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// restartable
	assert.Len(t, collectAll(t, c), 5)
}

func TestCollectPostFilters(t *testing.T) {
	chain := chaintest.New()
	typ := chaintest.TypeScript("0x01")
	chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2, chaintest.WithType(typ)))
	chain.AddCell(chaintest.Confirmed(alice, 3, 0, 3, chaintest.WithData("0xabcd")))
	idx := newTestIndexer(chain)

	noType, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice), Type: query.NoType()})
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(3)}, txHashes(collectAll(t, noType)))

	data, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice), Data: query.ExactData("0xabcd")})
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(3)}, txHashes(collectAll(t, data)))
}

func TestCollectArgsLen(t *testing.T) {
	chain := chaintest.New()
	chain.AddCell(chaintest.Confirmed(chaintest.LockScript("0x010203"), 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(chaintest.LockScript("0x01020304"), 2, 0, 1))
	chain.AddCell(chaintest.Confirmed(chaintest.LockScript("0x010299"), 3, 0, 1))
	idx := newTestIndexer(chain)

	c, err := idx.Collector(query.QueryOptions{Lock: query.Lock(chaintest.LockScript("0x0102030405")), ArgsLen: query.ArgsLenOf(3)})
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1)}, txHashes(collectAll(t, c)))
}

func TestCollectorRejectsInvalidQuery(t *testing.T) {
	chain := chaintest.New()
	idx := newTestIndexer(chain)

	_, err := idx.Collector(query.QueryOptions{Type: query.NoType()})
	assert.ErrorIs(t, err, query.ErrInvalidQuery)
	assert.Zero(t, chain.Calls())
}

func TestCollectPropagatesTransportErrors(t *testing.T) {
	chain := chaintest.New()
	boom := errors.New("connection refused")
	chain.Err = boom
	idx := newTestIndexer(chain)

	c, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice)})
	require.NoError(t, err)
	for _, err := range c.Collect(context.Background()) {
		assert.ErrorIs(t, err, boom)
	}
}

func TestCollectCapacity(t *testing.T) {
	chain := chaintest.New()
	chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1, chaintest.WithCapacity(60*types.ShannonsPerCKB)))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2, chaintest.WithData("0x01")))
	chain.AddCell(chaintest.Confirmed(alice, 3, 0, 3, chaintest.WithCapacity(70*types.ShannonsPerCKB)))
	chain.AddCell(chaintest.Confirmed(alice, 4, 0, 4))
	idx := newTestIndexer(chain)

	cells, total, err := idx.CollectCapacity(context.Background(), alice, 100*types.ShannonsPerCKB)
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(3)}, txHashes(cells))
	assert.Equal(t, uint64(130*types.ShannonsPerCKB), total)
}

func TestCollectSudtByAmount(t *testing.T) {
	chain := chaintest.New()
	sudt := chaintest.TypeScript("0x" + "ee")
	amount := func(n byte) string { return fmt.Sprintf("0x%02x%s", n, strings.Repeat("00", 15)) }
	chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1, chaintest.WithType(sudt), chaintest.WithData(amount(5))))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2, chaintest.WithType(sudt), chaintest.WithData("0x01")))
	chain.AddCell(chaintest.Confirmed(alice, 3, 0, 3, chaintest.WithType(sudt), chaintest.WithData(amount(7))))
	chain.AddCell(chaintest.Confirmed(alice, 4, 0, 4, chaintest.WithType(sudt), chaintest.WithData(amount(9))))
	idx := newTestIndexer(chain)

	cells, total, err := idx.CollectSudtByAmount(context.Background(), query.QueryOptions{Type: query.ExactType(sudt)}, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(3)}, txHashes(cells))
	assert.Equal(t, int64(12), total.Int64())

	balance, err := idx.GetSudtBalance(context.Background(), sudt, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(21), balance.Int64())
}

func TestCollectCapacityForBurn(t *testing.T) {
	chain := chaintest.New()
	recipient := chaintest.TypeScript("0x77")
	chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2))
	chain.AddCell(chaintest.Confirmed(alice, 3, 0, 3, chaintest.WithType(recipient)))
	chain.AddCell(chaintest.Confirmed(alice, 4, 0, 4, chaintest.WithType(chaintest.LockScript("0x"))))
	idx := newTestIndexer(chain)

	cells, total, err := idx.CollectCapacityForBurn(context.Background(), alice, chaintest.TypeCodeHash, 100*types.ShannonsPerCKB)
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(1), chaintest.Hash(3)}, txHashes(cells))
	assert.Equal(t, uint64(100*types.ShannonsPerCKB), total)
}

func TestAccumulatorsRequireExactArgs(t *testing.T) {
	chain := chaintest.New()
	// the indexer prefix-matches args, so it reports this lock for alice too
	mallory := chaintest.LockScript(alice.Args + "deadbeef")
	recipient := chaintest.TypeScript("0x77")
	sudt := chaintest.TypeScript("0xee")
	amount := "0x05" + strings.Repeat("00", 15)

	chain.AddCell(chaintest.Confirmed(mallory, 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2))
	chain.AddCell(chaintest.Confirmed(mallory, 3, 0, 3, chaintest.WithType(recipient)))
	chain.AddCell(chaintest.Confirmed(mallory, 4, 0, 4, chaintest.WithType(sudt), chaintest.WithData(amount)))
	chain.AddCell(chaintest.Confirmed(alice, 5, 0, 5, chaintest.WithType(sudt), chaintest.WithData(amount)))
	idx := newTestIndexer(chain)
	ctx := context.Background()

	cells, total, err := idx.CollectCapacity(ctx, alice, 200*types.ShannonsPerCKB)
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(2)}, txHashes(cells))
	assert.Equal(t, uint64(100*types.ShannonsPerCKB), total)

	balance, err := idx.GetBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(200*types.ShannonsPerCKB), balance)

	// sudt shares the recipient code hash, so alice's token cell is kept
	cells, total, err = idx.CollectCapacityForBurn(ctx, alice, chaintest.TypeCodeHash, 200*types.ShannonsPerCKB)
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(2), chaintest.Hash(5)}, txHashes(cells))
	assert.Equal(t, uint64(100*types.ShannonsPerCKB), total)

	cells, sum, err := idx.CollectSudtByAmount(ctx, query.QueryOptions{Lock: query.Lock(alice), Type: query.ExactType(sudt)}, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, []string{chaintest.Hash(5)}, txHashes(cells))
	assert.Equal(t, int64(5), sum.Int64())
}

func TestNegativePageSizeUsesDefault(t *testing.T) {
	chain := chaintest.New()
	for n := 1; n <= 5; n++ {
		chain.AddCell(chaintest.Confirmed(alice, n, 0, uint64(n)))
	}
	idx := newTestIndexer(chain, WithPageSize(2))

	c, err := idx.Collector(query.QueryOptions{Lock: query.Lock(alice), PageSize: -1})
	require.NoError(t, err)
	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, chain.Calls())
}

func TestGetBalance(t *testing.T) {
	chain := chaintest.New()
	chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2, chaintest.WithCapacity(50)))
	chain.AddCell(chaintest.Confirmed(chaintest.LockScript("0x"), 3, 0, 3))
	idx := newTestIndexer(chain)

	balance, err := idx.GetBalance(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*types.ShannonsPerCKB+50), balance)
}

func TestWaitForSync(t *testing.T) {
	chain := chaintest.New()
	chain.Tip = 90
	chain.NodeTip = 100
	idx := newTestIndexer(chain)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, idx.WaitForSync(ctx, 3, 5*time.Millisecond), context.DeadlineExceeded)

	chain.Mu.Lock()
	chain.Tip = 98
	chain.Mu.Unlock()
	assert.NoError(t, idx.WaitForSync(context.Background(), 3, time.Millisecond))
}
