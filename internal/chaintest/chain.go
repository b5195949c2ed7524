// Package chaintest provides an in-memory node and indexer for tests.
package chaintest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/rpc"
	"github.com/b-open-io/cellindex/types"
)

// Chain answers the indexer and node RPCs from fields tests set directly.
// Lock Mu when mutating fields while collectors may be running.
type Chain struct {
	Mu sync.Mutex

	Cells    []types.Cell
	Txs      map[string]*types.TransactionWithStatus
	TxRefs   map[string][]rpc.TxRef
	Tip      uint64
	NodeTip  uint64
	Median   uint64
	Sent     []*types.Transaction
	SendHash func(tx *types.Transaction) string

	// Err, when set, fails every call.
	Err error

	GetCellsCalls        int
	GetTransactionsCalls int
	BatchCalls           int
	GetTransactionCalls  int
}

func New() *Chain {
	return &Chain{
		Txs:    make(map[string]*types.TransactionWithStatus),
		TxRefs: make(map[string][]rpc.TxRef),
	}
}

// SentHashBase offsets the hashes SendTransaction assigns so they never
// collide with Hash(n) fixtures for small n.
const SentHashBase = 0x10000

// RefKey is the TxRefs key for a search on script.
func RefKey(scriptType query.ScriptType, script types.Script) string {
	s := script.Normalized()
	return fmt.Sprintf("%s:%s:%s:%s", scriptType, s.CodeHash, s.HashType, s.Args)
}

func prefixMatch(want, got types.Script) bool {
	want, got = want.Normalized(), got.Normalized()
	return want.CodeHash == got.CodeHash && want.HashType == got.HashType && strings.HasPrefix(got.Args, want.Args)
}

func (c *Chain) matches(key *query.SearchKey, cell *types.Cell) bool {
	primary, secondary := &cell.CellOutput.Lock, cell.CellOutput.Type
	if key.ScriptType == query.ScriptTypeType {
		primary, secondary = cell.CellOutput.Type, &cell.CellOutput.Lock
	}
	if primary == nil || !prefixMatch(key.Script, *primary) {
		return false
	}
	if key.Filter == nil {
		return true
	}
	if key.Filter.Script != nil && (secondary == nil || !prefixMatch(*key.Filter.Script, *secondary)) {
		return false
	}
	if r := key.Filter.BlockRange; r != nil && cell.BlockNumber != "" {
		n, _ := types.ParseUint64(cell.BlockNumber)
		from, _ := types.ParseUint64(r[0])
		to, _ := types.ParseUint64(r[1])
		if n < from || n >= to {
			return false
		}
	}
	return true
}

func page[T any](items []T, limit uint64, cursor string) ([]T, string) {
	offset := uint64(0)
	if cursor != "" {
		offset, _ = types.ParseUint64(cursor)
	}
	if offset >= uint64(len(items)) {
		return []T{}, "0x"
	}
	end := min(offset+limit, uint64(len(items)))
	return items[offset:end], types.Uint64ToHex(end)
}

func (c *Chain) GetIndexerTip(ctx context.Context) (*types.Tip, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return &types.Tip{BlockNumber: types.Uint64ToHex(c.Tip), BlockHash: "0x00"}, nil
}

func (c *Chain) GetCells(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*rpc.CellsPage, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.GetCellsCalls++
	if c.Err != nil {
		return nil, c.Err
	}

	var matched []types.Cell
	for k := range c.Cells {
		if c.matches(key, &c.Cells[k]) {
			matched = append(matched, c.Cells[k])
		}
	}
	if order == query.OrderDesc {
		slices.Reverse(matched)
	}
	objects, last := page(matched, limit, cursor)
	return &rpc.CellsPage{Objects: slices.Clone(objects), LastCursor: last}, nil
}

func (c *Chain) GetTransactions(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*rpc.TransactionsPage, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.GetTransactionsCalls++
	if c.Err != nil {
		return nil, c.Err
	}

	refs := slices.Clone(c.TxRefs[RefKey(key.ScriptType, key.Script)])
	if order == query.OrderDesc {
		slices.Reverse(refs)
	}
	objects, last := page(refs, limit, cursor)
	return &rpc.TransactionsPage{Objects: objects, LastCursor: last}, nil
}

func (c *Chain) GetTipHeader(ctx context.Context) (*types.Header, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	tip := c.NodeTip
	if tip == 0 {
		tip = c.Tip
	}
	return &types.Header{Number: types.Uint64ToHex(tip)}, nil
}

func (c *Chain) GetTransaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.GetTransactionCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Txs[hash], nil
}

func (c *Chain) GetTransactionsByHash(ctx context.Context, hashes []string) ([]*types.TransactionWithStatus, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.BatchCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]*types.TransactionWithStatus, len(hashes))
	for k, h := range hashes {
		out[k] = c.Txs[h]
	}
	return out, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	c.Sent = append(c.Sent, tx)
	if c.SendHash != nil {
		return c.SendHash(tx), nil
	}
	return Hash(SentHashBase + len(c.Sent)), nil
}

func (c *Chain) GetBlockchainInfo(ctx context.Context) (*types.BlockchainInfo, error) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return &types.BlockchainInfo{Chain: "ckb_dev", MedianTime: types.Uint64ToHex(c.Median)}, nil
}

// AddCell appends a confirmed cell and returns it.
func (c *Chain) AddCell(cell types.Cell) types.Cell {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.Cells = append(c.Cells, cell)
	return cell
}

// Calls returns the number of get_cells calls so far.
func (c *Chain) Calls() int {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.GetCellsCalls
}
