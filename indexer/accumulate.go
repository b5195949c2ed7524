package indexer

import (
	"context"
	"math/big"

	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
)

// plainCellsQuery selects cells under lock with no type script and no data,
// the only cells whose capacity can be spent freely.
func plainCellsQuery(lock types.Script) query.QueryOptions {
	return query.QueryOptions{
		Lock:               query.Lock(lock),
		Type:               query.NoType(),
		ScriptLenRange:     &query.HexRange{"0x0", "0x1"},
		OutputDataLenRange: &query.HexRange{"0x0", "0x1"},
	}
}

func isPlain(cell *types.Cell) bool {
	return cell.CellOutput.Type == nil && !cell.HasData()
}

// accumulate runs t over the cells matching opts. Unlike GetCells, the
// terminator only sees cells that passed the query's client-side rules, so
// exact args are enforced.
func (i *Indexer) accumulate(ctx context.Context, opts query.QueryOptions, t Terminator) ([]types.Cell, error) {
	c, err := i.Collector(opts)
	if err != nil {
		return nil, err
	}
	cells := []types.Cell{}
	for cell, err := range c.WithTerminator(t).Collect(ctx) {
		if err != nil {
			return nil, err
		}
		cells = append(cells, *cell)
	}
	return cells, nil
}

// CollectCapacity gathers plain cells under lock until their capacity
// reaches need. The returned total is below need when the lock does not
// own enough.
func (i *Indexer) CollectCapacity(ctx context.Context, lock types.Script, need uint64) ([]types.Cell, uint64, error) {
	var total uint64
	cells, err := i.accumulate(ctx, plainCellsQuery(lock), func(_ int, cell *types.Cell) TerminatorResult {
		if total >= need {
			return TerminatorResult{Stop: true}
		}
		if !isPlain(cell) {
			return TerminatorResult{}
		}
		capacity, err := cell.CapacityValue()
		if err != nil {
			return TerminatorResult{}
		}
		total += capacity
		return TerminatorResult{Push: true, Stop: total >= need}
	})
	if err != nil {
		return nil, 0, err
	}
	return cells, total, nil
}

// CollectSudtByAmount gathers token cells matching opts until the sum of
// their u128 amounts reaches amount.
func (i *Indexer) CollectSudtByAmount(ctx context.Context, opts query.QueryOptions, amount *big.Int) ([]types.Cell, *big.Int, error) {
	total := new(big.Int)
	cells, err := i.accumulate(ctx, opts, func(_ int, cell *types.Cell) TerminatorResult {
		if total.Cmp(amount) >= 0 {
			return TerminatorResult{Stop: true}
		}
		v, err := types.Uint128LE(cell.Data)
		if err != nil {
			return TerminatorResult{}
		}
		total.Add(total, v)
		return TerminatorResult{Push: true, Stop: total.Cmp(amount) >= 0}
	})
	if err != nil {
		return nil, nil, err
	}
	return cells, total, nil
}

// CollectCapacityForBurn gathers plain cells under lock up to need, and
// also every cell whose type code hash is recipientTypeCodeHash no matter
// how much capacity has been collected. Only plain cells count towards the
// returned total.
func (i *Indexer) CollectCapacityForBurn(ctx context.Context, lock types.Script, recipientTypeCodeHash string, need uint64) ([]types.Cell, uint64, error) {
	recipient := types.NormalizeHex(recipientTypeCodeHash)

	var total uint64
	cells, err := i.accumulate(ctx, query.QueryOptions{Lock: query.Lock(lock)}, func(_ int, cell *types.Cell) TerminatorResult {
		if t := cell.CellOutput.Type; t != nil && types.NormalizeHex(t.CodeHash) == recipient {
			return TerminatorResult{Push: true}
		}
		if total >= need || !isPlain(cell) {
			return TerminatorResult{}
		}
		capacity, err := cell.CapacityValue()
		if err != nil {
			return TerminatorResult{}
		}
		total += capacity
		return TerminatorResult{Push: true}
	})
	if err != nil {
		return nil, 0, err
	}
	return cells, total, nil
}

// GetBalance sums the capacity of every live cell under lock.
func (i *Indexer) GetBalance(ctx context.Context, lock types.Script) (uint64, error) {
	c, err := i.Collector(query.QueryOptions{Lock: query.Lock(lock)})
	if err != nil {
		return 0, err
	}
	var total uint64
	for cell, err := range c.Collect(ctx) {
		if err != nil {
			return 0, err
		}
		capacity, err := cell.CapacityValue()
		if err != nil {
			return 0, err
		}
		total += capacity
	}
	return total, nil
}

// GetSudtBalance sums the token amount of every sudtType cell owned by
// userLock.
func (i *Indexer) GetSudtBalance(ctx context.Context, sudtType, userLock types.Script) (*big.Int, error) {
	c, err := i.Collector(query.QueryOptions{Lock: query.Lock(userLock), Type: query.ExactType(sudtType)})
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for cell, err := range c.Collect(ctx) {
		if err != nil {
			return nil, err
		}
		v, err := types.Uint128LE(cell.Data)
		if err != nil {
			continue
		}
		total.Add(total, v)
	}
	return total, nil
}
