package pending

import (
	"context"
	"iter"
	"slices"

	"github.com/b-open-io/cellindex/indexer"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
)

type CollectorOptions struct {
	// SkipPendingCells leaves out cells created by tracked transactions.
	// Cells they spend are hidden either way.
	SkipPendingCells bool
}

// Collector merges confirmed cells from the indexer with pending cells
// from tracked transactions. Ascending order yields confirmed cells first,
// descending order yields pending cells first, newest transaction first.
// Skip counts over the merged stream.
type Collector struct {
	manager *Manager
	opts    query.QueryOptions
	options CollectorOptions
	remote  *indexer.CellCollector
	matcher *query.Matcher
}

func (m *Manager) Collector(opts query.QueryOptions, options CollectorOptions) (*Collector, error) {
	remoteOpts := opts
	remoteOpts.Skip = 0
	remote, err := m.cells.Collector(remoteOpts)
	if err != nil {
		return nil, err
	}
	matcher, err := query.NewMatcher(opts)
	if err != nil {
		return nil, err
	}
	return &Collector{manager: m, opts: opts, options: options, remote: remote, matcher: matcher}, nil
}

// Collect yields the merged cells. A confirmed cell created by a tracked
// transaction makes the manager drop that transaction, so its outputs are
// not reported twice now or later.
func (c *Collector) Collect(ctx context.Context) iter.Seq2[*types.Cell, error] {
	return c.collect(ctx, c.opts.Skip)
}

// Count returns the number of cells Collect yields, ignoring skip.
func (c *Collector) Count(ctx context.Context) (int, error) {
	n := 0
	for _, err := range c.collect(ctx, 0) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (c *Collector) collect(ctx context.Context, skip int) iter.Seq2[*types.Cell, error] {
	return func(yield func(*types.Cell, error) bool) {
		snap, err := c.manager.storage.snapshot(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		tracked := make(map[string]bool, len(snap.txs))
		for _, tx := range snap.txs {
			tracked[types.NormalizeHex(tx.Hash)] = true
		}
		healed := make(map[string]bool)
		seenConfirmed := make(map[string]bool)
		yieldedPending := make(map[string]bool)

		var pending []types.Cell
		if !c.options.SkipPendingCells {
			for k := range snap.pending {
				if c.matcher.Match(&snap.pending[k]) {
					pending = append(pending, snap.pending[k])
				}
			}
		}

		emit := func(cell *types.Cell) bool {
			if skip > 0 {
				skip--
				return true
			}
			return yield(cell, nil)
		}

		confirmed := func() bool {
			for cell, err := range c.remote.Collect(ctx) {
				if err != nil {
					yield(nil, err)
					return false
				}
				key := cell.Key()
				seenConfirmed[key] = true

				if hash := txHash(cell); hash != "" && tracked[hash] {
					delete(tracked, hash)
					healed[hash] = true
					if _, err := c.manager.storage.DeleteTransactionByHash(ctx, hash); err != nil {
						c.manager.logger.Warnf("failed to drop confirmed transaction %s: %v", hash, err)
					} else {
						prometheusSelfHealed.Inc()
						c.manager.logger.Debugf("dropped %s: output seen confirmed", hash)
					}
				}

				if snap.spent[key] || yieldedPending[key] {
					continue
				}
				if !emit(cell) {
					return false
				}
			}
			return true
		}

		pendingCells := func(cells []types.Cell) bool {
			for k := range cells {
				cell := &cells[k]
				key := cell.Key()
				if snap.spent[key] || seenConfirmed[key] || healed[txHash(cell)] {
					continue
				}
				yieldedPending[key] = true
				if !emit(cell) {
					return false
				}
			}
			return true
		}

		if c.opts.OrderOrDefault() == query.OrderDesc {
			newestFirst := newestTransactionsFirst(pending)
			if pendingCells(newestFirst) {
				confirmed()
			}
			return
		}
		if confirmed() {
			pendingCells(pending)
		}
	}
}

// txHash returns the normalized hash of the transaction that created cell,
// or "" when the cell has no outpoint.
func txHash(cell *types.Cell) string {
	if cell.OutPoint == nil {
		return ""
	}
	return types.NormalizeHex(cell.OutPoint.TxHash)
}

// newestTransactionsFirst reverses the transaction order of cells while
// keeping each transaction's outputs in index order. This is not a full
// reversal: outputs of one transaction are never reordered.
func newestTransactionsFirst(cells []types.Cell) []types.Cell {
	var groups [][]types.Cell
	for k := range cells {
		if k == 0 || txHash(&cells[k]) != txHash(&cells[k-1]) {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], cells[k])
	}
	slices.Reverse(groups)
	return slices.Concat(groups...)
}
