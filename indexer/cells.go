package indexer

import (
	"context"
	"iter"

	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
)

// TerminatorResult tells a scan what to do with the cell just offered.
// Push adds the cell to the result; Stop ends the scan after Push is applied.
type TerminatorResult struct {
	Stop bool
	Push bool
}

// Terminator is called once per candidate cell with a running index.
type Terminator func(index int, cell *types.Cell) TerminatorResult

// DefaultTerminator keeps every cell and never stops.
func DefaultTerminator(int, *types.Cell) TerminatorResult {
	return TerminatorResult{Push: true}
}

type GetCellsOptions struct {
	Order      query.Order
	SizeLimit  uint64
	LastCursor string
}

type GetCellsResult struct {
	Objects    []types.Cell
	LastCursor string
}

// cellPager walks get_cells pages with the indexer cursor.
type cellPager struct {
	rpc    IndexerRPC
	key    *query.SearchKey
	order  query.Order
	limit  uint64
	cursor string
	done   bool
}

func (i *Indexer) newCellPager(key *query.SearchKey, order query.Order, limit uint64, cursor string) *cellPager {
	if order == "" {
		order = query.OrderAsc
	}
	if limit == 0 {
		limit = i.pageSize
	}
	return &cellPager{rpc: i.rpc, key: key, order: order, limit: limit, cursor: cursor}
}

// next returns the next page, or nil once the cursor is exhausted.
func (p *cellPager) next(ctx context.Context) ([]types.Cell, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.rpc.GetCells(ctx, p.key, p.order, p.limit, p.cursor)
	if err != nil {
		return nil, err
	}
	prometheusCellPages.Inc()

	p.cursor = page.LastCursor
	if uint64(len(page.Objects)) < p.limit || cursorExhausted(page.LastCursor) {
		p.done = true
	}
	return page.Objects, nil
}

func cursorExhausted(cursor string) bool {
	return cursor == "" || cursor == "0x"
}

// GetCells pages through get_cells until the terminator stops or the
// indexer runs out of cells. The terminator sees raw indexer results.
func (i *Indexer) GetCells(ctx context.Context, key *query.SearchKey, terminator Terminator, opts GetCellsOptions) (*GetCellsResult, error) {
	if terminator == nil {
		terminator = DefaultTerminator
	}
	p := i.newCellPager(key, opts.Order, opts.SizeLimit, opts.LastCursor)
	result := &GetCellsResult{Objects: []types.Cell{}}

	index := 0
	for {
		page, err := p.next(ctx)
		if err != nil {
			return nil, err
		}
		result.LastCursor = p.cursor
		if page == nil {
			return result, nil
		}
		for k := range page {
			r := terminator(index, &page[k])
			index++
			if r.Push {
				result.Objects = append(result.Objects, page[k])
			}
			if r.Stop {
				return result, nil
			}
		}
	}
}

// CellCollector streams the cells matching a query.
type CellCollector struct {
	indexer    *Indexer
	opts       query.QueryOptions
	key        *query.SearchKey
	matcher    *query.Matcher
	terminator Terminator
}

// Collector validates opts and builds a collector for them. It fails with
// query.ErrInvalidQuery before any network call.
func (i *Indexer) Collector(opts query.QueryOptions) (*CellCollector, error) {
	key, err := query.ToSearchKey(opts)
	if err != nil {
		return nil, err
	}
	matcher, err := query.NewMatcher(opts)
	if err != nil {
		return nil, err
	}
	return &CellCollector{indexer: i, opts: opts, key: key, matcher: matcher}, nil
}

// WithTerminator returns a copy of c that offers every matching cell to t.
func (c *CellCollector) WithTerminator(t Terminator) *CellCollector {
	cc := *c
	cc.terminator = t
	return &cc
}

func (c *CellCollector) Options() query.QueryOptions {
	return c.opts
}

func (c *CellCollector) SearchKey() *query.SearchKey {
	return c.key
}

// Collect returns a lazy sequence of matching cells. Pages are fetched only
// as the caller consumes them; every call starts a fresh scan. Skip is
// applied once, to the filtered sequence.
func (c *CellCollector) Collect(ctx context.Context) iter.Seq2[*types.Cell, error] {
	return func(yield func(*types.Cell, error) bool) {
		p := c.indexer.newCellPager(c.key, c.opts.OrderOrDefault(), c.indexer.limit(c.opts.PageSize), "")
		index, skipped := 0, 0
		for {
			page, err := p.next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if page == nil {
				return
			}
			for k := range page {
				cell := &page[k]
				if !c.matcher.Match(cell) {
					continue
				}
				r := TerminatorResult{Push: true}
				if c.terminator != nil {
					r = c.terminator(index, cell)
					index++
				}
				if r.Push {
					if skipped < c.opts.Skip {
						skipped++
					} else {
						prometheusCellsCollected.Inc()
						if !yield(cell, nil) {
							return
						}
					}
				}
				if r.Stop {
					return
				}
			}
		}
	}
}

// Count scans every matching cell, ignoring Skip and any terminator.
func (c *CellCollector) Count(ctx context.Context) (int, error) {
	plain := *c
	plain.terminator = nil
	plain.opts.Skip = 0

	n := 0
	for _, err := range plain.Collect(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
