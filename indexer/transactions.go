package indexer

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/rpc"
	"github.com/b-open-io/cellindex/types"
)

type TransactionCollectorOptions struct {
	// SkipMissing drops transactions the node cannot return instead of
	// failing the scan.
	SkipMissing bool
	// ExcludeStatus leaves TxStatus empty in the results.
	ExcludeStatus bool
}

// txLeg is one indexer scan of a transaction query. Queries with both a
// lock and a type script run one leg per script and intersect them.
type txLeg struct {
	key     *query.SearchKey
	ioType  query.IOType
	matcher *query.Matcher
}

// TransactionCollector streams the transactions that reference a script.
type TransactionCollector struct {
	indexer *Indexer
	opts    query.QueryOptions
	options TransactionCollectorOptions
	legs    []txLeg
}

func (i *Indexer) TransactionCollector(opts query.QueryOptions, options TransactionCollectorOptions) (*TransactionCollector, error) {
	typeWrapper, hasType := opts.Type.Exact()

	var legOpts []query.QueryOptions
	var ioTypes []query.IOType
	if opts.Lock != nil && hasType {
		lockOpts := opts
		lockOpts.Type = query.AnyType()
		typeOpts := opts
		typeOpts.Lock = nil
		legOpts = append(legOpts, lockOpts, typeOpts)
		ioTypes = append(ioTypes, opts.Lock.IOType, typeWrapper.IOType)
	} else {
		legOpts = append(legOpts, opts)
		switch {
		case opts.Lock != nil:
			ioTypes = append(ioTypes, opts.Lock.IOType)
		case hasType:
			ioTypes = append(ioTypes, typeWrapper.IOType)
		default:
			ioTypes = append(ioTypes, query.IOTypeBoth)
		}
	}

	c := &TransactionCollector{indexer: i, opts: opts, options: options}
	for k, lo := range legOpts {
		key, err := query.ToSearchKey(lo)
		if err != nil {
			return nil, err
		}
		m, err := query.NewMatcher(lo)
		if err != nil {
			return nil, err
		}
		c.legs = append(c.legs, txLeg{key: key, ioType: ioTypes[k], matcher: m})
	}
	return c, nil
}

// scanLeg pages get_transactions to the end in ascending order and keeps
// the entries whose io type passes the leg's filter.
func (c *TransactionCollector) scanLeg(ctx context.Context, leg txLeg) ([]rpc.TxRef, error) {
	limit := c.indexer.limit(c.opts.PageSize)

	var refs []rpc.TxRef
	cursor := ""
	for {
		page, err := c.indexer.rpc.GetTransactions(ctx, leg.key, query.OrderAsc, limit, cursor)
		if err != nil {
			return nil, err
		}
		prometheusTxPages.Inc()
		for _, ref := range page.Objects {
			if leg.ioType.Accepts(ref.IOType) {
				refs = append(refs, ref)
			}
		}
		cursor = page.LastCursor
		if uint64(len(page.Objects)) < limit || cursorExhausted(cursor) {
			return refs, nil
		}
	}
}

// resolve fetches every hash with batched get_transaction calls, running
// batches concurrently. Missing transactions are absent from the result.
func (c *TransactionCollector) resolve(ctx context.Context, hashes []string) (map[string]*types.TransactionWithStatus, error) {
	i := c.indexer
	results := make([]*types.TransactionWithStatus, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for start := 0; start < len(hashes); start += i.batchSize {
		end := min(start+i.batchSize, len(hashes))
		g.Go(func() error {
			txs, err := i.node.GetTransactionsByHash(gctx, hashes[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], txs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make(map[string]*types.TransactionWithStatus, len(hashes))
	for k, tx := range results {
		if tx == nil || tx.Transaction == nil {
			continue
		}
		prometheusTxResolved.Inc()
		resolved[hashes[k]] = tx
		i.txCache.Set(hashes[k], tx, ttlcache.DefaultTTL)
	}
	return resolved, nil
}

// validRef checks that the entry the indexer reported really touches a cell
// matching the leg. Input entries are checked against the previous output,
// resolved through the transaction cache.
func (c *TransactionCollector) validRef(ctx context.Context, leg txLeg, ref rpc.TxRef, tx *types.Transaction) (bool, error) {
	idx, err := types.ParseUint64(ref.IOIndex)
	if err != nil {
		return false, nil
	}

	switch ref.IOType {
	case query.IOTypeOutput:
		if idx >= uint64(len(tx.Outputs)) {
			return false, nil
		}
		return leg.matcher.MatchOutput(tx.Outputs[idx], outputData(tx, idx)), nil

	case query.IOTypeInput:
		if idx >= uint64(len(tx.Inputs)) {
			return false, nil
		}
		prev := tx.Inputs[idx].PreviousOutput
		prevIdx, err := types.ParseUint64(prev.Index)
		if err != nil {
			return false, nil
		}
		prevTx, err := c.indexer.transaction(ctx, prev.TxHash)
		if err != nil {
			return false, err
		}
		if prevTx == nil || prevTx.Transaction == nil || prevIdx >= uint64(len(prevTx.Transaction.Outputs)) {
			return false, nil
		}
		return leg.matcher.MatchOutput(prevTx.Transaction.Outputs[prevIdx], outputData(prevTx.Transaction, prevIdx)), nil
	}
	return false, nil
}

func outputData(tx *types.Transaction, idx uint64) string {
	if idx < uint64(len(tx.OutputsData)) {
		return tx.OutputsData[idx]
	}
	return "0x"
}

// prefetchInputs loads every previous transaction referenced by input
// entries so validation hits the cache.
func (c *TransactionCollector) prefetchInputs(ctx context.Context, refs []rpc.TxRef, txs map[string]*types.TransactionWithStatus) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.indexer.concurrency)
	for _, ref := range refs {
		if ref.IOType != query.IOTypeInput {
			continue
		}
		tx, ok := txs[ref.TxHash]
		if !ok {
			continue
		}
		idx, err := types.ParseUint64(ref.IOIndex)
		if err != nil || idx >= uint64(len(tx.Transaction.Inputs)) {
			continue
		}
		prevHash := tx.Transaction.Inputs[idx].PreviousOutput.TxHash
		g.Go(func() error {
			_, err := c.indexer.transaction(gctx, prevHash)
			return err
		})
	}
	return g.Wait()
}

// scan runs the whole query: every leg is read to the end, candidates are
// resolved and re-validated, and only then are order and skip applied so
// dropped entries cannot shift a page.
func (c *TransactionCollector) scan(ctx context.Context) ([]*types.TransactionWithStatus, error) {
	legRefs := make([]map[string][]rpc.TxRef, len(c.legs))
	var order []string
	var allRefs []rpc.TxRef
	for k, leg := range c.legs {
		refs, err := c.scanLeg(ctx, leg)
		if err != nil {
			return nil, err
		}
		legRefs[k] = make(map[string][]rpc.TxRef)
		for _, ref := range refs {
			if k == 0 && len(legRefs[k][ref.TxHash]) == 0 {
				order = append(order, ref.TxHash)
			}
			legRefs[k][ref.TxHash] = append(legRefs[k][ref.TxHash], ref)
		}
		allRefs = append(allRefs, refs...)
	}

	var candidates []string
	for _, hash := range order {
		inAll := true
		for k := 1; k < len(legRefs); k++ {
			if len(legRefs[k][hash]) == 0 {
				inAll = false
				break
			}
		}
		if inAll {
			candidates = append(candidates, hash)
		}
	}

	txs, err := c.resolve(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if !c.options.SkipMissing {
		for _, hash := range candidates {
			if _, ok := txs[hash]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
			}
		}
	}
	if err := c.prefetchInputs(ctx, allRefs, txs); err != nil {
		return nil, err
	}

	var out []*types.TransactionWithStatus
	for _, hash := range candidates {
		tx, ok := txs[hash]
		if !ok {
			continue
		}
		keep := true
		for k, leg := range c.legs {
			legOK := false
			for _, ref := range legRefs[k][hash] {
				valid, err := c.validRef(ctx, leg, ref, tx.Transaction)
				if err != nil {
					return nil, err
				}
				if valid {
					legOK = true
					break
				}
			}
			if !legOK {
				keep = false
				break
			}
		}
		if !keep {
			c.indexer.logger.Debugf("dropping %s: indexer entry does not match the resolved transaction", hash)
			continue
		}

		result := &types.TransactionWithStatus{Transaction: tx.Transaction}
		if !c.options.ExcludeStatus {
			result.TxStatus = tx.TxStatus
		}
		out = append(out, result)
	}

	if c.opts.OrderOrDefault() == query.OrderDesc {
		slices.Reverse(out)
	}
	if c.opts.Skip >= len(out) {
		return nil, nil
	}
	return out[c.opts.Skip:], nil
}

// Collect yields the matching transactions. The scan itself runs to
// completion on the first pull.
func (c *TransactionCollector) Collect(ctx context.Context) iter.Seq2[*types.TransactionWithStatus, error] {
	return func(yield func(*types.TransactionWithStatus, error) bool) {
		txs, err := c.scan(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// Count returns the number of transactions Collect would yield.
func (c *TransactionCollector) Count(ctx context.Context) (int, error) {
	txs, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

// Hashes returns the hashes Collect would yield, in the same order.
func (c *TransactionCollector) Hashes(ctx context.Context) ([]string, error) {
	txs, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(txs))
	for k, tx := range txs {
		hashes[k] = tx.Transaction.Hash
	}
	return hashes, nil
}
