// Package indexer reads cells and transactions from a remote cell indexer.
// Every collector pages through the indexer with its cursor and re-checks
// results client-side with query.Matcher, since the indexer only
// prefix-matches scripts and cannot express "no type script".
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/b-open-io/cellindex/dedup"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/rpc"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

const (
	DefaultPageSize    = 100
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
	DefaultCacheTTL    = 10 * time.Minute
	defaultCacheSize   = 10_000
)

var ErrTransactionNotFound = errors.New("transaction not found")

// IndexerRPC is the part of the indexer API the collectors need.
type IndexerRPC interface {
	GetIndexerTip(ctx context.Context) (*types.Tip, error)
	GetCells(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*rpc.CellsPage, error)
	GetTransactions(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*rpc.TransactionsPage, error)
}

// NodeRPC is the part of the node API used to resolve transactions.
type NodeRPC interface {
	GetTipHeader(ctx context.Context) (*types.Header, error)
	GetTransaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error)
	GetTransactionsByHash(ctx context.Context, hashes []string) ([]*types.TransactionWithStatus, error)
}

type Indexer struct {
	rpc         IndexerRPC
	node        NodeRPC
	logger      ulogger.Logger
	pageSize    uint64
	batchSize   int
	concurrency int
	txCache     *ttlcache.Cache[string, *types.TransactionWithStatus]
	txLoader    *dedup.Loader[string, *types.TransactionWithStatus]
}

type Option func(*Indexer)

func WithLogger(l ulogger.Logger) Option {
	return func(i *Indexer) {
		i.logger = l
	}
}

// WithPageSize sets the get_cells / get_transactions limit used when a
// query does not set its own.
func WithPageSize(n uint64) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.pageSize = n
		}
	}
}

// WithBatchSize sets how many transactions go into one batched RPC request.
func WithBatchSize(n int) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithCacheTTL sets how long resolved transactions are kept for previous
// output lookups.
func WithCacheTTL(ttl time.Duration) Option {
	return func(i *Indexer) {
		i.txCache = newTxCache(ttl)
	}
}

func newTxCache(ttl time.Duration) *ttlcache.Cache[string, *types.TransactionWithStatus] {
	return ttlcache.New[string, *types.TransactionWithStatus](
		ttlcache.WithTTL[string, *types.TransactionWithStatus](ttl),
		ttlcache.WithCapacity[string, *types.TransactionWithStatus](defaultCacheSize),
	)
}

// New creates an Indexer. A single rpc.Client usually serves as both
// indexerRPC and node when the node runs its built-in indexer.
func New(indexerRPC IndexerRPC, node NodeRPC, opts ...Option) *Indexer {
	initPrometheusMetrics()

	i := &Indexer{
		rpc:         indexerRPC,
		node:        node,
		logger:      ulogger.New("indexer"),
		pageSize:    DefaultPageSize,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		txCache:     newTxCache(DefaultCacheTTL),
	}
	for _, o := range opts {
		o(i)
	}
	i.txLoader = dedup.NewLoader(i.fetchTransaction)
	return i
}

// limit returns a query's page size, or the indexer default when the query
// sets none or a negative one.
func (i *Indexer) limit(pageSize int) uint64 {
	if pageSize <= 0 {
		return i.pageSize
	}
	return uint64(pageSize)
}

func (i *Indexer) Tip(ctx context.Context) (*types.Tip, error) {
	return i.rpc.GetIndexerTip(ctx)
}

// TipNumber returns the indexer tip block number.
func (i *Indexer) TipNumber(ctx context.Context) (uint64, error) {
	tip, err := i.rpc.GetIndexerTip(ctx)
	if err != nil {
		return 0, err
	}
	if tip == nil {
		return 0, nil
	}
	return types.ParseUint64(tip.BlockNumber)
}

// WaitForSync blocks until the indexer tip is within blockDifference blocks
// of the node tip, polling every interval.
func (i *Indexer) WaitForSync(ctx context.Context, blockDifference uint64, interval time.Duration) error {
	for {
		indexed, err := i.TipNumber(ctx)
		if err != nil {
			return err
		}
		header, err := i.node.GetTipHeader(ctx)
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("node returned no tip header")
		}
		nodeTip, err := types.ParseUint64(header.Number)
		if err != nil {
			return err
		}
		if nodeTip <= indexed || nodeTip-indexed <= blockDifference {
			return nil
		}
		i.logger.Debugf("indexer at %d, node at %d, waiting", indexed, nodeTip)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (i *Indexer) fetchTransaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error) {
	tx, err := i.node.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx != nil && tx.Transaction != nil {
		i.txCache.Set(hash, tx, ttlcache.DefaultTTL)
	}
	return tx, nil
}

// transaction resolves one transaction through the cache, collapsing
// concurrent lookups of the same hash.
func (i *Indexer) transaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error) {
	if item := i.txCache.Get(hash); item != nil {
		return item.Value(), nil
	}
	return i.txLoader.Load(ctx, hash)
}
