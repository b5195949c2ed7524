// Package pending tracks transactions this process submitted until the
// chain settles them, and overlays their effects on the indexer's view:
// cells they spend disappear and cells they create show up before they are
// confirmed.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/b-open-io/cellindex/indexer"
	"github.com/b-open-io/cellindex/internal/loop"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/store"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

const DefaultInterval = 10 * time.Second

// ErrAlreadySpent is returned by SendTransaction when an input is spent by
// a tracked or in-flight transaction. Nothing is sent in that case.
var ErrAlreadySpent = errors.New("cell already spent by a pending transaction")

type TransactionSender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) (string, error)
}

// CellSource builds collectors over confirmed cells. indexer.Indexer is one.
type CellSource interface {
	Collector(opts query.QueryOptions) (*indexer.CellCollector, error)
}

// StatusChecker reports the node's view of a transaction. A nil result
// means the node does not know the hash.
type StatusChecker interface {
	GetTransaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error)
}

type Manager struct {
	sender  TransactionSender
	cells   CellSource
	status  StatusChecker
	store   store.Store
	prefix  string
	storage *TransactionStorage
	logger  ulogger.Logger

	interval time.Duration
	loop     *loop.Loop

	// outpoints spent by sends that have not been stored yet
	reserveMu sync.Mutex
	reserved  map[string]bool
}

type Option func(*Manager)

// WithStore keeps tracked transactions in st instead of memory.
func WithStore(st store.Store) Option {
	return func(m *Manager) {
		m.store = st
	}
}

// WithKeyPrefix namespaces the storage keys, so several managers can share
// one store.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithStatusChecker sets where Reconcile asks for transaction status. It
// defaults to the sender when the sender can answer.
func WithStatusChecker(c StatusChecker) Option {
	return func(m *Manager) {
		m.status = c
	}
}

func WithLogger(l ulogger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

func NewManager(sender TransactionSender, cells CellSource, opts ...Option) *Manager {
	initPrometheusMetrics()

	m := &Manager{
		sender:   sender,
		cells:    cells,
		logger:   ulogger.New("pending"),
		interval: DefaultInterval,
		reserved: make(map[string]bool),
	}
	if sc, ok := sender.(StatusChecker); ok {
		m.status = sc
	}
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = store.NewMemoryStore()
	}
	m.storage = NewTransactionStorage(m.store, m.prefix)
	m.loop = loop.New("pending", m.interval, m.Reconcile, m.logger)
	return m
}

// Storage exposes the underlying transaction storage.
func (m *Manager) Storage() *TransactionStorage {
	return m.storage
}

// SendTransaction submits tx and tracks it under the hash the sender
// returns. The inputs are checked against tracked and in-flight
// transactions first; a conflict fails with ErrAlreadySpent before any
// network call.
func (m *Manager) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	inputs := tx.InputOutPoints()
	if err := m.reserve(ctx, inputs); err != nil {
		return "", err
	}
	defer m.release(inputs)

	hash, err := m.sender.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	prometheusSent.Inc()

	tracked := *tx
	tracked.Hash = hash
	if err := m.storage.AddTransaction(ctx, tracked); err != nil {
		return hash, fmt.Errorf("transaction %s sent but not tracked: %w", hash, err)
	}
	m.logger.Debugf("tracking %s spending %d cells", hash, len(inputs))
	return hash, nil
}

func (m *Manager) reserve(ctx context.Context, inputs []types.OutPoint) error {
	m.reserveMu.Lock()
	defer m.reserveMu.Unlock()

	spent, err := m.storage.SpentOutPoints(ctx)
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(spent)+len(m.reserved))
	for _, op := range spent {
		taken[op.Key()] = true
	}
	for k := range m.reserved {
		taken[k] = true
	}

	for _, op := range inputs {
		if taken[op.Key()] {
			prometheusAlreadySpent.Inc()
			return fmt.Errorf("%w: %s", ErrAlreadySpent, op.Key())
		}
	}
	for _, op := range inputs {
		m.reserved[op.Key()] = true
	}
	return nil
}

func (m *Manager) release(inputs []types.OutPoint) {
	m.reserveMu.Lock()
	defer m.reserveMu.Unlock()
	for _, op := range inputs {
		delete(m.reserved, op.Key())
	}
}

// ClearCache forgets every tracked transaction.
func (m *Manager) ClearCache(ctx context.Context) error {
	return m.storage.SetTransactions(ctx, nil)
}

func (m *Manager) Transactions(ctx context.Context) ([]types.Transaction, error) {
	return m.storage.Transactions(ctx)
}

func (m *Manager) PendingCells(ctx context.Context) ([]types.Cell, error) {
	return m.storage.PendingCells(ctx)
}

func (m *Manager) SpentOutPoints(ctx context.Context) ([]types.OutPoint, error) {
	return m.storage.SpentOutPoints(ctx)
}

func (m *Manager) DeleteTransactionByHash(ctx context.Context, hash string) (bool, error) {
	return m.storage.DeleteTransactionByHash(ctx, hash)
}

func (m *Manager) DeleteTransactionByCell(ctx context.Context, cell *types.Cell) (bool, error) {
	return m.storage.DeleteTransactionByCell(ctx, cell)
}

// Reconcile asks the node about every tracked transaction and forgets the
// ones that are committed or rejected. Lookup failures are collected and
// do not stop the pass.
func (m *Manager) Reconcile(ctx context.Context) error {
	if m.status == nil {
		return nil
	}
	txs, err := m.storage.Transactions(ctx)
	if err != nil {
		return err
	}
	prometheusTracked.Set(float64(len(txs)))

	var errs []error
	for _, tx := range txs {
		status, err := m.status.GetTransaction(ctx, tx.Hash)
		if err != nil {
			errs = append(errs, fmt.Errorf("status of %s: %w", tx.Hash, err))
			continue
		}
		if status == nil {
			m.logger.Debugf("%s unknown to the node", tx.Hash)
			continue
		}
		if !status.TxStatus.Status.Terminal() {
			continue
		}
		if _, err := m.storage.DeleteTransactionByHash(ctx, tx.Hash); err != nil {
			errs = append(errs, err)
			continue
		}
		prometheusEvicted.WithLabelValues(string(status.TxStatus.Status)).Inc()
		if status.TxStatus.Status == types.StatusRejected {
			m.logger.Warnf("%s rejected: %s", tx.Hash, status.TxStatus.Reason)
		} else {
			m.logger.Infof("%s %s", tx.Hash, status.TxStatus.Status)
		}
	}
	return errors.Join(errs...)
}

// Start reconciles every interval until Stop or until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.loop.Start(ctx)
}

func (m *Manager) StartForever(ctx context.Context) {
	m.loop.StartForever(ctx)
}

func (m *Manager) Stop() {
	m.loop.Stop()
}

func (m *Manager) Running() bool {
	return m.loop.Running()
}
