package pending

import (
	"context"
	"sync"

	"github.com/b-open-io/cellindex/store"
	"github.com/b-open-io/cellindex/types"
)

const (
	keyTransactions = "transactions"
	keySpent        = "spentCellOutpoints"
	keyPendingCells = "pendingCells"
)

// TransactionStorage keeps the tracked transactions in a store.Store along
// with two views derived from them: the outpoints they spend and the cells
// they create. Both views are rebuilt from the full transaction list after
// every change.
type TransactionStorage struct {
	store  store.Store
	prefix string
	mu     sync.Mutex
}

func NewTransactionStorage(st store.Store, prefix string) *TransactionStorage {
	return &TransactionStorage{store: st, prefix: prefix}
}

func (s *TransactionStorage) key(name string) string {
	return s.prefix + name
}

// snapshot is a consistent read of the transaction list and both views.
type snapshot struct {
	txs     []types.Transaction
	spent   map[string]bool
	pending []types.Cell
}

func (s *TransactionStorage) snapshot(ctx context.Context) (*snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := s.transactions(ctx)
	if err != nil {
		return nil, err
	}
	spent, _, err := store.GetJSON[[]types.OutPoint](ctx, s.store, s.key(keySpent))
	if err != nil {
		return nil, err
	}
	pending, _, err := store.GetJSON[[]types.Cell](ctx, s.store, s.key(keyPendingCells))
	if err != nil {
		return nil, err
	}

	snap := &snapshot{txs: txs, spent: make(map[string]bool, len(spent)), pending: pending}
	for _, op := range spent {
		snap.spent[op.Key()] = true
	}
	return snap, nil
}

func (s *TransactionStorage) transactions(ctx context.Context) ([]types.Transaction, error) {
	txs, _, err := store.GetJSON[[]types.Transaction](ctx, s.store, s.key(keyTransactions))
	return txs, err
}

// write stores txs and rebuilds the derived views. Callers hold mu.
func (s *TransactionStorage) write(ctx context.Context, txs []types.Transaction) error {
	if txs == nil {
		txs = []types.Transaction{}
	}
	spent := []types.OutPoint{}
	pending := []types.Cell{}
	for k := range txs {
		spent = append(spent, txs[k].InputOutPoints()...)
		pending = append(pending, txs[k].OutputCells()...)
	}

	if err := store.SetJSON(ctx, s.store, s.key(keyTransactions), txs); err != nil {
		return err
	}
	if err := store.SetJSON(ctx, s.store, s.key(keySpent), spent); err != nil {
		return err
	}
	return store.SetJSON(ctx, s.store, s.key(keyPendingCells), pending)
}

func (s *TransactionStorage) Transactions(ctx context.Context) ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions(ctx)
}

func (s *TransactionStorage) SetTransactions(ctx context.Context, txs []types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, txs)
}

// AddTransaction appends tx. A transaction already tracked under the same
// hash is replaced in place rather than duplicated.
func (s *TransactionStorage) AddTransaction(ctx context.Context, tx types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := s.transactions(ctx)
	if err != nil {
		return err
	}
	hash := types.NormalizeHex(tx.Hash)
	for k := range txs {
		if types.NormalizeHex(txs[k].Hash) == hash {
			txs[k] = tx
			return s.write(ctx, txs)
		}
	}
	return s.write(ctx, append(txs, tx))
}

// DeleteTransactionByHash reports whether a transaction was removed.
func (s *TransactionStorage) DeleteTransactionByHash(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := s.transactions(ctx)
	if err != nil {
		return false, err
	}
	hash = types.NormalizeHex(hash)
	kept := txs[:0]
	for _, tx := range txs {
		if types.NormalizeHex(tx.Hash) != hash {
			kept = append(kept, tx)
		}
	}
	if len(kept) == len(txs) {
		return false, nil
	}
	return true, s.write(ctx, kept)
}

// DeleteTransactionByCell removes the transaction that created cell.
func (s *TransactionStorage) DeleteTransactionByCell(ctx context.Context, cell *types.Cell) (bool, error) {
	if cell == nil || cell.OutPoint == nil {
		return false, nil
	}
	return s.DeleteTransactionByHash(ctx, cell.OutPoint.TxHash)
}

func (s *TransactionStorage) PendingCells(ctx context.Context) ([]types.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cells, _, err := store.GetJSON[[]types.Cell](ctx, s.store, s.key(keyPendingCells))
	return cells, err
}

func (s *TransactionStorage) SpentOutPoints(ctx context.Context) ([]types.OutPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spent, _, err := store.GetJSON[[]types.OutPoint](ctx, s.store, s.key(keySpent))
	return spent, err
}
