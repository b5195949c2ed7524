package rpc

import (
	"context"

	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
)

type indexerCell struct {
	BlockNumber string           `json:"block_number"`
	OutPoint    types.OutPoint   `json:"out_point"`
	Output      types.CellOutput `json:"output"`
	OutputData  string           `json:"output_data"`
	TxIndex     string           `json:"tx_index"`
}

type cellsResponse struct {
	LastCursor string        `json:"last_cursor"`
	Objects    []indexerCell `json:"objects"`
}

// CellsPage is one page of get_cells.
type CellsPage struct {
	LastCursor string
	Objects    []types.Cell
}

// TxRef is one entry of get_transactions.
type TxRef struct {
	BlockNumber string       `json:"block_number"`
	IOIndex     string       `json:"io_index"`
	IOType      query.IOType `json:"io_type"`
	TxHash      string       `json:"tx_hash"`
	TxIndex     string       `json:"tx_index"`
}

type TransactionsPage struct {
	LastCursor string  `json:"last_cursor"`
	Objects    []TxRef `json:"objects"`
}

func cursorParam(cursor string) any {
	if cursor == "" {
		return nil
	}
	return cursor
}

func (c *Client) GetIndexerTip(ctx context.Context) (*types.Tip, error) {
	var tip *types.Tip
	if err := c.Call(ctx, &tip, "get_indexer_tip"); err != nil {
		return nil, err
	}
	return tip, nil
}

func (c *Client) GetCells(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*CellsPage, error) {
	var resp cellsResponse
	if err := c.Call(ctx, &resp, "get_cells", key, order, types.Uint64ToHex(limit), cursorParam(cursor)); err != nil {
		return nil, err
	}

	page := &CellsPage{LastCursor: resp.LastCursor, Objects: make([]types.Cell, 0, len(resp.Objects))}
	for _, obj := range resp.Objects {
		op := obj.OutPoint
		data := obj.OutputData
		if data == "" {
			data = "0x"
		}
		page.Objects = append(page.Objects, types.Cell{
			OutPoint:    &op,
			CellOutput:  obj.Output,
			Data:        data,
			BlockNumber: obj.BlockNumber,
			TxIndex:     obj.TxIndex,
		})
	}
	return page, nil
}

func (c *Client) GetTransactions(ctx context.Context, key *query.SearchKey, order query.Order, limit uint64, cursor string) (*TransactionsPage, error) {
	var page TransactionsPage
	if err := c.Call(ctx, &page, "get_transactions", key, order, types.Uint64ToHex(limit), cursorParam(cursor)); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetTipHeader(ctx context.Context) (*types.Header, error) {
	var header *types.Header
	if err := c.Call(ctx, &header, "get_tip_header"); err != nil {
		return nil, err
	}
	return header, nil
}

// GetTransaction returns nil without an error when the node does not know
// the hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*types.TransactionWithStatus, error) {
	var tx *types.TransactionWithStatus
	if err := c.Call(ctx, &tx, "get_transaction", hash); err != nil {
		return nil, err
	}
	return fillHash(tx, hash), nil
}

// GetTransactionsByHash resolves hashes in one batch. The result is aligned
// with hashes; unknown hashes give nil entries.
func (c *Client) GetTransactionsByHash(ctx context.Context, hashes []string) ([]*types.TransactionWithStatus, error) {
	results := make([]*types.TransactionWithStatus, len(hashes))
	batch := make([]BatchElem, len(hashes))
	for i, h := range hashes {
		batch[i] = BatchElem{Method: "get_transaction", Params: []any{h}, Result: &results[i]}
	}
	if err := c.BatchCall(ctx, batch); err != nil {
		return nil, err
	}
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, elem.Error
		}
		results[i] = fillHash(results[i], hashes[i])
	}
	return results, nil
}

func fillHash(tx *types.TransactionWithStatus, hash string) *types.TransactionWithStatus {
	if tx != nil && tx.Transaction != nil && tx.Transaction.Hash == "" {
		tx.Transaction.Hash = hash
	}
	return tx
}

// SendTransaction submits tx with the client's outputs validator and returns
// the hash the node assigned.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	return c.SendTransactionWithValidator(ctx, tx, c.outputsValidator)
}

func (c *Client) SendTransactionWithValidator(ctx context.Context, tx *types.Transaction, outputsValidator string) (string, error) {
	wire := *tx
	wire.Hash = ""

	params := []any{&wire}
	if outputsValidator != "" {
		params = append(params, outputsValidator)
	}

	var hash string
	if err := c.Call(ctx, &hash, "send_transaction", params...); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*types.BlockchainInfo, error) {
	var info *types.BlockchainInfo
	if err := c.Call(ctx, &info, "get_blockchain_info"); err != nil {
		return nil, err
	}
	return info, nil
}
