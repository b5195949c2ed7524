package types

type DepType string

const (
	DepTypeCode     DepType = "code"
	DepTypeDepGroup DepType = "dep_group"
)

type CellDep struct {
	OutPoint OutPoint `json:"out_point"`
	DepType  DepType  `json:"dep_type"`
}

type CellInput struct {
	Since          string   `json:"since"`
	PreviousOutput OutPoint `json:"previous_output"`
}

// Transaction is the node's JSON view of a transaction. Hash is filled in
// once the node has accepted it and is never sent back on the wire.
type Transaction struct {
	Version     string       `json:"version"`
	CellDeps    []CellDep    `json:"cell_deps"`
	HeaderDeps  []string     `json:"header_deps"`
	Inputs      []CellInput  `json:"inputs"`
	Outputs     []CellOutput `json:"outputs"`
	OutputsData []string     `json:"outputs_data"`
	Witnesses   []string     `json:"witnesses"`
	Hash        string       `json:"hash,omitempty"`
}

// InputOutPoints lists the outpoints spent by tx.
func (tx *Transaction) InputOutPoints() []OutPoint {
	outs := make([]OutPoint, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		outs = append(outs, in.PreviousOutput)
	}
	return outs
}

// OutputCells synthesizes one pending cell per output of tx. The cells carry
// no block number.
func (tx *Transaction) OutputCells() []Cell {
	cells := make([]Cell, 0, len(tx.Outputs))
	for i, out := range tx.Outputs {
		data := "0x"
		if i < len(tx.OutputsData) {
			data = tx.OutputsData[i]
		}
		cells = append(cells, Cell{
			OutPoint:   &OutPoint{TxHash: tx.Hash, Index: Uint64ToHex(uint64(i))},
			CellOutput: out,
			Data:       data,
		})
	}
	return cells
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusProposed  Status = "proposed"
	StatusCommitted Status = "committed"
	StatusUnknown   Status = "unknown"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether a transaction in this status will never change
// state again.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusRejected
}

type TxStatus struct {
	Status    Status `json:"status"`
	BlockHash string `json:"block_hash,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type TransactionWithStatus struct {
	Transaction *Transaction `json:"transaction"`
	TxStatus    TxStatus     `json:"tx_status"`
}
