package types

import "fmt"

// OutPoint addresses one output of one transaction.
type OutPoint struct {
	TxHash string `json:"tx_hash"`
	Index  string `json:"index"`
}

// Key is a canonical form of the outpoint for set membership. Hex case and
// leading zeros in the index do not change the key.
func (o OutPoint) Key() string {
	if n, err := ParseUint64(o.Index); err == nil {
		return fmt.Sprintf("%s:%d", NormalizeHex(o.TxHash), n)
	}
	return NormalizeHex(o.TxHash) + ":" + NormalizeHex(o.Index)
}

func (o OutPoint) String() string {
	return o.Key()
}

type CellOutput struct {
	Capacity string  `json:"capacity"`
	Lock     Script  `json:"lock"`
	Type     *Script `json:"type"`
}

// Cell is a confirmed cell when BlockNumber is set and a pending cell
// synthesized from a local transaction otherwise.
type Cell struct {
	OutPoint    *OutPoint  `json:"out_point,omitempty"`
	CellOutput  CellOutput `json:"cell_output"`
	Data        string     `json:"data"`
	BlockHash   string     `json:"block_hash,omitempty"`
	BlockNumber string     `json:"block_number,omitempty"`
	TxIndex     string     `json:"tx_index,omitempty"`
}

func (c *Cell) IsPending() bool {
	return c.BlockNumber == ""
}

// Key returns the outpoint key, or "" for a cell without an outpoint.
func (c *Cell) Key() string {
	if c.OutPoint == nil {
		return ""
	}
	return c.OutPoint.Key()
}

// CapacityValue parses the cell capacity in shannons.
func (c *Cell) CapacityValue() (uint64, error) {
	return ParseUint64(c.CellOutput.Capacity)
}

// HasData reports whether the cell carries any output data.
func (c *Cell) HasData() bool {
	return HexByteLen(c.Data) > 0
}
