package chaintest

import (
	"fmt"
	"strings"

	"github.com/b-open-io/cellindex/types"
)

var (
	LockCodeHash = "0x" + strings.Repeat("9b", 32)
	TypeCodeHash = "0x" + strings.Repeat("5e", 32)
)

func LockScript(args string) types.Script {
	return types.Script{CodeHash: LockCodeHash, HashType: types.HashTypeType, Args: args}
}

func TypeScript(args string) types.Script {
	return types.Script{CodeHash: TypeCodeHash, HashType: types.HashTypeType, Args: args}
}

// Hash builds a 32 byte hash from a small number.
func Hash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

// CellOpt customises a fixture cell.
type CellOpt func(*types.Cell)

func WithType(s types.Script) CellOpt {
	return func(c *types.Cell) {
		c.CellOutput.Type = &s
	}
}

func WithData(data string) CellOpt {
	return func(c *types.Cell) {
		c.Data = data
	}
}

func WithCapacity(shannons uint64) CellOpt {
	return func(c *types.Cell) {
		c.CellOutput.Capacity = types.Uint64ToHex(shannons)
	}
}

// Pending drops the block number.
func Pending() CellOpt {
	return func(c *types.Cell) {
		c.BlockNumber = ""
	}
}

// Confirmed builds a confirmed cell at out point (Hash(tx), index) in
// block, owned by lock, worth 100 CKB.
func Confirmed(lock types.Script, tx, index int, block uint64, opts ...CellOpt) types.Cell {
	c := types.Cell{
		OutPoint:    &types.OutPoint{TxHash: Hash(tx), Index: types.Uint64ToHex(uint64(index))},
		CellOutput:  types.CellOutput{Capacity: types.Uint64ToHex(100 * types.ShannonsPerCKB), Lock: lock},
		Data:        "0x",
		BlockNumber: types.Uint64ToHex(block),
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Transfer builds a transaction spending inputs into outputs.
func Transfer(inputs []types.OutPoint, outputs ...types.CellOutput) *types.Transaction {
	tx := &types.Transaction{
		Version:     "0x0",
		CellDeps:    []types.CellDep{},
		HeaderDeps:  []string{},
		Outputs:     outputs,
		OutputsData: make([]string, len(outputs)),
		Witnesses:   []string{},
	}
	for _, in := range inputs {
		tx.Inputs = append(tx.Inputs, types.CellInput{Since: "0x0", PreviousOutput: in})
	}
	for k := range tx.OutputsData {
		tx.OutputsData[k] = "0x"
	}
	return tx
}

// Output builds a plain output owned by lock.
func Output(lock types.Script, shannons uint64) types.CellOutput {
	return types.CellOutput{Capacity: types.Uint64ToHex(shannons), Lock: lock}
}
