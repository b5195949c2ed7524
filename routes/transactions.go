package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/b-open-io/cellindex/pending"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

// TransactionRoutesConfig holds the configuration for the transaction routes
type TransactionRoutesConfig struct {
	Pending *pending.Manager
	Logger  ulogger.Logger
}

// RegisterTransactionRoutes registers routes that send transactions through
// the pending manager and inspect the transactions it tracks.
func RegisterTransactionRoutes(group fiber.Router, config *TransactionRoutesConfig) {
	if config == nil || config.Pending == nil {
		panic("RegisterTransactionRoutes: config and pending manager are required")
	}
	manager := config.Pending
	logger := config.Logger
	if logger == nil {
		logger = ulogger.New("routes")
	}

	group.Post("/transactions", func(c *fiber.Ctx) error {
		var tx types.Transaction
		if err := c.BodyParser(&tx); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid transaction",
			})
		}
		if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Transaction needs inputs and outputs",
			})
		}

		hash, err := manager.SendTransaction(c.UserContext(), &tx)
		switch {
		case errors.Is(err, pending.ErrAlreadySpent):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
		case err != nil && hash == "":
			logger.Warnf("Failed to send transaction: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
		case err != nil:
			// the node accepted it, only tracking failed
			logger.Errorf("Failed to track transaction %s: %v", hash, err)
		}
		return c.JSON(fiber.Map{"tx_hash": hash})
	})

	group.Get("/transactions/pending", func(c *fiber.Ctx) error {
		txs, err := manager.Transactions(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
		}
		return c.JSON(txs)
	})

	group.Delete("/transactions/:hash", func(c *fiber.Ctx) error {
		found, err := manager.DeleteTransactionByHash(c.UserContext(), c.Params("hash"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": err.Error()})
		}
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Transaction not tracked"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
