// Package routes exposes the cell stack over HTTP with fiber.
package routes

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/b-open-io/cellindex/pending"
	"github.com/b-open-io/cellindex/query"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// RoutesConfig holds the components the cell routes read from.
type RoutesConfig struct {
	Pending *pending.Manager
	Logger  ulogger.Logger
}

// NewApp returns a fiber app that encodes JSON the same way the rest of the
// module does.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
}

// ParseLockQuery builds a cell query from the :codeHash/:hashType/:args path
// and the order, skip, from, to and type query parameters. The type
// parameter is "none", "any" (the default) or codeHash:hashType:args.
func ParseLockQuery(c *fiber.Ctx) (query.QueryOptions, error) {
	opts := query.QueryOptions{
		Lock: query.Lock(types.Script{
			CodeHash: c.Params("codeHash"),
			HashType: types.HashType(c.Params("hashType")),
			Args:     c.Params("args"),
		}),
		FromBlock: c.Query("from"),
		ToBlock:   c.Query("to"),
	}

	switch order := query.Order(c.Query("order")); order {
	case "", query.OrderAsc, query.OrderDesc:
		opts.Order = order
	default:
		return opts, errors.New("order must be asc or desc")
	}

	if s := c.Query("skip"); s != "" {
		skip, err := strconv.Atoi(s)
		if err != nil || skip < 0 {
			return opts, errors.New("skip must be a non-negative integer")
		}
		opts.Skip = skip
	}

	switch t := c.Query("type"); t {
	case "", "any":
	case "none":
		opts.Type = query.NoType()
	default:
		parts := strings.Split(t, ":")
		if len(parts) != 3 {
			return opts, errors.New("type must be none, any or codeHash:hashType:args")
		}
		opts.Type = query.ExactType(types.Script{CodeHash: parts[0], HashType: types.HashType(parts[1]), Args: parts[2]})
	}
	return opts, nil
}

// ParseLimit reads the limit parameter, capped at 1000.
func ParseLimit(c *fiber.Ctx) int {
	limit := defaultLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = min(l, maxLimit)
	}
	return limit
}

// RegisterRoutes registers the cell and balance routes.
func RegisterRoutes(group fiber.Router, config *RoutesConfig) {
	if config == nil || config.Pending == nil {
		panic("RegisterRoutes: config and pending manager are required")
	}
	manager := config.Pending
	logger := config.Logger
	if logger == nil {
		logger = ulogger.New("routes")
	}

	// Live cells for a lock, with pending transactions applied unless
	// pending=false.
	group.Get("/cells/:codeHash/:hashType/:args", func(c *fiber.Ctx) error {
		opts, err := ParseLockQuery(c)
		if err != nil {
			return badRequest(c, err)
		}
		collector, err := manager.Collector(opts, pending.CollectorOptions{SkipPendingCells: c.Query("pending") == "false"})
		if err != nil {
			return badRequest(c, err)
		}

		limit := ParseLimit(c)
		cells := make([]*types.Cell, 0, limit)
		for cell, err := range collector.Collect(c.UserContext()) {
			if err != nil {
				logger.Errorf("cells lookup error: %v", err)
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
			}
			cells = append(cells, cell)
			if len(cells) == limit {
				break
			}
		}
		return c.JSON(cells)
	})

	// Spendable capacity of the plain cells of a lock.
	group.Get("/balance/:codeHash/:hashType/:args", func(c *fiber.Ctx) error {
		opts, err := ParseLockQuery(c)
		if err != nil {
			return badRequest(c, err)
		}
		opts.Type = query.NoType()
		collector, err := manager.Collector(opts, pending.CollectorOptions{})
		if err != nil {
			return badRequest(c, err)
		}

		var capacity uint64
		var count int
		for cell, err := range collector.Collect(c.UserContext()) {
			if err != nil {
				logger.Errorf("balance lookup error: %v", err)
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
			}
			if cell.HasData() {
				continue
			}
			v, err := cell.CapacityValue()
			if err != nil {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
			}
			capacity += v
			count++
		}
		return c.JSON(fiber.Map{
			"capacity": types.Uint64ToHex(capacity),
			"ckb":      types.FormatCKB(capacity),
			"cells":    count,
		})
	})
}
