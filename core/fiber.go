package core

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"perproute/pkg/fixedpoint"
	"perproute/pkg/oracle"
	"perproute/pkg/router"
	"perproute/pkg/types"
	"perproute/pkg/utils"
	"perproute/pkg/venue"
)

type openRequest struct {
	Market     string `json:"market"`
	IsLong     bool   `json:"isLong"`
	Margin     string `json:"margin"`
	Leverage   int    `json:"leverage"`
	MinOut     string `json:"minOut"`
	DeadlineMs int64  `json:"deadlineMs"`
}

type closeRequest struct {
	Market       string `json:"market"`
	PositionSize string `json:"positionSize"`
	MinOut       string `json:"minOut"`
	DeadlineMs   int64  `json:"deadlineMs"`
}

type increaseRequest struct {
	Market           string `json:"market"`
	AdditionalMargin string `json:"additionalMargin"`
	Leverage         int    `json:"leverage"`
	MinOut           string `json:"minOut"`
	DeadlineMs       int64  `json:"deadlineMs"`
}

type reduceRequest struct {
	Market       string `json:"market"`
	SizeToReduce string `json:"sizeToReduce"`
	MinOut       string `json:"minOut"`
	DeadlineMs   int64  `json:"deadlineMs"`
}

type transferOwnershipRequest struct {
	NewOwner string `json:"newOwner"`
}

func SetupFiberApp(r *router.Router, venueReg *venue.Registry) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "perproute",
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "data": nil})
	})

	app.Get("/v1/venues", func(c *fiber.Ctx) error {
		type venueView struct {
			Id          types.VenueId `json:"id"`
			Name        string        `json:"name"`
			MaxLeverage int           `json:"maxLeverage"`
			FeeRateBps  int64         `json:"feeRateBps"`
		}
		var out []venueView
		for _, id := range venueReg.ListActive() {
			info := venueReg.GetInfo(id)
			out = append(out, venueView{Id: id, Name: info.Name, MaxLeverage: info.MaxLeverage, FeeRateBps: info.FeeRateBps})
		}
		return c.JSON(fiber.Map{"success": true, "data": out})
	})

	app.Get("/v1/schema/:op", func(c *fiber.Ctx) error {
		switch c.Params("op") {
		case "open":
			return c.JSON(utils.GenerateSchema[openRequest]())
		case "close":
			return c.JSON(utils.GenerateSchema[closeRequest]())
		case "increase":
			return c.JSON(utils.GenerateSchema[increaseRequest]())
		case "reduce":
			return c.JSON(utils.GenerateSchema[reduceRequest]())
		default:
			return fiber.NewError(fiber.StatusNotFound, "unknown operation")
		}
	})

	app.Post("/v1/positions/open", func(c *fiber.Ctx) error {
		var req openRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		margin, minOut, err := parseAmounts(req.Margin, req.MinOut)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}

		executed, err := r.OpenPosition(c.Context(), actor, types.MarketId(req.Market), req.IsLong, margin, req.Leverage, minOut, time.UnixMilli(req.DeadlineMs))
		if err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"executedSize": fixedpoint.ToDecimalString(executed)}})
	})

	app.Post("/v1/positions/close", func(c *fiber.Ctx) error {
		var req closeRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		size, minOut, err := parseAmounts(req.PositionSize, req.MinOut)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}

		payout, err := r.ClosePosition(c.Context(), actor, types.MarketId(req.Market), size, minOut, time.UnixMilli(req.DeadlineMs))
		if err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"payout": fixedpoint.ToDecimalString(payout)}})
	})

	app.Post("/v1/positions/increase", func(c *fiber.Ctx) error {
		var req increaseRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		margin, minOut, err := parseAmounts(req.AdditionalMargin, req.MinOut)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}

		added, err := r.IncreasePosition(c.Context(), actor, types.MarketId(req.Market), margin, req.Leverage, minOut, time.UnixMilli(req.DeadlineMs))
		if err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"additionalSize": fixedpoint.ToDecimalString(added)}})
	})

	app.Post("/v1/positions/reduce", func(c *fiber.Ctx) error {
		var req reduceRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		size, minOut, err := parseAmounts(req.SizeToReduce, req.MinOut)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}

		payout, err := r.ReducePosition(c.Context(), actor, types.MarketId(req.Market), size, minOut, time.UnixMilli(req.DeadlineMs))
		if err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"payout": fixedpoint.ToDecimalString(payout)}})
	})

	app.Post("/v1/admin/pause", func(c *fiber.Ctx) error {
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		if err := r.Pause(actor); err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": nil})
	})

	app.Post("/v1/admin/unpause", func(c *fiber.Ctx) error {
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		if err := r.Unpause(actor); err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": nil})
	})

	app.Post("/v1/admin/transfer-ownership", func(c *fiber.Ctx) error {
		var req transferOwnershipRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		actor, err := parseActor(c)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err)
		}
		if !common.IsHexAddress(req.NewOwner) {
			return respondError(c, fiber.StatusBadRequest, router.ErrInvalidOwner)
		}
		if err := r.TransferOwnership(actor, common.HexToAddress(req.NewOwner)); err != nil {
			return respondRouterError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "data": nil})
	})

	return app
}

func ShutdownFiberApp(app *fiber.App) {
	_ = app.Shutdown()
}

// parseActor reads the caller address from the X-Actor header. Transport
// authentication is out of scope; the header is trusted as-is.
func parseActor(c *fiber.Ctx) (common.Address, error) {
	raw := c.Get("X-Actor")
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("missing or invalid X-Actor header")
	}
	return common.HexToAddress(raw), nil
}

// parseAmounts converts the required amount and the optional minOut from
// decimal strings.
func parseAmounts(amount, minOut string) (*big.Int, *big.Int, error) {
	a, err := fixedpoint.FromDecimalString(amount)
	if err != nil {
		return nil, nil, err
	}
	if minOut == "" {
		return a, nil, nil
	}
	m, err := fixedpoint.FromDecimalString(minOut)
	if err != nil {
		return nil, nil, err
	}
	return a, m, nil
}

func respondError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}

// respondRouterError maps the error taxonomy onto HTTP statuses. Slippage is
// special-cased so callers can see the realized amount they were paid.
func respondRouterError(c *fiber.Ctx, err error) error {
	var slip *router.SlippageError
	if errors.As(err, &slip) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"data": fiber.Map{
				"realized":    fixedpoint.ToDecimalString(slip.Realized),
				"minOut":      fixedpoint.ToDecimalString(slip.MinOut),
				"compensated": slip.Compensated,
			},
		})
	}

	status := fiber.StatusBadRequest
	switch {
	case errors.Is(err, router.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, router.ErrPaused):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, router.ErrNoActiveVenues):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, router.ErrReentrantCall):
		status = fiber.StatusConflict
	case errors.Is(err, router.ErrDeadlineExpired):
		status = fiber.StatusRequestTimeout
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrPriceDeviationTooHigh), errors.Is(err, oracle.ErrOracleNotSet):
		status = fiber.StatusUnprocessableEntity
	}
	return respondError(c, status, err)
}
