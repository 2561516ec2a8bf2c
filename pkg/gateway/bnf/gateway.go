// Package bnf adapts Binance USD-M futures into a venue gateway. Quotes come
// from the mark price (premium index) with the configured taker fee folded
// in; executions place market orders on the account behind the configured
// credential prefix.
package bnf

import (
	"context"
	"fmt"
	"math/big"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perproute/config"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/types"
	"perproute/pkg/utils"
)

type Gateway struct {
	id      types.VenueId
	fClient *futures.Client
	feeBps  int64

	symbolMap map[types.MarketId]string // market -> local symbol
}

func New(id types.VenueId, venueConfig *config.VenueConfig) (*Gateway, error) {
	futures.UseTestnet = config.Env.EnvName != types.EnvProd

	key := utils.LoadEnv(venueConfig.EnvPrefix + "_API_KEY")
	secret := utils.LoadEnv(venueConfig.EnvPrefix + "_API_SECRET")
	if key == "" || secret == "" {
		return nil, fmt.Errorf("API key or secret is not set: prefix %v", venueConfig.EnvPrefix)
	}

	symbolMap := make(map[types.MarketId]string, len(venueConfig.Symbols))
	for market, symbol := range venueConfig.Symbols {
		symbolMap[types.MarketId(market)] = symbol
	}

	return &Gateway{
		id:        id,
		fClient:   futures.NewClient(key, secret),
		feeBps:    venueConfig.FeeRateBps,
		symbolMap: symbolMap,
	}, nil
}

func (g *Gateway) Name() types.VenueId {
	return g.id
}

func (g *Gateway) toLocSymbol(market types.MarketId) (string, error) {
	if symbol, exists := g.symbolMap[market]; exists {
		return symbol, nil
	}
	return "", fmt.Errorf("no symbol mapping for market '%v'", market)
}

func (g *Gateway) markPrice(ctx context.Context, symbol string) (*big.Int, error) {
	res, err := g.fClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to fetch mark price for '%v': %w", symbol, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no mark price data for '%v'", symbol)
	}
	return fixedpoint.FromDecimalString(res[0].MarkPrice)
}

func (g *Gateway) GetQuote(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (types.Quote, error) {
	symbol, err := g.toLocSymbol(market)
	if err != nil {
		return types.Quote{}, err
	}
	price, err := g.markPrice(ctx, symbol)
	if err != nil {
		return types.Quote{}, err
	}
	return types.Quote{
		Price: price,
		Fee:   fixedpoint.BpsOf(price, g.feeBps),
	}, nil
}

// orderQty renders a Scale-scaled base quantity as the string Binance
// expects, rounded down to 3 decimals.
func orderQty(size *big.Int) string {
	return decimal.NewFromBigInt(size, -fixedpoint.Decimals).RoundDown(3).String()
}

func (g *Gateway) marketOrder(ctx context.Context, symbol string, side futures.SideType, qty string, reduceOnly bool) (*big.Int, *big.Int, error) {
	res, err := g.fClient.NewCreateOrderService().
		Symbol(symbol).
		Type(futures.OrderTypeMarket).
		Side(side).
		Quantity(qty).
		ReduceOnly(reduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, nil, err
	}

	executedQty, err := fixedpoint.FromDecimalString(res.ExecutedQuantity)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to parse executed qty '%v': %w", res.ExecutedQuantity, err)
	}
	avgPrice, err := fixedpoint.FromDecimalString(res.AvgPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to parse avg price '%v': %w", res.AvgPrice, err)
	}
	return executedQty, avgPrice, nil
}

func (g *Gateway) OpenPosition(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (*big.Int, error) {
	symbol, err := g.toLocSymbol(market)
	if err != nil {
		return nil, err
	}
	price, err := g.markPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if _, err := g.fClient.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return nil, fmt.Errorf("fail to set leverage: %w", err)
	}

	side := futures.SideTypeBuy
	if !isLong {
		side = futures.SideTypeSell
	}
	notional := new(big.Int).Mul(margin, big.NewInt(int64(leverage)))
	size := fixedpoint.MulDiv(notional, fixedpoint.Scale, price)

	executedQty, _, err := g.marketOrder(ctx, symbol, side, orderQty(size), false)
	if err != nil {
		return nil, err
	}
	return executedQty, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, market types.MarketId, positionSize *big.Int) (*big.Int, error) {
	return g.reduce(ctx, market, positionSize)
}

func (g *Gateway) IncreasePosition(ctx context.Context, market types.MarketId, additionalMargin *big.Int, leverage int) (*big.Int, error) {
	// an increase on the same symbol and side is just another open
	return g.OpenPosition(ctx, market, true, additionalMargin, leverage)
}

func (g *Gateway) ReducePosition(ctx context.Context, market types.MarketId, sizeToReduce *big.Int) (*big.Int, error) {
	return g.reduce(ctx, market, sizeToReduce)
}

// reduce places a reduce-only market order against the account's current
// position on the symbol and returns the realized payout (qty * fill price).
func (g *Gateway) reduce(ctx context.Context, market types.MarketId, size *big.Int) (*big.Int, error) {
	symbol, err := g.toLocSymbol(market)
	if err != nil {
		return nil, err
	}

	account, err := g.fClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to get active positions: %w", err)
	}
	var positionAmt string
	for _, pos := range account.Positions {
		if pos.Symbol == symbol && pos.PositionAmt != "0" {
			positionAmt = pos.PositionAmt
			break
		}
	}
	if positionAmt == "" {
		return nil, fmt.Errorf("no open position on '%v'", symbol)
	}

	// a long position closes with a sell, a short with a buy
	side := futures.SideTypeSell
	if positionAmt[0] == '-' {
		side = futures.SideTypeBuy
	}

	executedQty, avgPrice, err := g.marketOrder(ctx, symbol, side, orderQty(size), true)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(executedQty, avgPrice, fixedpoint.Scale), nil
}
