// Package sim implements an in-process venue with a fixed quote book. It
// backs the local environment and the end-to-end tests; failure injection
// covers the partial-failure paths the router has to survive.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"perproute/config"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/types"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrQuoteDown     = errors.New("quote service down")
	ErrExecDown      = errors.New("execution rejected")
)

type Gateway struct {
	mu sync.Mutex

	id         types.VenueId
	feeBps     int64
	basePrices map[types.MarketId]*big.Int

	failQuotes   bool
	failExecs    bool
	shortfallBps int64 // shaves realized outputs to provoke slippage
	quoteCalls   int
	execCalls    int
}

func New(id types.VenueId, venueConfig *config.VenueConfig) (*Gateway, error) {
	g := &Gateway{
		id:         id,
		feeBps:     venueConfig.FeeRateBps,
		basePrices: make(map[types.MarketId]*big.Int),
	}
	for market, priceStr := range venueConfig.BasePrices {
		price, err := fixedpoint.FromDecimalString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("fail to parse base price for '%v': %w", market, err)
		}
		g.basePrices[types.MarketId(market)] = price
	}
	return g, nil
}

func (g *Gateway) Name() types.VenueId {
	return g.id
}

// SetBasePrice pins the quote price for a market.
func (g *Gateway) SetBasePrice(market types.MarketId, price *big.Int) {
	g.mu.Lock()
	g.basePrices[market] = new(big.Int).Set(price)
	g.mu.Unlock()
}

// FailQuotes makes every subsequent quote request fail.
func (g *Gateway) FailQuotes(fail bool) {
	g.mu.Lock()
	g.failQuotes = fail
	g.mu.Unlock()
}

// FailExecutions makes every subsequent state-changing call fail.
func (g *Gateway) FailExecutions(fail bool) {
	g.mu.Lock()
	g.failExecs = fail
	g.mu.Unlock()
}

// SetRealizedShortfall shaves the given basis points off every realized
// output, simulating venue-side slippage against the quote.
func (g *Gateway) SetRealizedShortfall(bps int64) {
	g.mu.Lock()
	g.shortfallBps = bps
	g.mu.Unlock()
}

// QuoteCalls reports how many quote requests the venue has served.
func (g *Gateway) QuoteCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quoteCalls
}

// ExecCalls reports how many state-changing calls the venue has served.
func (g *Gateway) ExecCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.execCalls
}

func (g *Gateway) GetQuote(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.quoteCalls++
	if g.failQuotes {
		return types.Quote{}, ErrQuoteDown
	}
	price, known := g.basePrices[market]
	if !known {
		return types.Quote{}, ErrUnknownMarket
	}
	return types.Quote{
		Price: new(big.Int).Set(price),
		Fee:   fixedpoint.BpsOf(price, g.feeBps),
	}, nil
}

func (g *Gateway) OpenPosition(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (*big.Int, error) {
	price, err := g.execute(ctx, market)
	if err != nil {
		return nil, err
	}
	// size = margin * leverage / price, in base units
	notional := new(big.Int).Mul(margin, big.NewInt(int64(leverage)))
	size := fixedpoint.MulDiv(notional, fixedpoint.Scale, price)
	return g.shave(size), nil
}

func (g *Gateway) ClosePosition(ctx context.Context, market types.MarketId, positionSize *big.Int) (*big.Int, error) {
	price, err := g.execute(ctx, market)
	if err != nil {
		return nil, err
	}
	payout := fixedpoint.MulDiv(positionSize, price, fixedpoint.Scale)
	return g.shave(payout), nil
}

func (g *Gateway) IncreasePosition(ctx context.Context, market types.MarketId, additionalMargin *big.Int, leverage int) (*big.Int, error) {
	return g.OpenPosition(ctx, market, true, additionalMargin, leverage)
}

func (g *Gateway) ReducePosition(ctx context.Context, market types.MarketId, sizeToReduce *big.Int) (*big.Int, error) {
	return g.ClosePosition(ctx, market, sizeToReduce)
}

func (g *Gateway) execute(ctx context.Context, market types.MarketId) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.execCalls++
	if g.failExecs {
		return nil, ErrExecDown
	}
	price, known := g.basePrices[market]
	if !known {
		return nil, ErrUnknownMarket
	}
	return new(big.Int).Set(price), nil
}

func (g *Gateway) shave(v *big.Int) *big.Int {
	g.mu.Lock()
	bps := g.shortfallBps
	g.mu.Unlock()
	if bps == 0 {
		return v
	}
	return new(big.Int).Sub(v, fixedpoint.BpsOf(v, bps))
}
