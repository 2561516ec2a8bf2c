// Package bnffeed backs a market's oracle with the Binance futures mark
// price (premium index). The mark price aggregates index constituents on the
// exchange side, which makes it a usable manipulation reference for venues
// quoting the same underlying.
package bnffeed

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perproute/pkg/fixedpoint"
)

type Feed struct {
	fClient *futures.Client
	symbol  string // local symbol, e.g. "BTCUSDT"
}

func New(fClient *futures.Client, symbol string) *Feed {
	return &Feed{fClient: fClient, symbol: symbol}
}

func (f *Feed) GetLatestPrice(ctx context.Context) (*big.Int, time.Time, error) {
	res, err := f.fClient.NewPremiumIndexService().Symbol(f.symbol).Do(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fail to fetch premium index for '%v': %w", f.symbol, err)
	}
	if len(res) == 0 {
		return nil, time.Time{}, fmt.Errorf("no premium index data for '%v'", f.symbol)
	}

	price, err := fixedpoint.FromDecimalString(res[0].MarkPrice)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fail to parse mark price '%v': %w", res[0].MarkPrice, err)
	}
	return price, time.UnixMilli(res[0].Time), nil
}
