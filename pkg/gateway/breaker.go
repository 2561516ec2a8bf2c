package gateway

import (
	"context"
	"math/big"
	"time"

	"github.com/sony/gobreaker"
	log "github.com/sirupsen/logrus"

	"perproute/pkg/types"
)

// WithBreaker wraps a gateway with a per-venue circuit breaker. A venue that
// keeps failing trips its breaker and fails quote requests instantly, which
// the router's fail-soft selection loop turns into "excluded from
// consideration" without burning the caller's deadline on dead venues.
func WithBreaker(inner Gateway) Gateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(inner.Name()),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"venue": name, "from": from.String(), "to": to.String()}).
				Warn("venue breaker state changed")
		},
	})
	return &breakerGateway{inner: inner, cb: cb}
}

type breakerGateway struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker
}

func (b *breakerGateway) Name() types.VenueId {
	return b.inner.Name()
}

func (b *breakerGateway) GetQuote(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (types.Quote, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.GetQuote(ctx, market, isLong, margin, leverage)
	})
	if err != nil {
		return types.Quote{}, err
	}
	return res.(types.Quote), nil
}

func (b *breakerGateway) OpenPosition(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (*big.Int, error) {
	return b.execute(func() (*big.Int, error) {
		return b.inner.OpenPosition(ctx, market, isLong, margin, leverage)
	})
}

func (b *breakerGateway) ClosePosition(ctx context.Context, market types.MarketId, positionSize *big.Int) (*big.Int, error) {
	return b.execute(func() (*big.Int, error) {
		return b.inner.ClosePosition(ctx, market, positionSize)
	})
}

func (b *breakerGateway) IncreasePosition(ctx context.Context, market types.MarketId, additionalMargin *big.Int, leverage int) (*big.Int, error) {
	return b.execute(func() (*big.Int, error) {
		return b.inner.IncreasePosition(ctx, market, additionalMargin, leverage)
	})
}

func (b *breakerGateway) ReducePosition(ctx context.Context, market types.MarketId, sizeToReduce *big.Int) (*big.Int, error) {
	return b.execute(func() (*big.Int, error) {
		return b.inner.ReducePosition(ctx, market, sizeToReduce)
	})
}

func (b *breakerGateway) execute(call func() (*big.Int, error)) (*big.Int, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return nil, err
	}
	return res.(*big.Int), nil
}
