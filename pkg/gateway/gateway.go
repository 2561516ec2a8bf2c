package gateway

import (
	"context"
	"errors"
	"math/big"

	"perproute/config"
	"perproute/pkg/gateway/bnf"
	"perproute/pkg/gateway/sim"
	"perproute/pkg/types"
)

// Gateway is the execution surface one venue exposes. Every call may take
// unbounded external time and must honor ctx cancellation. State-changing
// calls fail atomically on the venue side: either the position changed and a
// realized amount is returned, or nothing happened.
type Gateway interface {
	Name() types.VenueId

	GetQuote(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (types.Quote, error)

	OpenPosition(ctx context.Context, market types.MarketId, isLong bool, margin *big.Int, leverage int) (*big.Int, error)
	ClosePosition(ctx context.Context, market types.MarketId, positionSize *big.Int) (*big.Int, error)
	IncreasePosition(ctx context.Context, market types.MarketId, additionalMargin *big.Int, leverage int) (*big.Int, error)
	ReducePosition(ctx context.Context, market types.MarketId, sizeToReduce *big.Int) (*big.Int, error)
}

// NewGateway creates a gateway instance based on the configured kind.
func NewGateway(id types.VenueId, venueConfig *config.VenueConfig) (Gateway, error) {
	switch venueConfig.Gateway {
	case types.GatewaySim:
		return sim.New(id, venueConfig)
	case types.GatewayBnf:
		return bnf.New(id, venueConfig)
	default:
		return nil, errors.New("unsupported gateway")
	}
}
