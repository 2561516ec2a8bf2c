package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"perproute/pkg/events"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/types"
)

// MaxPriceAge is the oldest observation any price-consuming operation will
// accept. Older observations are rejected regardless of their value.
const MaxPriceAge = 15 * time.Minute

// DefaultMaxDeviationBps is the initial execution-vs-oracle tolerance (5%).
const DefaultMaxDeviationBps = int64(500)

var (
	ErrInvalidOracle         = errors.New("invalid oracle binding")
	ErrOracleNotSet          = errors.New("no oracle bound for market")
	ErrStalePrice            = errors.New("oracle price is stale")
	ErrPriceDeviationTooHigh = errors.New("execution price deviates too far from oracle")
)

// PriceFeed is the read contract every oracle backend fulfills. Price is a
// fixedpoint.Scale-scaled value; observedAt is the source timestamp of the
// observation, not the fetch time.
type PriceFeed interface {
	GetLatestPrice(ctx context.Context) (price *big.Int, observedAt time.Time, err error)
}

// Registry maps markets to their backing price feeds and holds the global
// deviation tolerance. Safe for concurrent use; mutations are visible to the
// next read immediately (no caching).
type Registry struct {
	mu              sync.RWMutex
	feeds           map[types.MarketId]PriceFeed
	feedNames       map[types.MarketId]string
	maxDeviationBps int64

	emitter events.Emitter
	now     func() time.Time
}

func NewRegistry(emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Registry{
		feeds:           make(map[types.MarketId]PriceFeed),
		feedNames:       make(map[types.MarketId]string),
		maxDeviationBps: DefaultMaxDeviationBps,
		emitter:         emitter,
		now:             time.Now,
	}
}

// Bind points a market at a feed. Rebinding overwrites silently; at most one
// feed is bound per market at any time.
func (r *Registry) Bind(market types.MarketId, feedName string, feed PriceFeed) error {
	if market == "" || feed == nil {
		return ErrInvalidOracle
	}
	r.mu.Lock()
	r.feeds[market] = feed
	r.feedNames[market] = feedName
	r.mu.Unlock()

	log.Infof("oracle '%v' bound for market '%v'", feedName, market)
	r.emitter.Emit(events.OracleSet{Market: market, Feed: feedName})
	return nil
}

// SetDeviationTolerance replaces the global tolerance. The value is
// administrator-trusted and deliberately unbounded.
func (r *Registry) SetDeviationTolerance(bps int64) {
	r.mu.Lock()
	old := r.maxDeviationBps
	r.maxDeviationBps = bps
	r.mu.Unlock()

	r.emitter.Emit(events.MaxPriceDeviationUpdated{OldBps: old, NewBps: bps})
}

// DeviationTolerance returns the current tolerance in basis points.
func (r *Registry) DeviationTolerance() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxDeviationBps
}

func (r *Registry) fetch(ctx context.Context, market types.MarketId) (*big.Int, error) {
	r.mu.RLock()
	feed, bound := r.feeds[market]
	r.mu.RUnlock()
	if !bound {
		return nil, ErrOracleNotSet
	}

	price, observedAt, err := feed.GetLatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to fetch oracle price for '%v': %w", market, err)
	}
	if r.now().Sub(observedAt) > MaxPriceAge {
		return nil, ErrStalePrice
	}
	return price, nil
}

// GetValidatedPrice returns the market's oracle price after the staleness
// check.
func (r *Registry) GetValidatedPrice(ctx context.Context, market types.MarketId) (*big.Int, error) {
	return r.fetch(ctx, market)
}

// ValidateExecutionPrice checks a venue's execution price against the oracle
// price under the current tolerance. The deviation formula is symmetric;
// isLong is accepted for future asymmetric tolerances but does not change the
// check today. Success is silent.
func (r *Registry) ValidateExecutionPrice(ctx context.Context, market types.MarketId, executionPrice *big.Int, isLong bool) error {
	oraclePrice, err := r.fetch(ctx, market)
	if err != nil {
		return err
	}

	deviation, err := fixedpoint.DeviationBps(executionPrice, oraclePrice)
	if err != nil {
		return fmt.Errorf("fail to compute deviation for '%v': %w", market, err)
	}
	if deviation.Cmp(big.NewInt(r.DeviationTolerance())) > 0 {
		log.WithFields(log.Fields{
			"market":       market,
			"execPrice":    fixedpoint.ToDecimalString(executionPrice),
			"oraclePrice":  fixedpoint.ToDecimalString(oraclePrice),
			"deviationBps": deviation.String(),
		}).Warn("execution price rejected")
		return ErrPriceDeviationTooHigh
	}
	return nil
}
