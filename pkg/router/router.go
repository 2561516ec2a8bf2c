// Package router owns the end-to-end trade decision: pick the venue with the
// best effective price, validate that price against the bound oracle, execute
// on the chosen venue and enforce the caller's slippage and deadline bounds.
package router

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"perproute/pkg/events"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/gateway"
	"perproute/pkg/oracle"
	"perproute/pkg/types"
	"perproute/pkg/venue"
)

// compensateTimeout bounds the best-effort corrective call issued when the
// slippage check fails after an irreversible execution.
const compensateTimeout = 10 * time.Second

type Router struct {
	venues   *venue.Registry
	oracles  *oracle.Registry
	gateways map[types.VenueId]gateway.Gateway
	locator  PositionLocator
	emitter  events.Emitter

	adminMu sync.RWMutex
	owner   common.Address
	paused  bool

	sessions *sessionGuard
	now      func() time.Time
}

func New(owner common.Address, venues *venue.Registry, oracles *oracle.Registry, gateways map[types.VenueId]gateway.Gateway, emitter events.Emitter) *Router {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Router{
		venues:   venues,
		oracles:  oracles,
		gateways: gateways,
		locator:  FirstActiveLocator{Venues: venues},
		emitter:  emitter,
		owner:    owner,
		sessions: newSessionGuard(),
		now:      time.Now,
	}
}

// UsePositionLocator swaps the venue-resolution strategy for
// close/increase/reduce calls.
func (r *Router) UsePositionLocator(l PositionLocator) {
	r.locator = l
}

// ╔═════════════╗
//      Admin
// ╚═════════════╝

func (r *Router) requireOwner(caller common.Address) error {
	r.adminMu.RLock()
	defer r.adminMu.RUnlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	return nil
}

func (r *Router) Pause(caller common.Address) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.adminMu.Lock()
	r.paused = true
	r.adminMu.Unlock()
	log.Warn("router paused")
	return nil
}

func (r *Router) Unpause(caller common.Address) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.adminMu.Lock()
	r.paused = false
	r.adminMu.Unlock()
	log.Info("router unpaused")
	return nil
}

func (r *Router) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.adminMu.Lock()
	old := r.owner
	r.owner = newOwner
	r.adminMu.Unlock()

	r.emitter.Emit(events.OwnershipTransferred{OldOwner: old, NewOwner: newOwner})
	return nil
}

func (r *Router) Owner() common.Address {
	r.adminMu.RLock()
	defer r.adminMu.RUnlock()
	return r.owner
}

func (r *Router) IsPaused() bool {
	r.adminMu.RLock()
	defer r.adminMu.RUnlock()
	return r.paused
}

// ╔═════════════╗
//     Trading
// ╚═════════════╝

// precheck runs the fail-fast gate shared by every state-changing entry
// point. Nothing it rejects has caused a side effect.
func (r *Router) precheck(market types.MarketId, deadline time.Time) error {
	if r.IsPaused() {
		return ErrPaused
	}
	if r.now().After(deadline) {
		return ErrDeadlineExpired
	}
	if market == "" {
		return ErrInvalidMarket
	}
	return nil
}

// OpenPosition selects the venue with the best effective price for the
// trade, validates the venue's execution price against the oracle and opens
// the position there. The executed size is checked against minOut only after
// the venue call: the execution is final by then, so a slippage failure
// triggers one best-effort compensating reduce and surfaces as a
// *SlippageError either way.
func (r *Router) OpenPosition(ctx context.Context, actor common.Address, market types.MarketId, isLong bool, margin *big.Int, leverage int, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if err := r.precheck(market, deadline); err != nil {
		return nil, err
	}
	if margin == nil || margin.Sign() <= 0 {
		return nil, ErrInvalidMargin
	}
	if leverage <= 0 {
		return nil, ErrInvalidLeverage
	}

	release, err := r.sessions.acquire(actor)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	reqLogger := log.WithFields(log.Fields{"req": uuid.NewString(), "actor": actor.Hex(), "market": market})

	best, err := r.selectBestVenue(ctx, reqLogger, market, isLong, margin, leverage)
	if err != nil {
		return nil, err
	}
	reqLogger.WithFields(log.Fields{
		"venue":     best.id,
		"price":     fixedpoint.ToDecimalString(best.quote.Price),
		"effective": fixedpoint.ToDecimalString(best.effective),
	}).Debug("venue selected")

	// the oracle judges the venue's raw execution price, not the
	// fee-adjusted one
	if err := r.oracles.ValidateExecutionPrice(ctx, market, best.quote.Price, isLong); err != nil {
		return nil, err
	}

	// last check before the point of no return
	if r.now().After(deadline) {
		return nil, ErrDeadlineExpired
	}

	executed, err := best.gw.OpenPosition(ctx, market, isLong, margin, leverage)
	if err != nil {
		return nil, err
	}

	if minOut != nil && executed.Cmp(minOut) < 0 {
		compensated := r.compensate(reqLogger, best.gw, market, executed)
		return nil, &SlippageError{MinOut: minOut, Realized: executed, Compensated: compensated}
	}

	r.emitter.Emit(events.PositionOpened{
		Id:             uuid.NewString(),
		User:           actor,
		Market:         market,
		Venue:          best.id,
		IsLong:         isLong,
		Margin:         fixedpoint.ToDecimalString(margin),
		Leverage:       leverage,
		ExecutedSize:   fixedpoint.ToDecimalString(executed),
		ExecutionPrice: fixedpoint.ToDecimalString(best.quote.Price),
		At:             r.now(),
	})
	return executed, nil
}

// ClosePosition closes a position on the venue the locator resolves and
// enforces minOut on the realized payout. There is no compensating action
// for a close: the payout already settled on the venue side.
func (r *Router) ClosePosition(ctx context.Context, actor common.Address, market types.MarketId, positionSize *big.Int, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if err := r.precheck(market, deadline); err != nil {
		return nil, err
	}
	if positionSize == nil || positionSize.Sign() <= 0 {
		return nil, ErrInvalidPositionSize
	}

	release, err := r.sessions.acquire(actor)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	id, gw, err := r.resolvePositionVenue(market, actor)
	if err != nil {
		return nil, err
	}
	if r.now().After(deadline) {
		return nil, ErrDeadlineExpired
	}

	payout, err := gw.ClosePosition(ctx, market, positionSize)
	if err != nil {
		return nil, err
	}
	if minOut != nil && payout.Cmp(minOut) < 0 {
		return nil, &SlippageError{MinOut: minOut, Realized: payout}
	}

	r.emitter.Emit(events.PositionClosed{
		Id:           uuid.NewString(),
		User:         actor,
		Market:       market,
		Venue:        id,
		PositionSize: fixedpoint.ToDecimalString(positionSize),
		Payout:       fixedpoint.ToDecimalString(payout),
		At:           r.now(),
	})
	return payout, nil
}

// IncreasePosition adds margin to an existing position on the venue the
// locator resolves.
func (r *Router) IncreasePosition(ctx context.Context, actor common.Address, market types.MarketId, additionalMargin *big.Int, leverage int, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if err := r.precheck(market, deadline); err != nil {
		return nil, err
	}
	if additionalMargin == nil || additionalMargin.Sign() <= 0 {
		return nil, ErrInvalidMargin
	}
	if leverage <= 0 {
		return nil, ErrInvalidLeverage
	}

	release, err := r.sessions.acquire(actor)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	id, gw, err := r.resolvePositionVenue(market, actor)
	if err != nil {
		return nil, err
	}
	if r.now().After(deadline) {
		return nil, ErrDeadlineExpired
	}

	added, err := gw.IncreasePosition(ctx, market, additionalMargin, leverage)
	if err != nil {
		return nil, err
	}
	if minOut != nil && added.Cmp(minOut) < 0 {
		reqLogger := log.WithFields(log.Fields{"actor": actor.Hex(), "market": market})
		compensated := r.compensate(reqLogger, gw, market, added)
		return nil, &SlippageError{MinOut: minOut, Realized: added, Compensated: compensated}
	}

	r.emitter.Emit(events.PositionIncreased{
		Id:               uuid.NewString(),
		User:             actor,
		Market:           market,
		Venue:            id,
		AdditionalMargin: fixedpoint.ToDecimalString(additionalMargin),
		Leverage:         leverage,
		AdditionalSize:   fixedpoint.ToDecimalString(added),
		At:               r.now(),
	})
	return added, nil
}

// ReducePosition trims a position on the venue the locator resolves and
// enforces minOut on the realized payout.
func (r *Router) ReducePosition(ctx context.Context, actor common.Address, market types.MarketId, sizeToReduce *big.Int, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if err := r.precheck(market, deadline); err != nil {
		return nil, err
	}
	if sizeToReduce == nil || sizeToReduce.Sign() <= 0 {
		return nil, ErrInvalidPositionSize
	}

	release, err := r.sessions.acquire(actor)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	id, gw, err := r.resolvePositionVenue(market, actor)
	if err != nil {
		return nil, err
	}
	if r.now().After(deadline) {
		return nil, ErrDeadlineExpired
	}

	payout, err := gw.ReducePosition(ctx, market, sizeToReduce)
	if err != nil {
		return nil, err
	}
	if minOut != nil && payout.Cmp(minOut) < 0 {
		return nil, &SlippageError{MinOut: minOut, Realized: payout}
	}

	r.emitter.Emit(events.PositionReduced{
		Id:          uuid.NewString(),
		User:        actor,
		Market:      market,
		Venue:       id,
		SizeReduced: fixedpoint.ToDecimalString(sizeToReduce),
		Payout:      fixedpoint.ToDecimalString(payout),
		At:          r.now(),
	})
	return payout, nil
}

// ╔═════════════╗
//    Selection
// ╚═════════════╝

type candidate struct {
	id        types.VenueId
	gw        gateway.Gateway
	quote     types.Quote
	effective *big.Int
}

// selectBestVenue fans quote requests out over the eligible active venues
// and keeps the best effective price: lowest price+fee for longs, highest
// price-fee for shorts. A venue whose quote fails is excluded, never fatal;
// ties keep the earliest venue in registration order.
func (r *Router) selectBestVenue(ctx context.Context, reqLogger *log.Entry, market types.MarketId, isLong bool, margin *big.Int, leverage int) (*candidate, error) {
	active := r.venues.ListActive()
	if len(active) == 0 {
		return nil, ErrNoActiveVenues
	}

	var best *candidate
	for _, id := range active {
		info := r.venues.GetInfo(id)
		if leverage > info.MaxLeverage {
			continue
		}
		gw, wired := r.gateways[id]
		if !wired {
			reqLogger.Warnf("venue '%v' is active but has no gateway, skipping", id)
			continue
		}

		quote, err := gw.GetQuote(ctx, market, isLong, margin, leverage)
		if err != nil {
			reqLogger.Debugf("venue '%v' quote failed, skipping: %v", id, err)
			continue
		}

		effective := effectivePrice(quote, isLong)
		if best == nil || betterPrice(effective, best.effective, isLong) {
			best = &candidate{id: id, gw: gw, quote: quote, effective: effective}
		}
	}
	if best == nil {
		return nil, ErrNoActiveVenues
	}
	return best, nil
}

// effectivePrice folds the fee into the quote in the direction that always
// disadvantages the trader: longs pay more, shorts receive less.
func effectivePrice(q types.Quote, isLong bool) *big.Int {
	if isLong {
		return new(big.Int).Add(q.Price, q.Fee)
	}
	return new(big.Int).Sub(q.Price, q.Fee)
}

// betterPrice reports whether a strictly beats b for the trade direction.
// Strict comparison keeps the earliest-seen venue on ties.
func betterPrice(a, b *big.Int, isLong bool) bool {
	if isLong {
		return a.Cmp(b) < 0
	}
	return a.Cmp(b) > 0
}

func (r *Router) resolvePositionVenue(market types.MarketId, actor common.Address) (types.VenueId, gateway.Gateway, error) {
	id, err := r.locator.Locate(market, actor)
	if err != nil {
		return "", nil, err
	}
	gw, wired := r.gateways[id]
	if !wired {
		return "", nil, ErrVenueUnavailable
	}
	return id, gw, nil
}

// compensate issues a best-effort reduce for size just executed on gw. The
// caller's deadline is typically spent by now, so the corrective call runs
// under its own timeout. Failure is logged and reported, never retried.
func (r *Router) compensate(reqLogger *log.Entry, gw gateway.Gateway, market types.MarketId, size *big.Int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()

	if _, err := gw.ReducePosition(ctx, market, size); err != nil {
		reqLogger.Errorf("fail to compensate slipped execution: %v", err)
		return false
	}
	reqLogger.Warn("slipped execution compensated with reduce")
	return true
}
