package router

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perproute/pkg/events"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/gateway"
	"perproute/pkg/oracle"
	"perproute/pkg/types"
	"perproute/pkg/venue"
)

const market = types.MarketId("BTC_USD")

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func fp(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := fixedpoint.FromDecimalString(s)
	require.NoError(t, err)
	return v
}

// fakeGateway is a scriptable venue for exercising the selection and
// execution paths.
type fakeGateway struct {
	mu sync.Mutex

	id       types.VenueId
	quote    types.Quote
	quoteErr error
	execOut  *big.Int
	execErr  error

	// when set, OpenPosition signals enteredC then blocks until blockC closes
	enteredC chan struct{}
	blockC   chan struct{}

	quoteCalls    int
	openCalls     int
	closeCalls    int
	increaseCalls int
	reduceCalls   int
}

func (g *fakeGateway) Name() types.VenueId { return g.id }

func (g *fakeGateway) GetQuote(ctx context.Context, m types.MarketId, isLong bool, margin *big.Int, leverage int) (types.Quote, error) {
	g.mu.Lock()
	g.quoteCalls++
	g.mu.Unlock()
	if g.quoteErr != nil {
		return types.Quote{}, g.quoteErr
	}
	return g.quote, nil
}

func (g *fakeGateway) OpenPosition(ctx context.Context, m types.MarketId, isLong bool, margin *big.Int, leverage int) (*big.Int, error) {
	g.mu.Lock()
	g.openCalls++
	g.mu.Unlock()
	if g.enteredC != nil {
		g.enteredC <- struct{}{}
		<-g.blockC
	}
	if g.execErr != nil {
		return nil, g.execErr
	}
	return g.execOut, nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, m types.MarketId, positionSize *big.Int) (*big.Int, error) {
	g.mu.Lock()
	g.closeCalls++
	g.mu.Unlock()
	if g.execErr != nil {
		return nil, g.execErr
	}
	return g.execOut, nil
}

func (g *fakeGateway) IncreasePosition(ctx context.Context, m types.MarketId, additionalMargin *big.Int, leverage int) (*big.Int, error) {
	g.mu.Lock()
	g.increaseCalls++
	g.mu.Unlock()
	if g.execErr != nil {
		return nil, g.execErr
	}
	return g.execOut, nil
}

func (g *fakeGateway) ReducePosition(ctx context.Context, m types.MarketId, sizeToReduce *big.Int) (*big.Int, error) {
	g.mu.Lock()
	g.reduceCalls++
	g.mu.Unlock()
	if g.execErr != nil {
		return nil, g.execErr
	}
	return g.execOut, nil
}

type callCounts struct {
	quoteCalls    int
	openCalls     int
	closeCalls    int
	increaseCalls int
	reduceCalls   int
}

func (g *fakeGateway) calls() callCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	return callCounts{
		quoteCalls:    g.quoteCalls,
		openCalls:     g.openCalls,
		closeCalls:    g.closeCalls,
		increaseCalls: g.increaseCalls,
		reduceCalls:   g.reduceCalls,
	}
}

type fakeFeed struct {
	price *big.Int
}

func (f *fakeFeed) GetLatestPrice(ctx context.Context) (*big.Int, time.Time, error) {
	return f.price, time.Now(), nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(e events.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureEmitter) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind()
	}
	return out
}

// harness wires a router over scripted venues and a pinned oracle.
type harness struct {
	router  *Router
	venues  *venue.Registry
	oracles *oracle.Registry
	emitted *captureEmitter
}

type venueSpec struct {
	id          types.VenueId
	maxLeverage int
	gw          *fakeGateway
}

func newHarness(t *testing.T, oraclePrice string, specs ...venueSpec) *harness {
	t.Helper()
	emitted := &captureEmitter{}
	venueReg := venue.NewRegistry(nil)
	oracleReg := oracle.NewRegistry(nil)
	require.NoError(t, oracleReg.Bind(market, "fake", &fakeFeed{price: fp(t, oraclePrice)}))

	gateways := make(map[types.VenueId]gateway.Gateway)
	for _, spec := range specs {
		require.NoError(t, venueReg.Register(spec.id, string(spec.id), spec.maxLeverage, 0))
		gateways[spec.id] = spec.gw
	}

	return &harness{
		router:  New(owner, venueReg, oracleReg, gateways, emitted),
		venues:  venueReg,
		oracles: oracleReg,
		emitted: emitted,
	}
}

func future() time.Time { return time.Now().Add(time.Minute) }

func quoteOf(t *testing.T, price, fee string) types.Quote {
	return types.Quote{Price: fp(t, price), Fee: fp(t, fee)}
}

func TestOpenPositionSelectsLowestEffectivePriceForLong(t *testing.T) {
	// both venues quote 2000; alpha's 10bps fee beats beta's 20bps
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2000", "4"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 100, beta},
	)

	executed, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, "5", fixedpoint.ToDecimalString(executed))
	assert.Equal(t, 1, alpha.calls().openCalls)
	assert.Equal(t, 0, beta.calls().openCalls)

	require.Equal(t, []string{"position_opened"}, h.emitted.kinds())
	opened := h.emitted.events[0].(events.PositionOpened)
	assert.Equal(t, types.VenueId("alpha"), opened.Venue)
	assert.Equal(t, "2000", opened.ExecutionPrice)
	assert.Equal(t, "5", opened.ExecutedSize)
	assert.Equal(t, trader, opened.User)
}

func TestOpenPositionSelectsHighestEffectivePriceForShort(t *testing.T) {
	// shorts receive price-fee, so beta's 2006 beats alpha's 1998
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2010", "4"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 100, beta},
	)

	_, err := h.router.OpenPosition(context.Background(), trader, market, false, fp(t, "1000"), 10, big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, 0, alpha.calls().openCalls)
	assert.Equal(t, 1, beta.calls().openCalls)
}

func TestOpenPositionTieKeepsEarliestVenue(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 100, beta},
	)

	for i := 0; i < 3; i++ {
		_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, alpha.calls().openCalls)
	assert.Equal(t, 0, beta.calls().openCalls)
}

func TestOpenPositionSkipsVenuesWithInsufficientMaxLeverage(t *testing.T) {
	// alpha quotes better but only goes to 10x; a 20x request must not even
	// ask it
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "1990", "0"), execOut: fp(t, "5")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2000", "4"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 10, alpha},
		venueSpec{"beta", 50, beta},
	)

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 20, big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, 0, alpha.calls().quoteCalls)
	assert.Equal(t, 1, beta.calls().openCalls)
}

func TestOpenPositionToleratesQuoteFailures(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quoteErr: errors.New("venue down")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2000", "4"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 50, beta},
	)

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, 1, beta.calls().openCalls)
}

func TestOpenPositionFailsWhenEveryQuoteFails(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quoteErr: errors.New("down")}
	beta := &fakeGateway{id: "beta", quoteErr: errors.New("down")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 50, beta},
	)

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrNoActiveVenues)
	assert.Empty(t, h.emitted.kinds())
}

func TestOpenPositionNoActiveVenues(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})
	require.NoError(t, h.venues.Deactivate("alpha"))

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrNoActiveVenues)
	assert.Equal(t, 0, alpha.calls().quoteCalls)
}

func TestOpenPositionRejectsDeviantExecutionPrice(t *testing.T) {
	// venue quotes 3000 against a 2000 oracle: 50% deviation vs 5% tolerance
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "3000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, oracle.ErrPriceDeviationTooHigh)
	assert.Equal(t, 0, alpha.calls().openCalls)
	assert.Empty(t, h.emitted.kinds())
}

func TestOpenPositionValidatesUnadjustedPrice(t *testing.T) {
	// the oracle judges the raw quote price; the fee-adjusted effective
	// price may drift past the tolerance without failing the trade
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})
	h.oracles.SetDeviationTolerance(0)

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.NoError(t, err)
}

func TestOpenPositionDeadlineExpired(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, ErrDeadlineExpired)
	assert.Equal(t, 0, alpha.calls().quoteCalls)
	assert.Empty(t, h.emitted.kinds())
}

func TestOpenPositionInputValidation(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.OpenPosition(context.Background(), trader, "", true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidMarket)

	_, err = h.router.OpenPosition(context.Background(), trader, market, true, big.NewInt(0), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidMargin)

	_, err = h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 0, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidLeverage)
}

func TestOpenPositionSlippageCompensates(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "4")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, fp(t, "5"), future())
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	var slip *SlippageError
	require.ErrorAs(t, err, &slip)
	assert.Equal(t, "4", fixedpoint.ToDecimalString(slip.Realized))
	assert.Equal(t, "5", fixedpoint.ToDecimalString(slip.MinOut))
	assert.True(t, slip.Compensated)

	// the execution happened, the compensating reduce followed, no event
	assert.Equal(t, 1, alpha.calls().openCalls)
	assert.Equal(t, 1, alpha.calls().reduceCalls)
	assert.Empty(t, h.emitted.kinds())
}

func TestOpenPositionSelectionIsDeterministic(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "3"), execOut: fp(t, "5")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2001", "1"), execOut: fp(t, "5")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 50, beta},
	)

	// alpha's effective 2003 loses to beta's 2002 every time
	for i := 0; i < 5; i++ {
		_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, alpha.calls().openCalls)
	assert.Equal(t, 5, beta.calls().openCalls)
}

func TestReentrancyGuard(t *testing.T) {
	alpha := &fakeGateway{
		id:       "alpha",
		quote:    quoteOf(t, "2000", "2"),
		execOut:  fp(t, "5"),
		enteredC: make(chan struct{}, 1),
		blockC:   make(chan struct{}),
	}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
		firstDone <- err
	}()

	<-alpha.enteredC // first call is now inside the venue

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrReentrantCall)

	// a different actor is not blocked by the trader's session
	_, err = h.router.ClosePosition(context.Background(), owner, market, fp(t, "1"), big.NewInt(0), future())
	assert.NoError(t, err)

	close(alpha.blockC)
	require.NoError(t, <-firstDone)

	// the guard releases on exit
	_, err = h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.NoError(t, err)
}

func TestClosePositionUsesFirstActiveVenue(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "10000")}
	beta := &fakeGateway{id: "beta", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "10000")}
	h := newHarness(t, "2000",
		venueSpec{"alpha", 50, alpha},
		venueSpec{"beta", 50, beta},
	)

	payout, err := h.router.ClosePosition(context.Background(), trader, market, fp(t, "5"), big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, "10000", fixedpoint.ToDecimalString(payout))
	assert.Equal(t, 1, alpha.calls().closeCalls)
	assert.Equal(t, 0, beta.calls().closeCalls)

	require.NoError(t, h.venues.Deactivate("alpha"))
	_, err = h.router.ClosePosition(context.Background(), trader, market, fp(t, "5"), big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, 1, beta.calls().closeCalls)

	assert.Equal(t, []string{"position_closed", "position_closed"}, h.emitted.kinds())
}

func TestClosePositionSlippageHasNoCompensation(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", execOut: fp(t, "9000")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.ClosePosition(context.Background(), trader, market, fp(t, "5"), fp(t, "10000"), future())
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	var slip *SlippageError
	require.ErrorAs(t, err, &slip)
	assert.False(t, slip.Compensated)
	assert.Equal(t, 0, alpha.calls().reduceCalls)
}

func TestClosePositionValidation(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", execOut: fp(t, "1")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	_, err := h.router.ClosePosition(context.Background(), trader, market, big.NewInt(0), big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidPositionSize)
}

func TestIncreaseAndReducePosition(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "2")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	added, err := h.router.IncreasePosition(context.Background(), trader, market, fp(t, "400"), 10, big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, "2", fixedpoint.ToDecimalString(added))
	assert.Equal(t, 1, alpha.calls().increaseCalls)

	payout, err := h.router.ReducePosition(context.Background(), trader, market, fp(t, "1"), big.NewInt(0), future())
	require.NoError(t, err)
	assert.Equal(t, "2", fixedpoint.ToDecimalString(payout))
	assert.Equal(t, 1, alpha.calls().reduceCalls)

	assert.Equal(t, []string{"position_increased", "position_reduced"}, h.emitted.kinds())

	_, err = h.router.IncreasePosition(context.Background(), trader, market, big.NewInt(0), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidMargin)
	_, err = h.router.ReducePosition(context.Background(), trader, market, nil, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrInvalidPositionSize)
}

func TestPauseGatesEveryEntryPoint(t *testing.T) {
	alpha := &fakeGateway{id: "alpha", quote: quoteOf(t, "2000", "2"), execOut: fp(t, "5")}
	h := newHarness(t, "2000", venueSpec{"alpha", 50, alpha})

	assert.ErrorIs(t, h.router.Pause(trader), ErrUnauthorized)
	require.NoError(t, h.router.Pause(owner))
	assert.True(t, h.router.IsPaused())

	_, err := h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrPaused)
	_, err = h.router.ClosePosition(context.Background(), trader, market, fp(t, "1"), big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrPaused)
	_, err = h.router.IncreasePosition(context.Background(), trader, market, fp(t, "1"), 10, big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrPaused)
	_, err = h.router.ReducePosition(context.Background(), trader, market, fp(t, "1"), big.NewInt(0), future())
	assert.ErrorIs(t, err, ErrPaused)

	require.NoError(t, h.router.Unpause(owner))
	_, err = h.router.OpenPosition(context.Background(), trader, market, true, fp(t, "1000"), 10, big.NewInt(0), future())
	assert.NoError(t, err)
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t, "2000")

	assert.ErrorIs(t, h.router.TransferOwnership(owner, common.Address{}), ErrInvalidOwner)
	assert.ErrorIs(t, h.router.TransferOwnership(trader, trader), ErrUnauthorized)

	require.NoError(t, h.router.TransferOwnership(owner, trader))
	assert.Equal(t, trader, h.router.Owner())
	assert.ErrorIs(t, h.router.Pause(owner), ErrUnauthorized)
	assert.NoError(t, h.router.Pause(trader))
}
