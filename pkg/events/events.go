package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"perproute/pkg/types"
)

// Event is a position-lifecycle or administrative notification. Events are
// emitted once per successful state change and consumed externally only; the
// router never reads them back.
type Event interface {
	Kind() string
}

// Emitter receives events synchronously on the caller's goroutine. Emitters
// must not fail the emitting call; sinks log their own errors.
type Emitter interface {
	Emit(e Event)
}

// Multi fans one event out to several sinks in order.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// Amounts are carried as decimal strings so every sink (logs, msgpack
// journal, JSON APIs) serializes them identically.

type PositionOpened struct {
	Id             string         `msgpack:"id" json:"id"`
	User           common.Address `msgpack:"user" json:"user"`
	Market         types.MarketId `msgpack:"market" json:"market"`
	Venue          types.VenueId  `msgpack:"venue" json:"venue"`
	IsLong         bool           `msgpack:"isLong" json:"isLong"`
	Margin         string         `msgpack:"margin" json:"margin"`
	Leverage       int            `msgpack:"leverage" json:"leverage"`
	ExecutedSize   string         `msgpack:"executedSize" json:"executedSize"`
	ExecutionPrice string         `msgpack:"executionPrice" json:"executionPrice"`
	At             time.Time      `msgpack:"at" json:"at"`
}

func (PositionOpened) Kind() string { return "position_opened" }

type PositionClosed struct {
	Id           string         `msgpack:"id" json:"id"`
	User         common.Address `msgpack:"user" json:"user"`
	Market       types.MarketId `msgpack:"market" json:"market"`
	Venue        types.VenueId  `msgpack:"venue" json:"venue"`
	PositionSize string         `msgpack:"positionSize" json:"positionSize"`
	Payout       string         `msgpack:"payout" json:"payout"`
	At           time.Time      `msgpack:"at" json:"at"`
}

func (PositionClosed) Kind() string { return "position_closed" }

type PositionIncreased struct {
	Id               string         `msgpack:"id" json:"id"`
	User             common.Address `msgpack:"user" json:"user"`
	Market           types.MarketId `msgpack:"market" json:"market"`
	Venue            types.VenueId  `msgpack:"venue" json:"venue"`
	AdditionalMargin string         `msgpack:"additionalMargin" json:"additionalMargin"`
	Leverage         int            `msgpack:"leverage" json:"leverage"`
	AdditionalSize   string         `msgpack:"additionalSize" json:"additionalSize"`
	At               time.Time      `msgpack:"at" json:"at"`
}

func (PositionIncreased) Kind() string { return "position_increased" }

type PositionReduced struct {
	Id          string         `msgpack:"id" json:"id"`
	User        common.Address `msgpack:"user" json:"user"`
	Market      types.MarketId `msgpack:"market" json:"market"`
	Venue       types.VenueId  `msgpack:"venue" json:"venue"`
	SizeReduced string         `msgpack:"sizeReduced" json:"sizeReduced"`
	Payout      string         `msgpack:"payout" json:"payout"`
	At          time.Time      `msgpack:"at" json:"at"`
}

func (PositionReduced) Kind() string { return "position_reduced" }

type VenueRegistered struct {
	Venue       types.VenueId `msgpack:"venue" json:"venue"`
	Name        string        `msgpack:"name" json:"name"`
	MaxLeverage int           `msgpack:"maxLeverage" json:"maxLeverage"`
	FeeRateBps  int64         `msgpack:"feeRateBps" json:"feeRateBps"`
}

func (VenueRegistered) Kind() string { return "venue_registered" }

type VenueRemoved struct {
	Venue types.VenueId `msgpack:"venue" json:"venue"`
}

func (VenueRemoved) Kind() string { return "venue_removed" }

type VenueStatusChanged struct {
	Venue  types.VenueId `msgpack:"venue" json:"venue"`
	Active bool          `msgpack:"active" json:"active"`
}

func (VenueStatusChanged) Kind() string { return "venue_status_changed" }

type OracleSet struct {
	Market types.MarketId `msgpack:"market" json:"market"`
	Feed   string         `msgpack:"feed" json:"feed"`
}

func (OracleSet) Kind() string { return "oracle_set" }

type MaxPriceDeviationUpdated struct {
	OldBps int64 `msgpack:"oldBps" json:"oldBps"`
	NewBps int64 `msgpack:"newBps" json:"newBps"`
}

func (MaxPriceDeviationUpdated) Kind() string { return "max_price_deviation_updated" }

type OwnershipTransferred struct {
	OldOwner common.Address `msgpack:"oldOwner" json:"oldOwner"`
	NewOwner common.Address `msgpack:"newOwner" json:"newOwner"`
}

func (OwnershipTransferred) Kind() string { return "ownership_transferred" }

// LogEmitter writes every event as a structured logrus record.
type LogEmitter struct{}

func (LogEmitter) Emit(e Event) {
	log.WithFields(log.Fields{"event": e.Kind(), "payload": e}).Info("event emitted")
}

// Discard drops every event; useful as a default when no sink is wired.
type Discard struct{}

func (Discard) Emit(Event) {}
