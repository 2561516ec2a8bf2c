// Command sim runs one open/close round trip against two in-process venues
// and a pinned oracle, printing the routing decision trace. Useful as a
// smoke check of the selection and validation path without any live venue.
package main

import (
	"context"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"perproute/config"
	"perproute/pkg/events"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/gateway"
	"perproute/pkg/gateway/sim"
	"perproute/pkg/oracle"
	"perproute/pkg/oracle/feed/staticfeed"
	"perproute/pkg/router"
	"perproute/pkg/types"
	"perproute/pkg/venue"
)

const market = types.MarketId("BTC_USD")

func main() {
	log.SetLevel(log.DebugLevel)
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	trader := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	emitter := events.LogEmitter{}
	venueReg := venue.NewRegistry(emitter)
	oracleReg := oracle.NewRegistry(emitter)

	// two venues quoting 2000, fees 10bps and 20bps
	cheap := mustSim("alpha", "2000", 10)
	pricey := mustSim("beta", "2000", 20)
	gateways := map[types.VenueId]gateway.Gateway{
		"alpha": gateway.WithBreaker(cheap),
		"beta":  gateway.WithBreaker(pricey),
	}
	must(venueReg.Register("alpha", "Alpha Perps", 50, 10))
	must(venueReg.Register("beta", "Beta Perps", 100, 20))

	feed := staticfeed.New()
	oraclePrice, _ := fixedpoint.FromDecimalString("2000")
	feed.Set(oraclePrice, time.Now())
	must(oracleReg.Bind(market, "static", feed))

	r := router.New(owner, venueReg, oracleReg, gateways, emitter)

	ctx := context.Background()
	margin, _ := fixedpoint.FromDecimalString("1000")
	deadline := time.Now().Add(30 * time.Second)

	size, err := r.OpenPosition(ctx, trader, market, true, margin, 10, big.NewInt(0), deadline)
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}
	log.Infof("opened long: size=%v BTC", fixedpoint.ToDecimalString(size))

	payout, err := r.ClosePosition(ctx, trader, market, size, big.NewInt(0), time.Now().Add(30*time.Second))
	if err != nil {
		log.Fatalf("close failed: %v", err)
	}
	log.Infof("closed: payout=%v USD", fixedpoint.ToDecimalString(payout))
}

func mustSim(id string, price string, feeBps int64) *sim.Gateway {
	g, err := sim.New(types.VenueId(id), &config.VenueConfig{
		Gateway:    types.GatewaySim,
		FeeRateBps: feeBps,
		BasePrices: map[string]string{string(market): price},
	})
	if err != nil {
		log.Fatal(err)
	}
	return g
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
