package core

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"perproute/config"
	"perproute/pkg/events"
	"perproute/pkg/journal"
	"perproute/pkg/oracle"
	"perproute/pkg/oracle/feed/wsfeed"
	"perproute/pkg/router"
	"perproute/pkg/types"
	"perproute/pkg/venue"
)

// Bootstrap wires registries, gateways and feeds from the config and returns
// the ready router. Websocket feeds are connected under ctx.
func Bootstrap(ctx context.Context, cfg config.Config) (*router.Router, *venue.Registry, *oracle.Registry, error) {
	log.Info("🦾 Bootstrapping...")

	if !common.IsHexAddress(cfg.Owner) {
		return nil, nil, nil, fmt.Errorf("owner '%v' is not a valid address", cfg.Owner)
	}
	owner := common.HexToAddress(cfg.Owner)

	// event sinks
	emitters := events.Multi{events.LogEmitter{}}
	if cfg.Journal != nil && cfg.Journal.Path != "" {
		jrnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fail to open journal: %w", err)
		}
		Events = jrnl
		emitters = append(emitters, jrnl)
		log.Infof("journal '%v' opened", cfg.Journal.Path)
	}

	venueReg := venue.NewRegistry(emitters)
	oracleReg := oracle.NewRegistry(emitters)
	if cfg.MaxPriceDeviationBps > 0 {
		oracleReg.SetDeviationTolerance(cfg.MaxPriceDeviationBps)
	}

	// register venues and their gateways
	for venueId, venueConfig := range cfg.VenueConfigs {
		if err := RegisterGateway(venueId, venueConfig); err != nil {
			return nil, nil, nil, fmt.Errorf("fail to build gateway for venue %v: %w", venueId, err)
		}
		if err := venueReg.Register(
			types.VenueId(venueId), venueConfig.Name, venueConfig.MaxLeverage, venueConfig.FeeRateBps,
		); err != nil {
			return nil, nil, nil, fmt.Errorf("fail to register venue %v: %w", venueId, err)
		}
	}

	// bind oracles
	for market, oracleConfig := range cfg.OracleConfigs {
		feed, err := RegisterFeed(market, oracleConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fail to build feed for market %v: %w", market, err)
		}
		if wf, isWs := feed.(*wsfeed.Feed); isWs {
			if err := wf.Connect(ctx); err != nil {
				return nil, nil, nil, fmt.Errorf("fail to connect ws feed for market %v: %w", market, err)
			}
		}
		if err := oracleReg.Bind(types.MarketId(market), string(oracleConfig.Feed), feed); err != nil {
			return nil, nil, nil, fmt.Errorf("fail to bind oracle for market %v: %w", market, err)
		}
	}

	r := router.New(owner, venueReg, oracleReg, Gateways, emitters)
	log.Infof("router ready: %v venues, %v markets", len(cfg.VenueConfigs), len(cfg.OracleConfigs))
	return r, venueReg, oracleReg, nil
}
