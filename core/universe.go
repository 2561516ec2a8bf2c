package core

import (
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perproute/config"
	"perproute/pkg/fixedpoint"
	"perproute/pkg/gateway"
	"perproute/pkg/journal"
	"perproute/pkg/oracle"
	"perproute/pkg/oracle/feed/bnffeed"
	"perproute/pkg/oracle/feed/staticfeed"
	"perproute/pkg/oracle/feed/wsfeed"
	"perproute/pkg/types"
)

var Gateways map[types.VenueId]gateway.Gateway
var Feeds map[types.MarketId]oracle.PriceFeed
var Events *journal.Journal

func init() {
	Gateways = make(map[types.VenueId]gateway.Gateway)
	Feeds = make(map[types.MarketId]oracle.PriceFeed)
}

func RegisterGateway(venueId string, venueConfig *config.VenueConfig) error {
	gw, err := gateway.NewGateway(types.VenueId(venueId), venueConfig)
	if err != nil {
		return err
	}
	Gateways[types.VenueId(venueId)] = gateway.WithBreaker(gw)
	return nil
}

func RegisterFeed(market string, oracleConfig *config.OracleConfig) (oracle.PriceFeed, error) {
	var feed oracle.PriceFeed
	switch oracleConfig.Feed {
	case types.FeedStatic:
		f := staticfeed.New()
		price, err := fixedpoint.FromDecimalString(oracleConfig.Price)
		if err != nil {
			return nil, fmt.Errorf("fail to parse static price for '%v': %w", market, err)
		}
		f.Set(price, time.Now())
		feed = f
	case types.FeedBnf:
		// quote-only client, no credentials needed for the premium index
		feed = bnffeed.New(futures.NewClient("", ""), oracleConfig.Symbol)
	case types.FeedWs:
		f, err := wsfeed.New(oracleConfig.WsUrl)
		if err != nil {
			return nil, err
		}
		feed = f
	default:
		return nil, fmt.Errorf("unsupported feed kind '%v'", oracleConfig.Feed)
	}
	Feeds[types.MarketId(market)] = feed
	return feed, nil
}
