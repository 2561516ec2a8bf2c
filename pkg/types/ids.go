package types

// VenueId identifies a registered trading venue (opaque handle).
type VenueId string

// MarketId identifies a tradable market, e.g. "BTC_USD".
type MarketId string

type GatewayKind string

const (
	GatewaySim = GatewayKind("sim") // in-process simulated venue
	GatewayBnf = GatewayKind("bnf")
)

type FeedKind string

const (
	FeedStatic = FeedKind("static")
	FeedBnf    = FeedKind("bnf")
	FeedWs     = FeedKind("ws")
)
