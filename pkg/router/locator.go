package router

import (
	"github.com/ethereum/go-ethereum/common"

	"perproute/pkg/types"
	"perproute/pkg/venue"
)

// PositionLocator resolves which venue holds an actor's position for
// close/increase/reduce calls.
type PositionLocator interface {
	Locate(market types.MarketId, actor common.Address) (types.VenueId, error)
}

// FirstActiveLocator always answers with the first active venue. The router
// does not track which venue actually holds a position; callers are assumed
// to route modifications while a single venue is active. A tracking locator
// can replace this without touching the rest of the router.
type FirstActiveLocator struct {
	Venues *venue.Registry
}

func (l FirstActiveLocator) Locate(market types.MarketId, actor common.Address) (types.VenueId, error) {
	active := l.Venues.ListActive()
	if len(active) == 0 {
		return "", ErrNoActiveVenues
	}
	return active[0], nil
}
