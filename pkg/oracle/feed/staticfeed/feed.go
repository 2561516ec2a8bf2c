// Package staticfeed provides a manually-driven price feed, used by the sim
// runner and as a pin for markets quoted off-process.
package staticfeed

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

var ErrNoObservation = errors.New("no observation set")

type Feed struct {
	mu         sync.RWMutex
	price      *big.Int
	observedAt time.Time
}

func New() *Feed {
	return &Feed{}
}

// Set replaces the current observation.
func (f *Feed) Set(price *big.Int, observedAt time.Time) {
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.observedAt = observedAt
	f.mu.Unlock()
}

func (f *Feed) GetLatestPrice(ctx context.Context) (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoObservation
	}
	return new(big.Int).Set(f.price), f.observedAt, nil
}
