package venue

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"perproute/pkg/events"
	"perproute/pkg/types"
)

// MaxLeverageBound is the hard cap on any venue's advertised leverage.
const MaxLeverageBound = 100

var (
	ErrInvalidVenue      = errors.New("invalid venue handle")
	ErrAlreadyRegistered = errors.New("venue already registered")
	ErrInvalidLeverage   = errors.New("invalid max leverage")
	ErrNotRegistered     = errors.New("venue not registered")
	ErrInvalidFeeRate    = errors.New("invalid fee rate")
)

// Info is a venue's registry record. The zero value stands in for a venue
// that was never registered, which selection treats the same as an inactive
// one.
type Info struct {
	Active      bool
	MaxLeverage int
	FeeRateBps  int64
	Name        string
}

// Registry is the shared keyed store of venue metadata. Records are never
// physically deleted; deactivation is the deletion semantic so history stays
// resolvable. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[types.VenueId]*Info
	order   []types.VenueId // insertion order, drives selection tie-breaks
	emitter events.Emitter
}

func NewRegistry(emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Registry{
		records: make(map[types.VenueId]*Info),
		emitter: emitter,
	}
}

// Register stores a new active venue record. Re-registering a handle is only
// allowed while it is inactive; the stored metadata is replaced and the venue
// reactivated in place, keeping its original position in the ordering.
func (r *Registry) Register(id types.VenueId, name string, maxLeverage int, feeRateBps int64) error {
	if id == "" {
		return ErrInvalidVenue
	}
	if maxLeverage <= 0 || maxLeverage > MaxLeverageBound {
		return ErrInvalidLeverage
	}
	if feeRateBps < 0 {
		return ErrInvalidFeeRate
	}

	r.mu.Lock()
	existing, known := r.records[id]
	if known && existing.Active {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	r.records[id] = &Info{Active: true, MaxLeverage: maxLeverage, FeeRateBps: feeRateBps, Name: name}
	if !known {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	log.WithFields(log.Fields{"venue": id, "maxLeverage": maxLeverage, "feeRateBps": feeRateBps}).
		Infof("venue '%v' registered", name)
	r.emitter.Emit(events.VenueRegistered{Venue: id, Name: name, MaxLeverage: maxLeverage, FeeRateBps: feeRateBps})
	return nil
}

// Deactivate removes a venue from selection. Fails if the venue is not
// currently active.
func (r *Registry) Deactivate(id types.VenueId) error {
	r.mu.Lock()
	rec, known := r.records[id]
	if !known || !rec.Active {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	rec.Active = false
	r.mu.Unlock()

	log.Infof("venue '%v' deactivated", id)
	r.emitter.Emit(events.VenueRemoved{Venue: id})
	return nil
}

// SetStatus sets the active flag directly. This is the only path that can
// reactivate a deactivated venue. A handle with no record at all (as opposed
// to an inactive one) is rejected.
func (r *Registry) SetStatus(id types.VenueId, active bool) error {
	r.mu.Lock()
	rec, known := r.records[id]
	if !known {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	rec.Active = active
	r.mu.Unlock()

	r.emitter.Emit(events.VenueStatusChanged{Venue: id, Active: active})
	return nil
}

// ListActive returns the currently active handles in stable insertion order.
func (r *Registry) ListActive() []types.VenueId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.VenueId, 0, len(r.order))
	for _, id := range r.order {
		if r.records[id].Active {
			out = append(out, id)
		}
	}
	return out
}

// GetInfo returns the record for a handle, or a zero-valued Info if the
// handle was never registered. It never fails.
func (r *Registry) GetInfo(id types.VenueId) Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, known := r.records[id]; known {
		return *rec
	}
	return Info{}
}
