package router

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// sessionGuard serializes state-changing calls per logical session: one actor
// cannot have two such calls in flight at once. The release closure must run
// on every exit path, including error paths.
type sessionGuard struct {
	mu       sync.Mutex
	inFlight map[common.Address]struct{}
}

func newSessionGuard() *sessionGuard {
	return &sessionGuard{inFlight: make(map[common.Address]struct{})}
}

func (g *sessionGuard) acquire(actor common.Address) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inFlight[actor]; held {
		return nil, ErrReentrantCall
	}
	g.inFlight[actor] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, actor)
			g.mu.Unlock()
		})
	}, nil
}
