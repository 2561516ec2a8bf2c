// Package wsfeed backs a market's oracle with a websocket price stream. The
// feed caches the most recent observation; staleness is judged by the oracle
// registry at use time, so a dead stream simply ages out.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"perproute/pkg/fixedpoint"
)

const HS_TIMEOUT_S = 5     // handshake timeout in seconds
const RECONNECT_WAIT_S = 3 // pause before redialing a dropped stream

var ErrNoObservation = errors.New("no observation received yet")

// frame is the wire format expected from the upstream price publisher.
type frame struct {
	Price string `json:"price"`
	Ts    int64  `json:"ts"` // observation time, unix ms
}

type Feed struct {
	wsUrl  string
	dialer websocket.Dialer
	logger *log.Entry

	mu         sync.RWMutex
	price      *big.Int
	observedAt time.Time

	stopC    chan struct{}
	stopOnce sync.Once
}

func New(wsUrl string) (*Feed, error) {
	if _, err := url.Parse(wsUrl); err != nil {
		return nil, err
	}
	return &Feed{
		wsUrl: wsUrl,
		dialer: websocket.Dialer{
			HandshakeTimeout:  time.Duration(HS_TIMEOUT_S) * time.Second,
			EnableCompression: true,
		},
		logger: log.WithFields(log.Fields{"feed": "ws", "url": wsUrl}),
		stopC:  make(chan struct{}),
	}, nil
}

// Connect dials the stream and keeps it alive in the background until Close
// or ctx cancellation. The first dial failure is returned; later drops are
// retried with a fixed wait.
func (f *Feed) Connect(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsUrl, nil)
	if err != nil {
		return err
	}
	go f.readLoop(ctx, conn)
	return nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-f.stopC:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(RECONNECT_WAIT_S) * time.Second):
			}
			next, _, dialErr := f.dialer.DialContext(ctx, f.wsUrl, nil)
			if dialErr != nil {
				f.logger.Errorf("fail to reconnect: %v", dialErr)
				continue
			}
			conn = next
			continue
		}

		var fr frame
		if err := json.Unmarshal(raw, &fr); err != nil {
			f.logger.Errorf("fail to parse price frame: %v", err)
			continue
		}
		price, err := fixedpoint.FromDecimalString(fr.Price)
		if err != nil {
			f.logger.Errorf("fail to parse price '%v': %v", fr.Price, err)
			continue
		}

		f.mu.Lock()
		f.price = price
		f.observedAt = time.UnixMilli(fr.Ts)
		f.mu.Unlock()
	}
}

func (f *Feed) Close() {
	f.stopOnce.Do(func() { close(f.stopC) })
}

func (f *Feed) GetLatestPrice(ctx context.Context) (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoObservation
	}
	return new(big.Int).Set(f.price), f.observedAt, nil
}
