package journal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"perproute/pkg/events"
)

// recordView decodes the envelope without the events.Event interface, the way
// an external indexer would.
type recordView struct {
	Kind    string                 `msgpack:"kind"`
	At      time.Time              `msgpack:"at"`
	Payload map[string]interface{} `msgpack:"payload"`
}

func readRecords(t *testing.T, path string) []recordView {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []recordView
	for len(raw) > 0 {
		require.GreaterOrEqual(t, len(raw), 4, "truncated length prefix")
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		require.GreaterOrEqual(t, len(raw), int(n), "truncated record body")

		var rec recordView
		require.NoError(t, msgpack.Unmarshal(raw[:n], &rec))
		out = append(out, rec)
		raw = raw[n:]
	}
	return out
}

func TestEmitAppendsDecodableRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j, err := Open(path)
	require.NoError(t, err)

	j.Emit(events.PositionOpened{
		Id:             "req-1",
		Market:         "BTC_USD",
		Venue:          "alpha",
		IsLong:         true,
		Margin:         "1000",
		Leverage:       10,
		ExecutedSize:   "5",
		ExecutionPrice: "2000",
		At:             time.Now(),
	})
	j.Emit(events.VenueStatusChanged{Venue: "alpha", Active: false})
	require.NoError(t, j.Close())

	recs := readRecords(t, path)
	require.Len(t, recs, 2)

	assert.Equal(t, "position_opened", recs[0].Kind)
	assert.Equal(t, "alpha", recs[0].Payload["venue"])
	assert.Equal(t, "1000", recs[0].Payload["margin"])
	assert.Equal(t, "5", recs[0].Payload["executedSize"])
	assert.WithinDuration(t, time.Now(), recs[0].At, time.Minute)

	assert.Equal(t, "venue_status_changed", recs[1].Kind)
	assert.Equal(t, false, recs[1].Payload["active"])
}

func TestOpenAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.journal")

	j, err := Open(path)
	require.NoError(t, err)
	j.Emit(events.VenueRemoved{Venue: "alpha"})
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	j.Emit(events.VenueRemoved{Venue: "beta"})
	require.NoError(t, j.Close())

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "alpha", recs[0].Payload["venue"])
	assert.Equal(t, "beta", recs[1].Payload["venue"])
}
