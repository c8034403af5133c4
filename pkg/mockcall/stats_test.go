package mockcall

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsObserverSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStatsObserver()
	s.Observe(CallInfo{Site: "users", Code: 200, Delay: 10 * time.Millisecond})
	s.Observe(CallInfo{Site: "users", Code: 503, Delay: 30 * time.Millisecond})
	s.Observe(CallInfo{Site: "orders", Err: errors.New("boom")})
	s.Observe(CallInfo{Site: "orders", Err: ErrCanceled, Canceled: true})

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	orders, users := snap[0], snap[1]
	assert.Equal(t, "orders", orders.Site)
	assert.Equal(t, int64(2), orders.Calls)
	assert.Equal(t, int64(1), orders.Errors)
	assert.Equal(t, int64(1), orders.Canceled)
	assert.Empty(t, orders.Codes)

	assert.Equal(t, "users", users.Site)
	assert.Equal(t, int64(2), users.Calls)
	assert.Equal(t, int64(1), users.Errors)
	assert.Equal(t, map[int]int64{200: 1, 503: 1}, users.Codes)
	assert.InDelta(t, 20.0, users.MeanDelay, 0.001)
}

func TestStatsObserverSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStatsObserver()
	s.Observe(CallInfo{Site: "users", Code: 200})
	snap := s.Snapshot()
	snap[0].Codes[200] = 99

	assert.Equal(t, int64(1), s.Snapshot()[0].Codes[200])
}
