package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseReturnsNotImplemented(t *testing.T) {
	var d Driver = Base{}

	require.NoError(t, d.Init())
	require.NoError(t, d.AddSymbol("BTCUSD"))
	require.NoError(t, d.Terminate())

	_, err := d.Ticker("BTCUSD")
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.WalletBalances()
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.LimitOrder("BTCUSD", 1, 100, Buy, true, false)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.MarketOrder("BTCUSD", 1, Sell, false)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.StopOrder("BTCUSD", 1, 100, Sell, TriggerLast)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.ActiveOrders("BTCUSD", SideAll)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, d.CancelOrders(nil), ErrNotImplemented)
	_, err = d.Order(Order{ID: "1"})
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = d.UpdateOrderPrice(Order{ID: "1"}, 101)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestVenueErrorClassification(t *testing.T) {
	for _, status := range []int{429, 502, 503} {
		assert.True(t, (&VenueError{Venue: "deribit", Status: status}).Transient(), status)
	}
	for _, status := range []int{400, 401, 404, 500} {
		assert.False(t, (&VenueError{Venue: "deribit", Status: status}).Transient(), status)
	}
	assert.True(t, IsTransient(&VenueError{Status: 429}))
	assert.False(t, IsTransient(ErrNotImplemented))
	assert.False(t, IsTransient(nil))
}

func TestPacerKeepsMinInterval(t *testing.T) {
	clock := time.Unix(0, 0)
	var slept []time.Duration
	p := NewPacer(250 * time.Millisecond)
	p.now = func() time.Time { return clock }
	p.sleep = func(d time.Duration) {
		slept = append(slept, d)
		clock = clock.Add(d)
	}

	dispatch := make([]time.Time, 0, 5)
	for i := 0; i < 5; i++ {
		p.Wait()
		dispatch = append(dispatch, clock)
	}

	require.Len(t, dispatch, 5)
	for i := 1; i < len(dispatch); i++ {
		gap := dispatch[i].Sub(dispatch[i-1])
		assert.GreaterOrEqual(t, gap, 250*time.Millisecond, "calls %d and %d too close", i-1, i)
	}
	// 首次调用几乎不等待
	assert.Equal(t, time.Millisecond, slept[0])
}

func TestPacerIdleCallerDoesNotWait(t *testing.T) {
	clock := time.Unix(0, 0)
	p := NewPacer(250 * time.Millisecond)
	p.now = func() time.Time { return clock }
	var last time.Duration
	p.sleep = func(d time.Duration) {
		last = d
		clock = clock.Add(d)
	}

	p.Wait()
	// 长时间空闲后再调用，不应被罚等整个间隔
	clock = clock.Add(10 * time.Second)
	p.Wait()
	assert.Equal(t, time.Millisecond, last)
}

func TestOrderHelpers(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.True(t, Buy.Valid())
	assert.False(t, SideAll.Valid())
	assert.InDelta(t, 3025.0, Ticker{Bid: 3000, Ask: 3050}.Mid(), 1e-9)
}
