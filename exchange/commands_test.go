package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trader-go/api"
)

func TestLimitOrderEndToEnd(t *testing.T) {
	ex, driver := newTestExchange(t)

	// bid=3000，买单偏移 100 → 2900
	args := []Arg{
		{Name: "side", Value: "buy", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "1", Index: 2},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "limit", args, "test-session")
	require.NoError(t, err)
	result, ok := raw.(*OrderResult)
	require.True(t, ok)

	require.NotNil(t, result.Order)
	assert.Equal(t, api.Buy, result.Side)
	assert.InDelta(t, 2900.0, result.Price, 1e-9)
	assert.InDelta(t, 1.0, result.Amount, 1e-9)
	assert.Equal(t, "", result.Units)

	require.Len(t, driver.placed, 1)
	assert.InDelta(t, 2900.0, driver.placed[0].Price, 1e-9)
	assert.InDelta(t, 1.0, driver.placed[0].Amount, 1e-9)

	// 下单进了会话
	assert.Len(t, ex.FindInSession("test-session", ""), 1)
}

func TestLimitOrderZeroAmount(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "side", Value: "buy", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "0", Index: 2},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "limit", args, "s")
	require.NoError(t, err)
	result := raw.(*OrderResult)
	assert.Nil(t, result.Order, "zero size places nothing")
	assert.Empty(t, driver.placed)
}

func TestMarketOrder(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "side", Value: "sell", Index: 0},
		{Name: "amount", Value: "2", Index: 1},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "market", args, "s")
	require.NoError(t, err)
	result := raw.(*OrderResult)
	require.NotNil(t, result.Order)
	assert.Equal(t, api.Sell, result.Side)
	assert.InDelta(t, 2.0, result.Amount, 1e-9)
	require.Len(t, driver.placed, 1)
	assert.Equal(t, "market", driver.placed[0].Type)
}

func TestStopOrderPlacement(t *testing.T) {
	ex, driver := newTestExchange(t)

	// 买入止损挂在市价上方：ask=3050 + 100 = 3150
	args := []Arg{
		{Name: "side", Value: "buy", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "1", Index: 2},
	}
	_, err := ex.ExecuteCommand("BTCUSD", "stopMarket", args, "s")
	require.NoError(t, err)

	require.Len(t, driver.stopCalls, 1)
	call := driver.stopCalls[0]
	assert.Equal(t, "BTCUSD", call.symbol)
	assert.InDelta(t, 1.0, call.amount, 1e-9)
	assert.InDelta(t, 3150.0, call.price, 1e-9)
	assert.Equal(t, api.Buy, call.side)
	assert.Equal(t, api.TriggerLast, call.trigger, "unspecified trigger defaults to last")
}

func TestStopOrderTriggerSelection(t *testing.T) {
	ex, driver := newTestExchange(t)

	place := func(trigger string) {
		args := []Arg{
			{Name: "side", Value: "buy", Index: 0},
			{Name: "offset", Value: "100", Index: 1},
			{Name: "amount", Value: "1", Index: 2},
			{Name: "trigger", Value: trigger, Index: 3},
		}
		_, err := ex.ExecuteCommand("BTCUSD", "stopMarket", args, "s")
		require.NoError(t, err)
	}

	place("index")
	place("mark")
	place("fish ")

	require.Len(t, driver.stopCalls, 3)
	assert.Equal(t, api.TriggerIndex, driver.stopCalls[0].trigger)
	assert.Equal(t, api.TriggerMark, driver.stopCalls[1].trigger)
	assert.Equal(t, api.TriggerLast, driver.stopCalls[2].trigger, "unknown triggers fall back to last")
}

func TestStopOrderZeroSizeRejected(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "side", Value: "buy", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "0", Index: 2},
	}
	result, err := ex.ExecuteCommand("BTCUSD", "stopMarket", args, "s")
	assert.NoError(t, err, "validation failures are contained")
	assert.Nil(t, result)
	assert.Empty(t, driver.stopCalls)
}

func TestScaledOrderLadder(t *testing.T) {
	ex, driver := newTestExchange(t)

	args := []Arg{
		{Name: "from", Value: "@3000", Index: 0},
		{Name: "to", Value: "@2900", Index: 1},
		{Name: "orderCount", Value: "10", Index: 2},
		{Name: "amount", Value: "5", Index: 3},
		{Name: "side", Value: "buy", Index: 4},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "scaled", args, "s")
	require.NoError(t, err)
	results := raw.([]*OrderResult)
	require.Len(t, results, 10)

	sum := 0.0
	for _, r := range results {
		require.NotNil(t, r.Order)
		sum += r.Amount
		assert.GreaterOrEqual(t, r.Price, 2900.0)
		assert.LessOrEqual(t, r.Price, 3000.0)
	}
	assert.InDelta(t, 5.0, sum, 1e-6, "amounts must add up to the resolved total")
	assert.Len(t, driver.placed, 10)
}

func TestScaledOrderZeroCount(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "from", Value: "@3000", Index: 0},
		{Name: "to", Value: "@2900", Index: 1},
		{Name: "orderCount", Value: "0", Index: 2},
		{Name: "amount", Value: "5", Index: 3},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "scaled", args, "s")
	require.NoError(t, err)
	assert.Empty(t, raw.([]*OrderResult))
	assert.Empty(t, driver.placed)
}

func TestScaledOrderZeroAmount(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "from", Value: "@3000", Index: 0},
		{Name: "to", Value: "@2900", Index: 1},
		{Name: "orderCount", Value: "10", Index: 2},
		{Name: "amount", Value: "0", Index: 3},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "scaled", args, "s")
	require.NoError(t, err)
	assert.Empty(t, raw.([]*OrderResult))
	assert.Empty(t, driver.placed)
}

func TestScaledOrderRungFailureTolerated(t *testing.T) {
	ex, driver := newTestExchange(t)
	driver.failLimitOn[3] = true

	args := []Arg{
		{Name: "from", Value: "@3000", Index: 0},
		{Name: "to", Value: "@2900", Index: 1},
		{Name: "orderCount", Value: "5", Index: 2},
		{Name: "amount", Value: "5", Index: 3},
	}
	raw, err := ex.ExecuteCommand("BTCUSD", "scaled", args, "s")
	require.NoError(t, err)
	results := raw.([]*OrderResult)
	require.Len(t, results, 5, "every rung gets a result record")

	nullOrders := 0
	for _, r := range results {
		if r.Order == nil {
			nullOrders++
		}
	}
	assert.Equal(t, 1, nullOrders, "the failed rung is recorded as a null order")
	assert.Len(t, driver.placed, 4, "remaining rungs are still attempted")
}

func TestCancelCommandSession(t *testing.T) {
	ex, driver := newTestExchange(t)

	// 先下两张单
	for _, offset := range []string{"@2900", "@2890"} {
		args := []Arg{
			{Name: "side", Value: "buy", Index: 0},
			{Name: "offset", Value: offset, Index: 1},
			{Name: "amount", Value: "1", Index: 2},
		}
		_, err := ex.ExecuteCommand("BTCUSD", "limit", args, "test-session")
		require.NoError(t, err)
	}
	require.Len(t, ex.FindInSession("test-session", ""), 2)

	_, err := ex.ExecuteCommand("BTCUSD", "cancel", []Arg{{Name: "which", Value: "session", Index: 0}}, "test-session")
	require.NoError(t, err)

	assert.Len(t, driver.cancelled, 2)
	assert.Empty(t, ex.FindInSession("test-session", ""))
}

func TestTrailingStopRatchets(t *testing.T) {
	ex, driver := newTestExchange(t)

	// 卖出止损：mid=3025，偏移 100 → 止损价 2900（bid-100），跟踪距离 125
	args := []Arg{
		{Name: "side", Value: "sell", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "1", Index: 2},
	}
	task := newTrailingStopTask(&Context{Ex: ex, Symbol: "BTCUSD", Session: "s"}).(*trailingStopTask)
	require.NoError(t, task.Setup(args))

	state, err := task.Execute()
	require.NoError(t, err)
	assert.Equal(t, KeepGoing, state)
	require.Len(t, driver.stopCalls, 1)
	initial := task.stopPrice

	// 价格没动，不拧
	state, fresh, err := task.BackgroundExecute()
	require.NoError(t, err)
	assert.Equal(t, KeepGoing, state)
	assert.False(t, fresh)

	// 价格涨了，止损价跟着往上走
	driver.tick = api.Ticker{Bid: 3200, Ask: 3250, LastPrice: 3220}
	state, fresh, err = task.BackgroundExecute()
	require.NoError(t, err)
	assert.Equal(t, KeepGoing, state)
	assert.True(t, fresh)
	assert.Greater(t, task.stopPrice, initial)

	// 价格回落，止损价不回头
	driver.tick = api.Ticker{Bid: 3000, Ask: 3050, LastPrice: 3010}
	moved := task.stopPrice
	_, fresh, err = task.BackgroundExecute()
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, moved, task.stopPrice)

	// 触发后结束
	driver.markFilled(task.order.ID)
	state, _, err = task.BackgroundExecute()
	require.NoError(t, err)
	assert.Equal(t, Finished, state)
}

func TestTrailingStopOnCancelled(t *testing.T) {
	ex, driver := newTestExchange(t)
	args := []Arg{
		{Name: "side", Value: "sell", Index: 0},
		{Name: "offset", Value: "100", Index: 1},
		{Name: "amount", Value: "1", Index: 2},
	}
	task := newTrailingStopTask(&Context{Ex: ex, Symbol: "BTCUSD", Session: "s"}).(*trailingStopTask)
	require.NoError(t, task.Setup(args))
	_, err := task.Execute()
	require.NoError(t, err)

	require.NoError(t, task.OnCancelled())
	assert.Len(t, driver.cancelled, 1)
}

func TestConditions(t *testing.T) {
	ex, _ := newTestExchange(t)
	ctx := &Context{Ex: ex, Symbol: "BTCUSD", Session: "s"}

	conditionNow = func() time.Time { return time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC) }
	defer func() { conditionNow = func() time.Time { return time.Now().UTC() } }()

	cases := []struct {
		cond  string
		value string
		want  bool
	}{
		{"always", "", true},
		{"true", "", true},
		{"never", "", false},
		{"false", "", false},
		{"isAfterDate", "2020-06-14", true},
		{"isAfterDate", "2020-06-15", false},
		{"isOnOrAfterDate", "2020-06-15", true},
		{"isBeforeDate", "2020-06-16", true},
		{"isSameDate", "2020-06-15", true},
		{"isAfterTime", "11:00", true},
		{"isBeforeTime", "11:00", false},
		// mid = 3025
		{"priceLessThan", "3100", true},
		{"priceGreaterThan", "3100", false},
		{"priceGreaterThanEq", "3025", true},
		// 持有 10 btc
		{"positionLong", "", true},
		{"positionShort", "", false},
		{"positionGreaterThan", "5", true},
		{"positionLessThan", "5", false},
		{"positionNone", "", false},
		// 不认识的条件一律 false
		{"fish", "", false},
	}
	for _, tc := range cases {
		got, err := evalCondition(ctx, tc.cond, tc.value)
		require.NoError(t, err, tc.cond)
		assert.Equal(t, tc.want, got, "%s %s", tc.cond, tc.value)
	}
}

func TestConditionLoggingMatchesKind(t *testing.T) {
	ex, _, logs := newObservedExchange(t)
	ctx := &Context{Ex: ex, Symbol: "BTCUSD", Session: "s"}

	// 价格和仓位条件不该打日期日志
	_, err := evalCondition(ctx, "priceLessThan", "3100")
	require.NoError(t, err)
	_, err = evalCondition(ctx, "positionGreaterThan", "5")
	require.NoError(t, err)
	assert.Empty(t, logs.FilterMessage("time and date").All())

	_, err = evalCondition(ctx, "isAfterDate", "2020-06-14")
	require.NoError(t, err)
	assert.Len(t, logs.FilterMessage("time and date").All(), 1)
}

func TestStopCommandAbortsWhenConditionMet(t *testing.T) {
	ex, _ := newTestExchange(t)
	_, err := ex.ExecuteCommand("BTCUSD", "stop", []Arg{{Name: "if", Value: "always", Index: 0}}, "s")
	assert.ErrorIs(t, err, ErrAbortSequence)

	_, err = ex.ExecuteCommand("BTCUSD", "stop", []Arg{{Name: "if", Value: "never", Index: 0}}, "s")
	assert.NoError(t, err)
}
