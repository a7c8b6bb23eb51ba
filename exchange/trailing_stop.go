package exchange

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/metrics"
)

// trailingStopTask 移动止损。先挂一张止损市价单，之后每个轮询步看一眼
// 盘口：价格朝有利方向走出超过跟踪距离时，把止损价往前拧一格。
// 止损单不再是 open（触发或被外部撤掉）时结束。
type trailingStopTask struct {
	taskBase

	offset   string
	amount   string
	position string
	trigger  string

	trail     float64
	stopPrice float64
	order     *api.Order
}

func newTrailingStopTask(ctx *Context) Task {
	return &trailingStopTask{taskBase: taskBase{ctx: ctx, id: newTaskID("trail")}}
}

// Setup trailingStopLoss(side, offset, amount, tag, position, trigger)
// offset 同时是初始距离和跟踪距离。
func (t *trailingStopTask) Setup(args []Arg) error {
	p := AssignParams([]Param{
		{Name: "side", Default: "sell"},
		{Name: "offset", Default: "0"},
		{Name: "amount", Default: "0"},
		{Name: "tag", Default: ""},
		{Name: "position", Default: ""},
		{Name: "trigger", Default: api.TriggerLast},
	}, args)

	if !api.Side(p["side"]).Valid() {
		return &ValidationError{Reason: "side must be buy or sell"}
	}
	if ParseQuantity(p["offset"]).Value <= 0 {
		return &ValidationError{Reason: "trailing stop needs a positive offset"}
	}

	t.side = p["side"]
	t.offset = p["offset"]
	t.amount = p["amount"]
	t.tag = p["tag"]
	t.position = p["position"]
	t.trigger = normalizeTrigger(p["trigger"])
	return nil
}

func (t *trailingStopTask) Execute() (State, error) {
	ex := t.ctx.Ex
	ex.log.Progress("trailing stop", zap.String("exchange", ex.Name),
		zap.String("side", t.side), zap.String("offset", t.offset))

	side, amount, err := ex.PositionToAmount(t.ctx.Symbol, t.position, api.Side(t.side), t.amount)
	if err != nil {
		return Finished, err
	}
	if amount.Value == 0 {
		return Finished, &ValidationError{Reason: "trailing stop size is zero"}
	}
	t.side = string(side)

	stopPrice, err := ex.OffsetToAbsolutePrice(t.ctx.Symbol, side.Opposite(), t.offset)
	if err != nil {
		return Finished, err
	}
	if stopPrice <= 0 {
		return Finished, &ValidationError{Reason: fmt.Sprintf("stop price below zero: %v", stopPrice)}
	}

	// 跟踪距离：止损价与当前盘口的差
	tick, err := ex.Ticker(t.ctx.Symbol)
	if err != nil {
		return Finished, err
	}
	t.trail = math.Abs(stopPrice - tick.Mid())

	details, err := ex.OrderSizeFromAmount(t.ctx.Symbol, side, stopPrice, fmt.Sprintf("%v%s", amount.Value, amount.Units))
	if err != nil {
		return Finished, err
	}
	if details.OrderSize == 0 {
		return Finished, &ValidationError{Reason: "no funds available or order size is 0"}
	}

	order, err := ex.API().StopOrder(t.ctx.Symbol, details.OrderSize, stopPrice, side, t.trigger)
	if err != nil {
		return Finished, err
	}
	t.order = &order
	t.stopPrice = stopPrice
	ex.AddToSession(t.ctx.Session, t.tag, order)
	ex.log.Results("trailing stop placed",
		zap.String("side", string(side)),
		zap.Float64("amount", details.OrderSize),
		zap.Float64("stop_price", stopPrice))

	return KeepGoing, nil
}

// BackgroundExecute 轮询一步：订单没了就结束；价格走远了就把止损价
// 拧近。拧动算实际进展，调度器会用最小间隔跟进。
func (t *trailingStopTask) BackgroundExecute() (State, bool, error) {
	ex := t.ctx.Ex

	current, err := ex.API().Order(*t.order)
	if err != nil {
		return KeepGoing, false, nil
	}
	if !current.Open {
		if current.Filled {
			ex.log.Results("trailing stop triggered", zap.Float64("stop_price", t.stopPrice))
			ex.alerts.OrderFilled(ex.Name, t.ctx.Symbol, t.side, current.Amount, t.stopPrice)
			metrics.Fills.WithLabelValues(ex.Name, t.side).Inc()
		} else {
			ex.log.Results("trailing stop order gone, stopping")
		}
		return Finished, true, nil
	}

	tick, err := ex.Ticker(t.ctx.Symbol)
	if err != nil {
		return KeepGoing, false, nil
	}

	// 卖出止损跟着价格往上走，买入止损跟着价格往下走
	var want float64
	if api.Side(t.side) == api.Sell {
		want = ex.RoundPrice(t.ctx.Symbol, tick.Mid()-t.trail)
		if want <= t.stopPrice {
			return KeepGoing, false, nil
		}
	} else {
		want = ex.RoundPrice(t.ctx.Symbol, tick.Mid()+t.trail)
		if want >= t.stopPrice {
			return KeepGoing, false, nil
		}
	}

	updated, err := ex.API().UpdateOrderPrice(*t.order, want)
	if err != nil {
		ex.log.Error("trailing stop reprice failed", zap.Error(err))
		return KeepGoing, false, nil
	}
	ex.UpdateInSession(t.ctx.Session, t.tag, *t.order, updated)
	ex.log.Results("trailing stop moved",
		zap.Float64("from", t.stopPrice), zap.Float64("to", want))
	t.order = &updated
	t.stopPrice = want
	return KeepGoing, true, nil
}

// OnCancelled 撤掉自己的止损单。
func (t *trailingStopTask) OnCancelled() error {
	if t.order == nil {
		return nil
	}
	t.ctx.Ex.log.Progress("trailing stop cancelled, removing order")
	return t.ctx.Ex.API().CancelOrders([]api.Order{*t.order})
}

func (t *trailingStopTask) Results() interface{} {
	if t.order == nil {
		return &OrderResult{Side: api.Side(t.side)}
	}
	return &OrderResult{Order: t.order, Side: api.Side(t.side), Price: t.stopPrice, Amount: t.order.Amount}
}
