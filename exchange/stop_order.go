package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"algo-trader-go/api"
)

// stopOrderTask 止损市价单。买入止损挂在市价上方、卖出止损挂在市价
// 下方，所以报价偏移按相反方向解析。
type stopOrderTask struct {
	taskBase

	offset   string
	amount   string
	position string
	trigger  string

	result *OrderResult
}

func newStopOrderTask(ctx *Context) Task {
	return &stopOrderTask{taskBase: taskBase{ctx: ctx, id: newTaskID("stop")}}
}

// normalizeTrigger index 和 mark 原样保留，其它一律退回 last。
func normalizeTrigger(trigger string) string {
	switch strings.TrimSpace(strings.ToLower(trigger)) {
	case api.TriggerIndex:
		return api.TriggerIndex
	case api.TriggerMark:
		return api.TriggerMark
	default:
		return api.TriggerLast
	}
}

// Setup stopMarket(side, offset, amount, tag, position, trigger)
func (t *stopOrderTask) Setup(args []Arg) error {
	p := AssignParams([]Param{
		{Name: "side", Default: "buy"},
		{Name: "offset", Default: "0"},
		{Name: "amount", Default: "0"},
		{Name: "tag", Default: ""},
		{Name: "position", Default: ""},
		{Name: "trigger", Default: api.TriggerLast},
	}, args)

	if !api.Side(p["side"]).Valid() {
		return &ValidationError{Reason: "side must be buy or sell"}
	}

	t.side = p["side"]
	t.offset = p["offset"]
	t.amount = p["amount"]
	t.tag = p["tag"]
	t.position = p["position"]
	t.trigger = normalizeTrigger(p["trigger"])
	return nil
}

func (t *stopOrderTask) Execute() (State, error) {
	ex := t.ctx.Ex
	ex.log.Progress("stop market order", zap.String("exchange", ex.Name),
		zap.String("side", t.side), zap.String("trigger", t.trigger))

	side, amount, err := ex.PositionToAmount(t.ctx.Symbol, t.position, api.Side(t.side), t.amount)
	if err != nil {
		return Finished, err
	}
	if amount.Value == 0 {
		return Finished, &ValidationError{Reason: "stop order size is zero"}
	}

	// 止损价在市价的另一侧，用反方向解析偏移
	stopPrice, err := ex.OffsetToAbsolutePrice(t.ctx.Symbol, side.Opposite(), t.offset)
	if err != nil {
		return Finished, err
	}
	if stopPrice <= 0 {
		return Finished, &ValidationError{Reason: fmt.Sprintf("stop price below zero: %v", stopPrice)}
	}

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
	ex.AddToSession(t.ctx.Session, t.tag, order)
	ex.log.Results("stop order placed",
		zap.String("side", string(side)),
		zap.Float64("amount", details.OrderSize),
		zap.Float64("stop_price", stopPrice),
		zap.String("trigger", t.trigger))
	ex.alerts.OrderPlaced(ex.Name, t.ctx.Symbol, string(side), details.OrderSize, stopPrice)

	t.result = &OrderResult{Order: &order, Side: side, Price: stopPrice, Amount: details.OrderSize}
	return Finished, nil
}

func (t *stopOrderTask) BackgroundExecute() (State, bool, error) {
	return Finished, false, nil
}

func (t *stopOrderTask) OnCancelled() error { return nil }

func (t *stopOrderTask) Results() interface{} {
	if t.result == nil {
		return &OrderResult{Side: api.Side(t.side)}
	}
	return t.result
}
