package exchange

import (
	"go.uber.org/zap"

	"algo-trader-go/api"
)

// cancelOrdersCommand 撤单。which 选 all、buy、sell、tagged 或 session，
// 既给算法订单打取消标记，也撤掉会话里匹配的交易所订单。
// cancel(which, tag)
func cancelOrdersCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "which", Default: "session"},
		{Name: "tag", Default: ""},
	}, args)

	which := p["which"]
	switch which {
	case "all", "buy", "sell", "tagged", "session":
	default:
		return nil, &ValidationError{Reason: "which must be all, buy, sell, tagged or session"}
	}

	ex.log.Progress("cancel orders", zap.String("which", which), zap.String("tag", p["tag"]))

	// 先让后台算法停下来
	ex.CancelAlgoOrders(which, p["tag"], ctx.Session)

	// 再撤实际挂着的单
	var toCancel []api.Order
	switch which {
	case "session":
		toCancel = ex.FindInSession(ctx.Session, "")
	case "tagged":
		toCancel = ex.FindInSession(ctx.Session, p["tag"])
	default:
		side := api.SideAll
		if which == "buy" || which == "sell" {
			side = api.Side(which)
		}
		open, err := ex.API().ActiveOrders(ctx.Symbol, side)
		if err != nil {
			return nil, err
		}
		toCancel = open
	}

	if len(toCancel) == 0 {
		ex.log.Results("nothing to cancel")
		return nil, nil
	}
	if err := ex.API().CancelOrders(toCancel); err != nil {
		return nil, err
	}
	for _, o := range toCancel {
		ex.RemoveFromSession(ctx.Session, o)
	}
	ex.log.Results("orders cancelled", zap.Int("count", len(toCancel)))
	ex.alerts.OrderCancelled(ex.Name, ctx.Symbol, len(toCancel))
	return len(toCancel), nil
}

// waitCommand 等待一段时间。wait(duration)，支持 12、12s、12m、12h、12d。
func waitCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "duration", Default: "10"},
	}, args)

	seconds := TimeToSeconds(p["duration"], 10)
	ex.log.Progress("waiting", zap.Int("seconds", seconds))
	ex.WaitSeconds(seconds)
	return nil, nil
}

// balanceCommand 报告钱包余额。
func balanceCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	balances, err := ex.API().WalletBalances()
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		ex.log.Results("balance",
			zap.String("currency", b.Currency),
			zap.Float64("amount", b.Amount),
			zap.Float64("available", b.Available))
	}
	return balances, nil
}

// notifyCommand 把一条消息推到告警通道。notify(msg)
func notifyCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "msg", Default: ""},
	}, args)
	if p["msg"] == "" {
		return nil, &ValidationError{Reason: "nothing to say"}
	}
	ex.log.Results("notify", zap.String("msg", p["msg"]))
	ex.alerts.Notify(p["msg"])
	return nil, nil
}

// continueCommand 条件成立时继续，不成立时中止整个命令序列。
// continue(if, value)
func continueCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "if", Default: "always"},
		{Name: "value", Default: ""},
	}, args)

	ok, err := evalCondition(ctx, p["if"], p["value"])
	if err != nil {
		return nil, err
	}
	if !ok {
		ex.log.Results("continue: condition not met, stopping sequence",
			zap.String("condition", p["if"]))
		return nil, ErrAbortSequence
	}
	ex.log.Results("continue: condition met", zap.String("condition", p["if"]))
	return nil, nil
}

// stopCommand continue 的反面：条件成立时中止序列。stop(if, value)
func stopCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "if", Default: "always"},
		{Name: "value", Default: ""},
	}, args)

	ok, err := evalCondition(ctx, p["if"], p["value"])
	if err != nil {
		return nil, err
	}
	if ok {
		ex.log.Results("stop: condition met, stopping sequence",
			zap.String("condition", p["if"]))
		return nil, ErrAbortSequence
	}
	ex.log.Results("stop: condition not met", zap.String("condition", p["if"]))
	return nil, nil
}
