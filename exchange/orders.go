package exchange

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"algo-trader-go/api"
)

// OrderResult 下单类命令的统一返回值。下单失败或没有可下的量时
// Order 为 nil，调用方据此判断。
type OrderResult struct {
	Order  *api.Order
	Side   api.Side
	Price  float64
	Amount float64
	Units  string
}

// limitOrderCommand 下限价单。
// limit(side, offset, amount, tag, position, postOnly, reduceOnly)
func limitOrderCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "side", Default: "buy"},
		{Name: "offset", Default: "0"},
		{Name: "amount", Default: "0"},
		{Name: "tag", Default: time.Now().UTC().Format(time.RFC3339)},
		{Name: "position", Default: ""},
		{Name: "postOnly", Default: "true"},
		{Name: "reduceOnly", Default: "false"},
	}, args)

	ex.log.Progress("limit order", zap.String("exchange", ex.Name), zap.Any("params", p))

	side := api.Side(p["side"])
	if !side.Valid() {
		return nil, &ValidationError{Reason: "side must be buy or sell"}
	}

	side, amount, err := ex.PositionToAmount(ctx.Symbol, p["position"], side, p["amount"])
	if err != nil {
		return nil, err
	}
	if amount.Value == 0 {
		ex.log.Results("limit order not placed, order size is zero")
		return &OrderResult{Side: side}, nil
	}

	orderPrice, err := ex.OffsetToAbsolutePrice(ctx.Symbol, side, p["offset"])
	if err != nil {
		return nil, err
	}
	if orderPrice < 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("order price below zero: %v", orderPrice)}
	}

	details, err := ex.OrderSizeFromAmount(ctx.Symbol, side, orderPrice, fmt.Sprintf("%v%s", amount.Value, amount.Units))
	if err != nil {
		return nil, err
	}
	if details.OrderSize == 0 {
		return nil, &ValidationError{Reason: "no funds available or order size is 0"}
	}

	order, err := ex.API().LimitOrder(ctx.Symbol, details.OrderSize, orderPrice, side, parseBool(p["postOnly"]), parseBool(p["reduceOnly"]))
	if err != nil {
		return nil, err
	}
	ex.AddToSession(ctx.Session, p["tag"], order)
	ex.log.Results("limit order placed",
		zap.String("side", string(side)),
		zap.Float64("amount", details.OrderSize),
		zap.Float64("price", orderPrice))
	ex.alerts.OrderPlaced(ex.Name, ctx.Symbol, string(side), details.OrderSize, orderPrice)

	return &OrderResult{Order: &order, Side: side, Price: orderPrice, Amount: details.OrderSize}, nil
}

// marketOrderCommand 下市价单。amount 是 100%% 时带上吃光可用余额的标记。
// market(side, amount, position, tag)
func marketOrderCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "side", Default: "buy"},
		{Name: "amount", Default: "0"},
		{Name: "position", Default: ""},
		{Name: "tag", Default: ""},
	}, args)

	ex.log.Progress("market order", zap.String("exchange", ex.Name), zap.Any("params", p))

	side := api.Side(p["side"])
	if !side.Valid() {
		return nil, &ValidationError{Reason: "side must be buy or sell"}
	}

	side, amount, err := ex.PositionToAmount(ctx.Symbol, p["position"], side, p["amount"])
	if err != nil {
		return nil, err
	}
	if amount.Value == 0 {
		ex.log.Results("market order not placed, order size is zero")
		return &OrderResult{Side: side}, nil
	}

	tick, err := ex.Ticker(ctx.Symbol)
	if err != nil {
		return nil, err
	}
	details, err := ex.OrderSizeFromAmount(ctx.Symbol, side, tick.Mid(), fmt.Sprintf("%v%s", amount.Value, amount.Units))
	if err != nil {
		return nil, err
	}
	if details.OrderSize == 0 {
		return nil, &ValidationError{Reason: "no funds available or order size is 0"}
	}

	isEverything := details.IsAllAvailable && amount.Units == "%%" && amount.Value == 100
	order, err := ex.API().MarketOrder(ctx.Symbol, details.OrderSize, side, isEverything)
	if err != nil {
		return nil, err
	}
	ex.AddToSession(ctx.Session, p["tag"], order)
	ex.log.Results("market order placed",
		zap.String("side", string(side)),
		zap.Float64("amount", details.OrderSize))
	ex.alerts.OrderPlaced(ex.Name, ctx.Symbol, string(side), details.OrderSize, 0)

	return &OrderResult{Order: &order, Side: side, Amount: details.OrderSize}, nil
}
