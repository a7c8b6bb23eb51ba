package exchange

import (
	"strconv"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/util"
)

const maxLadderOrders = 100

// scaledOrderSize 把梯子的总量压到可用资金允许的范围内。按梯子的平均价
// 折算余额，摊到每一格后低于最小下单量的直接判零。
func (e *Exchange) scaledOrderSize(symbol string, side api.Side, amount Quantity, from, to float64, orderCount int) (float64, error) {
	balances, err := e.api.WalletBalances()
	if err != nil {
		return 0, err
	}
	avgPrice := (from + to) / 2
	details := e.CalcOrderSize(symbol, side, amount, balances, avgPrice)

	perOrder := details.OrderSize / float64(orderCount)
	if perOrder < e.symbolInfo(symbol).MinOrderSize {
		return 0, nil
	}
	return details.OrderSize, nil
}

// scaledOrderCommand 梯形挂单：在 from 和 to 之间按缓动曲线排 orderCount
// 张限价单。逐张顺序下单，单张失败记为空单继续下剩下的。
// scaled(from, to, orderCount, amount, side, easing, varyAmount, varyPrice, tag, position)
func scaledOrderCommand(ctx *Context, args []Arg) (interface{}, error) {
	ex := ctx.Ex
	p := AssignParams([]Param{
		{Name: "from", Default: "0"},
		{Name: "to", Default: "50"},
		{Name: "orderCount", Default: "10"},
		{Name: "amount", Default: "0"},
		{Name: "side", Default: "buy"},
		{Name: "easing", Default: "linear"},
		{Name: "varyAmount", Default: "0"},
		{Name: "varyPrice", Default: "0"},
		{Name: "tag", Default: ""},
		{Name: "position", Default: ""},
	}, args)

	ex.log.Progress("scaled order", zap.String("exchange", ex.Name), zap.Any("params", p))

	orderCount, _ := strconv.Atoi(p["orderCount"])
	if orderCount > maxLadderOrders {
		orderCount = maxLadderOrders
	}
	if orderCount < 1 {
		ex.log.Results("scaled order not placed, order count is zero")
		return []*OrderResult{}, nil
	}
	varyAmount := ParsePercentage(p["varyAmount"])
	varyPrice := ParsePercentage(p["varyPrice"])

	side, amount, err := ex.PositionToAmount(ctx.Symbol, p["position"], api.Side(p["side"]), p["amount"])
	if err != nil {
		return nil, err
	}
	if amount.Value == 0 {
		ex.log.Results("scaled order not placed, order size is zero")
		return []*OrderResult{}, nil
	}

	from, err := ex.OffsetToAbsolutePrice(ctx.Symbol, side, p["from"])
	if err != nil {
		return nil, err
	}
	to, err := ex.OffsetToAbsolutePrice(ctx.Symbol, side, p["to"])
	if err != nil {
		return nil, err
	}

	// 梯子永远从远到近排，买单从高到低、卖单从低到高
	if (side == api.Buy && from < to) || (side == api.Sell && from > to) {
		from, to = to, from
	}
	if from <= 0 || to <= 0 {
		ex.log.Results("scaled order not placed, price range goes below zero")
		return []*OrderResult{}, nil
	}

	total, err := ex.scaledOrderSize(ctx.Symbol, side, amount, from, to, orderCount)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		ex.log.Results("scaled order would place orders below min order size, ignoring")
		return []*OrderResult{}, nil
	}

	roundAsset := func(v float64) float64 { return ex.RoundAsset(ctx.Symbol, v) }
	roundPrice := func(v float64) float64 { return ex.RoundPrice(ctx.Symbol, v) }
	amounts := util.ScaledAmounts(orderCount, total, varyAmount, roundAsset)
	prices := util.ScaledPrices(orderCount, from, to, varyPrice, util.EasingByName(p["easing"]), roundPrice)

	results := make([]*OrderResult, 0, orderCount)
	for i := 0; i < orderCount; i++ {
		order, err := ex.API().LimitOrder(ctx.Symbol, amounts[i], prices[i], side, true, false)
		if err != nil {
			ex.log.Error("ladder rung failed, continuing with the rest",
				zap.Int("rung", i), zap.Float64("price", prices[i]), zap.Error(err))
			results = append(results, &OrderResult{Side: side, Price: prices[i], Amount: amounts[i]})
			continue
		}
		ex.AddToSession(ctx.Session, p["tag"], order)
		ex.log.Results("limit order placed",
			zap.String("side", string(side)),
			zap.Float64("amount", amounts[i]),
			zap.Float64("price", prices[i]))
		results = append(results, &OrderResult{Order: &order, Side: side, Price: prices[i], Amount: amounts[i]})
	}

	ex.alerts.Notify("scaled order ladder placed")
	return results, nil
}
