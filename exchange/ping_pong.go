package exchange

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/metrics"
	"algo-trader-go/util"
)

// 价差追踪时允许调价的最大缺口，超过就当行情异常按兵不动
const trackSanityCeiling = 100.0

// pingPongTask 双边做市。入场侧挂一排 ping，成交后在另一侧挂对应的
// pong 吃价差，同时在本侧补一张更远的新单。两个列表都按离中间价
// 从近到远排序。整个策略注册成一个算法订单，可以整体取消。
type pingPongTask struct {
	taskBase

	pingAmount   float64
	pongAmount   float64
	pingStep     float64
	pongStep     float64
	pongDistance float64
	orderCount   int
	from         string
	to           string
	endless      bool
	autoBalance  string
	balanceEvery int

	pings []*OrderResult
	pongs []*OrderResult

	lastAutoBalance time.Time
}

func newPingPongTask(ctx *Context) Task {
	return &pingPongTask{taskBase: taskBase{ctx: ctx, id: newTaskID("pingpong")}}
}

// Setup pingPong(side, from, to, orderCount, amount, pongAmount, pongDistance,
//
//	pingStep, pongStep, endless, autoBalance, autoBalanceEvery, tag)
func (t *pingPongTask) Setup(args []Arg) error {
	p := AssignParams([]Param{
		{Name: "side", Default: "buy"},
		{Name: "from", Default: "0"},
		{Name: "to", Default: "50"},
		{Name: "orderCount", Default: "10"},
		{Name: "amount", Default: "0"},
		{Name: "pongAmount", Default: ""},
		{Name: "pongDistance", Default: "10"},
		{Name: "pingStep", Default: "5"},
		{Name: "pongStep", Default: "5"},
		{Name: "endless", Default: "false"},
		{Name: "autoBalance", Default: "none"},
		{Name: "autoBalanceEvery", Default: "600"},
		{Name: "tag", Default: ""},
	}, args)

	if !api.Side(p["side"]).Valid() {
		return &ValidationError{Reason: "side must be buy or sell"}
	}
	switch p["autoBalance"] {
	case "none", "flow", "shuffle", "track":
	default:
		return &ValidationError{Reason: "autoBalance must be none, flow, shuffle or track"}
	}

	t.side = p["side"]
	t.from = p["from"]
	t.to = p["to"]
	t.tag = p["tag"]
	t.orderCount, _ = atoiClamped(p["orderCount"], maxLadderOrders)
	t.pingAmount = ParseQuantity(p["amount"]).Value
	t.pongAmount = t.pingAmount
	if p["pongAmount"] != "" {
		t.pongAmount = ParseQuantity(p["pongAmount"]).Value
	}
	t.pongDistance = ParseQuantity(p["pongDistance"]).Value
	t.pingStep = ParseQuantity(p["pingStep"]).Value
	t.pongStep = ParseQuantity(p["pongStep"]).Value
	t.endless = parseBool(p["endless"])
	t.autoBalance = p["autoBalance"]
	t.balanceEvery = TimeToSeconds(p["autoBalanceEvery"], 600)

	if t.orderCount < 1 {
		return &ValidationError{Reason: "orderCount must be at least 1"}
	}
	if t.pingAmount <= 0 {
		return &ValidationError{Reason: "amount must be above zero"}
	}
	if t.pongDistance <= 0 {
		return &ValidationError{Reason: "pongDistance must be above zero"}
	}
	return nil
}

func atoiClamped(s string, max int) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	if v > max {
		v = max
	}
	return v, err
}

// Execute 铺开初始的 ping 梯子。
func (t *pingPongTask) Execute() (State, error) {
	ex := t.ctx.Ex
	side := api.Side(t.side)

	from, err := ex.OffsetToAbsolutePrice(t.ctx.Symbol, side, t.from)
	if err != nil {
		return Finished, err
	}
	to, err := ex.OffsetToAbsolutePrice(t.ctx.Symbol, side, t.to)
	if err != nil {
		return Finished, err
	}
	if (side == api.Buy && from < to) || (side == api.Sell && from > to) {
		from, to = to, from
	}
	if from <= 0 || to <= 0 {
		return Finished, &ValidationError{Reason: "price range goes below zero"}
	}

	roundPrice := func(v float64) float64 { return ex.RoundPrice(t.ctx.Symbol, v) }
	prices := util.ScaledPrices(t.orderCount, from, to, 0, util.EasingByName("linear"), roundPrice)

	for _, price := range prices {
		t.pings = append(t.pings, t.placeLimitOrder(side, price, t.pingAmount))
	}
	t.pings = cleanOrderList(t.pings)
	t.lastAutoBalance = ex.now()

	ex.log.Progress("ping pong initial orders placed",
		zap.Int("pings", len(t.pings)), zap.Int("pongs", len(t.pongs)))

	if len(t.pings) == 0 {
		return Finished, nil
	}
	return KeepGoing, nil
}

// placeLimitOrder 挂一张限价单。失败只记录日志，返回空单记录。
func (t *pingPongTask) placeLimitOrder(side api.Side, price, amount float64) *OrderResult {
	ex := t.ctx.Ex
	order, err := ex.API().LimitOrder(t.ctx.Symbol, amount, price, side, true, false)
	if err != nil {
		ex.log.Error("failed to place limit order in ping pong, ignoring",
			zap.String("side", string(side)), zap.Float64("price", price), zap.Error(err))
		return &OrderResult{Side: side, Price: price, Amount: amount}
	}
	ex.AddToSession(t.ctx.Session, t.tag, order)
	ex.log.Results("limit order placed",
		zap.String("side", string(side)), zap.Float64("amount", amount), zap.Float64("price", price))
	return &OrderResult{Order: &order, Side: side, Price: price, Amount: amount}
}

// cleanOrderList 丢掉空单并按离中间价从近到远排序：
// 买单价格从高到低，卖单价格从低到高。
func cleanOrderList(orders []*OrderResult) []*OrderResult {
	kept := orders[:0]
	for _, o := range orders {
		if o.Order != nil {
			kept = append(kept, o)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Side == api.Buy {
			return kept[i].Price > kept[j].Price
		}
		return kept[i].Price < kept[j].Price
	})
	return kept
}

// BackgroundExecute 做市循环的一个节拍。
func (t *pingPongTask) BackgroundExecute() (State, bool, error) {
	ex := t.ctx.Ex
	fresh := false

	// ping 侧：只需要盯着最靠近价格的那张
	if len(t.pings) > 0 {
		if t.pollSide(&t.pings, &t.pongs, t.pingStep, t.pongStep) {
			fresh = true
		}
	}

	// endless 模式下 pong 侧也一样来回翻
	if t.endless && len(t.pongs) > 0 {
		if t.pollSide(&t.pongs, &t.pings, t.pongStep, t.pingStep) {
			fresh = true
		}
	}

	// 闲下来的时候看看要不要调平两边
	if !fresh && t.autoBalance == "shuffle" {
		elapsed := ex.now().Sub(t.lastAutoBalance)
		onlyPings := len(t.pongs) == 0 && len(t.pings) > 0
		onlyPongs := len(t.pings) == 0 && len(t.pongs) > 0
		if elapsed > time.Duration(t.balanceEvery)*time.Second && (onlyPings || onlyPongs) {
			if onlyPings {
				t.pings = t.shuffleBook(t.pings, t.pingStep)
			} else {
				t.pongs = t.shuffleBook(t.pongs, t.pongStep)
			}
			t.lastAutoBalance = ex.now()
		}
	}
	if t.autoBalance == "track" {
		t.pings = t.trackPrice(t.pings, t.pingStep)
		t.pongs = t.trackPrice(t.pongs, t.pongStep)
	}

	if t.done() {
		ex.log.Results("ping pong finished")
		return Finished, fresh, nil
	}
	return KeepGoing, fresh, nil
}

// pollSide 轮询一侧的最近单。成交则在对侧挂 pong、本侧在最远处补单；
// 被外部撤掉的直接丢弃。返回是否有实际进展。
func (t *pingPongTask) pollSide(side, other *[]*OrderResult, step, otherStep float64) bool {
	ex := t.ctx.Ex
	orders := *side
	first := orders[0]
	furthest := orders[len(orders)-1]

	info, err := ex.API().Order(*first.Order)
	if err != nil {
		return false
	}

	if info.Filled {
		ex.log.Results("ping pong order filled",
			zap.String("side", string(first.Side)),
			zap.Float64("amount", first.Amount),
			zap.Float64("price", first.Price))
		ex.alerts.OrderFilled(ex.Name, t.ctx.Symbol, string(first.Side), first.Amount, first.Price)
		metrics.Fills.WithLabelValues(ex.Name, string(first.Side)).Inc()

		// 本侧在最远一档之外补一张新单
		replacePrice := furthest.Price - step
		if first.Side == api.Sell {
			replacePrice = furthest.Price + step
		}
		replacement := t.placeLimitOrder(first.Side, ex.RoundPrice(t.ctx.Symbol, replacePrice), first.Amount)

		// 对侧挂反向单吃价差
		pongSide := first.Side.Opposite()
		pongPrice := first.Price + t.pongDistance
		pongAmount := t.pongAmount
		if first.Side == api.Sell {
			pongPrice = first.Price - t.pongDistance
			pongAmount = t.pingAmount
		}
		opposite := t.placeLimitOrder(pongSide, ex.RoundPrice(t.ctx.Symbol, pongPrice), pongAmount)

		*side = cleanOrderList(append(orders[1:], replacement))
		*other = cleanOrderList(append(*other, opposite))
		if t.autoBalance == "flow" {
			*other = t.shuffleBook(*other, otherStep)
		}
		return true
	}

	if !info.Open {
		ex.log.Results("ping pong found a cancelled order, discarding")
		*side = cleanOrderList(orders[1:])
		return true
	}
	return false
}

// shuffleBook 把离价格最远的一张撤掉，重新挂到最近一档的前面，
// 让整排单子跟着价格走。价格离得不够远时什么都不做。
func (t *pingPongTask) shuffleBook(orders []*OrderResult, step float64) []*OrderResult {
	ex := t.ctx.Ex
	if len(orders) == 0 {
		return orders
	}

	tick, err := ex.Ticker(t.ctx.Symbol)
	if err != nil {
		return orders
	}
	gap := math.Abs(orders[0].Price - tick.Mid())
	if gap <= t.pongDistance {
		return orders
	}

	toCancel := orders[len(orders)-1]
	if err := ex.API().CancelOrders([]api.Order{*toCancel.Order}); err != nil {
		return orders
	}
	ex.log.Progress("shuffle: cancelled furthest order from price",
		zap.String("side", string(toCancel.Side)), zap.Float64("price", toCancel.Price))
	ex.alerts.Rebalanced(ex.Name, t.ctx.Symbol, "shuffle")

	price := orders[0].Price + step
	if toCancel.Side == api.Sell {
		price = orders[0].Price - step
	}
	replacement := t.placeLimitOrder(toCancel.Side, ex.RoundPrice(t.ctx.Symbol, price), toCancel.Amount)
	return cleanOrderList(append(orders[:len(orders)-1], replacement))
}

// trackPrice 价格走远时把最远的一张往中间价方向挪一步。
func (t *pingPongTask) trackPrice(orders []*OrderResult, step float64) []*OrderResult {
	ex := t.ctx.Ex
	if len(orders) == 0 {
		return orders
	}

	tick, err := ex.Ticker(t.ctx.Symbol)
	if err != nil {
		return orders
	}
	gap := math.Abs(orders[0].Price - tick.Mid())
	if gap <= step || gap >= trackSanityCeiling {
		return orders
	}

	ex.log.Progress("track: price moved away, adjusting closest order",
		zap.Float64("gap", gap), zap.String("side", string(orders[0].Side)))

	toCancel := orders[len(orders)-1]
	if err := ex.API().CancelOrders([]api.Order{*toCancel.Order}); err != nil {
		return orders
	}
	ex.alerts.Rebalanced(ex.Name, t.ctx.Symbol, "track")

	price := orders[0].Price + step
	if orders[0].Side == api.Sell {
		price = orders[0].Price - step
	}
	replacement := t.placeLimitOrder(toCancel.Side, ex.RoundPrice(t.ctx.Symbol, price), toCancel.Amount)
	return cleanOrderList(append(orders[:len(orders)-1], replacement))
}

// done 非 endless 模式下 ping 用完就结束，endless 模式要两边都空。
func (t *pingPongTask) done() bool {
	if t.endless {
		return len(t.pings) == 0 && len(t.pongs) == 0
	}
	return len(t.pings) == 0
}

// OnCancelled 撤掉两边所有在挂的单子。
func (t *pingPongTask) OnCancelled() error {
	ex := t.ctx.Ex
	ex.log.Progress("ping pong order cancelled, stopping")

	var open []api.Order
	for _, o := range append(t.pings, t.pongs...) {
		if o.Order != nil {
			open = append(open, *o.Order)
		}
	}
	t.pings = nil
	t.pongs = nil
	if len(open) == 0 {
		return nil
	}
	return ex.API().CancelOrders(open)
}

// Results 两个列表的当前快照。
func (t *pingPongTask) Results() interface{} {
	return map[string][]*OrderResult{
		"pings": t.pings,
		"pongs": t.pongs,
	}
}
