package exchange

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"algo-trader-go/api"
)

// OrderSize 一次下单量的计算结果。
type OrderSize struct {
	Total          float64
	Available      float64
	IsAllAvailable bool
	RawOrderSize   float64
	OrderSize      float64
}

// BalanceTotalAsset 用当前价把整个账户折算成资产计价的总额。
func (e *Exchange) BalanceTotalAsset(symbol string, balances []api.Balance, price float64) float64 {
	asset, currency := SplitSymbol(symbol)
	total := 0.0
	for _, b := range balances {
		switch b.Currency {
		case currency:
			total += b.Amount / price
		case asset:
			total += b.Amount
		}
	}
	rounded := e.RoundAsset(symbol, total)
	e.log.Results("account total", zap.Float64("price", price),
		zap.Float64("total", rounded), zap.String("units", asset))
	return rounded
}

// BalanceTotalFiat 用当前价把整个账户折算成计价货币的总额。
func (e *Exchange) BalanceTotalFiat(symbol string, balances []api.Balance, price float64) float64 {
	asset, currency := SplitSymbol(symbol)
	total := 0.0
	for _, b := range balances {
		switch b.Currency {
		case currency:
			total += b.Amount
		case asset:
			total += b.Amount * price
		}
	}
	rounded := e.RoundPrice(symbol, total)
	e.log.Results("account total", zap.Float64("price", price),
		zap.Float64("total", rounded), zap.String("units", currency))
	return rounded
}

// BalanceAvailableAsset 实际可动用的余额，折算成资产数量。买入看计价
// 货币的可用额，卖出看资产侧的可用额。
func (e *Exchange) BalanceAvailableAsset(symbol string, balances []api.Balance, price float64, side api.Side) float64 {
	asset, currency := SplitSymbol(symbol)
	spendable := 0.0
	for _, b := range balances {
		if side == api.Buy {
			if b.Currency == currency {
				spendable += b.Available / price
			}
		} else if b.Currency == asset {
			spendable += b.Available
		}
	}
	rounded := e.RoundAsset(symbol, spendable)
	e.log.Results("asset balance available", zap.Float64("price", price), zap.Float64("available", rounded))
	return rounded
}

// CalcOrderSize 把带单位的数量换算成实际下单量：支持绝对数量、总额
// 百分比（%）、可用百分比（%%）和计价货币金额；不超过可用余额；
// 低于最小下单量的直接归零，免得下一个注定失败的单子。
func (e *Exchange) CalcOrderSize(symbol string, side api.Side, amount Quantity, balances []api.Balance, price float64) OrderSize {
	_, currency := SplitSymbol(symbol)
	total := e.BalanceTotalAsset(symbol, balances, price)
	available := e.BalanceAvailableAsset(symbol, balances, price, side)

	orderSize := amount.Value
	switch {
	case amount.Units == "%":
		orderSize = total * (amount.Value / 100)
	case amount.Units == "%%":
		orderSize = available * (amount.Value / 100)
	case strings.EqualFold(amount.Units, currency):
		orderSize = amount.Value / price
	}

	rawOrderSize := orderSize
	if orderSize > available {
		orderSize = available
	}

	minOrderSize := e.symbolInfo(symbol).MinOrderSize
	if orderSize < minOrderSize {
		e.log.Results("order size below venue minimum",
			zap.Float64("size", orderSize), zap.Float64("min", minOrderSize))
		orderSize = 0
	}

	return OrderSize{
		Total:          total,
		Available:      available,
		IsAllAvailable: orderSize == available,
		RawOrderSize:   rawOrderSize,
		OrderSize:      e.RoundAsset(symbol, orderSize),
	}
}

// OffsetToAbsolutePrice 把报价偏移解析成绝对价。支持 @6250.23 直接指价，
// 否则按当前盘口加减：买单从买一往下偏，卖单从卖一往上偏，
// 偏移量可以是绝对值或百分比。
func (e *Exchange) OffsetToAbsolutePrice(symbol string, side api.Side, offsetStr string) (float64, error) {
	if m := absPriceRe.FindStringSubmatch(offsetStr); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return e.RoundPrice(symbol, v), nil
	}

	tick, err := e.api.Ticker(symbol)
	if err != nil {
		return 0, err
	}
	offset := ParseQuantity(offsetStr)

	if side == api.Buy {
		current := tick.Bid
		delta := offset.Value
		if offset.Units == "%" {
			delta = current * (offset.Value / 100)
		}
		return e.RoundPrice(symbol, current-delta), nil
	}

	current := tick.Ask
	delta := offset.Value
	if offset.Units == "%" {
		delta = current * (offset.Value / 100)
	}
	return e.RoundPrice(symbol, current+delta), nil
}

// OrderSizeFromAmount 从数量字符串直接算下单量（查余额 + 解析 + 计算）。
func (e *Exchange) OrderSizeFromAmount(symbol string, side api.Side, orderPrice float64, amountStr string) (OrderSize, error) {
	balances, err := e.api.WalletBalances()
	if err != nil {
		return OrderSize{}, err
	}
	return e.CalcOrderSize(symbol, side, ParseQuantity(amountStr), balances, orderPrice), nil
}

// PositionToAmount 把目标仓位换算成方向和数量。position 为空时直接用
// side/amount；否则对比资产侧持仓和目标，差额决定买卖方向。
func (e *Exchange) PositionToAmount(symbol, position string, side api.Side, amount string) (api.Side, Quantity, error) {
	if position == "" {
		return side, ParseQuantity(amount), nil
	}

	balances, err := e.api.WalletBalances()
	if err != nil {
		return side, Quantity{}, err
	}

	asset, _ := SplitSymbol(symbol)
	total := 0.0
	for _, b := range balances {
		if b.Currency == asset {
			total += b.Amount
		}
	}

	target, _ := strconv.ParseFloat(position, 64)
	change := e.RoundAsset(symbol, target-total)
	newSide := api.Buy
	if change < 0 {
		newSide = api.Sell
	}
	return newSide, Quantity{Value: math.Abs(change)}, nil
}

// PositionSize 当前仓位，多头为正、空头为负。
func (e *Exchange) PositionSize(symbol string) (float64, error) {
	side, amount, err := e.PositionToAmount(symbol, "0", "", "")
	if err != nil {
		return 0, err
	}
	if side == api.Buy {
		return -amount.Value, nil
	}
	return amount.Value, nil
}
