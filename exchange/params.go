package exchange

import (
	"regexp"
	"strconv"
	"strings"
)

// Quantity 带单位的数量。单位为空、%、%% 或一个币种代码。
type Quantity struct {
	Value float64
	Units string
}

var (
	quantityRe   = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?)\s*([a-zA-Z]+|%{1,2})?$`)
	percentageRe = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?)\s*(%{1,2})?$`)
	timeRe       = regexp.MustCompile(`([0-9]+)(d|h|m|s)?`)
	absPriceRe   = regexp.MustCompile(`@([0-9]+(\.[0-9]*)?)`)
	symbolRe     = regexp.MustCompile(`^(.{3,4})(.{3})`)
)

// ParseQuantity 解析数量字符串：12、12btc、12usd、12%（总资金的百分比）
// 或 12%%（可用资金的百分比）。解析不了的当零处理，这是最安全的选择。
func ParseQuantity(qty string) Quantity {
	m := quantityRe.FindStringSubmatch(strings.TrimSpace(qty))
	if m == nil {
		return Quantity{}
	}
	v, _ := strconv.ParseFloat(m[1], 64)
	return Quantity{Value: v, Units: m[3]}
}

// ParsePercentage 把数字或百分数统一成系数：0.01 和 1% 都返回 0.01。
func ParsePercentage(value string) float64 {
	m := percentageRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0
	}
	v, _ := strconv.ParseFloat(m[1], 64)
	if m[3] == "%" {
		return v * 0.01
	}
	return v
}

// TimeToSeconds 把时间串（12、12s、12m、12h、12d）转成秒数。
func TimeToSeconds(value string, defValue int) int {
	m := timeRe.FindStringSubmatch(value)
	if m == nil {
		return defValue
	}
	delay, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "m":
		return delay * 60
	case "h":
		return delay * 60 * 60
	case "d":
		return delay * 60 * 60 * 24
	default:
		return delay
	}
}

// SplitSymbol 把 BTCUSD 这样的符号拆成资产和计价货币（btc 和 usd）。
// 拆不开时退回 btc/usd。
func SplitSymbol(symbol string) (asset, currency string) {
	m := symbolRe.FindStringSubmatch(strings.ToLower(symbol))
	if m == nil {
		return "btc", "usd"
	}
	return m[1], m[2]
}

// parseBool 命令参数里的布尔值。
func parseBool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}
