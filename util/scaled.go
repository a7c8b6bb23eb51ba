package util

// RoundFunc 对单个数量或价格做合约精度处理。
type RoundFunc func(float64) float64

// Easing 把 [0,1] 的进度映射到 [0,1] 的插值位置。
type Easing func(float64) float64

// EasingByName 根据名字选择插值曲线，未知名字退回线性。
func EasingByName(name string) Easing {
	switch name {
	case "ease-in", "easein":
		return func(t float64) float64 { return t * t }
	case "ease-out", "easeout":
		return func(t float64) float64 { return t * (2 - t) }
	case "ease-in-out", "easeinout":
		return func(t float64) float64 {
			if t < 0.5 {
				return 2 * t * t
			}
			return -1 + (4-2*t)*t
		}
	default:
		return func(t float64) float64 { return t }
	}
}

// ScaledAmounts 把总量拆成 count 份。vary 为 0 时各份之和精确等于 total（取整误差除外）；
// vary>0 时每份在均值 ±vary 比例内随机浮动，但始终用剩余量约束，保证总和不超过 total。
func ScaledAmounts(count int, total float64, vary float64, round RoundFunc) []float64 {
	if count <= 0 {
		return []float64{}
	}
	if round == nil {
		round = func(v float64) float64 { return v }
	}

	amounts := make([]float64, count)
	remaining := total
	for i := 0; i < count; i++ {
		left := count - i
		mean := remaining / float64(left)
		amount := mean
		if vary > 0 && left > 1 {
			amount = RandomRange(mean*(1-vary), mean*(1+vary))
			if amount > remaining {
				amount = remaining
			}
		}
		if left == 1 {
			amount = remaining
		}
		amount = round(amount)
		amounts[i] = amount
		remaining -= amount
	}
	return amounts
}

// ScaledPrices 在 from..to 之间生成 count 个价格，按 easing 曲线分布，
// 可选 vary 比例的随机抖动，但结果始终夹在区间之内。
func ScaledPrices(count int, from, to float64, vary float64, easing Easing, round RoundFunc) []float64 {
	if count <= 0 {
		return []float64{}
	}
	if easing == nil {
		easing = EasingByName("linear")
	}
	if round == nil {
		round = func(v float64) float64 { return v }
	}

	low, high := from, to
	if low > high {
		low, high = high, low
	}

	prices := make([]float64, count)
	for i := 0; i < count; i++ {
		t := 0.0
		if count > 1 {
			t = float64(i) / float64(count-1)
		}
		price := from + (to-from)*easing(t)
		if vary > 0 {
			span := (high - low) * vary
			price = RandomRange(price-span, price+span)
		}
		if price < low {
			price = low
		}
		if price > high {
			price = high
		}
		prices[i] = round(price)
	}
	return prices
}
