package util

import "math/rand"

// RandomRange 返回 [low, high) 区间内的随机浮点数。
func RandomRange(low, high float64) float64 {
	if high <= low {
		return low
	}
	return low + rand.Float64()*(high-low)
}

// RandomRangeInt 返回 [low, high] 区间内的随机整数。
func RandomRangeInt(low, high int) int {
	if high <= low {
		return low
	}
	return low + rand.Intn(high-low+1)
}
