package util

import "math"

// Round 四舍五入到 dp 位小数；dp 可为负（如 -1 表示取整到 10）。
func Round(v float64, dp int) float64 {
	scale := math.Pow(10, float64(dp))
	return math.Round(v*scale) / scale
}

// RoundDown 向下取整到 dp 位小数。下单数量一律向下取整，避免超出可用余额。
func RoundDown(v float64, dp int) float64 {
	scale := math.Pow(10, float64(dp))
	// 浮点误差补偿：1.999999 在 4 位小数下应得 1.9999 而不是 2。
	return math.Floor(v*scale+1e-9) / scale
}

// RoundUp 向上取整到 dp 位小数。
func RoundUp(v float64, dp int) float64 {
	scale := math.Pow(10, float64(dp))
	return math.Ceil(v*scale-1e-9) / scale
}

// RoundSignificantFigures 保留 sf 位有效数字。
func RoundSignificantFigures(v float64, sf int) float64 {
	if v == 0 || sf <= 0 {
		return 0
	}
	abs := math.Abs(v)
	magnitude := math.Ceil(math.Log10(abs))
	scale := math.Pow(10, float64(sf)-magnitude)
	return math.Round(v*scale) / scale
}
