package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in    string
		value float64
		units string
	}{
		{"12", 12, ""},
		{"12.5", 12.5, ""},
		{"12btc", 12, "btc"},
		{"12 usd", 12, "usd"},
		{"12%", 12, "%"},
		{"12%%", 12, "%%"},
		{"0", 0, ""},
		{"fish", 0, ""},
		{"-5", 0, ""},
		{"", 0, ""},
	}
	for _, tc := range cases {
		q := ParseQuantity(tc.in)
		assert.Equal(t, tc.value, q.Value, tc.in)
		assert.Equal(t, tc.units, q.Units, tc.in)
	}
}

func TestParsePercentage(t *testing.T) {
	assert.Equal(t, 0.01, ParsePercentage("0.01"))
	assert.Equal(t, 0.01, ParsePercentage("1%"))
	assert.Equal(t, 0.5, ParsePercentage("50%"))
	assert.Equal(t, 2.0, ParsePercentage("2"))
	assert.Equal(t, 0.0, ParsePercentage("fish"))
}

func TestTimeToSeconds(t *testing.T) {
	assert.Equal(t, 12, TimeToSeconds("12", 10))
	assert.Equal(t, 12, TimeToSeconds("12s", 10))
	assert.Equal(t, 720, TimeToSeconds("12m", 10))
	assert.Equal(t, 43200, TimeToSeconds("12h", 10))
	assert.Equal(t, 172800, TimeToSeconds("2d", 10))
	assert.Equal(t, 10, TimeToSeconds("soon", 10))
}

func TestSplitSymbol(t *testing.T) {
	asset, currency := SplitSymbol("BTCUSD")
	assert.Equal(t, "btc", asset)
	assert.Equal(t, "usd", currency)

	asset, currency = SplitSymbol("DOGEUSD")
	assert.Equal(t, "doge", asset)
	assert.Equal(t, "usd", currency)

	// 拆不开退回默认
	asset, currency = SplitSymbol("x")
	assert.Equal(t, "btc", asset)
	assert.Equal(t, "usd", currency)
}

func TestAssignParams(t *testing.T) {
	expected := []Param{
		{Name: "side", Default: "buy"},
		{Name: "offset", Default: "0"},
		{Name: "amount", Default: "0"},
	}

	// 命名参数忽略大小写
	got := AssignParams(expected, []Arg{{Name: "SIDE", Value: "sell", Index: 0}})
	assert.Equal(t, "sell", got["side"])
	assert.Equal(t, "0", got["offset"])

	// 无名参数按位置
	got = AssignParams(expected, []Arg{
		{Name: "", Value: "sell", Index: 0},
		{Name: "", Value: "100", Index: 1},
	})
	assert.Equal(t, "sell", got["side"])
	assert.Equal(t, "100", got["offset"])
	assert.Equal(t, "0", got["amount"])

	// 命名优先级高于位置：后出现的命名参数覆盖位置参数
	got = AssignParams(expected, []Arg{
		{Name: "", Value: "50", Index: 1},
		{Name: "offset", Value: "75", Index: 2},
	})
	assert.Equal(t, "75", got["offset"])
}
