package exchange

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// 测试可替换的时间源
var conditionNow = func() time.Time { return time.Now().UTC() }

// evalCondition 判定一个简单条件。依次尝试常量条件、日期时间条件、
// 仓位条件和价格条件，一个都不认识就当 false。
func evalCondition(ctx *Context, condition, value string) (bool, error) {
	cond := strings.ToLower(strings.TrimSpace(condition))

	if result, ok := simpleCondition(cond); ok {
		return result, nil
	}
	if result, ok, err := dateTimeCondition(ctx, cond, value); ok || err != nil {
		return result, err
	}
	if result, ok, err := positionCondition(ctx, cond, value); ok || err != nil {
		return result, err
	}
	if result, ok, err := priceCondition(ctx, cond, value); ok || err != nil {
		return result, err
	}
	return false, nil
}

func simpleCondition(cond string) (result, ok bool) {
	switch cond {
	case "always", "true":
		return true, true
	case "never", "false":
		return false, true
	}
	return false, false
}

// dateTimeCondition 日期和时间比较，全部按 UTC。
func dateTimeCondition(ctx *Context, cond, value string) (result, ok bool, err error) {
	switch cond {
	case "isafterdate", "isonorafterdate", "isbeforedate", "isonorbeforedate",
		"issamedate", "isaftertime", "isbeforetime":
	default:
		return false, false, nil
	}

	now := conditionNow()
	ctx.Ex.log.Progress("time and date", zap.Time("now", now))

	byDay := func(cmp func(a, b time.Time) bool) (bool, bool, error) {
		target, perr := time.ParseInLocation("2006-01-02", value, time.UTC)
		if perr != nil {
			return false, true, &ValidationError{Reason: "expected a date like 2006-01-02"}
		}
		today := now.Truncate(24 * time.Hour)
		return cmp(today, target), true, nil
	}

	switch cond {
	case "isafterdate":
		return byDay(func(a, b time.Time) bool { return a.After(b) })
	case "isonorafterdate":
		return byDay(func(a, b time.Time) bool { return !a.Before(b) })
	case "isbeforedate":
		return byDay(func(a, b time.Time) bool { return a.Before(b) })
	case "isonorbeforedate":
		return byDay(func(a, b time.Time) bool { return !a.After(b) })
	case "issamedate":
		return byDay(func(a, b time.Time) bool { return a.Equal(b) })
	case "isaftertime", "isbeforetime":
		target, perr := time.ParseInLocation("15:04", value, time.UTC)
		if perr != nil {
			return false, true, &ValidationError{Reason: "expected a time like 15:04"}
		}
		moment := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, time.UTC)
		if cond == "isaftertime" {
			return now.After(moment), true, nil
		}
		return now.Before(moment), true, nil
	}
	return false, false, nil
}

// positionCondition 仓位大小比较。
func positionCondition(ctx *Context, cond, value string) (result, ok bool, err error) {
	switch cond {
	case "positionlessthan", "positiongreaterthan", "positionlessthaneq",
		"positiongreaterthaneq", "positionlong", "positionshort", "positionnone":
	default:
		return false, false, nil
	}

	position, perr := ctx.Ex.PositionSize(ctx.Symbol)
	if perr != nil {
		return false, true, perr
	}
	target, _ := strconv.ParseFloat(value, 64)
	ctx.Ex.log.Progress("current position size", zap.Float64("position", position))

	switch cond {
	case "positionlessthan":
		return position < target, true, nil
	case "positiongreaterthan":
		return position > target, true, nil
	case "positionlessthaneq":
		return position <= target, true, nil
	case "positiongreaterthaneq":
		return position >= target, true, nil
	case "positionlong":
		return position > 0, true, nil
	case "positionshort":
		return position < 0, true, nil
	default:
		return position == 0, true, nil
	}
}

// priceCondition 用买卖中间价和目标价比较。
func priceCondition(ctx *Context, cond, value string) (result, ok bool, err error) {
	switch cond {
	case "pricelessthan", "pricegreaterthan", "pricelessthaneq", "pricegreaterthaneq":
	default:
		return false, false, nil
	}

	tick, terr := ctx.Ex.Ticker(ctx.Symbol)
	if terr != nil {
		return false, true, terr
	}
	price := tick.Mid()
	target, _ := strconv.ParseFloat(value, 64)
	ctx.Ex.log.Progress("current price", zap.Float64("price", price))

	switch cond {
	case "pricelessthan":
		return price < target, true, nil
	case "pricegreaterthan":
		return price > target, true, nil
	case "pricelessthaneq":
		return price <= target, true, nil
	default:
		return price >= target, true, nil
	}
}
