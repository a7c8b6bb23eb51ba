// Package deribit implements the api.Driver contract for Deribit.
// 私有接口通过 key 排序的参数串做 SHA-256 签名，所有出站调用走线性退避重试。
package deribit

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/infrastructure/logger"
	"algo-trader-go/metrics"
	"algo-trader-go/util"
)

const venue = "deribit"

// 测试可替换的时间源
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// Driver Deribit API 驱动
type Driver struct {
	BaseURL    string
	Key        string
	Secret     string
	HTTPClient *http.Client
	Retry      RetryPolicy

	log *logger.Logger

	mu         sync.Mutex
	instrument map[string]instrumentInfo
	cached     map[string]cachedTicker
}

type instrumentInfo struct {
	MinTradeSize   float64 `json:"minTradeSize"`
	TickSize       float64 `json:"tickSize"`
	InstrumentName string  `json:"instrumentName"`
}

type cachedTicker struct {
	ticker api.Ticker
	at     time.Time
}

// New 创建 Deribit 驱动。
func New(key, secret, endpoint string, log *logger.Logger) *Driver {
	if endpoint == "" {
		endpoint = "https://www.deribit.com"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{
		BaseURL:    endpoint,
		Key:        key,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Retry:      DefaultRetryPolicy(),
		log:        log,
		instrument: make(map[string]instrumentInfo),
		cached:     make(map[string]cachedTicker),
	}
}

// Init 连接生命周期钩子。
func (d *Driver) Init() error { return nil }

// Terminate 关闭驱动。
func (d *Driver) Terminate() error { return nil }

// sortedParams 把参数按 key 排序拼成 k=v&k=v 形式，签名的规范化表示。
func sortedParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// sign 生成 x-deribit-sig 头。secret 参与散列但从不上送。
func (d *Driver) sign(action string, params map[string]string, tstamp int64) string {
	all := map[string]string{
		"_":       fmt.Sprintf("%d", tstamp),
		"_ackey":  d.Key,
		"_acsec":  d.Secret,
		"_action": action,
	}
	for k, v := range params {
		all[k] = v
	}
	sum := sha256.Sum256([]byte(sortedParams(all)))
	hash := base64.StdEncoding.EncodeToString(sum[:])
	return fmt.Sprintf("%s.%d.%s", d.Key, tstamp, hash)
}

type envelope struct {
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// call 发起一次带签名的 API 调用并把 result 解码到 out。
// 公共端点用 GET + query，私有端点默认 POST + form，可用 methodOverride 覆盖。
func (d *Driver) call(action string, params map[string]string, methodOverride string, out interface{}) error {
	if d.Key == "" || d.Secret == "" {
		return fmt.Errorf("deribit: missing api key or secret")
	}
	metrics.APICalls.WithLabelValues(venue, action).Inc()

	method := http.MethodPost
	if strings.HasPrefix(action, "/api/v1/public") {
		method = http.MethodGet
	}
	if methodOverride != "" {
		method = methodOverride
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	return d.Retry.Do(venue, func() error {
		endpoint := d.BaseURL + action
		var body io.Reader
		if method == http.MethodGet {
			endpoint += "?" + form.Encode()
		} else {
			body = strings.NewReader(form.Encode())
		}

		req, err := http.NewRequest(method, endpoint, body)
		if err != nil {
			return err
		}
		tstamp := timeNowMillis()
		req.Header.Set("x-deribit-sig", d.sign(action, params, tstamp))
		if method != http.MethodGet {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := d.HTTPClient.Do(req)
		if err != nil {
			return remapConnReset(venue, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return remapConnReset(venue, err)
		}

		if resp.StatusCode != http.StatusOK {
			d.log.Error("deribit api error",
				zap.String("action", action),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", raw))
			return &api.VenueError{Venue: venue, Status: resp.StatusCode, Body: string(raw)}
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// 状态码 200 但响应不是 JSON：按纯文本成功处理
			return nil
		}
		if len(env.Error) > 0 && string(env.Error) != "null" && string(env.Error) != "false" && string(env.Error) != "0" {
			return fmt.Errorf("deribit: %s - %s", string(env.Error), env.Message)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("deribit: decode result: %w", err)
			}
		}
		return nil
	})
}

// AddSymbol 校验符号存在并记录合约元数据。重复调用只会刷新元数据。
func (d *Driver) AddSymbol(symbol string) error {
	var instruments []instrumentInfo
	if err := d.call("/api/v1/public/getinstruments", map[string]string{"expired": "false"}, "", &instruments); err != nil {
		return err
	}
	for _, inst := range instruments {
		if strings.EqualFold(inst.InstrumentName, symbol) {
			d.mu.Lock()
			d.instrument[strings.ToLower(symbol)] = inst
			d.mu.Unlock()
			return nil
		}
	}
	d.log.Error("symbol not accessible on deribit", zap.String("symbol", symbol))
	return nil
}

// SymbolDetails 提供合约元数据给撮合引擎的 SymbolData。
func (d *Driver) SymbolDetails(symbol string) (api.SymbolInfo, error) {
	d.mu.Lock()
	inst, ok := d.instrument[strings.ToLower(symbol)]
	d.mu.Unlock()
	if !ok {
		return api.SymbolInfo{}, fmt.Errorf("deribit: unknown symbol %s", symbol)
	}
	info := api.SymbolInfo{
		MinOrderSize: inst.MinTradeSize,
		// 合约数量是整数张
		AssetPrecision: 0,
		PricePrecision: decimalsOf(inst.TickSize),
	}
	if info.MinOrderSize <= 0 {
		info.MinOrderSize = 1
	}
	return info, nil
}

func decimalsOf(step float64) int {
	if step <= 0 {
		return 2
	}
	dp := 0
	for step < 1 && dp < 10 {
		step *= 10
		dp++
	}
	return dp
}

type bookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type orderBook struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
	Last float64     `json:"last"`
}

// Ticker 返回盘口。若 websocket 流保持了新鲜快照则直接使用，省一次 REST 往返。
func (d *Driver) Ticker(symbol string) (api.Ticker, error) {
	d.mu.Lock()
	if c, ok := d.cached[strings.ToLower(symbol)]; ok && time.Since(c.at) < time.Second {
		d.mu.Unlock()
		return c.ticker, nil
	}
	d.mu.Unlock()

	var book orderBook
	err := d.call("/api/v1/public/getorderbook", map[string]string{"instrument": strings.ToUpper(symbol)}, "", &book)
	if err != nil {
		return api.Ticker{}, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return api.Ticker{}, fmt.Errorf("deribit: empty order book for %s", symbol)
	}
	return api.Ticker{
		Bid:       book.Bids[0].Price,
		Ask:       book.Asks[0].Price,
		LastPrice: book.Last,
	}, nil
}

// WalletBalances Deribit 全是合约，没有可报告的钱包余额。
func (d *Driver) WalletBalances() ([]api.Balance, error) {
	return []api.Balance{}, nil
}

type rawOrder struct {
	OrderID        json.Number `json:"orderId"`
	Direction      string      `json:"direction"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filledQuantity"`
	State          string      `json:"state"`
	Type           string      `json:"type"`
	Price          float64     `json:"price"`
	Amount         float64     `json:"amount"`
}

type orderResult struct {
	Order rawOrder `json:"order"`
}

// remapOrder 把 Deribit 的订单格式映射为标准订单。
func remapOrder(o rawOrder) api.Order {
	return api.Order{
		ID:        o.OrderID.String(),
		Side:      api.Side(o.Direction),
		Amount:    o.Quantity,
		Remaining: o.Quantity - o.FilledQuantity,
		Executed:  o.FilledQuantity,
		Filled:    o.Quantity == o.FilledQuantity,
		Open:      o.State == "open" || (o.State == "untriggered" && o.Type == "stop_market"),
		Type:      o.Type,
		Price:     o.Price,
		RawAmount: o.Amount,
	}
}

// LimitOrder 下限价单。
func (d *Driver) LimitOrder(symbol string, amount, price float64, side api.Side, postOnly, reduceOnly bool) (api.Order, error) {
	params := map[string]string{
		"instrument":    strings.ToUpper(symbol),
		"type":          "limit",
		"quantity":      fmt.Sprintf("%.0f", util.RoundDown(amount, 0)),
		"price":         formatFloat(price),
		"time_in_force": "good_till_cancel",
		"postOnly":      fmt.Sprintf("%t", postOnly),
		"reduceOnly":    fmt.Sprintf("%t", reduceOnly),
	}
	var res orderResult
	if err := d.call("/api/v1/private/"+string(side), params, "", &res); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(res.Order), nil
}

// MarketOrder 下市价单。
func (d *Driver) MarketOrder(symbol string, amount float64, side api.Side, _ bool) (api.Order, error) {
	params := map[string]string{
		"instrument": strings.ToUpper(symbol),
		"type":       "market",
		"quantity":   fmt.Sprintf("%.0f", util.RoundDown(amount, 0)),
	}
	var res orderResult
	if err := d.call("/api/v1/private/"+string(side), params, "", &res); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(res.Order), nil
}

// StopOrder 下止损市价单。trigger 为 index 时用指数价触发，否则用标记价。
func (d *Driver) StopOrder(symbol string, amount, price float64, side api.Side, trigger string) (api.Order, error) {
	execInst := "mark_price"
	if trigger == api.TriggerIndex {
		execInst = "index_price"
	}
	params := map[string]string{
		"instrument":    strings.ToUpper(symbol),
		"type":          "stop_market",
		"quantity":      fmt.Sprintf("%.0f", util.RoundDown(amount, 0)),
		"stopPx":        formatFloat(price),
		"execInst":      execInst,
		"time_in_force": "good_til_cancelled",
		"reduceOnly":    "true",
	}
	var res orderResult
	if err := d.call("/api/v1/private/"+string(side), params, "", &res); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(res.Order), nil
}

// ActiveOrders 查询未完成订单，side 为 all 时不过滤。
func (d *Driver) ActiveOrders(symbol string, side api.Side) ([]api.Order, error) {
	params := map[string]string{
		"instrument": strings.ToUpper(symbol),
		"type":       "any",
	}
	var raw []rawOrder
	if err := d.call("/api/v1/private/getopenorders", params, "", &raw); err != nil {
		return nil, err
	}
	orders := make([]api.Order, 0, len(raw))
	for _, o := range raw {
		if side == api.Buy || side == api.Sell {
			if api.Side(o.Direction) != side {
				continue
			}
		}
		orders = append(orders, remapOrder(o))
	}
	return orders, nil
}

// CancelOrders 逐笔撤单。单笔失败只记录日志，不阻止其余订单的撤销。
func (d *Driver) CancelOrders(orders []api.Order) error {
	for _, o := range orders {
		if err := d.call("/api/v1/private/cancel", map[string]string{"orderId": o.ID}, "", nil); err != nil {
			d.log.Error("cancel failed, continuing batch",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		metrics.OrdersCancelled.WithLabelValues(venue).Inc()
	}
	return nil
}

// Order 查询单笔订单状态。
func (d *Driver) Order(ref api.Order) (api.Order, error) {
	var o rawOrder
	if err := d.call("/api/v1/private/orderstate", map[string]string{"orderId": ref.ID}, http.MethodGet, &o); err != nil {
		return api.Order{}, err
	}
	return remapOrder(o), nil
}

// UpdateOrderPrice 原地改价（Deribit 支持 edit，不需要撤单重下）。
func (d *Driver) UpdateOrderPrice(ref api.Order, price float64) (api.Order, error) {
	params := map[string]string{
		"orderId": ref.ID,
		"amount":  formatFloat(ref.RawAmount),
	}
	switch ref.Type {
	case "stop_market":
		params["stopPx"] = formatFloat(price)
	case "stop_limit":
		params["stopPx"] = formatFloat(price)
		params["price"] = formatFloat(price)
	default:
		params["price"] = formatFloat(price)
	}
	var res orderResult
	if err := d.call("/api/v1/private/edit", params, "", &res); err != nil {
		return api.Order{}, err
	}
	return remapOrder(res.Order), nil
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
