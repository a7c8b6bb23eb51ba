// Package coinbase implements the api.Driver contract for Coinbase Pro.
// 请求用 CB-ACCESS 系列头做 HMAC-SHA256 签名，所有调用经过固定节奏的限速器。
package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/infrastructure/logger"
	"algo-trader-go/metrics"
)

const venue = "coinbase"

// 测试可替换的时间源
var timeNow = time.Now

// Driver Coinbase Pro API 驱动
type Driver struct {
	BaseURL    string
	Key        string
	Secret     string
	Passphrase string
	HTTPClient *http.Client
	Pacer      *api.Pacer

	log *logger.Logger

	mu       sync.Mutex
	products map[string]productInfo
}

type productInfo struct {
	ID             string `json:"id"`
	BaseMinSize    string `json:"base_min_size"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
}

// New 创建 Coinbase 驱动。
func New(key, secret, passphrase, endpoint string, log *logger.Logger) *Driver {
	if endpoint == "" {
		endpoint = "https://api.pro.coinbase.com"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Driver{
		BaseURL:    endpoint,
		Key:        key,
		Secret:     secret,
		Passphrase: passphrase,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Pacer:      api.NewPacer(250 * time.Millisecond),
		log:        log,
		products:   make(map[string]productInfo),
	}
}

// Init 连接生命周期钩子。
func (d *Driver) Init() error { return nil }

// Terminate 关闭驱动。
func (d *Driver) Terminate() error { return nil }

// sign 计算 CB-ACCESS-SIGN：timestamp+method+path+body 的 HMAC-SHA256，
// 密钥是 base64 解码后的 secret。
func (d *Driver) sign(timestamp, method, path, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(d.Secret)
	if err != nil {
		return "", fmt.Errorf("coinbase: secret is not valid base64: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// call 发起一次 API 调用。私有端点带签名头，公共端点直接访问。
// 调用前统一过限速器，保证相邻请求至少间隔 250ms。
func (d *Driver) call(method, path string, payload, out interface{}, private bool) error {
	metrics.APICalls.WithLabelValues(venue, path).Inc()
	d.Pacer.Wait()

	var body string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = string(raw)
	}

	req, err := http.NewRequest(method, d.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "algo-trader-go")

	if private {
		if d.Key == "" || d.Secret == "" || d.Passphrase == "" {
			return fmt.Errorf("coinbase: missing api credentials")
		}
		timestamp := strconv.FormatInt(timeNow().Unix(), 10)
		sig, err := d.sign(timestamp, method, path, body)
		if err != nil {
			return err
		}
		req.Header.Set("CB-ACCESS-KEY", d.Key)
		req.Header.Set("CB-ACCESS-SIGN", sig)
		req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("CB-ACCESS-PASSPHRASE", d.Passphrase)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.log.Error("coinbase api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return &api.VenueError{Venue: venue, Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("coinbase: decode response: %w", err)
		}
	}
	return nil
}

// AddSymbol 校验产品存在并缓存精度元数据。
func (d *Driver) AddSymbol(symbol string) error {
	var products []productInfo
	if err := d.call(http.MethodGet, "/products", nil, &products, false); err != nil {
		return err
	}
	for _, p := range products {
		if strings.EqualFold(p.ID, symbol) {
			d.mu.Lock()
			d.products[strings.ToLower(symbol)] = p
			d.mu.Unlock()
			return nil
		}
	}
	d.log.Error("symbol not accessible on coinbase", zap.String("symbol", symbol))
	return nil
}

// SymbolDetails 提供产品元数据给撮合引擎的 SymbolData。
func (d *Driver) SymbolDetails(symbol string) (api.SymbolInfo, error) {
	d.mu.Lock()
	p, ok := d.products[strings.ToLower(symbol)]
	d.mu.Unlock()
	if !ok {
		return api.SymbolInfo{}, fmt.Errorf("coinbase: unknown symbol %s", symbol)
	}
	info := api.SymbolInfo{
		MinOrderSize:   parseFloat(p.BaseMinSize),
		AssetPrecision: decimalsOfStep(p.BaseIncrement),
		PricePrecision: decimalsOfStep(p.QuoteIncrement),
	}
	if info.MinOrderSize <= 0 {
		info.MinOrderSize = 0.001
	}
	return info, nil
}

// decimalsOfStep 把 "0.01" 这类步长字符串转成小数位数。
func decimalsOfStep(step string) int {
	i := strings.IndexByte(step, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(step[i+1:], "0"))
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

type rawTicker struct {
	Bid   string `json:"bid"`
	Ask   string `json:"ask"`
	Price string `json:"price"`
}

// Ticker 返回盘口。
func (d *Driver) Ticker(symbol string) (api.Ticker, error) {
	var t rawTicker
	path := "/products/" + strings.ToUpper(symbol) + "/ticker"
	if err := d.call(http.MethodGet, path, nil, &t, false); err != nil {
		return api.Ticker{}, err
	}
	return api.Ticker{
		Bid:       parseFloat(t.Bid),
		Ask:       parseFloat(t.Ask),
		LastPrice: parseFloat(t.Price),
	}, nil
}

type rawAccount struct {
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
}

// WalletBalances 查询账户余额，币种统一小写。
func (d *Driver) WalletBalances() ([]api.Balance, error) {
	var accounts []rawAccount
	if err := d.call(http.MethodGet, "/accounts", nil, &accounts, true); err != nil {
		return nil, err
	}
	balances := make([]api.Balance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, api.Balance{
			Currency:  strings.ToLower(a.Currency),
			Amount:    parseFloat(a.Balance),
			Available: parseFloat(a.Available),
		})
	}
	return balances, nil
}

type rawOrder struct {
	ID         string `json:"id"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	Status     string `json:"status"`
	Type       string `json:"type"`
	Price      string `json:"price"`
	Stop       string `json:"stop"`
	StopPrice  string `json:"stop_price"`
	PostOnly   bool   `json:"post_only"`
	ProductID  string `json:"product_id"`
}

// remapOrder 把 Coinbase 的订单格式映射为标准订单。
// 带 stop 字段的市价单实际上是止损单。
func remapOrder(o rawOrder) api.Order {
	size := parseFloat(o.Size)
	filled := parseFloat(o.FilledSize)
	typ := o.Type
	if o.Type == "market" && o.Stop != "" {
		typ = "stop_market"
	}
	return api.Order{
		ID:        o.ID,
		Side:      api.Side(o.Side),
		Amount:    size,
		Remaining: size - filled,
		Executed:  filled,
		Filled:    size > 0 && size == filled,
		Open:      o.Status == "open" || o.Status == "pending" || o.Status == "active",
		Type:      typ,
		Price:     parseFloat(o.Price),
		RawAmount: size,
	}
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}

// LimitOrder 下限价单。Coinbase 没有 reduceOnly，忽略该参数。
func (d *Driver) LimitOrder(symbol string, amount, price float64, side api.Side, postOnly, _ bool) (api.Order, error) {
	payload := map[string]interface{}{
		"type":       "limit",
		"side":       string(side),
		"product_id": strings.ToUpper(symbol),
		"price":      formatFloat(price),
		"size":       formatFloat(amount),
		"post_only":  postOnly,
	}
	var o rawOrder
	if err := d.call(http.MethodPost, "/orders", payload, &o, true); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(o), nil
}

// MarketOrder 下市价单。
func (d *Driver) MarketOrder(symbol string, amount float64, side api.Side, _ bool) (api.Order, error) {
	payload := map[string]interface{}{
		"type":       "market",
		"side":       string(side),
		"product_id": strings.ToUpper(symbol),
		"size":       formatFloat(amount),
	}
	var o rawOrder
	if err := d.call(http.MethodPost, "/orders", payload, &o, true); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(o), nil
}

// StopOrder 下止损市价单。卖单止损用 loss，买单止损用 entry。
// Coinbase 只支持成交价触发，trigger 参数被忽略。
func (d *Driver) StopOrder(symbol string, amount, price float64, side api.Side, _ string) (api.Order, error) {
	stop := "entry"
	if side == api.Sell {
		stop = "loss"
	}
	payload := map[string]interface{}{
		"type":       "market",
		"side":       string(side),
		"product_id": strings.ToUpper(symbol),
		"size":       formatFloat(amount),
		"stop":       stop,
		"stop_price": formatFloat(price),
	}
	var o rawOrder
	if err := d.call(http.MethodPost, "/orders", payload, &o, true); err != nil {
		return api.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(venue, string(side)).Inc()
	return remapOrder(o), nil
}

// ActiveOrders 查询未完成订单，side 为 all 时不过滤。
func (d *Driver) ActiveOrders(symbol string, side api.Side) ([]api.Order, error) {
	var raw []rawOrder
	path := "/orders?product_id=" + strings.ToUpper(symbol)
	if err := d.call(http.MethodGet, path, nil, &raw, true); err != nil {
		return nil, err
	}
	orders := make([]api.Order, 0, len(raw))
	for _, o := range raw {
		if side == api.Buy || side == api.Sell {
			if api.Side(o.Side) != side {
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
		if err := d.call(http.MethodDelete, "/orders/"+o.ID, nil, nil, true); err != nil {
			d.log.Error("cancel failed, continuing batch",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		metrics.OrdersCancelled.WithLabelValues(venue).Inc()
	}
	return nil
}

// Order 查询单笔订单状态。查询失败（比如订单已被清理）时降级返回一个
// 非 open、非 filled 的记录，轮询方会把它当作已消失的订单处理。
func (d *Driver) Order(ref api.Order) (api.Order, error) {
	var o rawOrder
	if err := d.call(http.MethodGet, "/orders/"+ref.ID, nil, &o, true); err != nil {
		return api.Order{
			ID:       ref.ID,
			Side:     ref.Side,
			Amount:   ref.Amount,
			Executed: ref.Amount,
			Filled:   false,
			Open:     false,
		}, nil
	}
	return remapOrder(o), nil
}

// UpdateOrderPrice Coinbase 不支持原地改价，用撤单重下实现。
// 新订单 id 与旧订单不同，调用方必须以返回值替换本地引用。
func (d *Driver) UpdateOrderPrice(ref api.Order, price float64) (api.Order, error) {
	var current rawOrder
	if err := d.call(http.MethodGet, "/orders/"+ref.ID, nil, &current, true); err != nil {
		return api.Order{}, err
	}
	if err := d.CancelOrders([]api.Order{ref}); err != nil {
		return api.Order{}, err
	}

	size := parseFloat(current.Size)
	side := api.Side(current.Side)
	if current.Type == "market" && current.Stop != "" {
		return d.StopOrder(current.ProductID, size, price, side, "")
	}
	return d.LimitOrder(current.ProductID, size, price, side, current.PostOnly, false)
}
