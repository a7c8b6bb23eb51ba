// Package api defines the venue-independent driver contract.
// 每个交易所只需要实现 Driver 接口加上自己的签名/限速/重试策略即可接入。
package api

// Side 订单方向。ActiveOrders 额外接受 SideAll。
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
	// SideAll 仅用于查询过滤
	SideAll Side = "all"
)

// Opposite 返回另一侧。
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid 判断是否是可下单的方向。
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Order 标准化订单记录。前七个字段是所有命令逻辑唯一可依赖的契约；
// Type/Price/RawAmount 是交易所私有的附加信息，仅供驱动自身改价/撤单使用。
type Order struct {
	ID        string
	Side      Side
	Amount    float64
	Remaining float64
	Executed  float64
	Filled    bool
	Open      bool

	Type      string
	Price     float64
	RawAmount float64
}

// Ticker 盘口快照。
type Ticker struct {
	Bid       float64
	Ask       float64
	LastPrice float64
}

// Mid 返回买卖中间价。
func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Balance 钱包余额，币种统一小写。
type Balance struct {
	Currency  string
	Amount    float64
	Available float64
}

// 止损触发价来源
const (
	TriggerLast  = "last"
	TriggerIndex = "index"
	TriggerMark  = "mark"
)

// Driver 是撮合引擎消费的唯一交易所接口。
type Driver interface {
	// Init 连接生命周期钩子，在交易所被使用前调用一次。
	Init() error
	// Terminate 在交易所销毁前调用。
	Terminate() error
	// AddSymbol 在首次使用 symbol 前调用，驱动应校验符号并抓取元数据。幂等。
	AddSymbol(symbol string) error

	Ticker(symbol string) (Ticker, error)
	WalletBalances() ([]Balance, error)

	LimitOrder(symbol string, amount, price float64, side Side, postOnly, reduceOnly bool) (Order, error)
	MarketOrder(symbol string, amount float64, side Side, isEverything bool) (Order, error)
	StopOrder(symbol string, amount, price float64, side Side, trigger string) (Order, error)

	ActiveOrders(symbol string, side Side) ([]Order, error)
	// CancelOrders 必须容忍单笔失败：一笔撤单失败不能中断其余订单的撤销。
	CancelOrders(orders []Order) error
	// Order 查询订单。查询失败时驱动可以基于本地引用降级返回一个
	// 非 open、非 filled 的订单，让轮询方不至于崩溃。
	Order(ref Order) (Order, error)
	// UpdateOrderPrice 改价并返回新订单（id 可能变化）。
	UpdateOrderPrice(ref Order, price float64) (Order, error)
}

// SymbolInfo 交易对元数据：最小下单量与数量/价格的取整精度。
type SymbolInfo struct {
	MinOrderSize   float64
	AssetPrecision int
	PricePrecision int
}

// MetadataProvider 可选接口：驱动在 AddSymbol 之后提供交易对元数据。
// 不实现该接口的驱动由配置提供默认元数据。
type MetadataProvider interface {
	SymbolDetails(symbol string) (SymbolInfo, error)
}

// Base 为 Driver 提供默认实现：生命周期钩子空操作，其余全部 ErrNotImplemented。
// 具体驱动内嵌 Base 后按能力覆盖。
type Base struct{}

func (Base) Init() error                   { return nil }
func (Base) Terminate() error              { return nil }
func (Base) AddSymbol(symbol string) error { return nil }

func (Base) Ticker(string) (Ticker, error)      { return Ticker{}, ErrNotImplemented }
func (Base) WalletBalances() ([]Balance, error) { return nil, ErrNotImplemented }

func (Base) LimitOrder(string, float64, float64, Side, bool, bool) (Order, error) {
	return Order{}, ErrNotImplemented
}

func (Base) MarketOrder(string, float64, Side, bool) (Order, error) {
	return Order{}, ErrNotImplemented
}

func (Base) StopOrder(string, float64, float64, Side, string) (Order, error) {
	return Order{}, ErrNotImplemented
}

func (Base) ActiveOrders(string, Side) ([]Order, error) { return nil, ErrNotImplemented }
func (Base) CancelOrders([]Order) error                 { return ErrNotImplemented }
func (Base) Order(Order) (Order, error)                 { return Order{}, ErrNotImplemented }

func (Base) UpdateOrderPrice(Order, float64) (Order, error) {
	return Order{}, ErrNotImplemented
}
