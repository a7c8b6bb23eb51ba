// Package exchange is the trading engine core: it owns the venue driver,
// per-symbol metadata and the session bookkeeping, dispatches declarative
// commands and runs the background scheduler that polls long running tasks.
// 命令要么一步完成，要么注册成算法订单交给调度器轮询到结束。
package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/infrastructure/alert"
	"algo-trader-go/infrastructure/logger"
	"algo-trader-go/metrics"
	"algo-trader-go/util"
)

// sessionOrder 归属于某个会话和标签的已下订单。
type sessionOrder struct {
	session string
	tag     string
	order   api.Order
}

// algoOrder 一个在途的算法命令。cancelled 是唯一可变字段，
// 也是后台循环消费的唯一取消信号。
type algoOrder struct {
	id        string
	side      string
	session   string
	tag       string
	cancelled bool
}

// backgroundTask 命令实例与其最近一次观测到的状态。
type backgroundTask struct {
	task  Task
	state State
}

// Exchange 一条交易所连接的协调器。独占自己的符号元数据、
// 会话订单表和算法订单注册表，从不与其它实例共享可变状态。
type Exchange struct {
	Name string

	MinPollingDelay int
	MaxPollingDelay int

	api         api.Driver
	credentials Credentials
	refCount    int

	log    *logger.Logger
	alerts *alert.Manager

	mu              sync.Mutex
	symbols         map[string]api.SymbolInfo
	sessionOrders   []sessionOrder
	algoOrders      []*algoOrder
	backgroundTasks []*backgroundTask
	isWaiting       bool

	commands map[string]commandEntry

	// 测试可注入
	sleep func(time.Duration)
	now   func() time.Time
}

// Credentials 建连凭据，管理器用它判断连接能否复用。
type Credentials struct {
	Exchange   string `yaml:"exchange"`
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
	Endpoint   string `yaml:"endpoint"`
}

// New 创建交易所协调器。
func New(name string, driver api.Driver, credentials Credentials, log *logger.Logger, alerts *alert.Manager) *Exchange {
	if log == nil {
		log = logger.Nop()
	}
	if alerts == nil {
		alerts = alert.NewManager(nil, time.Minute)
	}
	return &Exchange{
		Name:            name,
		MinPollingDelay: 0,
		MaxPollingDelay: 5,
		api:             driver,
		credentials:     credentials,
		refCount:        1,
		log:             log,
		alerts:          alerts,
		symbols:         make(map[string]api.SymbolInfo),
		commands:        buildCommandRegistry(),
		sleep:           time.Sleep,
		now:             time.Now,
	}
}

// API 返回底层驱动。
func (e *Exchange) API() api.Driver { return e.api }

// Init 建立连接。
func (e *Exchange) Init() error { return e.api.Init() }

// Terminate 关闭连接。
func (e *Exchange) Terminate() error { return e.api.Terminate() }

// AddSymbol 注册一个交易对：驱动校验符号并抓取元数据。幂等，
// 重复调用只是刷新元数据。不提供元数据的驱动用保守默认值。
func (e *Exchange) AddSymbol(symbol string) error {
	if err := e.api.AddSymbol(symbol); err != nil {
		return err
	}

	info := api.SymbolInfo{MinOrderSize: 0.0001, AssetPrecision: 8, PricePrecision: 2}
	if mp, ok := e.api.(api.MetadataProvider); ok {
		if detail, err := mp.SymbolDetails(symbol); err == nil {
			info = detail
		}
	}

	e.mu.Lock()
	e.symbols[strings.ToLower(symbol)] = info
	e.mu.Unlock()
	return nil
}

// symbolInfo 读取已注册交易对的元数据。
func (e *Exchange) symbolInfo(symbol string) api.SymbolInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.symbols[strings.ToLower(symbol)]; ok {
		return info
	}
	return api.SymbolInfo{MinOrderSize: 0.0001, AssetPrecision: 8, PricePrecision: 2}
}

// RoundPrice 按交易对的价格精度向下取整。
func (e *Exchange) RoundPrice(symbol string, price float64) float64 {
	return util.RoundDown(price, e.symbolInfo(symbol).PricePrecision)
}

// RoundAsset 按交易对的数量精度四舍五入。
func (e *Exchange) RoundAsset(symbol string, amount float64) float64 {
	return util.Round(amount, e.symbolInfo(symbol).AssetPrecision)
}

// AddToSession 把订单记入会话。
func (e *Exchange) AddToSession(session, tag string, order api.Order) {
	e.mu.Lock()
	e.sessionOrders = append(e.sessionOrders, sessionOrder{session: session, tag: tag, order: order})
	e.mu.Unlock()
}

// RemoveFromSession 把订单移出会话。
func (e *Exchange) RemoveFromSession(session string, order api.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.sessionOrders[:0]
	for _, so := range e.sessionOrders {
		if so.session == session && so.order.ID == order.ID {
			continue
		}
		kept = append(kept, so)
	}
	e.sessionOrders = kept
}

// UpdateInSession 用新订单替换旧订单，订单 id 允许变化（撤单重下的场合）。
func (e *Exchange) UpdateInSession(session, tag string, oldOrder, newOrder api.Order) {
	e.RemoveFromSession(session, oldOrder)
	e.AddToSession(session, tag, newOrder)
}

// FindInSession 按会话加标签查订单，tag 为空时匹配该会话的全部订单。
func (e *Exchange) FindInSession(session, tag string) []api.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var found []api.Order
	for _, so := range e.sessionOrders {
		if so.session == session && (tag == "" || so.tag == tag) {
			found = append(found, so.order)
		}
	}
	return found
}

// StartAlgoOrder 注册一个算法订单。
func (e *Exchange) StartAlgoOrder(id, side, session, tag string) {
	e.mu.Lock()
	e.algoOrders = append(e.algoOrders, &algoOrder{id: id, side: side, session: session, tag: tag})
	e.mu.Unlock()
}

// EndAlgoOrder 注销一个算法订单。
func (e *Exchange) EndAlgoOrder(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.algoOrders[:0]
	for _, ao := range e.algoOrders {
		if ao.id != id {
			kept = append(kept, ao)
		}
	}
	e.algoOrders = kept
}

// IsAlgoOrderCancelled 查询取消标记。不在注册表里的订单视为已取消。
func (e *Exchange) IsAlgoOrderCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ao := range e.algoOrders {
		if ao.id == id {
			return ao.cancelled
		}
	}
	return true
}

// CancelAlgoOrders 按选择器给算法订单打取消标记。真正撤掉交易所订单
// 是每个任务 OnCancelled 的职责，这里只发信号。
func (e *Exchange) CancelAlgoOrders(which, tag, session string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ao := range e.algoOrders {
		all := which == "all"
		buy := which == "buy" && ao.side == which
		sell := which == "sell" && ao.side == which
		tagged := which == "tagged" && ao.tag == tag
		bySession := which == "session" && ao.session == session
		if all || buy || sell || tagged || bySession {
			ao.cancelled = true
		}
	}
}

// ExecuteCommand 在交易所上执行一条命令。未知命令与普通命令错误被记录并
// 吞掉（返回 nil 结果），只有 ErrAbortSequence 会向外传播，中止整个序列。
func (e *Exchange) ExecuteCommand(symbol, name string, args []Arg, session string) (interface{}, error) {
	entry, ok := e.commands[strings.ToLower(name)]
	if !ok {
		e.log.Error("unknown command", zap.String("command", name), zap.Error(ErrUnknownCommand))
		metrics.CommandErrors.WithLabelValues(name).Inc()
		return nil, nil
	}

	ctx := &Context{Ex: e, Symbol: symbol, Session: session}

	var result interface{}
	var err error
	switch entry.kind {
	case kindTask:
		task := entry.make(ctx)
		if err = task.Setup(args); err == nil {
			result, err = e.AddTask(task)
		}
	default:
		result, err = entry.fn(ctx, args)
	}

	if err != nil {
		if isAbort(err) {
			e.log.Error("command failed, stopping all command execution",
				zap.String("command", name), zap.Error(err))
			return nil, err
		}
		e.log.Error("command failed", zap.String("command", name), zap.Error(err))
		metrics.CommandErrors.WithLabelValues(name).Inc()
		return nil, nil
	}
	return result, nil
}

func isAbort(err error) bool {
	for e := err; e != nil; {
		if e == ErrAbortSequence {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// AddTask 执行任务的第一步。已完成的直接返回结果；还要继续的注册成
// 算法订单并加入后台任务表，同时立刻返回目前已有的部分结果。
func (e *Exchange) AddTask(task Task) (interface{}, error) {
	state, err := task.Execute()
	if err != nil {
		return task.Results(), err
	}
	if state == Finished {
		return task.Results(), nil
	}

	e.StartAlgoOrder(task.ID(), task.Side(), taskSession(task), task.Tag())
	e.mu.Lock()
	e.backgroundTasks = append(e.backgroundTasks, &backgroundTask{task: task, state: state})
	metrics.BackgroundTasks.Set(float64(len(e.backgroundTasks)))
	e.mu.Unlock()

	return task.Results(), nil
}

// taskSession 从任务上下文里取会话 id。
func taskSession(task Task) string {
	if tb, ok := task.(interface{ Session() string }); ok {
		return tb.Session()
	}
	return ""
}

// WaitSeconds 等待指定秒数。小于 1 秒时仍然让出 50ms，给其它任务机会。
func (e *Exchange) WaitSeconds(delay int) {
	wait := time.Duration(delay) * time.Second
	if delay < 1 {
		wait = 50 * time.Millisecond
	}
	e.sleep(wait)
}

// WaitForBackgroundTasks 后台任务调度循环。同一时刻只允许一个循环在跑，
// 撞上的调用者记一条日志直接返回。只要还有任务：睡 waitTime 秒，
// 对所有任务过一遍，有实际进展就把间隔重置到最小值，否则线性加一
// 直到最大值。单个任务抛出的错误向外传播（先清掉重入标记）。
func (e *Exchange) WaitForBackgroundTasks() error {
	e.mu.Lock()
	if e.isWaiting {
		e.mu.Unlock()
		e.log.Info("another process already waiting for background tasks")
		return nil
	}
	e.isWaiting = true
	e.pruneFinishedLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isWaiting = false
		e.mu.Unlock()
	}()

	waitTime := e.MinPollingDelay
	for e.taskCount() > 0 {
		e.WaitSeconds(waitTime)

		next := waitTime + 1
		if next > e.MaxPollingDelay {
			next = e.MaxPollingDelay
		}
		updated, err := e.backgroundTasksSinglePass(next)
		if err != nil {
			return err
		}
		waitTime = updated

		e.mu.Lock()
		e.pruneFinishedLocked()
		e.mu.Unlock()
	}
	return nil
}

// backgroundTasksSinglePass 给所有后台任务各推进一步，按注册顺序访问。
// 返回下一轮的等待时间。
func (e *Exchange) backgroundTasksSinglePass(waitTime int) (int, error) {
	e.mu.Lock()
	tasks := make([]*backgroundTask, len(e.backgroundTasks))
	copy(tasks, e.backgroundTasks)
	e.mu.Unlock()

	updateWait := waitTime
	for _, item := range tasks {
		if e.IsAlgoOrderCancelled(item.task.ID()) {
			if err := item.task.OnCancelled(); err != nil {
				e.log.Error("task cleanup failed", zap.String("task", item.task.ID()), zap.Error(err))
			}
			item.state = Finished
		} else {
			state, fresh, err := item.task.BackgroundExecute()
			if err != nil {
				item.state = Finished
				e.EndAlgoOrder(item.task.ID())
				return updateWait, err
			}
			if fresh {
				updateWait = e.MinPollingDelay
			}
			item.state = state
		}

		if item.state == Finished {
			e.EndAlgoOrder(item.task.ID())
		}
	}
	return updateWait, nil
}

// pruneFinishedLocked 清掉已完成的后台任务，调用方持锁。
func (e *Exchange) pruneFinishedLocked() {
	kept := e.backgroundTasks[:0]
	for _, item := range e.backgroundTasks {
		if item.state != Finished {
			kept = append(kept, item)
		}
	}
	e.backgroundTasks = kept
	metrics.BackgroundTasks.Set(float64(len(e.backgroundTasks)))
}

// taskCount 当前后台任务数。
func (e *Exchange) taskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.backgroundTasks)
}

// Ticker 当前盘口。
func (e *Exchange) Ticker(symbol string) (api.Ticker, error) {
	return e.api.Ticker(symbol)
}

// matches 判断凭据是否与本连接一致。
func (e *Exchange) matches(c Credentials) bool {
	return e.credentials == c
}

// String 打日志用。
func (e *Exchange) String() string {
	return fmt.Sprintf("%s exchange", e.Name)
}
