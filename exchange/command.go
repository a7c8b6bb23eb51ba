package exchange

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// State 命令状态机。两个观测状态，int 底层类型给扩展留空间。
type State int

const (
	// KeepGoing 命令还有后续工作，需要继续后台轮询
	KeepGoing State = iota
	// Finished 终态，不再轮询
	Finished
)

// ErrUnknownCommand 命令名不在白名单里。
var ErrUnknownCommand = errors.New("unknown command")

// ErrAbortSequence 命令要求中止整个命令序列。
// 这是唯一会从 ExecuteCommand 向外传播的命令错误。
var ErrAbortSequence = errors.New("abort sequence")

// ValidationError 命令参数不合法。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid arguments: " + e.Reason }

// Arg 一条命令参数。名字为空时按位置匹配。
type Arg struct {
	Name  string
	Value string
	Index int
}

// Context 命令的执行上下文，借用所属交易所的引用。
type Context struct {
	Ex      *Exchange
	Symbol  string
	Session string
}

// Task 状态机式命令。构造一次，Setup 绑定参数，Execute 跑第一步，
// 未完成的由调度器通过 BackgroundExecute 轮询推进。
type Task interface {
	// Setup 校验并绑定参数
	Setup(args []Arg) error
	// Execute 执行第一步并返回状态
	Execute() (State, error)
	// BackgroundExecute 推进一个轮询步。fresh 为 true 表示这一步有实际进展
	// （成交、撤单等），调度器会把轮询间隔重置到最小值。
	BackgroundExecute() (state State, fresh bool, err error)
	// OnCancelled 在观测到取消后代替 BackgroundExecute 被调用，
	// 负责清理自己下的子订单，之后 Results 仍然可查。
	OnCancelled() error
	// Results 任何时刻都可调用，返回目前为止的最佳结果。
	Results() interface{}

	// ID 算法订单注册用的唯一标识
	ID() string
	// Side 声明的方向，注册算法订单时使用
	Side() string
	// Tag 会话标签
	Tag() string
}

// CommandFunc 函数式命令：一步到位，无后台状态。
type CommandFunc func(ctx *Context, args []Arg) (interface{}, error)

// TaskFunc 状态机命令的构造器。
type TaskFunc func(ctx *Context) Task

type commandKind int

const (
	kindFunc commandKind = iota
	kindTask
)

// commandEntry 注册表的一项：要么是函数命令，要么是状态机命令的构造器。
type commandEntry struct {
	kind commandKind
	fn   CommandFunc
	make TaskFunc
}

// buildCommandRegistry 启动时构建一次命令注册表，键统一小写。
// 长短两种名字都注册，向后兼容老的命令拼写。
func buildCommandRegistry() map[string]commandEntry {
	reg := make(map[string]commandEntry)

	addFunc := func(entry CommandFunc, names ...string) {
		for _, n := range names {
			reg[strings.ToLower(n)] = commandEntry{kind: kindFunc, fn: entry}
		}
	}
	addTask := func(make TaskFunc, names ...string) {
		for _, n := range names {
			reg[strings.ToLower(n)] = commandEntry{kind: kindTask, make: make}
		}
	}

	// 普通订单
	addFunc(limitOrderCommand, "limit", "limitOrder")
	addFunc(marketOrderCommand, "market", "marketOrder")
	addTask(newStopOrderTask, "stopMarket", "stopMarketOrder")

	// 算法订单
	addFunc(scaledOrderCommand, "scaled", "scaledOrder")
	addTask(newPingPongTask, "pingPong", "pingPongOrder")
	addTask(newTrailingStopTask, "trailingStopLoss", "trailingStopLossOrder")

	// 其它命令
	addFunc(cancelOrdersCommand, "cancel", "cancelOrders")
	addFunc(waitCommand, "wait")
	addFunc(notifyCommand, "notify")
	addFunc(balanceCommand, "balance")
	addFunc(continueCommand, "continue")
	addFunc(stopCommand, "stop")

	return reg
}

// AssignParams 把输入参数按名字（忽略大小写）或位置解析到期望的参数表上，
// 没匹配上的用默认值。expected 的顺序决定位置参数的含义。
func AssignParams(expected []Param, args []Arg) map[string]string {
	result := make(map[string]string, len(expected))
	for i, p := range expected {
		result[p.Name] = p.Default
		for _, a := range args {
			if strings.EqualFold(a.Name, p.Name) || (a.Name == "" && a.Index == i) {
				result[p.Name] = a.Value
			}
		}
	}
	return result
}

// Param 命令期望的一个参数及其默认值。
type Param struct {
	Name    string
	Default string
}

// taskBase 状态机命令的公共部分。
type taskBase struct {
	ctx  *Context
	id   string
	side string
	tag  string
}

func (t *taskBase) ID() string      { return t.id }
func (t *taskBase) Side() string    { return t.side }
func (t *taskBase) Tag() string     { return t.tag }
func (t *taskBase) Session() string { return t.ctx.Session }

var taskSeq int64

// newTaskID 生成任务标识。
func newTaskID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&taskSeq, 1))
}
