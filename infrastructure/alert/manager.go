package alert

import (
	"fmt"
	"sync"
	"time"
)

// Alert 面向用户的交易事件通知
type Alert struct {
	Level     string // "INFO", "WARNING", "ERROR"
	Event     string // "order_placed", "order_filled", "order_cancelled", "rebalance", "notify"
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 通知通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 把引擎的下单/成交/撤单/再平衡事件分发到所有通道。
// 相同 level+message 的重复告警按 throttle 间隔限流，防止轮询循环刷屏。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 重置某个key的限流记录
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// NewManager 创建通知管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Send 分发通知。单个通道失败不影响其余通道；全部失败才返回错误。
func (m *Manager) Send(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	sent := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			sent++
		}
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// OrderPlaced 下单成功事件
func (m *Manager) OrderPlaced(venue, symbol string, side string, amount, price float64) {
	_ = m.Send(Alert{
		Level:   "INFO",
		Event:   "order_placed",
		Message: fmt.Sprintf("%s %s %v @ %v on %s", side, symbol, amount, price, venue),
		Fields: map[string]interface{}{
			"venue": venue, "symbol": symbol, "side": side, "amount": amount, "price": price,
		},
	})
}

// OrderFilled 成交事件
func (m *Manager) OrderFilled(venue, symbol string, side string, amount, price float64) {
	_ = m.Send(Alert{
		Level:   "INFO",
		Event:   "order_filled",
		Message: fmt.Sprintf("filled %s %s %v @ %v on %s", side, symbol, amount, price, venue),
		Fields: map[string]interface{}{
			"venue": venue, "symbol": symbol, "side": side, "amount": amount, "price": price,
		},
	})
}

// OrderCancelled 撤单事件
func (m *Manager) OrderCancelled(venue, symbol string, count int) {
	_ = m.Send(Alert{
		Level:   "INFO",
		Event:   "order_cancelled",
		Message: fmt.Sprintf("cancelled %d orders for %s on %s", count, symbol, venue),
		Fields:  map[string]interface{}{"venue": venue, "symbol": symbol, "count": count},
	})
}

// Rebalanced 再平衡事件（shuffle/track/flow）
func (m *Manager) Rebalanced(venue, symbol, mode string) {
	_ = m.Send(Alert{
		Level:   "INFO",
		Event:   "rebalance",
		Message: fmt.Sprintf("rebalanced %s book on %s (%s)", symbol, venue, mode),
		Fields:  map[string]interface{}{"venue": venue, "symbol": symbol, "mode": mode},
	})
}

// Notify 自由文本通知（notify 命令）
func (m *Manager) Notify(message string) {
	_ = m.Send(Alert{Level: "INFO", Event: "notify", Message: message})
}

// Error 错误事件
func (m *Manager) Error(message string, fields map[string]interface{}) {
	_ = m.Send(Alert{Level: "ERROR", Event: "error", Message: message, Fields: fields})
}

// AddChannel 添加通知通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}
