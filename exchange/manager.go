package exchange

import (
	"fmt"
	"strings"
	"sync"

	"algo-trader-go/api"
	"algo-trader-go/infrastructure/alert"
	"algo-trader-go/infrastructure/logger"
)

// DriverFactory 按凭据建驱动。管理器不关心具体交易所。
type DriverFactory func(c Credentials, log *logger.Logger) (api.Driver, error)

// Manager 管理打开的交易所连接。相同凭据的连接复用并加引用计数，
// 计数归零时才真正断开。
type Manager struct {
	log     *logger.Logger
	alerts  *alert.Manager
	factory map[string]DriverFactory

	mu   sync.Mutex
	open []*Exchange
}

// NewManager 创建连接管理器。
func NewManager(factories map[string]DriverFactory, log *logger.Logger, alerts *alert.Manager) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	normalized := make(map[string]DriverFactory, len(factories))
	for name, f := range factories {
		normalized[strings.ToLower(name)] = f
	}
	return &Manager{log: log, alerts: alerts, factory: normalized}
}

// Open 打开或复用一条交易所连接。已有相同凭据的连接时只加引用。
func (m *Manager) Open(c Credentials) (*Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ex := range m.open {
		if ex.matches(c) {
			ex.refCount++
			return ex, nil
		}
	}

	factory, ok := m.factory[strings.ToLower(c.Exchange)]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", c.Exchange)
	}
	driver, err := factory(c, m.log)
	if err != nil {
		return nil, err
	}

	ex := New(c.Exchange, driver, c, m.log, m.alerts)
	if err := ex.Init(); err != nil {
		return nil, err
	}
	m.open = append(m.open, ex)
	return ex, nil
}

// Close 释放一条连接。引用计数归零时调用 Terminate 并从列表里移除。
func (m *Manager) Close(ex *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, open := range m.open {
		if open != ex {
			continue
		}
		open.refCount--
		if open.refCount > 0 {
			return nil
		}
		m.open = append(m.open[:i], m.open[i+1:]...)
		return open.Terminate()
	}
	return nil
}

// OpenCount 当前打开的连接数。
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// CloseAll 释放所有连接，服务停机用。
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.open
	m.open = nil
	m.mu.Unlock()

	for _, ex := range open {
		_ = ex.Terminate()
	}
}
