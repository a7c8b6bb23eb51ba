package api

import (
	"sync"
	"time"
)

// Pacer 固定节奏限速器：保证同一驱动实例上相邻两次出站调用的起点
// 不少于 minInterval，但从不让调用方等待超过必要的时间。
type Pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	nextAllowed time.Time

	// 可注入时钟与睡眠，便于测试
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPacer 创建限速器。
func NewPacer(minInterval time.Duration) *Pacer {
	return &Pacer{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Wait 在允许的时间点之前阻塞。每次调用把下一个允许时间点往后推
// wait+minInterval，由此把同一实例的调用序列化开。
func (p *Pacer) Wait() {
	p.mu.Lock()
	now := p.now()
	wait := time.Millisecond
	if d := p.nextAllowed.Sub(now); d > wait {
		wait = d + time.Millisecond
	}
	p.nextAllowed = now.Add(wait + p.minInterval)
	sleep := p.sleep
	p.mu.Unlock()

	sleep(wait)
}
