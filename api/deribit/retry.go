package deribit

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"algo-trader-go/api"
	"algo-trader-go/metrics"
)

// RetryPolicy 瞬时错误重试策略：退避时间随尝试次数线性增长。
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Step        time.Duration

	sleep func(time.Duration)
}

// DefaultRetryPolicy 返回驱动默认的重试参数。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Base:        500 * time.Millisecond,
		Step:        250 * time.Millisecond,
		sleep:       time.Sleep,
	}
}

// Do 执行 call，瞬时错误（429/502/503）按线性退避重试，终态错误立即上抛。
func (p RetryPolicy) Do(venue string, call func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.sleep == nil {
		p.sleep = time.Sleep
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !api.IsTransient(err) || attempt == p.MaxAttempts-1 {
			return err
		}
		metrics.APIRetries.WithLabelValues(venue).Inc()
		p.sleep(p.Base + p.Step*time.Duration(attempt))
	}
	return err
}

// remapConnReset 把连接被重置的网络错误归入 429 一类，让重试策略接手。
func remapConnReset(venue string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "connection reset") {
		return &api.VenueError{Venue: venue, Status: 429, Body: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &api.VenueError{Venue: venue, Status: 503, Body: err.Error()}
	}
	return err
}
