// Package metrics provides Prometheus metrics for the trading engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APICalls 各交易所 API 出站调用计数
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_api_calls_total",
		Help: "Outbound API calls by venue and endpoint",
	}, []string{"venue", "endpoint"})

	// APIRetries 瞬时错误触发的重试计数
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_api_retries_total",
		Help: "API retries after transient venue errors",
	}, []string{"venue"})

	// OrdersPlaced 成功下单计数
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_orders_placed_total",
		Help: "Orders successfully placed",
	}, []string{"venue", "side"})

	// OrdersCancelled 撤单计数
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_orders_cancelled_total",
		Help: "Orders cancelled",
	}, []string{"venue"})

	// Fills 轮询中观察到的成交计数
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_fills_total",
		Help: "Fills observed by polling commands",
	}, []string{"venue", "side"})

	// BackgroundTasks 当前后台任务数量
	BackgroundTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "at_background_tasks",
		Help: "Background tasks currently registered with the scheduler",
	})

	// CommandErrors 被吞掉并记录的命令级错误
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_command_errors_total",
		Help: "Command execution errors contained per call",
	}, []string{"command"})
)

// StartMetricsServer 启动Prometheus指标服务器；addr 为空则不启动。
func StartMetricsServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
