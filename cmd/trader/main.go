// trader 执行一段交易命令脚本然后守着后台任务跑完。
//
//	trader -config configs/trader.yaml -exchange deribit -symbol BTCUSD \
//	    -command "limitOrder(side=buy, amount=1, offset=100); wait(30s)"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"algo-trader-go/api"
	"algo-trader-go/api/coinbase"
	"algo-trader-go/api/deribit"
	"algo-trader-go/config"
	"algo-trader-go/exchange"
	"algo-trader-go/infrastructure/alert"
	"algo-trader-go/infrastructure/logger"
	"algo-trader-go/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/trader.yaml", "配置文件路径")
	exchangeName := flag.String("exchange", "", "用哪个交易所（默认配置里的第一个）")
	symbol := flag.String("symbol", "", "交易对，覆盖配置里的 symbols")
	script := flag.String("command", "", "要执行的命令脚本")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus 监听地址，覆盖配置")
	stream := flag.Bool("stream", false, "开 websocket 行情缓存（仅 deribit）")
	watch := flag.Bool("watch", false, "监听配置文件变更")
	flag.Parse()

	if err := run(*cfgPath, *exchangeName, *symbol, *script, *metricsAddr, *stream, *watch); err != nil {
		fmt.Fprintf(os.Stderr, "trader: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, exchangeName, symbolFlag, script, metricsAddr string, stream, watch bool) error {
	cfg, err := config.LoadWithEnvOverrides(cfgPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	addr := cfg.Metrics.Addr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	metrics.StartMetricsServer(addr)

	alerts := alert.NewManager(
		[]alert.Channel{alert.NewLogChannel("log", log)},
		time.Duration(cfg.Alerts.ThrottleSeconds)*time.Second)

	manager := exchange.NewManager(map[string]exchange.DriverFactory{
		"coinbase": func(c exchange.Credentials, log *logger.Logger) (api.Driver, error) {
			return coinbase.New(c.Key, c.Secret, c.Passphrase, c.Endpoint, log), nil
		},
		"deribit": func(c exchange.Credentials, log *logger.Logger) (api.Driver, error) {
			return deribit.New(c.Key, c.Secret, c.Endpoint, log), nil
		},
	}, log, alerts)
	defer manager.CloseAll()

	creds, err := pickCredentials(cfg, exchangeName)
	if err != nil {
		return err
	}
	ex, err := manager.Open(creds)
	if err != nil {
		return err
	}
	ex.MinPollingDelay = cfg.Polling.MinDelaySeconds
	ex.MaxPollingDelay = cfg.Polling.MaxDelaySeconds

	symbols := cfg.Symbols
	if symbolFlag != "" {
		symbols = []string{symbolFlag}
	}
	if len(symbols) == 0 {
		return errors.New("no symbol: set -symbol or symbols in the config")
	}
	for _, s := range symbols {
		if err := ex.AddSymbol(s); err != nil {
			return fmt.Errorf("add symbol %s: %w", s, err)
		}
	}
	tradeSymbol := symbols[0]

	commands, err := exchange.ParseScript(script)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		return errors.New("nothing to do: pass -command")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if stream {
		if d, ok := ex.API().(*deribit.Driver); ok {
			go func() {
				if err := d.StreamTicker(ctx, tradeSymbol, deribit.StreamConfig{}); err != nil {
					log.Warn("ticker stream stopped", zap.Error(err))
				}
			}()
		} else {
			log.Warn("-stream only works with the deribit driver")
		}
	}

	if watch {
		watcher, err := config.NewWatcher(cfgPath, 5*time.Second, log)
		if err != nil {
			return err
		}
		go func() {
			_ = watcher.Start(ctx, func(updated config.AppConfig) {
				ex.MinPollingDelay = updated.Polling.MinDelaySeconds
				ex.MaxPollingDelay = updated.Polling.MaxDelaySeconds
			})
		}()
	}

	// SIGINT/SIGTERM 先取消所有算法订单，让后台循环收尾退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("shutting down", zap.String("signal", sig.String()))
		ex.CancelAlgoOrders("all", "", "")
		cancel()
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	session := time.Now().UTC().Format(time.RFC3339)
	log.Info("executing command sequence",
		zap.String("exchange", creds.Exchange),
		zap.String("symbol", tradeSymbol),
		zap.Int("commands", len(commands)))

	for _, cmd := range commands {
		if _, err := ex.ExecuteCommand(tradeSymbol, cmd.Name, cmd.Args, session); err != nil {
			if errors.Is(err, exchange.ErrAbortSequence) {
				log.Info("command sequence stopped", zap.String("command", cmd.Name))
				break
			}
			return fmt.Errorf("command %s: %w", cmd.Name, err)
		}
	}

	return ex.WaitForBackgroundTasks()
}

func pickCredentials(cfg config.AppConfig, name string) (exchange.Credentials, error) {
	if name == "" {
		return cfg.Exchanges[0], nil
	}
	for _, c := range cfg.Exchanges {
		if strings.EqualFold(c.Exchange, name) {
			return c, nil
		}
	}
	return exchange.Credentials{}, fmt.Errorf("exchange %s not in config", name)
}
