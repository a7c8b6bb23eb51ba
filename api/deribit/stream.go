package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"algo-trader-go/api"
)

// StreamEndpoint 覆盖 websocket 入口，空值时从 BaseURL 推导。
// Dialer 可注入，便于对 httptest 服务器建连。
type StreamConfig struct {
	Endpoint string
	Dialer   *websocket.Dialer
}

type wsRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

type wsNotification struct {
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			BestBidPrice float64 `json:"best_bid_price"`
			BestAskPrice float64 `json:"best_ask_price"`
			LastPrice    float64 `json:"last_price"`
		} `json:"data"`
	} `json:"params"`
}

// StreamTicker 订阅 ticker 推送并持续刷新驱动的盘口缓存，
// 让轮询循环在快照足够新时跳过 REST 往返。阻塞直到 ctx 取消或连接断开。
func (d *Driver) StreamTicker(ctx context.Context, symbol string, cfg StreamConfig) error {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "wss://" + strings.TrimPrefix(d.BaseURL, "https://") + "/ws/api/v2"
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("deribit stream dial: %w", err)
	}
	defer conn.Close()

	channel := fmt.Sprintf("ticker.%s.100ms", strings.ToUpper(symbol))
	sub := wsRequest{
		JSONRPC: "2.0",
		Method:  "public/subscribe",
		Params:  map[string]interface{}{"channels": []string{channel}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("deribit stream subscribe: %w", err)
	}

	// ctx 取消时关闭连接解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	key := strings.ToLower(symbol)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var note wsNotification
		if err := json.Unmarshal(message, &note); err != nil {
			d.log.Debug("deribit stream: skipping unparseable frame", zap.Error(err))
			continue
		}
		if note.Params.Channel != channel || note.Params.Data.BestBidPrice == 0 {
			continue
		}

		d.mu.Lock()
		d.cached[key] = cachedTicker{
			ticker: api.Ticker{
				Bid:       note.Params.Data.BestBidPrice,
				Ask:       note.Params.Data.BestAskPrice,
				LastPrice: note.Params.Data.LastPrice,
			},
			at: time.Now(),
		}
		d.mu.Unlock()
	}
}
